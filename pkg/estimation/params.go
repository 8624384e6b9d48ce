package estimation

import (
	"log"

	"eyestem/pkg/imagefilter"
	"eyestem/pkg/registration"
	"eyestem/pkg/timing"
)

// EyeParams holds the tunable constants of eye orb estimation. Lengths are in
// pixels of the input image; intensities refer to the image rescaled to 0-100.
type EyeParams struct {
	// Border is the width of the bright frame painted around the image so the
	// distance transform cannot leak through the image edges
	Border int `yaml:"border"`

	// Sigma is the Gaussian smoothing applied before thresholding
	Sigma float64 `yaml:"sigma"`

	// Threshold separates bright tissue from the dark orb
	Threshold float64 `yaml:"threshold"`

	// ClosingRadius is the radius of the closing that fills gaps in the orb
	// outline and cuts the optic nerve away from the orb
	ClosingRadius int `yaml:"closingRadius"`

	// StripWidth is the thickness of the strips through the seed center used
	// to measure the horizontal and vertical radii
	StripWidth int `yaml:"stripWidth"`

	// RegistrationSigma smooths the binarized orb into the moving image
	RegistrationSigma float64 `yaml:"registrationSigma"`

	// RingOuterFactor sizes the outer ellipse of the ring template relative
	// to the seed radii
	RingOuterFactor float64 `yaml:"ringOuterFactor"`

	// MaskFactor sizes the elliptical metric mask relative to the seed radii
	MaskFactor float64 `yaml:"maskFactor"`

	// LateralCrop removes mask columns farther than this fraction of the
	// horizontal radius from the center, excluding the eye corners
	LateralCrop float64 `yaml:"lateralCrop"`

	// TemplateSigma and TemplateLevel finish the ring template
	TemplateSigma float64 `yaml:"templateSigma"`
	TemplateLevel float64 `yaml:"templateLevel"`

	// Levels is the affine registration schedule, coarsest first
	Levels []registration.Level `yaml:"levels"`
}

// StemParams holds the tunable constants of optic nerve estimation. Lengths
// are in pixels of the input image.
type StemParams struct {
	// HeightFactor sets the crop height as a multiple of the eye's minor axis
	HeightFactor float64 `yaml:"heightFactor"`

	// MinCropSize is the smallest usable crop extent along either axis
	MinCropSize int `yaml:"minCropSize"`

	// SigmaX and SigmaY smooth the crop; the nerve is vertical so SigmaY is larger
	SigmaX float64 `yaml:"sigmaX"`
	SigmaY float64 `yaml:"sigmaY"`

	// Threshold separates bright tissue from the nerve after row normalization
	Threshold float64 `yaml:"threshold"`

	// OpeningRadius removes bright speckle narrower than twice the radius
	OpeningRadius int `yaml:"openingRadius"`

	// VerticalBorder and HorizontalBorder are the bright frames painted on the
	// left/right and top/bottom of the crop before localization
	VerticalBorder   int `yaml:"verticalBorder"`
	HorizontalBorder int `yaml:"horizontalBorder"`

	// SideThreshold binarizes the image after each side was rescaled
	SideThreshold float64 `yaml:"sideThreshold"`

	// RegistrationSigma smooths the rescaled crop into the moving image
	RegistrationSigma float64 `yaml:"registrationSigma"`

	// BarInner and BarOuter place each template bar relative to the seed half-width
	BarInner float64 `yaml:"barInner"`
	BarOuter float64 `yaml:"barOuter"`

	// BarTop is the fraction of the crop height left empty above the bars
	BarTop float64 `yaml:"barTop"`

	// TemplateSigma and TemplateLevel finish the bar template
	TemplateSigma float64 `yaml:"templateSigma"`
	TemplateLevel float64 `yaml:"templateLevel"`

	// Levels is the similarity registration schedule
	Levels []registration.Level `yaml:"levels"`
}

// DefaultEyeParams returns the eye constants used when none are configured.
func DefaultEyeParams() EyeParams {
	return EyeParams{
		Border:            30,
		Sigma:             10,
		Threshold:         50,
		ClosingRadius:     50,
		StripWidth:        20,
		RegistrationSigma: 8,
		RingOuterFactor:   1.3,
		MaskFactor:        1.15,
		LateralCrop:       0.8,
		TemplateSigma:     2,
		TemplateLevel:     5,
		Levels: []registration.Level{
			{Shrink: 2, Sigma: 2},
			{Shrink: 1, Sigma: 0},
		},
	}
}

// DefaultStemParams returns the stem constants used when none are configured.
func DefaultStemParams() StemParams {
	return StemParams{
		HeightFactor:      1.2,
		MinCropSize:       4,
		SigmaX:            1.5,
		SigmaY:            20,
		Threshold:         75,
		OpeningRadius:     10,
		VerticalBorder:    20,
		HorizontalBorder:  5,
		SideThreshold:     50,
		RegistrationSigma: 2,
		BarInner:          1.0,
		BarOuter:          1.9,
		BarTop:            0.2,
		TemplateSigma:     2.5,
		TemplateLevel:     5,
		Levels:            []registration.Level{{Shrink: 1, Sigma: 0}},
	}
}

// DebugSink receives intermediate images keyed by stage name.
type DebugSink interface {
	Save(stage string, im *imagefilter.Image) error
}

// Params holds everything an Estimator needs besides the input image.
type Params struct {
	// Eye and Stem hold the per-estimator constants
	Eye  EyeParams
	Stem StemParams

	// Optimizer holds the L-BFGS termination settings shared by both
	// registrations
	Optimizer registration.Optimizer

	// Aligned requests the fitted templates resampled into image space.
	// They are only needed for overlays.
	Aligned bool

	// SaveIntermediaryResults sends the working image of every stage to
	// Debug. It has no effect when Debug is nil.
	SaveIntermediaryResults bool

	// Debug receives intermediate images
	Debug DebugSink

	// Logger receives progress messages; nil discards them
	Logger *log.Logger

	// Timings accumulates per-phase durations; nil disables timing
	Timings *timing.Recorder
}

// DefaultParams returns parameters with every constant at its default.
func DefaultParams() *Params {
	return &Params{
		Eye:       DefaultEyeParams(),
		Stem:      DefaultStemParams(),
		Optimizer: registration.DefaultOptimizer(),
		Aligned:   true,
	}
}
