package estimation

import (
	"context"
	"fmt"
	"math"

	"eyestem/pkg/distance"
	"eyestem/pkg/imagefilter"
	"eyestem/pkg/registration"
	"eyestem/pkg/synth"
)

// Stem is the optic nerve measurement. Width is the half-width of the nerve
// in physical units. When Valid is false every length is -1.
type Stem struct {
	Valid  bool
	Reason string

	// OriginalImageRegion is the crop the nerve was searched in, in the
	// input's index space
	OriginalImageRegion imagefilter.Region

	// InitialCenter and InitialWidth come from the two pass distance seeding
	InitialCenter      imagefilter.Point
	InitialCenterIndex imagefilter.Index
	InitialWidth       float64

	// Center and Width come from the fitted bar template
	Center      imagefilter.Point
	CenterIndex imagefilter.Index
	Width       float64

	// Aligned is the bar template on the crop's grid, when requested
	Aligned *imagefilter.Image

	Fit Fit
}

func invalidStem(reason string) Stem {
	return Stem{Reason: reason, InitialWidth: -1, Width: -1}
}

func (s Stem) String() string {
	if !s.Valid {
		return "stem: not located (" + s.Reason + ")"
	}
	return fmt.Sprintf("stem: center (%.2f, %.2f) width %s, seed (%.2f, %.2f) width %s in %v",
		s.Center.X, s.Center.Y, describeLength(s.Width),
		s.InitialCenter.X, s.InitialCenter.Y, describeLength(s.InitialWidth), s.OriginalImageRegion)
}

// Diameter returns the full nerve width, or -1 when the stem is invalid.
func (s Stem) Diameter() float64 {
	if !s.Valid {
		return -1
	}
	return 2 * s.Width
}

// cropRegion returns the search band below the eye in index space: from one
// major semi-axis left of the center to one right, starting one minor
// semi-axis below the center.
func cropRegion(im *imagefilter.Image, eye Eye, heightFactor float64) imagefilter.Region {
	fx, fy := im.ContinuousIndex(eye.Center)
	major := eye.Major / math.Abs(im.Spacing.X)
	minor := eye.Minor / math.Abs(im.Spacing.Y)
	r := imagefilter.Region{
		Index: imagefilter.Index{X: int(math.Round(fx - major)), Y: int(math.Round(fy + minor))},
		Size:  imagefilter.Size{W: int(math.Round(2 * major)), H: int(math.Round(heightFactor * minor))},
	}
	return r.Clip(im.Size)
}

// EstimateStem locates the dark optic nerve below a located eye and fits a
// pair of bright bars to the tissue either side of it.
func (e *Estimator) EstimateStem(ctx context.Context, im *imagefilter.Image, eye Eye) Stem {
	defer e.timings.Start("stem")()
	p := e.params.Stem

	if !eye.Valid || !(eye.Minor > 0) || !(eye.Major > 0) {
		return invalidStem("no eye to search below")
	}
	region := cropRegion(im, eye, p.HeightFactor)
	if region.Size.W < p.MinCropSize || region.Size.H < p.MinCropSize {
		return invalidStem(fmt.Sprintf("search region %v is outside the image", region))
	}
	crop, err := imagefilter.Extract(im, region)
	if err != nil {
		return invalidStem(err.Error())
	}
	e.saveIntermediaryResult("stem-crop", crop)

	stopLocalize := e.timings.Start("stem.localize")
	smoothed := imagefilter.GaussSmooth(crop, crop.ToPhysical(imagefilter.Vector{X: p.SigmaX, Y: p.SigmaY}))
	imagefilter.NormalizeRows(smoothed, 0, 100)
	e.saveIntermediaryResult("stem-normalized", smoothed)

	// First pass
	tissue := distance.Open(imagefilter.Binarize(smoothed, p.Threshold, math.Inf(1)), p.OpeningRadius)
	tissue.PaintVerticalBorder(p.VerticalBorder, imagefilter.Foreground)
	tissue.PaintHorizontalBorder(p.HorizontalBorder, imagefilter.Foreground)
	e.saveIntermediaryResult("stem-tissue", tissue)
	_, seed, err := distance.LocalizeMap(tissue, imagefilter.Foreground)
	if err != nil {
		stopLocalize()
		return invalidStem(fmt.Sprintf("no nerve found: %v", err))
	}

	// Second pass after levelling the two sides of the nerve. Each side is
	// scaled by its maximum over the whole crop, not row by row; the rows
	// were already equalized by NormalizeRows.
	scaled := smoothed.Clone()
	imagefilter.RescaleSides(scaled, seed.Index.X, smoothed.At(seed.Index.X, seed.Index.Y), 0, 100)
	e.saveIntermediaryResult("stem-sides", scaled)
	sides := imagefilter.Binarize(scaled, p.SideThreshold, math.Inf(1))
	sides.PaintVerticalBorder(p.VerticalBorder, imagefilter.Foreground)
	sides.PaintHorizontalBorder(p.HorizontalBorder, imagefilter.Foreground)
	if refined, err := distance.Localize(sides, imagefilter.Foreground); err == nil {
		seed = refined
	} else {
		e.logger.Printf("  stem second pass: %v, keeping first seed", err)
	}
	stopLocalize()
	e.logger.Printf("  stem seed at %v: half-width %.2f", seed.Index, seed.Value)

	stem := Stem{
		Valid:               true,
		OriginalImageRegion: region,
		InitialCenter:       seed.Point,
		InitialWidth:        seed.Value,
	}
	stem.InitialCenterIndex, _ = im.PointToIndex(seed.Point)

	defer e.timings.Start("stem.register")()
	moving := imagefilter.GaussSmoothPixels(scaled, p.RegistrationSigma)
	e.saveIntermediaryResult("stem-moving", moving)

	bars, mask, err := synth.TwoBars(crop.Geometry, seed.Point, seed.Value, synth.BarOptions{
		Inner:       p.BarInner,
		Outer:       p.BarOuter,
		TopFraction: p.BarTop,
		Sigma:       p.TemplateSigma,
		Level:       p.TemplateLevel,
	})
	if err != nil {
		e.logger.Printf("Failed to locate stem: %v", err)
		return invalidStem(err.Error())
	}
	e.saveIntermediaryResult("stem-template", bars)

	// Rotate and scale about the middle of the bars
	top := crop.IndexToPoint(imagefilter.Index{Y: int(p.BarTop * float64(crop.Size.H))})
	bottom := crop.IndexToPoint(imagefilter.Index{Y: crop.Size.H - 1})
	center := imagefilter.Point{X: seed.Point.X, Y: (top.Y + bottom.Y) / 2}

	res := registration.Register(ctx, registration.Request{
		Fixed:     bars,
		Moving:    moving,
		Mask:      mask,
		Initial:   registration.NewSimilarity(center),
		Levels:    p.Levels,
		Optimizer: e.params.Optimizer,
		Logger:    e.logger,
	})
	stem.Fit = fitOf(res)
	if res.Status != registration.Converged {
		e.logger.Printf("Warning: stem registration %s: %v", res.Status, res.Err)
	}

	tr := res.Transform
	stem.Width = tr.TransformVector(imagefilter.Vector{X: seed.Value}).Norm()
	stem.Center = tr.TransformPoint(seed.Point)
	stem.CenterIndex, _ = im.PointToIndex(stem.Center)

	if e.params.Aligned {
		aligned, err := registration.AlignTemplate(bars, tr, crop.Geometry)
		if err != nil {
			e.logger.Printf("Warning: cannot align stem template: %v", err)
		} else {
			stem.Aligned = aligned
			e.saveIntermediaryResult("stem-aligned", aligned)
		}
	}
	return stem
}
