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

// Eye is the eye orb measurement. Lengths are semi-axes in physical units.
// When Valid is false every length is -1 and Reason says why.
type Eye struct {
	Valid  bool
	Reason string

	// InitialCenter is the point deepest inside the dark orb
	InitialCenter      imagefilter.Point
	InitialCenterIndex imagefilter.Index

	// InitialRadius is the depth of InitialCenter; InitialRadiusX and
	// InitialRadiusY are measured along strips through it
	InitialRadius  float64
	InitialRadiusX float64
	InitialRadiusY float64

	// Center, Minor and Major come from the fitted ring. Minor <= Major.
	Center      imagefilter.Point
	CenterIndex imagefilter.Index
	Minor       float64
	Major       float64

	// Aligned is the ring template in the input's grid, when requested
	Aligned *imagefilter.Image

	Fit Fit
}

func invalidEye(reason string) Eye {
	return Eye{
		Reason:         reason,
		InitialRadius:  -1,
		InitialRadiusX: -1,
		InitialRadiusY: -1,
		Minor:          -1,
		Major:          -1,
	}
}

func (e Eye) String() string {
	if !e.Valid {
		return "eye: not located (" + e.Reason + ")"
	}
	return fmt.Sprintf("eye: center (%.2f, %.2f) minor %s major %s, seed (%.2f, %.2f) radii %s x %s",
		e.Center.X, e.Center.Y, describeLength(e.Minor), describeLength(e.Major),
		e.InitialCenter.X, e.InitialCenter.Y, describeLength(e.InitialRadiusX), describeLength(e.InitialRadiusY))
}

// EstimateEye locates the dark eye orb in im and fits an elliptical ring to
// its outline.
func (e *Estimator) EstimateEye(ctx context.Context, im *imagefilter.Image) Eye {
	defer e.timings.Start("eye")()
	p := e.params.Eye

	if im.Size.W <= 2*p.Border || im.Size.H <= 2*p.Border {
		return invalidEye(fmt.Sprintf("image %dx%d is too small for a %d pixel border", im.Size.W, im.Size.H, p.Border))
	}
	if lo, hi := imagefilter.MinMax(im); !(hi > lo) {
		return invalidEye("image has no contrast")
	}

	// Seed from the distance transform of the closed tissue mask
	stopLocalize := e.timings.Start("eye.localize")
	work := imagefilter.Rescale(im, 0, 100)
	imagefilter.PaintBorder(work, p.Border, 100)
	smoothed := imagefilter.GaussSmoothPixels(work, p.Sigma)
	e.saveIntermediaryResult("eye-smoothed", smoothed)

	tissue := imagefilter.Binarize(smoothed, p.Threshold, math.Inf(1))
	closed := distance.Close(tissue, p.ClosingRadius)
	closed.PaintBorder(p.Border, imagefilter.Foreground)
	e.saveIntermediaryResult("eye-closed", closed)

	dist, seed, err := distance.LocalizeMap(closed, imagefilter.Foreground)
	if err != nil {
		stopLocalize()
		return invalidEye(fmt.Sprintf("no orb found: %v", err))
	}
	e.saveIntermediaryResult("eye-distance", dist)

	rx := e.stripRadius(closed, seed, true)
	ry := e.stripRadius(closed, seed, false)
	stopLocalize()
	e.logger.Printf("  eye seed at %v: radius %.2f, strips %.2f x %.2f", seed.Index, seed.Value, rx, ry)

	eye := Eye{
		Valid:              true,
		InitialCenter:      seed.Point,
		InitialCenterIndex: seed.Index,
		InitialRadius:      seed.Value,
		InitialRadiusX:     rx,
		InitialRadiusY:     ry,
	}

	// Refine against a ring template
	defer e.timings.Start("eye.register")()
	moving := imagefilter.BinaryThreshold(smoothed, p.Threshold, math.Inf(1), 100, 0)
	moving = imagefilter.GaussSmoothPixels(moving, p.RegistrationSigma)
	e.saveIntermediaryResult("eye-moving", moving)

	inner := imagefilter.Vector{X: rx, Y: ry}
	ring := synth.EllipseRing(im.Geometry, seed.Point, inner, inner.Scale(p.RingOuterFactor),
		synth.RingOptions{Sigma: p.TemplateSigma, Level: p.TemplateLevel})
	mask := synth.EllipseMask(im.Geometry, seed.Point, inner.Scale(p.MaskFactor), p.LateralCrop)
	e.saveIntermediaryResult("eye-template", ring)
	e.saveIntermediaryResult("eye-mask", mask)

	res := registration.Register(ctx, registration.Request{
		Fixed:     ring,
		Moving:    moving,
		Mask:      mask,
		Initial:   registration.NewAffine(seed.Point),
		Levels:    p.Levels,
		Optimizer: e.params.Optimizer,
		Logger:    e.logger,
	})
	eye.Fit = fitOf(res)
	if res.Status != registration.Converged {
		e.logger.Printf("Warning: eye registration %s: %v", res.Status, res.Err)
	}

	tr := res.Transform
	eye.Center = tr.TransformPoint(seed.Point)
	eye.CenterIndex, _ = im.PointToIndex(eye.Center)
	a := tr.TransformVector(imagefilter.Vector{X: rx}).Norm()
	b := tr.TransformVector(imagefilter.Vector{Y: ry}).Norm()
	eye.Minor, eye.Major = math.Min(a, b), math.Max(a, b)

	if e.params.Aligned {
		aligned, err := registration.AlignTemplate(ring, tr, im.Geometry)
		if err != nil {
			e.logger.Printf("Warning: cannot align eye template: %v", err)
		} else {
			eye.Aligned = aligned
			e.saveIntermediaryResult("eye-aligned", aligned)
		}
	}
	return eye
}

// stripRadius localizes the orb inside a strip of the closed mask through the
// seed, horizontal when horizontal is true. The strip edges are not
// boundaries, so the result measures the orb along the strip. It falls back
// to the seed depth when the strip yields nothing.
func (e *Estimator) stripRadius(closed *imagefilter.Mask, seed distance.Peak, horizontal bool) float64 {
	half := e.params.Eye.StripWidth / 2
	r := imagefilter.Region{
		Index: imagefilter.Index{X: seed.Index.X - half},
		Size:  imagefilter.Size{W: 2*half + 1, H: closed.Size.H},
	}
	if horizontal {
		r = imagefilter.Region{
			Index: imagefilter.Index{Y: seed.Index.Y - half},
			Size:  imagefilter.Size{W: closed.Size.W, H: 2*half + 1},
		}
	}
	strip, err := closed.Extract(r.Clip(closed.Size))
	if err != nil {
		return seed.Value
	}
	peak, err := distance.Localize(strip, imagefilter.Foreground)
	if err != nil {
		e.logger.Printf("  strip %v: %v", r, err)
		return seed.Value
	}
	return peak.Value
}
