// Package estimation measures the eye orb and the optic nerve sheath ("stem")
// in a single B-mode ultrasound image.
//
// Both estimators follow the same pattern: threshold and distance transform
// the image to seed a center and a size, synthesize a template of that size,
// register the template to the image, and push the seed geometry through the
// fitted transform. The eye runs first; its center and axes decide where the
// stem is searched for.
//
// Trouble locating a structure never surfaces as an error. The affected
// result has Valid set to false, a Reason, and -1 in every length.
package estimation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"eyestem/pkg/imagefilter"
	"eyestem/pkg/registration"
	"eyestem/pkg/timing"
)

// ErrNoImage is returned by Process when there is nothing to measure.
var ErrNoImage = errors.New("estimation: empty input image")

// Fit summarizes one registration.
type Fit struct {
	// Status tells whether the optimizer converged
	Status registration.Status

	// InitialMetric and Metric are the mean squared differences before and
	// after the fit
	InitialMetric float64
	Metric        float64

	// Evaluations is the number of metric evaluations
	Evaluations int

	// Transform is the fitted template to image transform
	Transform registration.Transform

	// Message explains a status other than converged
	Message string
}

func fitOf(res registration.Result) Fit {
	f := Fit{
		Status:        res.Status,
		InitialMetric: res.InitialMetric,
		Metric:        res.Metric,
		Evaluations:   res.Evaluations,
		Transform:     res.Transform,
	}
	if res.Err != nil {
		f.Message = res.Err.Error()
	}
	return f
}

// Result holds both measurements for one image.
type Result struct {
	Eye  Eye
	Stem Stem
}

// Estimator runs the eye and stem estimation pipeline.
//
// The pipeline consists of:
// 1. Seeding the orb center and radii from a distance transform
// 2. Registering an elliptical ring template to refine center and axes
// 3. Cropping the region below the orb and seeding the nerve center and width
// 4. Registering a two-bar template to refine the nerve width
type Estimator struct {
	// params stores the estimation configuration
	params *Params

	// logger receives progress; never nil
	logger *log.Logger

	// timings may be nil
	timings *timing.Recorder
}

// NewEstimator creates an estimator. A nil params uses DefaultParams.
func NewEstimator(params *Params) *Estimator {
	if params == nil {
		params = DefaultParams()
	}
	logger := params.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Estimator{params: params, logger: logger, timings: params.Timings}
}

// Process estimates the eye and then the stem below it. The only error is
// ErrNoImage; failures to locate either structure are reported in the result.
func (e *Estimator) Process(ctx context.Context, im *imagefilter.Image) (*Result, error) {
	if im == nil || im.Len() == 0 || len(im.Pix) != im.Len() {
		return nil, ErrNoImage
	}
	defer e.timings.Start("total")()

	// Step 1: Eye orb
	e.logger.Printf("Step 1: Estimating eye orb in %dx%d image...", im.Size.W, im.Size.H)
	eye := e.EstimateEye(ctx, im)
	if eye.Valid {
		e.logger.Printf("Eye: %v", eye)
	} else {
		e.logger.Printf("Warning: eye not located: %s", eye.Reason)
	}

	// Step 2: Optic nerve
	e.logger.Println("Step 2: Estimating optic nerve below the orb...")
	stem := e.EstimateStem(ctx, im, eye)
	if stem.Valid {
		e.logger.Printf("Stem: %v", stem)
	} else {
		e.logger.Printf("Warning: stem not located: %s", stem.Reason)
	}

	return &Result{Eye: eye, Stem: stem}, nil
}

// saveIntermediaryResult hands a working image to the debug sink.
func (e *Estimator) saveIntermediaryResult(stage string, data interface{}) {
	if !e.params.SaveIntermediaryResults || e.params.Debug == nil {
		return
	}

	var im *imagefilter.Image
	switch v := data.(type) {
	case *imagefilter.Image:
		im = v
	case *imagefilter.Mask:
		im = imagefilter.FromMask(v)
	default:
		e.logger.Printf("Warning: cannot save %s: unsupported type %T", stage, data)
		return
	}
	if im == nil {
		return
	}
	mean, std := imagefilter.Stats(im)
	e.logger.Printf("  %s: mean %.2f, std %.2f", stage, mean, std)
	if err := e.params.Debug.Save(stage, im); err != nil {
		e.logger.Printf("Warning: Failed to save %s: %v", stage, err)
	}
}

func describeLength(v float64) string {
	if v < 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
