// Package registration aligns a synthetic template (the fixed image) with a
// measured image (the moving image) by minimizing their mean squared
// difference over a parametric transform.
//
// The optimizer is gonum's L-BFGS with a bisection line search, run over a
// coarse to fine schedule of shrink factors and smoothing sigmas. The fitted
// transform maps fixed image points into the moving image, so geometry known
// in template space is pushed through it to obtain measured geometry.
//
// Optimizer trouble is never fatal: Register reports a Status and keeps the
// best parameters it has evaluated.
package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"eyestem/pkg/imagefilter"
)

// ErrDegenerate is reported when the fit folds or collapses the template.
var ErrDegenerate = errors.New("registration: fitted transform is degenerate")

// Status classifies the outcome of a registration.
type Status int

const (
	// Converged means every level met a convergence criterion.
	Converged Status = iota

	// BestEffort means a level hit an evaluation cap or the optimizer failed;
	// the best parameters evaluated were kept.
	BestEffort

	// Failed means no usable fit was found; the initial transform is returned.
	Failed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case BestEffort:
		return "best-effort"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Level is one stage of the multi-resolution schedule.
type Level struct {
	// Shrink is the integer downsampling factor applied to both images
	Shrink int `yaml:"shrink"`

	// Sigma is the Gaussian smoothing applied before shrinking, in pixels of
	// the full resolution images
	Sigma float64 `yaml:"sigma"`
}

// Optimizer holds the L-BFGS termination settings.
type Optimizer struct {
	// GradientTolerance stops a level when the infinity norm of the gradient
	// drops below it
	GradientTolerance float64 `yaml:"gradientTolerance"`

	// LineSearchAccuracy is the curvature factor of the bisection line
	// search, in (0, 1); smaller values search more exactly
	LineSearchAccuracy float64 `yaml:"lineSearchAccuracy"`

	// MaxEvaluations caps metric evaluations per level
	MaxEvaluations int `yaml:"maxEvaluations"`

	// MaxIterations caps L-BFGS iterations per level
	MaxIterations int `yaml:"maxIterations"`

	// FunctionTolerance stops a level once the metric improves by less than
	// this (relative) over FunctionIterations iterations
	FunctionTolerance  float64 `yaml:"functionTolerance"`
	FunctionIterations int     `yaml:"functionIterations"`
}

// DefaultOptimizer returns the settings used when none are configured.
func DefaultOptimizer() Optimizer {
	return Optimizer{
		GradientTolerance:  1e-6,
		LineSearchAccuracy: 0.9,
		MaxEvaluations:     2000,
		MaxIterations:      500,
		FunctionTolerance:  1e-6,
		FunctionIterations: 10,
	}
}

// Request describes one registration problem.
type Request struct {
	// Fixed is the template. Its grid defines where the metric is sampled.
	Fixed *imagefilter.Image

	// Moving is the measured image
	Moving *imagefilter.Image

	// Mask limits the metric to Foreground pixels of the fixed grid; nil
	// samples every pixel
	Mask *imagefilter.Mask

	// Initial is the starting transform. It is not modified.
	Initial Transform

	// Levels is the schedule, coarsest first. An empty schedule runs a
	// single full resolution level.
	Levels []Level

	Optimizer Optimizer

	// Logger receives per-level progress; nil disables logging
	Logger *log.Logger
}

// Result is the outcome of Register.
type Result struct {
	// Transform is the fitted transform, or a copy of the initial one when
	// Status is Failed
	Transform Transform

	Status Status

	// Metric is the final metric value at the finest level
	Metric float64

	// InitialMetric is the metric of the initial transform at the first level
	InitialMetric float64

	Iterations  int
	Evaluations int

	// Err describes why Status is not Converged
	Err error
}

// Register fits req.Initial so that the transformed moving image matches the
// fixed image. The context is checked between levels only.
func Register(ctx context.Context, req Request) Result {
	logger := req.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	res := Result{
		Transform:     req.Initial.Clone(),
		Status:        Converged,
		Metric:        math.NaN(),
		InitialMetric: math.NaN(),
	}
	if req.Fixed == nil || req.Moving == nil {
		res.Status = Failed
		res.Err = errors.New("registration: missing fixed or moving image")
		return res
	}

	levels := req.Levels
	if len(levels) == 0 {
		levels = []Level{{Shrink: 1}}
	}
	opt := req.Optimizer
	if opt.MaxEvaluations <= 0 {
		opt = DefaultOptimizer()
	}

	tr := req.Initial.Clone()
	for i, lvl := range levels {
		if err := ctx.Err(); err != nil {
			res.Status = worse(res.Status, BestEffort)
			res.Err = err
			break
		}
		lr, err := runLevel(req, lvl, tr, opt)
		if err != nil {
			logger.Printf("registration level %d: %v", i, err)
			res.Status = Failed
			res.Err = err
			res.Transform = req.Initial.Clone()
			return res
		}
		if i == 0 {
			res.InitialMetric = lr.initial
		}
		res.Metric = lr.best
		res.Iterations += lr.iterations
		res.Evaluations += lr.evaluations
		if lr.status != Converged {
			res.Status = worse(res.Status, lr.status)
			res.Err = lr.err
		}
		logger.Printf("registration level %d (shrink %d, sigma %.1f): metric %.4f -> %.4f in %d evaluations (%s)",
			i, lvl.Shrink, lvl.Sigma, lr.initial, lr.best, lr.evaluations, lr.status)
	}

	if det := tr.Determinant(); !(det > 0) || math.IsInf(det, 0) {
		logger.Printf("registration: determinant %g, keeping the initial transform", det)
		res.Status = Failed
		res.Err = ErrDegenerate
		res.Transform = req.Initial.Clone()
		return res
	}
	res.Transform = tr
	return res
}

type levelResult struct {
	initial, best           float64
	iterations, evaluations int
	status                  Status
	err                     error
}

// runLevel optimizes tr in place at one resolution level.
func runLevel(req Request, lvl Level, tr Transform, opt Optimizer) (levelResult, error) {
	fixed := prepare(req.Fixed, lvl)
	moving := prepare(req.Moving, lvl)
	mask := req.Mask
	if mask != nil && lvl.Shrink > 1 {
		mask = imagefilter.ShrinkMask(mask, lvl.Shrink)
	}

	metric, err := newMeanSquares(fixed, mask, moving, tr)
	if err != nil {
		return levelResult{}, err
	}

	// Translations are optimized in units of the sample radius so that every
	// optimizer variable has a comparable effect on the metric.
	n := tr.NumParameters()
	scales := make([]float64, n)
	for k := range scales {
		scales[k] = 1
	}
	ix, iy := tr.Translation()
	scales[ix] = metric.radius
	scales[iy] = metric.radius

	start := tr.Parameters()
	x0 := make([]float64, n)
	floats.DivTo(x0, start, scales)

	params := make([]float64, n)
	grad := make([]float64, n)
	lastX := make([]float64, n)
	lastF := math.NaN()
	lastGrad := make([]float64, n)
	haveLast := false
	bestX := append([]float64(nil), x0...)
	bestF := math.Inf(1)

	eval := func(x []float64) {
		if haveLast && floats.Equal(x, lastX) {
			return
		}
		floats.MulTo(params, x, scales)
		lastF = metric.evaluate(params, grad)
		floats.MulTo(lastGrad, grad, scales)
		copy(lastX, x)
		haveLast = true
		if lastF < bestF {
			bestF = lastF
			copy(bestX, x)
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			eval(x)
			return lastF
		},
		Grad: func(g, x []float64) {
			eval(x)
			copy(g, lastGrad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: opt.GradientTolerance,
		FuncEvaluations:   opt.MaxEvaluations,
		MajorIterations:   opt.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Relative:   opt.FunctionTolerance,
			Iterations: max(opt.FunctionIterations, 1),
		},
	}
	method := &optimize.LBFGS{
		Linesearcher: &optimize.Bisection{CurvatureFactor: opt.LineSearchAccuracy},
	}

	eval(x0)
	lr := levelResult{initial: lastF}

	result, err := minimize(problem, x0, settings, method)
	switch {
	case err != nil:
		lr.status = BestEffort
		lr.err = err
	case result.Status == optimize.FunctionEvaluationLimit || result.Status == optimize.IterationLimit:
		lr.status = BestEffort
		lr.err = fmt.Errorf("registration: stopped at %v", result.Status)
	default:
		lr.status = Converged
	}
	if result != nil {
		lr.iterations = result.MajorIterations
		lr.evaluations = result.FuncEvaluations
	}

	floats.MulTo(params, bestX, scales)
	tr.SetParameters(params)
	lr.best = bestF
	if bestF >= penalty {
		lr.status = Failed
		lr.err = ErrNoSamples
	}
	return lr, nil
}

// minimize wraps optimize.Minimize, turning a panic raised while the
// optimization is set up into an error. Objective evaluations run on gonum's
// worker goroutines and are not covered.
func minimize(p optimize.Problem, x0 []float64, s *optimize.Settings, m optimize.Method) (res *optimize.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("registration: optimizer panic: %v", r)
		}
	}()
	return optimize.Minimize(p, x0, s, m)
}

func prepare(im *imagefilter.Image, lvl Level) *imagefilter.Image {
	out := im
	if lvl.Sigma > 0 {
		out = imagefilter.GaussSmoothPixels(out, lvl.Sigma)
	}
	if lvl.Shrink > 1 {
		out = imagefilter.Shrink(out, lvl.Shrink)
	}
	return out
}

func worse(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// AlignTemplate resamples the fixed image into grid g through the inverse of
// the fitted transform, giving the template as it appears in the moving image.
func AlignTemplate(fixed *imagefilter.Image, tr Transform, g imagefilter.Geometry) (*imagefilter.Image, error) {
	inv, err := tr.Inverse()
	if err != nil {
		return nil, err
	}
	return imagefilter.Resample(fixed, g, inv.TransformPoint, 0), nil
}
