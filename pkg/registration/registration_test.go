package registration

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/optimize"

	"eyestem/pkg/imagefilter"
)

// createBlob renders a Gaussian blob of the given width centered at c
func createBlob(size int, c imagefilter.Point, width float64) *imagefilter.Image {
	im := imagefilter.New(imagefilter.NewGeometry(size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := imagefilter.Point{X: float64(x), Y: float64(y)}.Sub(c)
			im.Set(x, y, 100*math.Exp(-(d.X*d.X+d.Y*d.Y)/(2*width*width)))
		}
	}
	return im
}

func TestTransforms(t *testing.T) {
	c := imagefilter.Point{X: 10, Y: -4}
	aff := NewAffine(c)
	aff.SetParameters([]float64{1.2, 0.1, -0.2, 0.9, 3, 4})
	sim := NewSimilarity(c)
	sim.SetParameters([]float64{1.3, 0.4, -2, 5})

	p := imagefilter.Point{X: 7, Y: 11}
	for _, tr := range []Transform{aff, sim} {
		q := tr.TransformPoint(p)

		m := tr.Matrix()
		mx := m[0]*p.X + m[1]*p.Y + m[2]
		my := m[3]*p.X + m[4]*p.Y + m[5]
		if math.Abs(mx-q.X) > 1e-9 || math.Abs(my-q.Y) > 1e-9 {
			t.Errorf("%v: matrix gives (%f, %f), TransformPoint gives %v", tr, mx, my, q)
		}

		inv, err := tr.Inverse()
		if err != nil {
			t.Fatalf("%v: Inverse failed: %v", tr, err)
		}
		back := inv.TransformPoint(q)
		if math.Abs(back.X-p.X) > 1e-9 || math.Abs(back.Y-p.Y) > 1e-9 {
			t.Errorf("%v: inverse maps %v back to %v", tr, q, back)
		}

		// Jacobian against central differences
		n := tr.NumParameters()
		jx, jy := make([]float64, n), make([]float64, n)
		tr.Jacobian(p, jx, jy)
		base := tr.Parameters()
		for k := 0; k < n; k++ {
			const h = 1e-6
			shifted := tr.Clone()
			pp := append([]float64(nil), base...)
			pp[k] += h
			shifted.SetParameters(pp)
			hi := shifted.TransformPoint(p)
			pp[k] -= 2 * h
			shifted.SetParameters(pp)
			lo := shifted.TransformPoint(p)
			if math.Abs((hi.X-lo.X)/(2*h)-jx[k]) > 1e-5 || math.Abs((hi.Y-lo.Y)/(2*h)-jy[k]) > 1e-5 {
				t.Errorf("%v: parameter %d jacobian (%f, %f) disagrees with finite differences", tr, k, jx[k], jy[k])
			}
		}
	}

	if got := sim.Determinant(); math.Abs(got-1.69) > 1e-12 {
		t.Errorf("similarity determinant = %f, want 1.69", got)
	}

	singular := NewAffine(c)
	singular.SetParameters([]float64{1, 2, 2, 4, 0, 0})
	if _, err := singular.Inverse(); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}

func TestRegisterRecoversSimilarity(t *testing.T) {
	c := imagefilter.Point{X: 50, Y: 50}
	fixed := createBlob(100, c, 12)
	moving := createBlob(100, imagefilter.Point{X: 53, Y: 48}, 12*1.1)

	res := Register(context.Background(), Request{
		Fixed:     fixed,
		Moving:    moving,
		Initial:   NewSimilarity(c),
		Levels:    []Level{{Shrink: 2, Sigma: 1}, {Shrink: 1}},
		Optimizer: DefaultOptimizer(),
	})
	if res.Status == Failed {
		t.Fatalf("registration failed: %v", res.Err)
	}
	if !(res.Metric < res.InitialMetric) {
		t.Errorf("metric did not improve: %f -> %f", res.InitialMetric, res.Metric)
	}

	got := res.Transform.Parameters()
	if math.Abs(got[0]-1.1) > 0.01 {
		t.Errorf("scale = %f, want 1.1", got[0])
	}
	if math.Abs(got[2]-3) > 0.2 || math.Abs(got[3]+2) > 0.2 {
		t.Errorf("translation = (%f, %f), want (3, -2)", got[2], got[3])
	}

	center := res.Transform.TransformPoint(c)
	if math.Abs(center.X-53) > 0.2 || math.Abs(center.Y-48) > 0.2 {
		t.Errorf("template center maps to %v, want (53, 48)", center)
	}
}

func TestRegisterAffineWithMask(t *testing.T) {
	c := imagefilter.Point{X: 40, Y: 40}
	fixed := createBlob(80, c, 10)
	moving := createBlob(80, imagefilter.Point{X: 41, Y: 39}, 10)

	mask := imagefilter.NewMask(fixed.Geometry)
	for y := 15; y < 65; y++ {
		for x := 15; x < 65; x++ {
			mask.Set(x, y, imagefilter.Foreground)
		}
	}

	res := Register(context.Background(), Request{
		Fixed:   fixed,
		Moving:  moving,
		Mask:    mask,
		Initial: NewAffine(c),
	})
	if res.Status == Failed {
		t.Fatalf("registration failed: %v", res.Err)
	}
	q := res.Transform.TransformPoint(c)
	if math.Abs(q.X-41) > 0.2 || math.Abs(q.Y-39) > 0.2 {
		t.Errorf("template center maps to %v, want (41, 39)", q)
	}
}

func TestRegisterSoftFailures(t *testing.T) {
	c := imagefilter.Point{X: 20, Y: 20}
	fixed := createBlob(40, c, 5)

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := Register(ctx, Request{Fixed: fixed, Moving: fixed, Initial: NewSimilarity(c)})
		if res.Status != BestEffort || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("status %v, err %v", res.Status, res.Err)
		}
		if res.Transform.Parameters()[0] != 1 {
			t.Error("cancelled registration must keep the initial transform")
		}
	})

	t.Run("MaskMismatch", func(t *testing.T) {
		mask := imagefilter.NewMask(imagefilter.NewGeometry(10, 10))
		res := Register(context.Background(), Request{Fixed: fixed, Moving: fixed, Mask: mask, Initial: NewAffine(c)})
		if res.Status != Failed {
			t.Errorf("status = %v, want failed", res.Status)
		}
	})

	t.Run("EvaluationCap", func(t *testing.T) {
		moving := createBlob(40, imagefilter.Point{X: 23, Y: 18}, 6)
		opt := DefaultOptimizer()
		opt.MaxEvaluations = 3
		res := Register(context.Background(), Request{Fixed: fixed, Moving: moving, Initial: NewSimilarity(c), Optimizer: opt})
		if res.Status != BestEffort || res.Err == nil {
			t.Fatalf("status %v, err %v", res.Status, res.Err)
		}
		if !(res.Metric <= res.InitialMetric) {
			t.Errorf("capped fit lost the best parameters: metric %f -> %f", res.InitialMetric, res.Metric)
		}
	})

	t.Run("Mirrored", func(t *testing.T) {
		mirror := NewAffine(c)
		mirror.SetParameters([]float64{-1, 0, 0, 1, 0, 0})
		res := Register(context.Background(), Request{Fixed: fixed, Moving: fixed, Initial: mirror})
		if res.Status != Failed || !errors.Is(res.Err, ErrDegenerate) {
			t.Fatalf("status %v, err %v", res.Status, res.Err)
		}
		if got := res.Transform.Parameters(); got[0] != -1 || got[3] != 1 {
			t.Errorf("degenerate fit must return the initial transform, got %v", got)
		}
	})

	t.Run("EmptyMask", func(t *testing.T) {
		mask := imagefilter.NewMask(fixed.Geometry)
		res := Register(context.Background(), Request{Fixed: fixed, Moving: fixed, Mask: mask, Initial: NewAffine(c)})
		if res.Status != Failed || !errors.Is(res.Err, ErrNoSamples) {
			t.Errorf("status %v, err %v", res.Status, res.Err)
		}
	})
}

func TestMinimizeRecoversPanic(t *testing.T) {
	// L-BFGS needs a gradient; gonum panics when the problem has none
	problem := optimize.Problem{Func: func(x []float64) float64 { return x[0] * x[0] }}
	_, err := minimize(problem, []float64{1}, nil, &optimize.LBFGS{})
	if err == nil || !strings.Contains(err.Error(), "optimizer panic") {
		t.Errorf("expected a recovered panic, got %v", err)
	}
}

func TestAlignTemplate(t *testing.T) {
	fixed := imagefilter.New(imagefilter.NewGeometry(20, 20))
	fixed.Set(5, 5, 100)

	tr := NewSimilarity(imagefilter.Point{X: 10, Y: 10})
	tr.SetParameters([]float64{1, 0, 4, 2})

	aligned, err := AlignTemplate(fixed, tr, fixed.Geometry)
	if err != nil {
		t.Fatalf("AlignTemplate failed: %v", err)
	}
	if math.Abs(aligned.At(9, 7)-100) > 1e-6 {
		t.Errorf("template pixel did not move to (9, 7)")
	}
	if math.Abs(aligned.At(5, 5)) > 1e-6 {
		t.Errorf("template pixel left a copy behind")
	}
}
