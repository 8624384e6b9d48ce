package registration

import (
	"errors"
	"fmt"
	"math"

	"eyestem/pkg/imagefilter"
)

// ErrNoSamples is returned when the mask leaves no fixed pixel to compare.
var ErrNoSamples = errors.New("registration: no samples in mask")

// penalty is the metric value reported when too few samples map into the
// moving image. It exceeds any mean square difference of 0-100 images.
const penalty = 1e8

type sample struct {
	p imagefilter.Point
	f float64
}

// meanSquares is the mean squared intensity difference between fixed image
// samples and the moving image sampled at their transformed positions.
type meanSquares struct {
	samples        []sample
	moving, gx, gy *imagefilter.Image
	tr             Transform
	jx, jy         []float64

	// radius is the RMS distance of the samples from the transform center
	radius float64
}

func newMeanSquares(fixed *imagefilter.Image, mask *imagefilter.Mask, moving *imagefilter.Image, tr Transform) (*meanSquares, error) {
	if mask != nil && !mask.Geometry.Equal(fixed.Geometry) {
		return nil, fmt.Errorf("mask: %w", imagefilter.ErrGeometryMismatch)
	}
	m := &meanSquares{
		moving: moving,
		tr:     tr,
		jx:     make([]float64, tr.NumParameters()),
		jy:     make([]float64, tr.NumParameters()),
	}
	m.gx, m.gy = imagefilter.Gradient(moving)

	c := tr.Center()
	r2 := 0.0
	for y := 0; y < fixed.Size.H; y++ {
		for x := 0; x < fixed.Size.W; x++ {
			if mask != nil && mask.At(x, y) != imagefilter.Foreground {
				continue
			}
			p := fixed.IndexToPoint(imagefilter.Index{X: x, Y: y})
			m.samples = append(m.samples, sample{p: p, f: fixed.At(x, y)})
			d := p.Sub(c)
			r2 += d.X*d.X + d.Y*d.Y
		}
	}
	if len(m.samples) == 0 {
		return nil, ErrNoSamples
	}
	m.radius = math.Sqrt(r2 / float64(len(m.samples)))
	if m.radius == 0 {
		m.radius = 1
	}
	return m, nil
}

// evaluate returns the metric for the given transform parameters. When grad
// is not nil it receives the derivative with respect to each parameter.
func (m *meanSquares) evaluate(params, grad []float64) float64 {
	m.tr.SetParameters(params)
	for k := range grad {
		grad[k] = 0
	}

	sum := 0.0
	valid := 0
	for _, s := range m.samples {
		q := m.tr.TransformPoint(s.p)
		mv, ok := m.moving.Interpolate(q)
		if !ok {
			continue
		}
		d := mv - s.f
		sum += d * d
		valid++
		if grad == nil {
			continue
		}
		gx, _ := m.gx.Interpolate(q)
		gy, _ := m.gy.Interpolate(q)
		m.tr.Jacobian(s.p, m.jx, m.jy)
		for k := range grad {
			grad[k] += 2 * d * (gx*m.jx[k] + gy*m.jy[k])
		}
	}

	if valid == 0 || 2*valid < len(m.samples) || math.IsNaN(sum) {
		for k := range grad {
			grad[k] = 0
		}
		return penalty
	}
	for k := range grad {
		grad[k] /= float64(valid)
	}
	return sum / float64(valid)
}
