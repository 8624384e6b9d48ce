package distance

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"eyestem/pkg/imagefilter"
)

var (
	// ErrNoForeground means the mask holds no inside pixel, so no boundary exists.
	ErrNoForeground = errors.New("distance: mask has no foreground")

	// ErrNoBackground means every pixel is inside, so no boundary exists.
	ErrNoBackground = errors.New("distance: mask has no background")
)

// Peak is the global maximum of a signed distance map.
type Peak struct {
	// Value is the distance at the maximum in physical units
	Value float64

	// Index is the pixel holding the maximum
	Index imagefilter.Index

	// Point is the physical position of Index
	Point imagefilter.Point
}

// Localize returns the pixel of the mask farthest from any pixel marked
// inside, together with that distance. Ties resolve to the first pixel in
// row-major order.
//
// The edge of the grid is not treated as a boundary. Callers that do not want
// the maximum to sit against the edge paint a border of the inside value
// first.
func Localize(m *imagefilter.Mask, inside uint8) (Peak, error) {
	_, p, err := LocalizeMap(m, inside)
	return p, err
}

// LocalizeMap is Localize that also returns the signed distance map.
func LocalizeMap(m *imagefilter.Mask, inside uint8) (*imagefilter.Image, Peak, error) {
	n := m.Count(inside)
	switch {
	case n == 0:
		return nil, Peak{}, fmt.Errorf("localize %dx%d: %w", m.Size.W, m.Size.H, ErrNoForeground)
	case n == len(m.Pix):
		return nil, Peak{}, fmt.Errorf("localize %dx%d: %w", m.Size.W, m.Size.H, ErrNoBackground)
	}

	dist := SignedDistance(m, inside)
	i := floats.MaxIdx(dist.Pix)
	idx := imagefilter.Index{X: i % m.Size.W, Y: i / m.Size.W}
	return dist, Peak{
		Value: dist.Pix[i],
		Index: idx,
		Point: m.IndexToPoint(idx),
	}, nil
}
