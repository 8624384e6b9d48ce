// Package distance computes Euclidean distance maps over binary masks and
// uses them to seed geometry estimates: the point farthest from any boundary
// approximates a center, and its distance approximates a radius.
package distance

import (
	"math"

	"eyestem/pkg/imagefilter"
)

// SquaredEDT returns, for every cell of a w x h grid, the squared physical
// distance to the nearest cell where feature is true. Cells are spaced by sx
// along x and sy along y. The grid edge is not a boundary: cells beyond it do
// not exist. When no cell is a feature every distance is +Inf.
//
// The transform is exact and separable (Felzenszwalb and Huttenlocher): a 1-D
// lower envelope of parabolas per column, then per row.
func SquaredEDT(feature []bool, w, h int, sx, sy float64) []float64 {
	d := make([]float64, w*h)
	for i, f := range feature {
		if f {
			d[i] = 0
		} else {
			d[i] = math.Inf(1)
		}
	}

	n := max(w, h)
	f := make([]float64, n)
	out := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			f[y] = d[y*w+x]
		}
		envelope(f[:h], out[:h], v, z, sy)
		for y := 0; y < h; y++ {
			d[y*w+x] = out[y]
		}
	}
	for y := 0; y < h; y++ {
		copy(f[:w], d[y*w:(y+1)*w])
		envelope(f[:w], out[:w], v, z, sx)
		copy(d[y*w:(y+1)*w], out[:w])
	}
	return d
}

// envelope computes out[q] = min_p (f[p] + ((q-p)*s)^2) in linear time.
func envelope(f, out []float64, v []int, z []float64, s float64) {
	n := len(f)
	s2 := s * s
	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		if k < 0 {
			k = 0
			v[0] = q
			z[0] = math.Inf(-1)
			z[1] = math.Inf(1)
			continue
		}
		for {
			p := v[k]
			sep := ((f[q] + s2*float64(q*q)) - (f[p] + s2*float64(p*p))) / (2 * s2 * float64(q-p))
			// z[0] is -Inf, so k never drops below zero
			if sep <= z[k] {
				k--
				continue
			}
			k++
			v[k] = q
			z[k] = sep
			z[k+1] = math.Inf(1)
			break
		}
	}
	if k < 0 {
		for q := range out {
			out[q] = math.Inf(1)
		}
		return
	}
	j := 0
	for q := 0; q < n; q++ {
		for z[j+1] < float64(q) {
			j++
		}
		dq := float64(q-v[j]) * s
		out[q] = dq*dq + f[v[j]]
	}
}

// SignedDistance returns the signed distance map of a mask. Pixels outside
// the region marked inside hold their distance to the nearest inside pixel
// (positive); inside pixels hold minus their distance to the nearest outside
// pixel. Distances are physical.
func SignedDistance(m *imagefilter.Mask, inside uint8) *imagefilter.Image {
	w, h := m.Size.W, m.Size.H
	in := make([]bool, len(m.Pix))
	out := make([]bool, len(m.Pix))
	for i, p := range m.Pix {
		in[i] = p == inside
		out[i] = !in[i]
	}
	toInside := SquaredEDT(in, w, h, m.Spacing.X, m.Spacing.Y)
	toOutside := SquaredEDT(out, w, h, m.Spacing.X, m.Spacing.Y)

	im := imagefilter.New(m.Geometry)
	for i := range im.Pix {
		if in[i] {
			im.Pix[i] = -math.Sqrt(toOutside[i])
		} else {
			im.Pix[i] = math.Sqrt(toInside[i])
		}
	}
	return im
}
