package distance

import "eyestem/pkg/imagefilter"

// Binary morphology with a disk structuring element of the given radius in
// pixels. Each operation thresholds a distance map, so the cost does not grow
// with the radius.

// Dilate grows the foreground of m by radius pixels.
func Dilate(m *imagefilter.Mask, radius int) *imagefilter.Mask {
	fg := make([]bool, len(m.Pix))
	for i, p := range m.Pix {
		fg[i] = p == imagefilter.Foreground
	}
	d := SquaredEDT(fg, m.Size.W, m.Size.H, 1, 1)
	r2 := float64(radius * radius)
	out := imagefilter.NewMask(m.Geometry)
	for i, v := range d {
		if v <= r2 {
			out.Pix[i] = imagefilter.Foreground
		}
	}
	return out
}

// Erode shrinks the foreground of m by radius pixels. Pixels beyond the grid
// count as foreground, so the edge does not eat into the mask.
func Erode(m *imagefilter.Mask, radius int) *imagefilter.Mask {
	bg := make([]bool, len(m.Pix))
	for i, p := range m.Pix {
		bg[i] = p != imagefilter.Foreground
	}
	d := SquaredEDT(bg, m.Size.W, m.Size.H, 1, 1)
	r2 := float64(radius * radius)
	out := imagefilter.NewMask(m.Geometry)
	for i, v := range d {
		if v > r2 {
			out.Pix[i] = imagefilter.Foreground
		}
	}
	return out
}

// Close fills background gaps narrower than the structuring element.
func Close(m *imagefilter.Mask, radius int) *imagefilter.Mask {
	return Erode(Dilate(m, radius), radius)
}

// Open removes foreground features narrower than the structuring element.
func Open(m *imagefilter.Mask, radius int) *imagefilter.Mask {
	return Dilate(Erode(m, radius), radius)
}
