package imagefilter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinMax returns the smallest and largest pixel values of im.
func MinMax(im *Image) (float64, float64) {
	if len(im.Pix) == 0 {
		return 0, 0
	}
	return floats.Min(im.Pix), floats.Max(im.Pix)
}

// Stats returns the mean and standard deviation of the pixel values.
func Stats(im *Image) (mean, std float64) {
	if len(im.Pix) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(im.Pix, nil)
}

// Rescale maps the intensity range of im linearly onto [lo, hi].
// A constant image maps to lo everywhere.
func Rescale(im *Image, lo, hi float64) *Image {
	out := New(im.Geometry)
	vmin, vmax := MinMax(im)
	if vmax <= vmin {
		for i := range out.Pix {
			out.Pix[i] = lo
		}
		return out
	}
	scale := (hi - lo) / (vmax - vmin)
	for i, v := range im.Pix {
		out.Pix[i] = lo + (v-vmin)*scale
	}
	return out
}

// ThresholdBelow replaces every value below t by outside.
func ThresholdBelow(im *Image, t, outside float64) *Image {
	out := im.Clone()
	for i, v := range out.Pix {
		if v < t {
			out.Pix[i] = outside
		}
	}
	return out
}

// ThresholdAbove replaces every value above t by outside.
func ThresholdAbove(im *Image, t, outside float64) *Image {
	out := im.Clone()
	for i, v := range out.Pix {
		if v > t {
			out.Pix[i] = outside
		}
	}
	return out
}

// BinaryThreshold sets pixels within [lo, hi] to inside and all others to outside.
func BinaryThreshold(im *Image, lo, hi, inside, outside float64) *Image {
	out := New(im.Geometry)
	for i, v := range im.Pix {
		if v >= lo && v <= hi {
			out.Pix[i] = inside
		} else {
			out.Pix[i] = outside
		}
	}
	return out
}

// Binarize returns a mask that is Foreground where lo <= v <= hi.
func Binarize(im *Image, lo, hi float64) *Mask {
	m := NewMask(im.Geometry)
	for i, v := range im.Pix {
		if v >= lo && v <= hi {
			m.Pix[i] = Foreground
		}
	}
	return m
}

// FromMask converts a mask to an image holding the same values.
func FromMask(m *Mask) *Image {
	out := New(m.Geometry)
	for i, v := range m.Pix {
		out.Pix[i] = float64(v)
	}
	return out
}

// Add returns the pixelwise sum a + b.
func Add(a, b *Image) (*Image, error) {
	if !a.Geometry.Equal(b.Geometry) {
		return nil, fmt.Errorf("add: %w", ErrGeometryMismatch)
	}
	out := a.Clone()
	floats.Add(out.Pix, b.Pix)
	return out, nil
}

// Subtract returns the pixelwise difference a - b.
func Subtract(a, b *Image) (*Image, error) {
	if !a.Geometry.Equal(b.Geometry) {
		return nil, fmt.Errorf("subtract: %w", ErrGeometryMismatch)
	}
	out := a.Clone()
	floats.Sub(out.Pix, b.Pix)
	return out, nil
}

// PaintBorder sets a frame of the given width on all four sides of im to v, in place.
func PaintBorder(im *Image, width int, v float64) {
	PaintVerticalBorder(im, width, v)
	PaintHorizontalBorder(im, width, v)
}

// PaintVerticalBorder sets the leftmost and rightmost width columns to v, in place.
func PaintVerticalBorder(im *Image, width int, v float64) {
	paintColumns(im.Size, width, func(i int) { im.Pix[i] = v })
}

// PaintHorizontalBorder sets the top and bottom width rows to v, in place.
func PaintHorizontalBorder(im *Image, width int, v float64) {
	paintRows(im.Size, width, func(i int) { im.Pix[i] = v })
}

// NormalizeRows rescales every row of im independently onto [lo, hi], in
// place. Rows with no intensity variation are set to lo.
//
// This compensates depth dependent attenuation in ultrasound images, where
// deeper rows are dimmer. Applying it twice gives the same result as once.
func NormalizeRows(im *Image, lo, hi float64) {
	w := im.Size.W
	for y := 0; y < im.Size.H; y++ {
		row := im.Pix[y*w : (y+1)*w]
		rmin, rmax := floats.Min(row), floats.Max(row)
		if rmax <= rmin {
			for i := range row {
				row[i] = lo
			}
			continue
		}
		scale := (hi - lo) / (rmax - rmin)
		for i, v := range row {
			row[i] = lo + (v-rmin)*scale
		}
	}
}

// RescaleSides rescales the columns left of splitX and the columns from
// splitX onwards independently, in place. On each side the reference
// intensity maps to lo and the side's own maximum maps to hi; results are
// clipped to [lo, hi]. A side whose maximum does not exceed the reference is
// set to lo.
func RescaleSides(im *Image, splitX int, reference, lo, hi float64) {
	w, h := im.Size.W, im.Size.H
	splitX = min(max(splitX, 0), w)

	sideMax := func(x0, x1 int) float64 {
		m := math.Inf(-1)
		for y := 0; y < h; y++ {
			for x := x0; x < x1; x++ {
				m = math.Max(m, im.Pix[y*w+x])
			}
		}
		return m
	}
	rescale := func(x0, x1 int, vmax float64) {
		span := vmax - reference
		for y := 0; y < h; y++ {
			for x := x0; x < x1; x++ {
				i := y*w + x
				if span <= 0 {
					im.Pix[i] = lo
					continue
				}
				t := (im.Pix[i] - reference) / span
				t = math.Min(math.Max(t, 0), 1)
				im.Pix[i] = lo + t*(hi-lo)
			}
		}
	}

	leftMax := sideMax(0, splitX)
	rightMax := sideMax(splitX, w)
	rescale(0, splitX, leftMax)
	rescale(splitX, w, rightMax)
}

// Extract copies a region of im into a new image. The copy keeps the physical
// position of every pixel, so its origin is the position of the region's
// first pixel.
func Extract(im *Image, r Region) (*Image, error) {
	c := r.Clip(im.Size)
	if c.Empty() || c != r {
		return nil, fmt.Errorf("extract %v from %dx%d image: %w", r, im.Size.W, im.Size.H, ErrEmptyRegion)
	}
	out := New(im.Sub(r))
	for y := 0; y < r.Size.H; y++ {
		src := (r.Index.Y+y)*im.Size.W + r.Index.X
		copy(out.Pix[y*r.Size.W:(y+1)*r.Size.W], im.Pix[src:src+r.Size.W])
	}
	return out, nil
}
