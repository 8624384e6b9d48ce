// Package synth builds the synthetic fixed images used as registration
// templates: an elliptical ring for the eye orb and a pair of vertical bars
// for the tissue either side of the optic nerve.
//
// Templates are built on the geometry of the image they will be matched
// against, so physical positions carry over unchanged.
package synth

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"eyestem/pkg/imagefilter"
)

// rasterSize is the long side of the canvas ellipses are drawn on. Drawing at
// a fixed size keeps the cost independent of the input resolution.
const rasterSize = 256

// ErrCollapsedBars is returned when clipping leaves no room for a bar.
var ErrCollapsedBars = errors.New("synth: bar span collapsed")

// Finish softens a rasterized template: Gaussian smooth with sigma in pixels,
// zero everything below level and rescale to 0-100.
func Finish(im *imagefilter.Image, sigma, level float64) *imagefilter.Image {
	out := im
	if sigma > 0 {
		out = imagefilter.GaussSmoothPixels(out, sigma)
	}
	out = imagefilter.ThresholdBelow(out, level, 0)
	return imagefilter.Rescale(out, 0, 100)
}

// RingOptions controls the elliptical ring template.
type RingOptions struct {
	// Sigma is the smoothing applied by Finish, in pixels
	Sigma float64

	// Level is the intensity below which the smoothed ring is cleared
	Level float64
}

// EllipseRing returns a ring bounded by two concentric axis-aligned ellipses
// centered at center. Inner and outer hold the x and y radii in physical
// units. The ring is 100 between the ellipses and 0 elsewhere before
// finishing.
func EllipseRing(g imagefilter.Geometry, center imagefilter.Point, inner, outer imagefilter.Vector, opts RingOptions) *imagefilter.Image {
	in := FilledEllipse(g, center, inner)
	out := FilledEllipse(g, center, outer)
	ring, err := imagefilter.Subtract(out, in)
	if err != nil {
		panic(fmt.Sprintf("synth: ring ellipses on different grids: %v", err))
	}
	for i, v := range ring.Pix {
		ring.Pix[i] = math.Max(v, 0) * 100
	}
	return Finish(ring, opts.Sigma, opts.Level)
}

// FilledEllipse rasterizes an anti-aliased filled ellipse with values in
// [0, 1]. The ellipse is drawn on a small canvas and scaled up bilinearly to
// the size of g.
func FilledEllipse(g imagefilter.Geometry, center imagefilter.Point, radii imagefilter.Vector) *imagefilter.Image {
	w, h := g.Size.W, g.Size.H
	k := math.Max(1, math.Ceil(float64(max(w, h))/rasterSize))
	lw := int(math.Ceil(float64(w) / k))
	lh := int(math.Ceil(float64(h) / k))
	sx := float64(lw) / float64(w)
	sy := float64(lh) / float64(h)

	// Pixel (i, j) covers [i, i+1) on the canvas, so its center is at i+0.5
	fx, fy := g.ContinuousIndex(center)
	rp := g.ToPixels(radii)

	dc := gg.NewContext(lw, lh)
	dc.SetRGB(1, 1, 1)
	if rp.X > 0 && rp.Y > 0 {
		dc.DrawEllipse((fx+0.5)*sx, (fy+0.5)*sy, rp.X*sx, rp.Y*sy)
		dc.Fill()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	small := dc.Image()
	draw.BiLinear.Scale(canvas, canvas.Bounds(), small, small.Bounds(), draw.Src, nil)

	im := imagefilter.New(g)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := canvas.Pix[canvas.PixOffset(x, y)+3]
			im.Pix[y*w+x] = float64(a) / 255
		}
	}
	return im
}

// EllipseMask returns a mask of the filled ellipse with the given radii.
// When lateralCrop is positive, columns farther than lateralCrop*radii.X from
// the center are cleared, removing both lateral ends of the ellipse.
func EllipseMask(g imagefilter.Geometry, center imagefilter.Point, radii imagefilter.Vector, lateralCrop float64) *imagefilter.Mask {
	m := imagefilter.NewMask(g)
	if radii.X <= 0 || radii.Y <= 0 {
		return m
	}
	for y := 0; y < g.Size.H; y++ {
		for x := 0; x < g.Size.W; x++ {
			d := g.IndexToPoint(imagefilter.Index{X: x, Y: y}).Sub(center)
			if lateralCrop > 0 && math.Abs(d.X) > lateralCrop*radii.X {
				continue
			}
			u, v := d.X/radii.X, d.Y/radii.Y
			if u*u+v*v <= 1 {
				m.Set(x, y, imagefilter.Foreground)
			}
		}
	}
	return m
}

// BarOptions controls the two-bar template.
type BarOptions struct {
	// Inner and Outer give each bar's extent from the center in multiples of
	// the half-width
	Inner, Outer float64

	// TopFraction is the fraction of the height left empty above the bars
	TopFraction float64

	// Sigma is the smoothing applied by Finish, in pixels
	Sigma float64

	// Level is the intensity below which the smoothed bars are cleared
	Level float64
}

// TwoBars returns a template with two vertical bars placed symmetrically
// around the column through center. Each bar spans Inner*halfWidth to
// Outer*halfWidth from the center and runs from TopFraction of the height
// to the bottom. Columns partly covered by a bar get a proportional value, so
// bar edges are placed with sub-pixel accuracy. The mask covers both bars and
// the gap between them.
func TwoBars(g imagefilter.Geometry, center imagefilter.Point, halfWidth float64, opts BarOptions) (*imagefilter.Image, *imagefilter.Mask, error) {
	w, h := g.Size.W, g.Size.H
	yStart := int(opts.TopFraction * float64(h))
	if yStart >= h || halfWidth <= 0 {
		return nil, nil, fmt.Errorf("bars of half-width %.3g from row %d of %d: %w", halfWidth, yStart, h, ErrCollapsedBars)
	}

	left := [2]float64{center.X - opts.Outer*halfWidth, center.X - opts.Inner*halfWidth}
	right := [2]float64{center.X + opts.Inner*halfWidth, center.X + opts.Outer*halfWidth}

	// coverage is the fraction of column x lying inside the interval
	coverage := func(x int, iv [2]float64) float64 {
		px := g.IndexToPoint(imagefilter.Index{X: x}).X
		half := math.Abs(g.Spacing.X) / 2
		lo := math.Max(px-half, iv[0])
		hi := math.Min(px+half, iv[1])
		return math.Max(hi-lo, 0) / (2 * half)
	}

	column := make([]float64, w)
	inMask := make([]bool, w)
	var leftSum, rightSum float64
	for x := 0; x < w; x++ {
		l, r := coverage(x, left), coverage(x, right)
		leftSum += l
		rightSum += r
		column[x] = 100 * math.Min(l+r, 1)
		px := g.IndexToPoint(imagefilter.Index{X: x}).X
		inMask[x] = px >= left[0] && px <= right[1]
	}
	if leftSum == 0 || rightSum == 0 {
		return nil, nil, fmt.Errorf("bars [%.1f,%.1f] and [%.1f,%.1f] outside the region: %w",
			left[0], left[1], right[0], right[1], ErrCollapsedBars)
	}

	bars := imagefilter.New(g)
	mask := imagefilter.NewMask(g)
	for y := yStart; y < h; y++ {
		for x := 0; x < w; x++ {
			bars.Set(x, y, column[x])
			if inMask[x] {
				mask.Set(x, y, imagefilter.Foreground)
			}
		}
	}
	return Finish(bars, opts.Sigma, opts.Level), mask, nil
}
