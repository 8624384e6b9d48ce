// Package imagefilter provides the 2-D image model used throughout eyestem
// together with the small set of pixel filters the estimators are built from.
//
// Every image carries a physical geometry (origin, spacing, size). Pixel loops
// run over index space; Geometry converts between index space and physical
// points. Filters return freshly allocated images unless their name says they
// work in place (PaintBorder, NormalizeRows, RescaleSides).
package imagefilter

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrGeometryMismatch is returned when two images that must share a grid do not.
	ErrGeometryMismatch = errors.New("imagefilter: image geometries differ")

	// ErrEmptyRegion is returned when a region has no pixels inside the image.
	ErrEmptyRegion = errors.New("imagefilter: region is empty")
)

// Point is a location in physical space.
type Point struct {
	X, Y float64
}

// Vector is a displacement in physical space.
type Vector struct {
	X, Y float64
}

// Index addresses a pixel of the grid.
type Index struct {
	X, Y int
}

// Size is the number of pixels along each axis.
type Size struct {
	W, H int
}

// Add returns p displaced by v.
func (p Point) Add(v Vector) Point { return Point{p.X + v.X, p.Y + v.Y} }

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Vector { return Vector{p.X - q.X, p.Y - q.Y} }

// Scale returns v multiplied by s.
func (v Vector) Scale(s float64) Vector { return Vector{v.X * s, v.Y * s} }

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 { return math.Hypot(v.X, v.Y) }

// Len returns the number of pixels.
func (s Size) Len() int { return s.W * s.H }

// Region is an axis-aligned rectangle in index space.
type Region struct {
	Index Index
	Size  Size
}

// Empty reports whether the region holds no pixel.
func (r Region) Empty() bool { return r.Size.W <= 0 || r.Size.H <= 0 }

// Clip returns the part of r that lies inside a grid of the given size.
// The result has a zero size when r does not overlap the grid.
func (r Region) Clip(s Size) Region {
	x0 := max(r.Index.X, 0)
	y0 := max(r.Index.Y, 0)
	x1 := min(r.Index.X+r.Size.W, s.W)
	y1 := min(r.Index.Y+r.Size.H, s.H)
	if x1 <= x0 || y1 <= y0 {
		return Region{Index: Index{x0, y0}}
	}
	return Region{Index: Index{x0, y0}, Size: Size{x1 - x0, y1 - y0}}
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.Index.X, r.Index.Y, r.Size.W, r.Size.H)
}

// Geometry describes how a pixel grid sits in physical space:
// the physical position of index (i, j) is Origin + (i*Spacing.X, j*Spacing.Y).
type Geometry struct {
	// Origin is the physical position of the first pixel's center
	Origin Point

	// Spacing is the physical distance between neighbouring pixel centers
	Spacing Vector

	// Size is the grid size in pixels
	Size Size
}

// NewGeometry returns a grid of the given size with unit spacing at the origin.
func NewGeometry(w, h int) Geometry {
	return Geometry{Spacing: Vector{1, 1}, Size: Size{w, h}}
}

// Len returns the number of pixels in the grid.
func (g Geometry) Len() int { return g.Size.Len() }

// Contains reports whether idx addresses a pixel of the grid.
func (g Geometry) Contains(idx Index) bool {
	return idx.X >= 0 && idx.Y >= 0 && idx.X < g.Size.W && idx.Y < g.Size.H
}

// IndexToPoint returns the physical position of a pixel center.
func (g Geometry) IndexToPoint(idx Index) Point {
	return Point{
		X: g.Origin.X + float64(idx.X)*g.Spacing.X,
		Y: g.Origin.Y + float64(idx.Y)*g.Spacing.Y,
	}
}

// ContinuousIndex returns the fractional index of a physical point.
func (g Geometry) ContinuousIndex(p Point) (float64, float64) {
	return (p.X - g.Origin.X) / g.Spacing.X, (p.Y - g.Origin.Y) / g.Spacing.Y
}

// PointToIndex rounds a physical point to the nearest pixel. The boolean
// reports whether that pixel lies inside the grid.
func (g Geometry) PointToIndex(p Point) (Index, bool) {
	fx, fy := g.ContinuousIndex(p)
	idx := Index{int(math.Round(fx)), int(math.Round(fy))}
	return idx, g.Contains(idx)
}

// ToPixels converts a physical vector to pixel units.
func (g Geometry) ToPixels(v Vector) Vector {
	return Vector{v.X / g.Spacing.X, v.Y / g.Spacing.Y}
}

// ToPhysical converts a vector in pixel units to physical units.
func (g Geometry) ToPhysical(v Vector) Vector {
	return Vector{v.X * g.Spacing.X, v.Y * g.Spacing.Y}
}

// Sub returns the geometry of a region of g. The region keeps the physical
// position of its pixels.
func (g Geometry) Sub(r Region) Geometry {
	return Geometry{Origin: g.IndexToPoint(r.Index), Spacing: g.Spacing, Size: r.Size}
}

// Equal reports whether two grids coincide.
func (g Geometry) Equal(o Geometry) bool {
	const eps = 1e-9
	return g.Size == o.Size &&
		math.Abs(g.Origin.X-o.Origin.X) < eps && math.Abs(g.Origin.Y-o.Origin.Y) < eps &&
		math.Abs(g.Spacing.X-o.Spacing.X) < eps && math.Abs(g.Spacing.Y-o.Spacing.Y) < eps
}

// Image is a floating point image used for intensities, distances and
// intermediate work images. Pix is stored in row-major order.
type Image struct {
	Geometry
	Pix []float64
}

// New allocates a zero image on the given grid.
func New(g Geometry) *Image {
	return &Image{Geometry: g, Pix: make([]float64, g.Len())}
}

// NewFilled allocates an image on g with every pixel set to v.
func NewFilled(g Geometry, v float64) *Image {
	im := New(g)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

// At returns the value at pixel (x, y).
func (im *Image) At(x, y int) float64 { return im.Pix[y*im.Size.W+x] }

// Set stores v at pixel (x, y).
func (im *Image) Set(x, y int, v float64) { im.Pix[y*im.Size.W+x] = v }

// Clone returns a deep copy of im.
func (im *Image) Clone() *Image {
	out := &Image{Geometry: im.Geometry, Pix: make([]float64, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Interpolate samples im bilinearly at a physical point. The boolean is false
// when the point falls outside the grid's pixel centers.
func (im *Image) Interpolate(p Point) (float64, bool) {
	fx, fy := im.ContinuousIndex(p)
	return im.interpolateIndex(fx, fy)
}

func (im *Image) interpolateIndex(fx, fy float64) (float64, bool) {
	const eps = 1e-6
	w, h := im.Size.W, im.Size.H
	if fx < -eps || fy < -eps || fx > float64(w-1)+eps || fy > float64(h-1)+eps {
		return 0, false
	}
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x0 = min(max(x0, 0), w-1)
	y0 = min(max(y0, 0), h-1)
	x1 := min(x0+1, w-1)
	y1 := min(y0+1, h-1)
	tx := fx - float64(x0)
	ty := fy - float64(y0)
	tx = min(max(tx, 0), 1)
	ty = min(max(ty, 0), 1)

	v00 := im.Pix[y0*w+x0]
	v10 := im.Pix[y0*w+x1]
	v01 := im.Pix[y1*w+x0]
	v11 := im.Pix[y1*w+x1]
	top := v00 + (v10-v00)*tx
	bottom := v01 + (v11-v01)*tx
	return top + (bottom-top)*ty, true
}

// Mask pixel values.
const (
	Background uint8 = 0
	Foreground uint8 = 255
)

// Mask is a single byte binary image.
type Mask struct {
	Geometry
	Pix []uint8
}

// NewMask allocates a background mask on the given grid.
func NewMask(g Geometry) *Mask {
	return &Mask{Geometry: g, Pix: make([]uint8, g.Len())}
}

// At returns the value at pixel (x, y).
func (m *Mask) At(x, y int) uint8 { return m.Pix[y*m.Size.W+x] }

// Set stores v at pixel (x, y).
func (m *Mask) Set(x, y int, v uint8) { m.Pix[y*m.Size.W+x] = v }

// Clone returns a deep copy of m.
func (m *Mask) Clone() *Mask {
	out := &Mask{Geometry: m.Geometry, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Count returns the number of pixels equal to v.
func (m *Mask) Count(v uint8) int {
	n := 0
	for _, p := range m.Pix {
		if p == v {
			n++
		}
	}
	return n
}

// PaintBorder sets a frame of the given width on all four sides to v.
func (m *Mask) PaintBorder(width int, v uint8) {
	m.PaintVerticalBorder(width, v)
	m.PaintHorizontalBorder(width, v)
}

// PaintVerticalBorder sets the leftmost and rightmost width columns to v.
func (m *Mask) PaintVerticalBorder(width int, v uint8) {
	paintColumns(m.Size, width, func(i int) { m.Pix[i] = v })
}

// PaintHorizontalBorder sets the top and bottom width rows to v.
func (m *Mask) PaintHorizontalBorder(width int, v uint8) {
	paintRows(m.Size, width, func(i int) { m.Pix[i] = v })
}

// Extract copies a region of m into a new mask.
func (m *Mask) Extract(r Region) (*Mask, error) {
	c := r.Clip(m.Size)
	if c.Empty() || c != r {
		return nil, fmt.Errorf("extract %v from %dx%d mask: %w", r, m.Size.W, m.Size.H, ErrEmptyRegion)
	}
	out := NewMask(m.Sub(r))
	for y := 0; y < r.Size.H; y++ {
		src := (r.Index.Y+y)*m.Size.W + r.Index.X
		copy(out.Pix[y*r.Size.W:(y+1)*r.Size.W], m.Pix[src:src+r.Size.W])
	}
	return out, nil
}

func paintColumns(s Size, width int, set func(i int)) {
	width = min(max(width, 0), s.W)
	for y := 0; y < s.H; y++ {
		for x := 0; x < width; x++ {
			set(y*s.W + x)
			set(y*s.W + s.W - 1 - x)
		}
	}
}

func paintRows(s Size, width int, set func(i int)) {
	width = min(max(width, 0), s.H)
	for y := 0; y < width; y++ {
		for x := 0; x < s.W; x++ {
			set(y*s.W + x)
			set((s.H-1-y)*s.W + x)
		}
	}
}
