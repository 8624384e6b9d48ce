package registration

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"

	"eyestem/pkg/imagefilter"
)

// ErrSingular is returned when a transform cannot be inverted.
var ErrSingular = errors.New("registration: transform is singular")

// Transform is a parametric 2-D transform about a fixed center. The fitted
// transform maps points of the fixed (template) image into the moving image.
type Transform interface {
	// NumParameters returns the number of optimized parameters.
	NumParameters() int

	// Parameters returns a copy of the current parameters.
	Parameters() []float64

	// SetParameters replaces the parameters.
	SetParameters(p []float64)

	// Center returns the fixed point of the linear part.
	Center() imagefilter.Point

	TransformPoint(p imagefilter.Point) imagefilter.Point
	TransformVector(v imagefilter.Vector) imagefilter.Vector

	// Jacobian stores the partial derivatives of TransformPoint(p) with
	// respect to each parameter: jx[k] for the x coordinate, jy[k] for y.
	Jacobian(p imagefilter.Point, jx, jy []float64)

	// Translation returns the indices of the x and y translation parameters.
	Translation() (int, int)

	// Determinant returns the determinant of the linear part.
	Determinant() float64

	// Matrix returns the transform as a homogeneous affine matrix.
	Matrix() f64.Aff3

	// Inverse returns the inverse transform.
	Inverse() (*Affine, error)

	Clone() Transform
}

// Affine is a general 2-D affine transform
//
//	T(p) = A (p - c) + c + t
//
// with parameters [a11 a12 a21 a22 tx ty].
type Affine struct {
	center imagefilter.Point
	params [6]float64
}

// NewAffine returns the identity transform about center.
func NewAffine(center imagefilter.Point) *Affine {
	return &Affine{center: center, params: [6]float64{1, 0, 0, 1, 0, 0}}
}

// NewAffineFromMatrix builds an affine transform about the origin from a
// homogeneous matrix.
func NewAffineFromMatrix(m f64.Aff3) *Affine {
	return &Affine{params: [6]float64{m[0], m[1], m[3], m[4], m[2], m[5]}}
}

func (a *Affine) NumParameters() int { return 6 }

func (a *Affine) Parameters() []float64 {
	p := make([]float64, 6)
	copy(p, a.params[:])
	return p
}

func (a *Affine) SetParameters(p []float64) { copy(a.params[:], p) }

func (a *Affine) Center() imagefilter.Point { return a.center }

func (a *Affine) TransformPoint(p imagefilter.Point) imagefilter.Point {
	d := a.TransformVector(p.Sub(a.center))
	return a.center.Add(d).Add(imagefilter.Vector{X: a.params[4], Y: a.params[5]})
}

func (a *Affine) TransformVector(v imagefilter.Vector) imagefilter.Vector {
	return imagefilter.Vector{
		X: a.params[0]*v.X + a.params[1]*v.Y,
		Y: a.params[2]*v.X + a.params[3]*v.Y,
	}
}

func (a *Affine) Jacobian(p imagefilter.Point, jx, jy []float64) {
	d := p.Sub(a.center)
	jx[0], jx[1], jx[2], jx[3], jx[4], jx[5] = d.X, d.Y, 0, 0, 1, 0
	jy[0], jy[1], jy[2], jy[3], jy[4], jy[5] = 0, 0, d.X, d.Y, 0, 1
}

func (a *Affine) Translation() (int, int) { return 4, 5 }

func (a *Affine) Determinant() float64 {
	return a.params[0]*a.params[3] - a.params[1]*a.params[2]
}

func (a *Affine) Matrix() f64.Aff3 {
	return affineMatrix(a.params[0], a.params[1], a.params[2], a.params[3], a.center,
		imagefilter.Vector{X: a.params[4], Y: a.params[5]})
}

func (a *Affine) Inverse() (*Affine, error) { return invert(a.Matrix()) }

func (a *Affine) Clone() Transform {
	c := *a
	return &c
}

func (a *Affine) String() string {
	return fmt.Sprintf("affine% .4f about (%.2f, %.2f)", a.params, a.center.X, a.center.Y)
}

// Similarity is a rotation, isotropic scale and translation
//
//	T(p) = s R(theta) (p - c) + c + t
//
// with parameters [s theta tx ty].
type Similarity struct {
	center imagefilter.Point
	params [4]float64
}

// NewSimilarity returns the identity transform about center.
func NewSimilarity(center imagefilter.Point) *Similarity {
	return &Similarity{center: center, params: [4]float64{1, 0, 0, 0}}
}

func (s *Similarity) NumParameters() int { return 4 }

func (s *Similarity) Parameters() []float64 {
	p := make([]float64, 4)
	copy(p, s.params[:])
	return p
}

func (s *Similarity) SetParameters(p []float64) { copy(s.params[:], p) }

func (s *Similarity) Center() imagefilter.Point { return s.center }

// Scale returns the isotropic scale factor.
func (s *Similarity) Scale() float64 { return s.params[0] }

// Angle returns the rotation in radians.
func (s *Similarity) Angle() float64 { return s.params[1] }

func (s *Similarity) linear() (a11, a12, a21, a22 float64) {
	sin, cos := math.Sincos(s.params[1])
	k := s.params[0]
	return k * cos, -k * sin, k * sin, k * cos
}

func (s *Similarity) TransformPoint(p imagefilter.Point) imagefilter.Point {
	d := s.TransformVector(p.Sub(s.center))
	return s.center.Add(d).Add(imagefilter.Vector{X: s.params[2], Y: s.params[3]})
}

func (s *Similarity) TransformVector(v imagefilter.Vector) imagefilter.Vector {
	a11, a12, a21, a22 := s.linear()
	return imagefilter.Vector{X: a11*v.X + a12*v.Y, Y: a21*v.X + a22*v.Y}
}

func (s *Similarity) Jacobian(p imagefilter.Point, jx, jy []float64) {
	d := p.Sub(s.center)
	sin, cos := math.Sincos(s.params[1])
	k := s.params[0]
	jx[0] = cos*d.X - sin*d.Y
	jy[0] = sin*d.X + cos*d.Y
	jx[1] = k * (-sin*d.X - cos*d.Y)
	jy[1] = k * (cos*d.X - sin*d.Y)
	jx[2], jy[2] = 1, 0
	jx[3], jy[3] = 0, 1
}

func (s *Similarity) Translation() (int, int) { return 2, 3 }

func (s *Similarity) Determinant() float64 { return s.params[0] * s.params[0] }

func (s *Similarity) Matrix() f64.Aff3 {
	a11, a12, a21, a22 := s.linear()
	return affineMatrix(a11, a12, a21, a22, s.center, imagefilter.Vector{X: s.params[2], Y: s.params[3]})
}

func (s *Similarity) Inverse() (*Affine, error) { return invert(s.Matrix()) }

func (s *Similarity) Clone() Transform {
	c := *s
	return &c
}

func (s *Similarity) String() string {
	return fmt.Sprintf("similarity[scale %.4f angle %.4f t (%.3f, %.3f)] about (%.2f, %.2f)",
		s.params[0], s.params[1], s.params[2], s.params[3], s.center.X, s.center.Y)
}

// affineMatrix folds the center and translation into the matrix offset.
func affineMatrix(a11, a12, a21, a22 float64, c imagefilter.Point, t imagefilter.Vector) f64.Aff3 {
	return f64.Aff3{
		a11, a12, c.X + t.X - a11*c.X - a12*c.Y,
		a21, a22, c.Y + t.Y - a21*c.X - a22*c.Y,
	}
}

func invert(m f64.Aff3) (*Affine, error) {
	h := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		0, 0, 1,
	})
	if math.Abs(mat.Det(h)) < 1e-12 {
		return nil, ErrSingular
	}
	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return NewAffineFromMatrix(f64.Aff3{
		inv.At(0, 0), inv.At(0, 1), inv.At(0, 2),
		inv.At(1, 0), inv.At(1, 1), inv.At(1, 2),
	}), nil
}
