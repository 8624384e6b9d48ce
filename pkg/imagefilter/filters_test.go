package imagefilter

import (
	"errors"
	"math"
	"testing"
)

// createTestImage builds an image with unit spacing from a pixel pattern
func createTestImage(w, h int, pattern func(x, y int) float64) *Image {
	im := New(NewGeometry(w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			im.Set(x, y, pattern(x, y))
		}
	}
	return im
}

func TestNormalizeRows(t *testing.T) {
	// Each row gets dimmer with depth, like an attenuated ultrasound scan
	im := createTestImage(32, 16, func(x, y int) float64 {
		return float64(x%7) * 10 / float64(y+1)
	})

	t.Run("RangePerRow", func(t *testing.T) {
		work := im.Clone()
		NormalizeRows(work, 0, 100)
		for y := 0; y < 16; y++ {
			lo, hi := math.Inf(1), math.Inf(-1)
			for x := 0; x < 32; x++ {
				lo = math.Min(lo, work.At(x, y))
				hi = math.Max(hi, work.At(x, y))
			}
			if math.Abs(lo) > 1e-9 || math.Abs(hi-100) > 1e-9 {
				t.Errorf("row %d spans [%f, %f], want [0, 100]", y, lo, hi)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := im.Clone()
		NormalizeRows(once, 0, 100)
		twice := once.Clone()
		NormalizeRows(twice, 0, 100)
		for i := range once.Pix {
			if math.Abs(once.Pix[i]-twice.Pix[i]) > 1e-9 {
				t.Fatalf("pixel %d changed from %f to %f", i, once.Pix[i], twice.Pix[i])
			}
		}
	})

	t.Run("ConstantRow", func(t *testing.T) {
		flat := createTestImage(8, 2, func(x, y int) float64 { return 42 })
		NormalizeRows(flat, 0, 100)
		for i, v := range flat.Pix {
			if v != 0 {
				t.Fatalf("pixel %d = %f, want 0", i, v)
			}
		}
	})
}

func TestRescale(t *testing.T) {
	im := createTestImage(4, 1, func(x, y int) float64 { return float64(x)*2 + 3 })
	out := Rescale(im, 0, 100)
	want := []float64{0, 100.0 / 3, 200.0 / 3, 100}
	for i, v := range out.Pix {
		if math.Abs(v-want[i]) > 1e-9 {
			t.Errorf("pixel %d = %f, want %f", i, v, want[i])
		}
	}
	if im.Pix[0] != 3 {
		t.Error("Rescale modified its input")
	}

	flat := Rescale(createTestImage(3, 3, func(x, y int) float64 { return 7 }), 10, 20)
	for _, v := range flat.Pix {
		if v != 10 {
			t.Fatalf("constant image rescaled to %f, want 10", v)
		}
	}
}

func TestGaussSmooth(t *testing.T) {
	flat := createTestImage(20, 20, func(x, y int) float64 { return 5 })
	out := GaussSmoothPixels(flat, 3)
	for i, v := range out.Pix {
		if math.Abs(v-5) > 1e-9 {
			t.Fatalf("pixel %d = %f, constant image must be unchanged", i, v)
		}
	}

	// An impulse spreads symmetrically and keeps its mass
	impulse := New(NewGeometry(41, 41))
	impulse.Set(20, 20, 1)
	blurred := GaussSmooth(impulse, Vector{2, 4})
	sum := 0.0
	for _, v := range blurred.Pix {
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("mass = %f, want 1", sum)
	}
	if math.Abs(blurred.At(18, 20)-blurred.At(22, 20)) > 1e-12 {
		t.Error("blur is not symmetric along x")
	}
	if blurred.At(20, 24) <= blurred.At(24, 20) {
		t.Error("larger sigma along y should spread more along y")
	}
}

func TestBinaryThreshold(t *testing.T) {
	im := createTestImage(5, 1, func(x, y int) float64 { return float64(x * 25) })
	out := BinaryThreshold(im, 25, 75, 1, 0)
	want := []float64{0, 1, 1, 1, 0}
	for i, v := range out.Pix {
		if v != want[i] {
			t.Errorf("pixel %d = %f, want %f", i, v, want[i])
		}
	}

	m := Binarize(im, 50, math.Inf(1))
	if got := m.Count(Foreground); got != 3 {
		t.Errorf("foreground count = %d, want 3", got)
	}
}

func TestAddSubtract(t *testing.T) {
	a := createTestImage(3, 3, func(x, y int) float64 { return float64(x + y) })
	b := createTestImage(3, 3, func(x, y int) float64 { return 1 })

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	diff, err := Subtract(sum, b)
	if err != nil {
		t.Fatalf("Subtract failed: %v", err)
	}
	for i := range a.Pix {
		if diff.Pix[i] != a.Pix[i] {
			t.Fatalf("pixel %d = %f, want %f", i, diff.Pix[i], a.Pix[i])
		}
	}

	c := New(NewGeometry(4, 3))
	if _, err := Add(a, c); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("expected ErrGeometryMismatch, got %v", err)
	}
}

func TestPaintBorder(t *testing.T) {
	im := New(NewGeometry(10, 8))
	PaintVerticalBorder(im, 2, 1)
	PaintHorizontalBorder(im, 1, 2)

	if im.At(0, 4) != 1 || im.At(9, 4) != 1 || im.At(1, 4) != 1 {
		t.Error("vertical border not painted")
	}
	if im.At(2, 4) != 0 {
		t.Error("vertical border too wide")
	}
	if im.At(5, 0) != 2 || im.At(5, 7) != 2 {
		t.Error("horizontal border not painted")
	}
	if im.At(5, 1) != 0 {
		t.Error("horizontal border too wide")
	}

	m := NewMask(NewGeometry(6, 6))
	m.PaintBorder(1, Foreground)
	if got := m.Count(Foreground); got != 20 {
		t.Errorf("painted %d pixels, want 20", got)
	}
}

func TestRescaleSides(t *testing.T) {
	// Left side peaks at 60, right side at 90, the center sits at 10
	im := createTestImage(10, 2, func(x, y int) float64 {
		switch {
		case x == 5:
			return 10
		case x < 5:
			return 60
		default:
			return 90
		}
	})
	im.Set(0, 0, 0)
	RescaleSides(im, 5, 10, 0, 100)

	if im.At(1, 0) != 100 || im.At(8, 1) != 100 {
		t.Errorf("side maxima map to %f and %f, want 100", im.At(1, 0), im.At(8, 1))
	}
	if im.At(5, 0) != 0 {
		t.Errorf("reference maps to %f, want 0", im.At(5, 0))
	}
	if im.At(0, 0) != 0 {
		t.Errorf("values below the reference must clip to 0, got %f", im.At(0, 0))
	}
}

func TestExtract(t *testing.T) {
	im := createTestImage(10, 10, func(x, y int) float64 { return float64(y*10 + x) })
	im.Origin = Point{100, 200}
	im.Spacing = Vector{0.5, 2}

	sub, err := Extract(im, Region{Index{3, 4}, Size{5, 2}})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if sub.At(0, 0) != 43 || sub.At(4, 1) != 57 {
		t.Errorf("unexpected values %f, %f", sub.At(0, 0), sub.At(4, 1))
	}
	p := sub.IndexToPoint(Index{0, 0})
	q := im.IndexToPoint(Index{3, 4})
	if p != q {
		t.Errorf("extracted origin %v, want %v", p, q)
	}

	if _, err := Extract(im, Region{Index{8, 8}, Size{5, 5}}); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("expected ErrEmptyRegion for a region crossing the border, got %v", err)
	}
}

func TestRegionClip(t *testing.T) {
	tests := []struct {
		name string
		in   Region
		want Region
	}{
		{"Inside", Region{Index{1, 1}, Size{3, 3}}, Region{Index{1, 1}, Size{3, 3}}},
		{"Overlapping", Region{Index{-2, 8}, Size{5, 5}}, Region{Index{0, 8}, Size{3, 2}}},
		{"Below", Region{Index{0, 12}, Size{5, 5}}, Region{Index: Index{0, 12}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Clip(Size{10, 10})
			if got != tc.want {
				t.Errorf("Clip(%v) = %v, want %v", tc.in, got, tc.want)
			}
			if tc.name == "Below" && !got.Empty() {
				t.Error("region outside the grid must be empty")
			}
		})
	}
}

func TestShrinkAndInterpolate(t *testing.T) {
	im := createTestImage(8, 8, func(x, y int) float64 { return float64(x) })
	small := Shrink(im, 2)
	if small.Size != (Size{4, 4}) {
		t.Fatalf("size = %v, want 4x4", small.Size)
	}
	if small.Origin != (Point{0.5, 0.5}) || small.Spacing != (Vector{2, 2}) {
		t.Errorf("geometry = %+v", small.Geometry)
	}
	// A linear ramp stays consistent between grids
	for _, x := range []float64{0.5, 2.5, 4.5} {
		v, ok := small.Interpolate(Point{x, 3})
		if !ok || math.Abs(v-x) > 1e-9 {
			t.Errorf("Interpolate(%f) = %f, %v", x, v, ok)
		}
	}
	if _, ok := im.Interpolate(Point{-1, 0}); ok {
		t.Error("point outside the grid must not interpolate")
	}

	gx, gy := Gradient(im)
	if gx.At(4, 4) != 1 || gy.At(4, 4) != 0 {
		t.Errorf("gradient = (%f, %f), want (1, 0)", gx.At(4, 4), gy.At(4, 4))
	}
}
