package distance

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"eyestem/pkg/imagefilter"
)

// createDiskMask marks everything Foreground except a background disk
func createDiskMask(size, cx, cy int, r float64) *imagefilter.Mask {
	m := imagefilter.NewMask(imagefilter.NewGeometry(size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			if dx*dx+dy*dy > r*r {
				m.Set(x, y, imagefilter.Foreground)
			}
		}
	}
	return m
}

func TestSquaredEDTMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const w, h = 23, 17
	sx, sy := 0.5, 1.25

	feature := make([]bool, w*h)
	for i := range feature {
		feature[i] = rng.Float64() < 0.05
	}
	feature[0] = true

	got := SquaredEDT(feature, w, h, sx, sy)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want := math.Inf(1)
			for fy := 0; fy < h; fy++ {
				for fx := 0; fx < w; fx++ {
					if !feature[fy*w+fx] {
						continue
					}
					dx := float64(x-fx) * sx
					dy := float64(y-fy) * sy
					want = math.Min(want, dx*dx+dy*dy)
				}
			}
			if math.Abs(got[y*w+x]-want) > 1e-9 {
				t.Fatalf("(%d,%d): got %f, want %f", x, y, got[y*w+x], want)
			}
		}
	}
}

func TestSquaredEDTNoFeature(t *testing.T) {
	d := SquaredEDT(make([]bool, 12), 4, 3, 1, 1)
	for i, v := range d {
		if !math.IsInf(v, 1) {
			t.Fatalf("cell %d = %f, want +Inf", i, v)
		}
	}
}

func TestLocalizeDisk(t *testing.T) {
	m := createDiskMask(61, 30, 28, 20)
	peak, err := Localize(m, imagefilter.Foreground)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if peak.Index != (imagefilter.Index{X: 30, Y: 28}) {
		t.Errorf("peak at %v, want (30,28)", peak.Index)
	}
	if math.Abs(peak.Value-20) > 1 {
		t.Errorf("peak value %f, want about 20", peak.Value)
	}
}

func TestLocalizeSpacing(t *testing.T) {
	m := createDiskMask(61, 30, 30, 20)
	m.Spacing = imagefilter.Vector{X: 0.1, Y: 0.1}
	m.Origin = imagefilter.Point{X: 5, Y: 7}
	peak, err := Localize(m, imagefilter.Foreground)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if math.Abs(peak.Value-2) > 0.1 {
		t.Errorf("peak value %f, want about 2 physical units", peak.Value)
	}
	if math.Abs(peak.Point.X-8) > 1e-9 || math.Abs(peak.Point.Y-10) > 1e-9 {
		t.Errorf("peak point %v, want (8,10)", peak.Point)
	}
}

func TestLocalizePaintedBorder(t *testing.T) {
	const size, border = 40, 5
	m := imagefilter.NewMask(imagefilter.NewGeometry(size, size))
	m.PaintBorder(border, imagefilter.Foreground)

	peak, err := Localize(m, imagefilter.Foreground)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	in := func(v int) bool { return v >= border && v < size-border }
	if !in(peak.Index.X) || !in(peak.Index.Y) {
		t.Errorf("peak %v lies in the painted border", peak.Index)
	}
}

func TestLocalizeDegenerate(t *testing.T) {
	blank := imagefilter.NewMask(imagefilter.NewGeometry(10, 10))
	if _, err := Localize(blank, imagefilter.Foreground); !errors.Is(err, ErrNoForeground) {
		t.Errorf("expected ErrNoForeground, got %v", err)
	}

	full := blank.Clone()
	for i := range full.Pix {
		full.Pix[i] = imagefilter.Foreground
	}
	if _, err := Localize(full, imagefilter.Foreground); !errors.Is(err, ErrNoBackground) {
		t.Errorf("expected ErrNoBackground, got %v", err)
	}
}

func TestSignedDistance(t *testing.T) {
	m := imagefilter.NewMask(imagefilter.NewGeometry(11, 1))
	for x := 5; x < 11; x++ {
		m.Set(x, 0, imagefilter.Foreground)
	}
	d := SignedDistance(m, imagefilter.Foreground)
	want := []float64{5, 4, 3, 2, 1, -1, -2, -3, -4, -5, -6}
	for i, v := range d.Pix {
		if v != want[i] {
			t.Errorf("pixel %d = %f, want %f", i, v, want[i])
		}
	}
}

func TestMorphology(t *testing.T) {
	g := imagefilter.NewGeometry(40, 40)

	t.Run("CloseFillsGap", func(t *testing.T) {
		m := imagefilter.NewMask(g)
		for y := 10; y < 30; y++ {
			for x := 5; x < 35; x++ {
				if x < 19 || x > 21 {
					m.Set(x, y, imagefilter.Foreground)
				}
			}
		}
		closed := Close(m, 3)
		if closed.At(20, 20) != imagefilter.Foreground {
			t.Error("closing did not fill a 3 pixel gap")
		}
		if closed.At(2, 2) != imagefilter.Background {
			t.Error("closing grew the mask")
		}
	})

	t.Run("OpenRemovesLine", func(t *testing.T) {
		m := imagefilter.NewMask(g)
		for y := 10; y < 30; y++ {
			for x := 5; x < 20; x++ {
				m.Set(x, y, imagefilter.Foreground)
			}
		}
		for x := 20; x < 38; x++ {
			m.Set(x, 20, imagefilter.Foreground)
		}
		opened := Open(m, 2)
		if opened.At(30, 20) != imagefilter.Background {
			t.Error("opening kept a one pixel line")
		}
		if opened.At(12, 20) != imagefilter.Foreground {
			t.Error("opening removed the block")
		}
	})

	t.Run("ErodeKeepsEdge", func(t *testing.T) {
		m := imagefilter.NewMask(g)
		for i := range m.Pix {
			m.Pix[i] = imagefilter.Foreground
		}
		if got := Erode(m, 4).Count(imagefilter.Foreground); got != len(m.Pix) {
			t.Errorf("erosion of a full mask kept %d of %d pixels", got, len(m.Pix))
		}
	})
}
