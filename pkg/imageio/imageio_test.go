package imageio

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"eyestem/pkg/imagefilter"
)

// createTestImage creates a grayscale test image with the specified dimensions and pattern
func createTestImage(width, height int, pattern func(x, y int) uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Gray{Y: pattern(x, y)})
		}
	}
	return img
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	src := createTestImage(32, 16, func(x, y int) uint8 { return uint8(4*x + y) })

	for _, name := range []string{"in.png", "in.webp"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(src, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			im, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if im.Size != (imagefilter.Size{W: 32, H: 16}) {
				t.Fatalf("size = %v, want 32x16", im.Size)
			}
			if im.Spacing != (imagefilter.Vector{X: 1, Y: 1}) {
				t.Errorf("spacing = %v, want unit", im.Spacing)
			}
			for _, p := range [][2]int{{0, 0}, {5, 3}, {31, 15}} {
				want := float64(4*p[0] + p[1])
				if got := im.At(p[0], p[1]); math.Abs(got-want) > 1e-9 {
					t.Errorf("pixel %v = %v, want %v", p, got, want)
				}
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "absent.png")); err == nil {
			t.Error("loading a missing file succeeded")
		}
	})
}

func TestToGray16(t *testing.T) {
	im := imagefilter.New(imagefilter.NewGeometry(3, 1))
	im.Pix = []float64{-5, 0, 5}
	g := ToGray16(im)
	want := []uint16{0, 32768, 65535}
	for x, w := range want {
		if got := g.Gray16At(x, 0).Y; got != w {
			t.Errorf("pixel %d = %d, want %d", x, got, w)
		}
	}

	flat := ToGray16(imagefilter.NewFilled(imagefilter.NewGeometry(2, 2), 7))
	if flat.Gray16At(1, 1).Y != 0 {
		t.Error("constant image not mapped to black")
	}
}

func TestDebugWriter(t *testing.T) {
	d := DebugWriter{Prefix: filepath.Join(t.TempDir(), "case")}
	im := imagefilter.New(imagefilter.NewGeometry(8, 4))
	for i := range im.Pix {
		im.Pix[i] = float64(i)
	}
	if err := d.Save("eye-smoothed", im); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	f, err := os.Open(d.Path("eye-smoothed"))
	if err != nil {
		t.Fatalf("debug image missing: %v", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("tiff decode failed: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("bounds = %v, want 8x4", img.Bounds())
	}
}

func TestSaveFormats(t *testing.T) {
	dir := t.TempDir()
	src := imaging.New(10, 6, color.NRGBA{R: 200, G: 20, B: 20, A: 255})

	for _, name := range []string{"a.png", "a.jpg", "a.webp", "a.tif"} {
		path := filepath.Join(dir, name)
		if err := Save(src, path); err != nil {
			t.Errorf("Save(%s) failed: %v", name, err)
			continue
		}
		if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
			t.Errorf("%s not written", name)
		}
	}

	f, err := os.Open(filepath.Join(dir, "a.webp"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := webp.Decode(f)
	if err != nil {
		t.Fatalf("webp decode failed: %v", err)
	}
	r, _, _, _ := img.At(3, 3).RGBA()
	if r>>8 != 200 {
		t.Errorf("lossless webp changed red to %d", r>>8)
	}
}

func TestSpacing(t *testing.T) {
	t.Run("NoExif", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain.png")
		if err := Save(createTestImage(4, 4, func(x, y int) uint8 { return 0 }), path); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadSpacing(path); !errors.Is(err, ErrNoSpacing) {
			t.Errorf("ReadSpacing() error = %v, want ErrNoSpacing", err)
		}
	})

	tests := []struct {
		name       string
		num, denom int64
		unit       int
		want       float64
		wantErr    bool
	}{
		{"Inch", 254, 1, 2, 0.1, false},
		{"Centimetre", 100, 1, 3, 0.1, false},
		{"Rational", 720, 10, 2, 25.4 / 72, false},
		{"ZeroDenominator", 72, 0, 2, 0, true},
		{"UnknownUnit", 72, 1, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolutionToSpacing(tt.num, tt.denom, tt.unit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("spacing = %v, want %v", got, tt.want)
			}
		})
	}
}
