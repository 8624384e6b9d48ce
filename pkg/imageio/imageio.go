// Package imageio moves images between files and the imagefilter model:
// decoding inputs, reading the pixel spacing from EXIF, and writing debug
// and overlay images.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/tiff"

	"eyestem/pkg/imagefilter"
)

// ErrNoSpacing is returned when a file carries no usable resolution.
var ErrNoSpacing = errors.New("imageio: no pixel spacing in file")

// Load decodes the image at path into a grayscale float image with unit
// spacing. Intensities are on the 8-bit scale, 0 to 255.
func Load(path string) (*imagefilter.Image, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

func decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if !strings.EqualFold(filepath.Ext(path), ".webp") {
		return nil, fmt.Errorf("loading '%s': %w", path, err)
	}

	// Fallback: explicit WebP decode
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, ferr
	}
	defer f.Close()
	img, err = webp.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("webp loading '%s': %w", path, err)
	}
	return img, nil
}

// FromImage converts any image to a grayscale float image with unit spacing.
func FromImage(img image.Image) *imagefilter.Image {
	b := img.Bounds()
	im := imagefilter.New(imagefilter.NewGeometry(b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			im.Set(x, y, float64(g.Y)/257)
		}
	}
	return im
}

// ToGray16 maps the intensity range of im linearly onto 16-bit gray.
// A constant image becomes black.
func ToGray16(im *imagefilter.Image) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, im.Size.W, im.Size.H))
	lo, hi := imagefilter.MinMax(im)
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}
	for y := 0; y < im.Size.H; y++ {
		for x := 0; x < im.Size.W; x++ {
			out.SetGray16(x, y, color.Gray16{Y: uint16((im.At(x, y)-lo)*scale + 0.5)})
		}
	}
	return out
}

// ReadSpacing returns the pixel size in millimetres from the EXIF X and Y
// resolution of the file at path.
func ReadSpacing(path string) (imagefilter.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return imagefilter.Vector{}, err
	}
	defer f.Close()

	ex, err := exif.Decode(f)
	if err != nil {
		return imagefilter.Vector{}, fmt.Errorf("exif parsing '%s': %v: %w", path, err, ErrNoSpacing)
	}

	unit := 2 // inches unless stated otherwise
	if tag, err := ex.Get(exif.ResolutionUnit); err == nil {
		if v, err := tag.Int(0); err == nil {
			unit = v
		}
	}

	var spacing [2]float64
	for i, name := range []exif.FieldName{exif.XResolution, exif.YResolution} {
		tag, err := ex.Get(name)
		if err != nil {
			return imagefilter.Vector{}, fmt.Errorf("exif %s '%s': %v: %w", name, path, err, ErrNoSpacing)
		}
		num, denom, err := tag.Rat2(0)
		if err != nil {
			return imagefilter.Vector{}, fmt.Errorf("exif %s '%s': %v: %w", name, path, err, ErrNoSpacing)
		}
		s, err := resolutionToSpacing(num, denom, unit)
		if err != nil {
			return imagefilter.Vector{}, fmt.Errorf("exif %s '%s': %w", name, path, err)
		}
		spacing[i] = s
	}
	return imagefilter.Vector{X: spacing[0], Y: spacing[1]}, nil
}

// resolutionToSpacing converts a resolution of num/denom pixels per unit to
// millimetres per pixel. Units follow EXIF: 2 is inches, 3 is centimetres.
func resolutionToSpacing(num, denom int64, unit int) (float64, error) {
	if num <= 0 || denom <= 0 {
		return 0, fmt.Errorf("resolution %d/%d: %w", num, denom, ErrNoSpacing)
	}
	perUnit := float64(num) / float64(denom)
	switch unit {
	case 2:
		return 25.4 / perUnit, nil
	case 3:
		return 10 / perUnit, nil
	default:
		return 0, fmt.Errorf("resolution unit %d: %w", unit, ErrNoSpacing)
	}
}

// Save encodes img to path, choosing the format from the extension. WebP is
// written lossless and TIFF with deflate compression; everything else goes
// through imaging.
func Save(img image.Image, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: true, Quality: 100}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return fmt.Errorf("webp saving '%s': %w", path, err)
		}
		return f.Close()
	case ".tif", ".tiff":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			f.Close()
			return fmt.Errorf("tiff saving '%s': %w", path, err)
		}
		return f.Close()
	default:
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("saving '%s': %w", path, err)
		}
		return nil
	}
}

// DebugWriter saves intermediate images as 16-bit TIFF files named
// <Prefix>-<stage>.tif.
type DebugWriter struct {
	Prefix string
}

// Path returns the file a stage is written to.
func (d DebugWriter) Path(stage string) string {
	return d.Prefix + "-" + stage + ".tif"
}

// Save writes im for the given stage.
func (d DebugWriter) Save(stage string, im *imagefilter.Image) error {
	return Save(ToGray16(im), d.Path(stage))
}
