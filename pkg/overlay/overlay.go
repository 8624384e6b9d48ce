// Package overlay composites the fitted eye and stem templates onto the
// input image so a measurement can be checked by eye.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/anthonynsimon/bild/blend"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"eyestem/pkg/estimation"
	"eyestem/pkg/imagefilter"
	"eyestem/pkg/imageio"
)

// labelThreshold is the template intensity above which a pixel is drawn.
const labelThreshold = 5

// ErrNothingToDraw is returned when a result has no aligned template.
var ErrNothingToDraw = errors.New("overlay: no aligned template")

var (
	eyeColor  = colorful.Hsv(200, 0.85, 1)
	stemColor = colorful.Hsv(35, 0.9, 1)
	markColor = colorful.Hsv(120, 0.8, 0.9)
)

// Renderer draws overlays of one estimation result on its input image.
type Renderer struct {
	// base holds the input intensities
	base *imagefilter.Image

	// result holds the measurement to draw
	result *estimation.Result

	// Opacity of the eye and stem labels, in [0, 1]
	EyeOpacity  float64
	StemOpacity float64
}

// NewRenderer creates a renderer for a result computed from base.
func NewRenderer(base *imagefilter.Image, result *estimation.Result) *Renderer {
	return &Renderer{
		base:        base,
		result:      result,
		EyeOpacity:  0.5,
		StemOpacity: 0.25,
	}
}

// Eye draws the aligned ring over the full input image.
func (r *Renderer) Eye() (image.Image, error) {
	eye := r.result.Eye
	if !eye.Valid || eye.Aligned == nil {
		return nil, fmt.Errorf("eye: %w", ErrNothingToDraw)
	}
	bg := grayRGBA(r.base, imagefilter.Region{Size: r.base.Size})
	out := paint(bg, eye.Aligned, image.Point{}, eyeColor, r.EyeOpacity)
	return r.mark(out, eye.CenterIndex, image.Point{}, fmt.Sprintf("minor %.2f major %.2f", eye.Minor, eye.Major)), nil
}

// Stem draws the aligned bars over the crop the nerve was measured in.
func (r *Renderer) Stem() (image.Image, error) {
	stem := r.result.Stem
	if !stem.Valid || stem.Aligned == nil {
		return nil, fmt.Errorf("stem: %w", ErrNothingToDraw)
	}
	region := stem.OriginalImageRegion
	bg := grayRGBA(r.base, region)
	out := paint(bg, stem.Aligned, image.Point{}, stemColor, r.StemOpacity)
	offset := image.Point{X: -region.Index.X, Y: -region.Index.Y}
	return r.mark(out, stem.CenterIndex, offset, fmt.Sprintf("width %.2f", stem.Diameter())), nil
}

// Joint draws both templates over the full input image. The stem template
// is placed back at the crop it was fitted in. Either template may be absent,
// but not both.
func (r *Renderer) Joint() (image.Image, error) {
	eye, stem := r.result.Eye, r.result.Stem
	hasEye := eye.Valid && eye.Aligned != nil
	hasStem := stem.Valid && stem.Aligned != nil
	if !hasEye && !hasStem {
		return nil, fmt.Errorf("joint: %w", ErrNothingToDraw)
	}

	out := grayRGBA(r.base, imagefilter.Region{Size: r.base.Size})
	if hasEye {
		out = paint(out, eye.Aligned, image.Point{}, eyeColor, r.EyeOpacity)
	}
	if hasStem {
		at := image.Point{X: stem.OriginalImageRegion.Index.X, Y: stem.OriginalImageRegion.Index.Y}
		out = paint(out, stem.Aligned, at, stemColor, r.StemOpacity)
	}

	var img image.Image = out
	if hasEye {
		img = r.mark(img, eye.CenterIndex, image.Point{}, "")
	}
	if hasStem {
		img = r.mark(img, stem.CenterIndex, image.Point{}, fmt.Sprintf("stem %.2f", stem.Diameter()))
	}
	return img, nil
}

// SaveAll writes every overlay that can be drawn as <prefix>-<name>.<format>
// and returns the paths written.
func (r *Renderer) SaveAll(prefix, format string) ([]string, error) {
	overlays := []struct {
		name string
		draw func() (image.Image, error)
	}{
		{"eye-overlay", r.Eye},
		{"stem-overlay", r.Stem},
		{"overlay", r.Joint},
	}

	var written []string
	for _, o := range overlays {
		img, err := o.draw()
		if errors.Is(err, ErrNothingToDraw) {
			continue
		}
		if err != nil {
			return written, err
		}
		path := fmt.Sprintf("%s-%s.%s", prefix, o.name, format)
		if err := imageio.Save(img, filepath.Clean(path)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// grayRGBA renders a region of im as opaque gray, stretched to its full range.
func grayRGBA(im *imagefilter.Image, region imagefilter.Region) *image.RGBA {
	lo, hi := imagefilter.MinMax(im)
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	out := image.NewRGBA(image.Rect(0, 0, region.Size.W, region.Size.H))
	for y := 0; y < region.Size.H; y++ {
		for x := 0; x < region.Size.W; x++ {
			v := uint8((im.At(region.Index.X+x, region.Index.Y+y)-lo)*scale + 0.5)
			out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}

// paint blends c into bg where the template placed at offset exceeds the
// label threshold. Other pixels are left as they are.
func paint(bg *image.RGBA, template *imagefilter.Image, offset image.Point, c colorful.Color, opacity float64) *image.RGBA {
	fg := image.NewRGBA(bg.Bounds())
	copy(fg.Pix, bg.Pix)
	r, g, b := c.Clamped().RGB255()
	label := color.RGBA{R: r, G: g, B: b, A: 255}

	bounds := bg.Bounds()
	for y := 0; y < template.Size.H; y++ {
		for x := 0; x < template.Size.W; x++ {
			p := image.Point{X: x + offset.X, Y: y + offset.Y}
			if !p.In(bounds) || template.At(x, y) <= labelThreshold {
				continue
			}
			fg.SetRGBA(p.X, p.Y, label)
		}
	}
	return blend.Opacity(bg, fg, opacity)
}

// mark draws a cross at a full image index, shifted by offset, and an
// optional caption in the top left corner.
func (r *Renderer) mark(img image.Image, at imagefilter.Index, offset image.Point, caption string) image.Image {
	dc := gg.NewContextForImage(img)
	cr, cg, cb := markColor.Clamped().RGB255()
	dc.SetRGB255(int(cr), int(cg), int(cb))
	dc.SetLineWidth(1.5)

	x := float64(at.X+offset.X) + 0.5
	y := float64(at.Y+offset.Y) + 0.5
	const arm = 6
	dc.DrawLine(x-arm, y, x+arm, y)
	dc.DrawLine(x, y-arm, x, y+arm)
	dc.Stroke()

	if caption != "" {
		dc.DrawString(caption, 4, 14)
	}
	return dc.Image()
}
