package imagefilter

import "math"

// kernelExtent is the Gaussian kernel half-width in standard deviations.
const kernelExtent = 4.0

// GaussSmooth convolves im with a separable Gaussian. Sigma is given in
// physical units per axis; an axis with a non-positive sigma is left
// untouched. Pixels beyond the border replicate the nearest edge pixel.
func GaussSmooth(im *Image, sigma Vector) *Image {
	out := im.Clone()
	if sx := sigma.X / im.Spacing.X; sx > 0 {
		out = convolveRows(out, gaussKernel(sx))
	}
	if sy := sigma.Y / im.Spacing.Y; sy > 0 {
		out = convolveColumns(out, gaussKernel(sy))
	}
	return out
}

// GaussSmoothPixels is GaussSmooth with sigma given in pixels on both axes.
func GaussSmoothPixels(im *Image, sigma float64) *Image {
	return GaussSmooth(im, im.ToPhysical(Vector{sigma, sigma}))
}

// gaussKernel returns a normalized kernel of odd length for a sigma in pixels.
func gaussKernel(sigma float64) []float64 {
	radius := int(math.Ceil(kernelExtent * sigma))
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func convolveRows(im *Image, k []float64) *Image {
	w, h := im.Size.W, im.Size.H
	r := len(k) / 2
	out := New(im.Geometry)
	for y := 0; y < h; y++ {
		row := im.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			s := 0.0
			for j, kv := range k {
				xx := min(max(x+j-r, 0), w-1)
				s += kv * row[xx]
			}
			out.Pix[y*w+x] = s
		}
	}
	return out
}

func convolveColumns(im *Image, k []float64) *Image {
	w, h := im.Size.W, im.Size.H
	r := len(k) / 2
	out := New(im.Geometry)
	col := make([]float64, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = im.Pix[y*w+x]
		}
		for y := 0; y < h; y++ {
			s := 0.0
			for j, kv := range k {
				yy := min(max(y+j-r, 0), h-1)
				s += kv * col[yy]
			}
			out.Pix[y*w+x] = s
		}
	}
	return out
}
