package imagefilter

// Shrink downsamples im by an integer factor, averaging factor x factor
// blocks. The result covers the same physical extent: its spacing grows by
// the factor and its origin moves to the center of the first block.
func Shrink(im *Image, factor int) *Image {
	if factor <= 1 {
		return im.Clone()
	}
	w := max(im.Size.W/factor, 1)
	h := max(im.Size.H/factor, 1)
	f := float64(factor)
	g := Geometry{
		Origin: Point{
			X: im.Origin.X + (f-1)/2*im.Spacing.X,
			Y: im.Origin.Y + (f-1)/2*im.Spacing.Y,
		},
		Spacing: Vector{im.Spacing.X * f, im.Spacing.Y * f},
		Size:    Size{w, h},
	}
	out := New(g)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0.0, 0
			for dy := 0; dy < factor; dy++ {
				sy := y*factor + dy
				if sy >= im.Size.H {
					break
				}
				for dx := 0; dx < factor; dx++ {
					sx := x*factor + dx
					if sx >= im.Size.W {
						break
					}
					sum += im.Pix[sy*im.Size.W+sx]
					n++
				}
			}
			out.Pix[y*w+x] = sum / float64(n)
		}
	}
	return out
}

// ShrinkMask downsamples a mask by an integer factor. A block becomes
// Foreground when at least half of its pixels are.
func ShrinkMask(m *Mask, factor int) *Mask {
	small := Shrink(FromMask(m), factor)
	out := NewMask(small.Geometry)
	for i, v := range small.Pix {
		if v >= float64(Foreground)/2 {
			out.Pix[i] = Foreground
		}
	}
	return out
}

// Gradient returns the partial derivatives of im along x and y in physical
// units. Interior pixels use central differences, edge pixels one-sided ones.
func Gradient(im *Image) (gx, gy *Image) {
	w, h := im.Size.W, im.Size.H
	gx = New(im.Geometry)
	gy = New(im.Geometry)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if w > 1 {
				x0, x1 := max(x-1, 0), min(x+1, w-1)
				gx.Pix[i] = (im.Pix[y*w+x1] - im.Pix[y*w+x0]) / (float64(x1-x0) * im.Spacing.X)
			}
			if h > 1 {
				y0, y1 := max(y-1, 0), min(y+1, h-1)
				gy.Pix[i] = (im.Pix[y1*w+x] - im.Pix[y0*w+x]) / (float64(y1-y0) * im.Spacing.Y)
			}
		}
	}
	return gx, gy
}

// Resample builds an image on grid g by sampling src at mapping(p) for every
// pixel position p of g. Positions that map outside src receive outside.
func Resample(src *Image, g Geometry, mapping func(Point) Point, outside float64) *Image {
	out := New(g)
	for y := 0; y < g.Size.H; y++ {
		for x := 0; x < g.Size.W; x++ {
			q := mapping(g.IndexToPoint(Index{x, y}))
			v, ok := src.Interpolate(q)
			if !ok {
				v = outside
			}
			out.Pix[y*g.Size.W+x] = v
		}
	}
	return out
}
