package enhancer

import (
	"github.com/disintegration/imaging"
	"image"
	"math"
)

// plane is a single-channel 8-bit image stored row-major without padding.
type plane struct {
	w, h int
	pix  []uint8
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]uint8, w*h)}
}

func (p *plane) at(x, y int) uint8 {
	return p.pix[y*p.w+x]
}

func (p *plane) toGray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, p.w, p.h))
	copy(g.Pix, p.pix)
	return g
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// dilate replaces every pixel with the maximum of its k×k neighbourhood.
// Pixels outside the image are ignored. The rectangular kernel is applied as two 1-D passes.
func dilate(src *plane, k int) *plane {
	r := k / 2
	tmp := newPlane(src.w, src.h)
	for y := 0; y < src.h; y++ {
		row := src.pix[y*src.w : (y+1)*src.w]
		for x := 0; x < src.w; x++ {
			x0, x1 := max(0, x-r), min(src.w-1, x+r)
			m := row[x0]
			for i := x0 + 1; i <= x1; i++ {
				if row[i] > m {
					m = row[i]
				}
			}
			tmp.pix[y*src.w+x] = m
		}
	}

	dst := newPlane(src.w, src.h)
	for x := 0; x < src.w; x++ {
		for y := 0; y < src.h; y++ {
			y0, y1 := max(0, y-r), min(src.h-1, y+r)
			m := tmp.pix[y0*src.w+x]
			for i := y0 + 1; i <= y1; i++ {
				if v := tmp.pix[i*src.w+x]; v > m {
					m = v
				}
			}
			dst.pix[y*src.w+x] = m
		}
	}
	return dst
}

// medianBlur computes the median of each k×k window with a sliding histogram,
// replicating edge pixels.
func medianBlur(src *plane, k int) *plane {
	r := k / 2
	rank := (k*k)/2 + 1
	dst := newPlane(src.w, src.h)
	var hist [256]int

	for y := 0; y < src.h; y++ {
		hist = [256]int{}
		for dy := -r; dy <= r; dy++ {
			row := clamp(y+dy, 0, src.h-1) * src.w
			for dx := -r; dx <= r; dx++ {
				hist[src.pix[row+clamp(dx, 0, src.w-1)]]++
			}
		}
		dst.pix[y*src.w] = histogramRank(&hist, rank)

		for x := 1; x < src.w; x++ {
			out := clamp(x-r-1, 0, src.w-1)
			in := clamp(x+r, 0, src.w-1)
			for dy := -r; dy <= r; dy++ {
				row := clamp(y+dy, 0, src.h-1) * src.w
				hist[src.pix[row+out]]--
				hist[src.pix[row+in]]++
			}
			dst.pix[y*src.w+x] = histogramRank(&hist, rank)
		}
	}
	return dst
}

func histogramRank(hist *[256]int, rank int) uint8 {
	seen := 0
	for v := 0; v < 256; v++ {
		seen += hist[v]
		if seen >= rank {
			return uint8(v)
		}
	}
	return 255
}

// flattenShadows returns 255 - |src - background|.
func flattenShadows(src, background *plane) *plane {
	dst := newPlane(src.w, src.h)
	for i, v := range src.pix {
		d := int(v) - int(background.pix[i])
		if d < 0 {
			d = -d
		}
		dst.pix[i] = uint8(255 - d)
	}
	return dst
}

// clahe equalizes each tile's histogram with the excess above clipLimit spread over all
// bins, then blends the four nearest tile mappings bilinearly.
func clahe(src *plane, clipLimit float64, tilesX, tilesY int) *plane {
	tx, ty := min(tilesX, src.w), min(tilesY, src.h)
	luts := make([][256]uint8, tx*ty)

	for j := 0; j < ty; j++ {
		y0, y1 := j*src.h/ty, (j+1)*src.h/ty
		for i := 0; i < tx; i++ {
			x0, x1 := i*src.w/tx, (i+1)*src.w/tx
			var hist [256]int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[src.pix[y*src.w+x]]++
				}
			}
			area := (x1 - x0) * (y1 - y0)
			luts[j*tx+i] = equalizeClipped(&hist, area, clipLimit)
		}
	}

	dst := newPlane(src.w, src.h)
	for y := 0; y < src.h; y++ {
		j0, j1, wy := tileNeighbours(y, src.h, ty)
		for x := 0; x < src.w; x++ {
			i0, i1, wx := tileNeighbours(x, src.w, tx)
			v := src.pix[y*src.w+x]
			top := (1-wx)*float64(luts[j0*tx+i0][v]) + wx*float64(luts[j0*tx+i1][v])
			bottom := (1-wx)*float64(luts[j1*tx+i0][v]) + wx*float64(luts[j1*tx+i1][v])
			dst.pix[y*src.w+x] = clampByte((1-wy)*top + wy*bottom)
		}
	}
	return dst
}

func equalizeClipped(hist *[256]int, area int, clipLimit float64) [256]uint8 {
	var lut [256]uint8
	if area == 0 {
		return lut
	}
	limit := int(clipLimit * float64(area) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for v := range hist {
		if hist[v] > limit {
			excess += hist[v] - limit
			hist[v] = limit
		}
	}
	bonus, residual := excess/256, excess%256
	for v := range hist {
		hist[v] += bonus
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for v := 0; v < 256 && residual > 0; v += step {
			hist[v]++
			residual--
		}
	}

	scale := 255.0 / float64(area)
	sum := 0
	for v := range hist {
		sum += hist[v]
		lut[v] = clampByte(float64(sum) * scale)
	}
	return lut
}

// tileNeighbours returns the two tile indexes whose centres surround pos and the
// weight of the second one.
func tileNeighbours(pos, size, tiles int) (int, int, float64) {
	f := (float64(pos)+0.5)*float64(tiles)/float64(size) - 0.5
	lo := int(math.Floor(f))
	w := f - float64(lo)
	hi := lo + 1
	if lo < 0 {
		lo = 0
	}
	if hi > tiles-1 {
		hi = tiles - 1
	}
	if lo > tiles-1 {
		lo = tiles - 1
	}
	return lo, hi, w
}

// bilateral smooths flat areas while keeping strong edges: each neighbour within the
// circular window of diameter d is weighted by spatial distance and intensity difference.
func bilateral(src *plane, d int, sigmaColor, sigmaSpace float64) *plane {
	type tap struct {
		dx, dy int
		w      float64
	}
	r := d / 2
	var taps []tap
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			dist2 := dx*dx + dy*dy
			if dist2 > r*r {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(-float64(dist2) / (2 * sigmaSpace * sigmaSpace))})
		}
	}
	var colorWeight [256]float64
	for i := range colorWeight {
		colorWeight[i] = math.Exp(-float64(i*i) / (2 * sigmaColor * sigmaColor))
	}

	dst := newPlane(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			c := int(src.pix[y*src.w+x])
			sum, wsum := 0.0, 0.0
			for _, t := range taps {
				v := int(src.at(clamp(x+t.dx, 0, src.w-1), clamp(y+t.dy, 0, src.h-1)))
				diff := v - c
				if diff < 0 {
					diff = -diff
				}
				w := t.w * colorWeight[diff]
				sum += w * float64(v)
				wsum += w
			}
			dst.pix[y*src.w+x] = clampByte(sum / wsum)
		}
	}
	return dst
}

// otsuThreshold picks the level that maximizes the between-class variance.
func otsuThreshold(src *plane) uint8 {
	var hist [256]int
	for _, v := range src.pix {
		hist[v]++
	}
	total := len(src.pix)
	sumAll := 0.0
	for v, n := range hist {
		sumAll += float64(v * n)
	}

	var (
		sumB      float64
		weightB   int
		best      = -1.0
		threshold int
	)
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sumAll - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

func binarize(src *plane, threshold uint8) *plane {
	dst := newPlane(src.w, src.h)
	for i, v := range src.pix {
		if v > threshold {
			dst.pix[i] = 255
		}
	}
	return dst
}

// gaussianBlur smooths with imaging.Blur using the sigma OpenCV derives from an odd
// kernel size k.
func gaussianBlur(src *plane, k int) *plane {
	sigma := 0.3*(float64(k-1)*0.5-1) + 0.8
	blurred := imaging.Blur(src.toGray(), sigma)
	dst := newPlane(src.w, src.h)
	for y := 0; y < src.h; y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < src.w; x++ {
			dst.pix[y*src.w+x] = row[x*4]
		}
	}
	return dst
}
