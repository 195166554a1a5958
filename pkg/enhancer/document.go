package enhancer

import (
	"github.com/disintegration/imaging"
	"image"
	"image/color"
	"math"
	"sort"
)

const (
	cannyLow          = 75
	cannyHigh         = 200
	edgeDilation      = 5
	approxTolerance   = 0.02
	documentBlurWidth = 5
)

type point struct {
	X, Y float64
}

func (p point) sub(q point) point { return point{p.X - q.X, p.Y - q.Y} }

func (p point) dist(q point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func cross(o, a, b point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// quad holds document corners in top-left, top-right, bottom-right, bottom-left order.
type quad [4]point

// detectDocument looks for a four-cornered page outline and warps it to a
// rectangle. ok is false when no such outline exists; img is then returned as is.
func detectDocument(img image.Image) (image.Image, bool) {
	src := imaging.Clone(img)
	gray := gaussianBlur(lumaPlane(src), documentBlurWidth)
	edges := dilate(canny(gray, cannyLow, cannyHigh), edgeDilation)

	corners, ok := largestQuadrilateral(edges)
	if !ok {
		return img, false
	}
	ordered, ok := orderCorners(corners)
	if !ok {
		return img, false
	}
	w, h := warpSize(ordered)
	if w < 2 || h < 2 {
		return img, false
	}
	return warpPerspective(src, ordered, w, h), true
}

func lumaPlane(img image.Image) *plane {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+p.w*4]
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = row[x*4]
		}
	}
	return p
}

// canny marks edge pixels with 255: Sobel gradients with L1 magnitude, non-maximum
// suppression along the quantized gradient direction, then hysteresis between low and high.
func canny(src *plane, low, high float64) *plane {
	w, h := src.w, src.h
	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	px := func(x, y int) float64 {
		return float64(src.at(clamp(x, 0, w-1), clamp(y, 0, h-1)))
	}

	const tan22, tan67 = 0.41421356, 2.41421356
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			ax, ay := math.Abs(gx), math.Abs(gy)
			mag[y*w+x] = ax + ay
			switch {
			case ay <= ax*tan22:
				dir[y*w+x] = 0
			case ay >= ax*tan67:
				dir[y*w+x] = 2
			case gx*gy > 0:
				dir[y*w+x] = 1
			default:
				dir[y*w+x] = 3
			}
		}
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			var a, b float64
			switch dir[i] {
			case 0:
				a, b = mag[i-1], mag[i+1]
			case 2:
				a, b = mag[i-w], mag[i+w]
			case 1:
				a, b = mag[i-w-1], mag[i+w+1]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m <= a || m < b {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if j := ny*w + nx; state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}

	dst := newPlane(w, h)
	for i, s := range state {
		if s == strong {
			dst.pix[i] = 255
		}
	}
	return dst
}

// largestQuadrilateral takes the edge region with the largest enclosed area and
// reports its corners when the outline simplifies to exactly four vertices.
func largestQuadrilateral(edges *plane) ([]point, bool) {
	var (
		best     []point
		bestArea float64
	)
	for _, c := range edgeContours(edges) {
		if a := polygonArea(c); a > bestArea {
			best, bestArea = c, a
		}
	}
	if best == nil {
		return nil, false
	}
	approx := approxPolygon(best, approxTolerance*polygonPerimeter(best))
	if len(approx) != 4 {
		return nil, false
	}
	return approx, true
}

// edgeContours returns the outline of every 8-connected edge region as its convex hull.
func edgeContours(edges *plane) [][]point {
	w, h := edges.w, edges.h
	seen := make([]bool, w*h)
	var contours [][]point
	for start, v := range edges.pix {
		if v == 0 || seen[start] {
			continue
		}
		var pts []point
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			pts = append(pts, point{float64(x), float64(y)})
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if edges.pix[j] != 0 && !seen[j] {
						seen[j] = true
						queue = append(queue, j)
					}
				}
			}
		}
		if hull := convexHull(pts); len(hull) >= 3 {
			contours = append(contours, hull)
		}
	}
	return contours
}

// convexHull uses the monotone chain algorithm; collinear points are dropped.
func convexHull(pts []point) []point {
	if len(pts) < 3 {
		return pts
	}
	sorted := append([]point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	hull := make([]point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

func polygonArea(poly []point) float64 {
	area := 0.0
	for i := range poly {
		j := (i + 1) % len(poly)
		area += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return math.Abs(area) / 2
}

func polygonPerimeter(poly []point) float64 {
	perimeter := 0.0
	for i := range poly {
		perimeter += poly[i].dist(poly[(i+1)%len(poly)])
	}
	return perimeter
}

// approxPolygon simplifies a closed polygon with Douglas-Peucker so that no removed
// vertex lies farther than eps from the result.
func approxPolygon(poly []point, eps float64) []point {
	if len(poly) < 4 {
		return poly
	}
	far, farDist := 0, -1.0
	for i, p := range poly {
		if d := p.dist(poly[0]); d > farDist {
			far, farDist = i, d
		}
	}
	first := douglasPeucker(poly[:far+1], eps)
	second := douglasPeucker(append(append([]point(nil), poly[far:]...), poly[0]), eps)
	out := append(append([]point(nil), first[:len(first)-1]...), second[:len(second)-1]...)

	// The split vertices are always kept by the recursion; drop them too when they are
	// within tolerance of their neighbours.
	for changed := true; changed && len(out) > 3; {
		changed = false
		for i := range out {
			prev, next := out[(i+len(out)-1)%len(out)], out[(i+1)%len(out)]
			if segmentDistance(out[i], prev, next) <= eps {
				out = append(out[:i], out[i+1:]...)
				changed = true
				break
			}
		}
	}
	return out
}

func douglasPeucker(pts []point, eps float64) []point {
	if len(pts) < 3 {
		return append([]point(nil), pts...)
	}
	first, last := pts[0], pts[len(pts)-1]
	idx, maxDist := 0, -1.0
	for i := 1; i < len(pts)-1; i++ {
		if d := segmentDistance(pts[i], first, last); d > maxDist {
			idx, maxDist = i, d
		}
	}
	if maxDist <= eps {
		return []point{first, last}
	}
	left := douglasPeucker(pts[:idx+1], eps)
	right := douglasPeucker(pts[idx:], eps)
	return append(left[:len(left)-1], right...)
}

func segmentDistance(p, a, b point) float64 {
	ab := b.sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.dist(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	t = math.Max(0, math.Min(1, t))
	return p.dist(point{a.X + t*ab.X, a.Y + t*ab.Y})
}

// orderCorners sorts four corners: top-left has the smallest x+y, bottom-right the
// largest, top-right the smallest y-x and bottom-left the largest. ok is false when
// two roles land on the same vertex, as with a page rotated by 45 degrees.
func orderCorners(pts []point) (quad, bool) {
	var q quad
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		if s := p.X + p.Y; s < minSum {
			minSum, q[0] = s, p
		}
		if s := p.X + p.Y; s > maxSum {
			maxSum, q[2] = s, p
		}
		if d := p.Y - p.X; d < minDiff {
			minDiff, q[1] = d, p
		}
		if d := p.Y - p.X; d > maxDiff {
			maxDiff, q[3] = d, p
		}
	}
	for i := range q {
		for j := i + 1; j < len(q); j++ {
			if q[i] == q[j] {
				return q, false
			}
		}
	}
	return q, true
}

// warpSize is the longer of each pair of opposing edges.
func warpSize(q quad) (int, int) {
	tl, tr, br, bl := q[0], q[1], q[2], q[3]
	w := math.Max(br.dist(bl), tr.dist(tl))
	h := math.Max(tr.dist(br), tl.dist(bl))
	return int(w), int(h)
}

// warpPerspective maps the quadrilateral q of src onto a w×h rectangle with bilinear
// sampling; samples falling outside src are black.
func warpPerspective(src *image.NRGBA, q quad, w, h int) *image.NRGBA {
	target := quad{{0, 0}, {float64(w - 1), 0}, {float64(w - 1), float64(h - 1)}, {0, float64(h - 1)}}
	m, ok := homography(target, q)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if !ok {
		return dst
	}
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			fu, fv := float64(u), float64(v)
			den := m[6]*fu + m[7]*fv + 1
			x := (m[0]*fu + m[1]*fv + m[2]) / den
			y := (m[3]*fu + m[4]*fv + m[5]) / den
			dst.SetNRGBA(u, v, sampleBilinear(src, x, y))
		}
	}
	return dst
}

// homography solves the eight coefficients mapping from[i] to to[i].
func homography(from, to quad) ([8]float64, bool) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		u, v := from[i].X, from[i].Y
		x, y := to[i].X, to[i].Y
		a[2*i] = [9]float64{u, v, 1, 0, 0, 0, -u * x, -v * x, x}
		a[2*i+1] = [9]float64{0, 0, 0, u, v, 1, -u * y, -v * y, y}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	var m [8]float64
	for i := 0; i < 8; i++ {
		m[i] = a[i][8] / a[i][i]
	}
	return m, true
}

func sampleBilinear(src *image.NRGBA, x, y float64) color.NRGBA {
	b := src.Bounds()
	if x < 0 || y < 0 || x > float64(b.Dx()-1) || y > float64(b.Dy()-1) {
		return color.NRGBA{A: 255}
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)

	var out [4]uint8
	for c := 0; c < 4; c++ {
		p00 := float64(src.Pix[y0*src.Stride+x0*4+c])
		p10 := float64(src.Pix[y0*src.Stride+x1*4+c])
		p01 := float64(src.Pix[y1*src.Stride+x0*4+c])
		p11 := float64(src.Pix[y1*src.Stride+x1*4+c])
		top := p00*(1-fx) + p10*fx
		bottom := p01*(1-fx) + p11*fx
		out[c] = clampByte(top*(1-fy) + bottom*fy)
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: out[3]}
}
