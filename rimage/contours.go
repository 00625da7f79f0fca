package rimage

import (
	"image"
	"math"
	"slices"

	rutils "go.viam.com/annotator/utils"
)

// BorderType tells whether a traced border surrounds a region (Outer) or a hole in one.
type BorderType int

const (
	// Hole border.
	Hole BorderType = iota + 1
	// Outer border.
	Outer
)

func (bt BorderType) String() string {
	switch bt {
	case Hole:
		return "hole"
	case Outer:
		return "outer"
	}
	return "unknown"
}

// Contour is a closed 8-connected border of a mask region, in tracing order.
type Contour struct {
	Points []image.Point
	Type   BorderType
	// Parent is the index of the enclosing contour, or -1 when it is the image frame.
	Parent int
}

// Area returns the absolute area enclosed by the contour polygon (shoelace formula). Single
// pixels and one pixel wide lines have zero area.
func (c *Contour) Area() float64 {
	n := len(c.Points)
	if n < 3 {
		return 0
	}
	var sum float64
	for i, p := range c.Points {
		q := c.Points[(i+1)%n]
		sum += float64(p.X*q.Y - q.X*p.Y)
	}
	return math.Abs(sum) / 2
}

// Bounds returns the smallest rectangle containing every contour point.
func (c *Contour) Bounds() image.Rectangle {
	if len(c.Points) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: c.Points[0], Max: c.Points[0].Add(image.Pt(1, 1))}
	for _, p := range c.Points[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

// neighborhood in counterclockwise order as seen on screen, starting east.
var neighborhood = [8]image.Point{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

func directionOf(from, to image.Point) int {
	d := to.Sub(from)
	for i, n := range neighborhood {
		if n == d {
			return i
		}
	}
	return -1
}

// labelGrid is a zero padded copy of a mask where set pixels start at 1 and traced borders get
// their sequence number, negated on pixels whose east neighbor is background.
type labelGrid struct {
	w, h int
	f    []int
}

func newLabelGrid(m *image.Gray) *labelGrid {
	b := m.Bounds()
	g := &labelGrid{w: b.Dx() + 2, h: b.Dy() + 2}
	g.f = make([]int, g.w*g.h)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if m.Pix[m.PixOffset(b.Min.X+x, b.Min.Y+y)] != 0 {
				g.f[(y+1)*g.w+x+1] = 1
			}
		}
	}
	return g
}

func (g *labelGrid) at(p image.Point) int {
	return g.f[p.Y*g.w+p.X]
}

func (g *labelGrid) set(p image.Point, v int) {
	g.f[p.Y*g.w+p.X] = v
}

// follow traces the border starting at start whose background neighbor is from and returns the
// border points in padded coordinates.
func (g *labelGrid) follow(start, from image.Point, nbd int) []image.Point {
	// search clockwise around start for the first set pixel
	d0 := directionOf(start, from)
	var first image.Point
	found := false
	for i := 0; i < 8; i++ {
		p := start.Add(neighborhood[(d0-i+8)%8])
		if g.at(p) != 0 {
			first = p
			found = true
			break
		}
	}
	if !found {
		g.set(start, -nbd)
		return []image.Point{start}
	}

	points := []image.Point{}
	prev, cur := first, start
	for {
		// search counterclockwise around cur, starting after prev
		dPrev := directionOf(cur, prev)
		eastIsBackground := false
		var next image.Point
		for i := 1; i <= 8; i++ {
			dir := (dPrev + i) % 8
			p := cur.Add(neighborhood[dir])
			if g.at(p) != 0 {
				next = p
				break
			}
			if dir == 0 {
				eastIsBackground = true
			}
		}
		if eastIsBackground {
			g.set(cur, -nbd)
		} else if g.at(cur) == 1 {
			g.set(cur, nbd)
		}
		points = append(points, cur)
		if next == start && cur == first {
			return points
		}
		prev, cur = cur, next
	}
}

// FindContours traces every border of the non-zero regions of m (Suzuki and Abe border
// following, 8-connectivity), in the raster order of their first pixel. Hole borders are
// included and each contour knows its parent.
func FindContours(m *image.Gray) []Contour {
	g := newLabelGrid(m)
	offset := m.Bounds().Min.Sub(image.Pt(1, 1))

	var contours []Contour
	// border sequence number -> contour index; 1 is the frame
	indexOf := map[int]int{1: -1}
	typeOf := map[int]BorderType{1: Hole}
	nbd := 1
	for y := 1; y < g.h-1; y++ {
		lnbd := 1
		for x := 1; x < g.w-1; x++ {
			p := image.Pt(x, y)
			v := g.at(p)
			if v == 0 {
				continue
			}
			var (
				kind BorderType
				from image.Point
			)
			switch {
			case v == 1 && g.at(image.Pt(x-1, y)) == 0:
				kind, from = Outer, image.Pt(x-1, y)
			case v >= 1 && g.at(image.Pt(x+1, y)) == 0:
				kind, from = Hole, image.Pt(x+1, y)
				if v > 1 {
					lnbd = v
				}
			}
			if kind != 0 {
				nbd++
				parent := indexOf[lnbd]
				if typeOf[lnbd] == kind && parent >= 0 {
					parent = contours[parent].Parent
				} else if typeOf[lnbd] == kind {
					parent = -1
				}
				pts := g.follow(p, from, nbd)
				for i := range pts {
					pts[i] = pts[i].Add(offset)
				}
				indexOf[nbd] = len(contours)
				typeOf[nbd] = kind
				contours = append(contours, Contour{Points: pts, Type: kind, Parent: parent})
			}
			if v := g.at(p); v != 1 {
				if v < 0 {
					v = -v
				}
				lnbd = v
			}
		}
	}
	return contours
}

// FindOuterContours returns only the outer borders of FindContours.
func FindOuterContours(m *image.Gray) []Contour {
	var outer []Contour
	for _, c := range FindContours(m) {
		if c.Type == Outer {
			outer = append(outer, c)
		}
	}
	return outer
}

// LargestContour returns the index of the contour with the largest area, the first one winning
// ties. It returns -1 for no contours.
func LargestContour(contours []Contour) int {
	best, bestArea := -1, -1.0
	for i := range contours {
		if a := contours[i].Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// FillContour sets every pixel on or inside the contour polygon to value, holes included.
// Pixels outside dst are skipped.
func FillContour(dst *image.Gray, c *Contour, value uint8) {
	if len(c.Points) == 0 {
		return
	}
	b := dst.Bounds()
	put := func(x, y int) {
		if (image.Point{x, y}).In(b) {
			dst.Pix[dst.PixOffset(x, y)] = value
		}
	}

	n := len(c.Points)
	for i, p := range c.Points {
		drawSegment(p, c.Points[(i+1)%n], put)
	}

	cb := c.Bounds().Intersect(b)
	var xs []float64
	for y := cb.Min.Y; y < cb.Max.Y; y++ {
		xs = xs[:0]
		fy := float64(y)
		for i, p := range c.Points {
			q := c.Points[(i+1)%n]
			if p.Y == q.Y {
				continue
			}
			lo, hi := p, q
			if lo.Y > hi.Y {
				lo, hi = hi, lo
			}
			if y < lo.Y || y >= hi.Y {
				continue
			}
			t := (fy - float64(lo.Y)) / float64(hi.Y-lo.Y)
			xs = append(xs, float64(lo.X)+t*float64(hi.X-lo.X))
		}
		slices.Sort(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			for x := int(math.Ceil(xs[i])); x <= int(math.Floor(xs[i+1])); x++ {
				put(x, y)
			}
		}
	}
}

// drawSegment visits the pixels of a straight segment between two points (Bresenham).
func drawSegment(a, b image.Point, put func(x, y int)) {
	dx, dy := rutils.AbsInt(b.X-a.X), -rutils.AbsInt(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		put(x, y)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}
