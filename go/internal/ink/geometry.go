package ink

import "math"

// Point is a position in canvas coordinates (points, origin top-left).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the width and height of a canvas.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are finite and positive.
func (s Size) Valid() bool {
	return isFinite(s.Width) && isFinite(s.Height) && s.Width > 0 && s.Height > 0
}

// Equal reports whether two sizes match within a sub-point tolerance.
func (s Size) Equal(o Size) bool {
	return math.Abs(s.Width-o.Width) < 0.5 && math.Abs(s.Height-o.Height) < 0.5
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the rectangle covers no area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Valid reports whether the rectangle is finite and non-empty.
func (r Rect) Valid() bool {
	return isFinite(r.X) && isFinite(r.Y) && r.Size().Valid()
}

func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

func (r Rect) MaxX() float64 { return r.X + r.Width }
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Union returns the smallest rectangle containing both r and o. An empty
// operand is ignored.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.MaxX(), o.MaxX())
	maxY := math.Max(r.MaxY(), o.MaxY())
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Affine is a 2D affine transform:
//
//	x' = A*x + C*y + TX
//	y' = B*x + D*y + TY
type Affine struct {
	A, B, C, D float64
	TX, TY     float64
}

// Identity is the transform that leaves every point in place.
var Identity = Affine{A: 1, D: 1}

// ScaleBy returns a transform that scales about the origin.
func ScaleBy(sx, sy float64) Affine {
	return Affine{A: sx, D: sy}
}

// TranslateBy returns a pure translation.
func TranslateBy(tx, ty float64) Affine {
	return Affine{A: 1, D: 1, TX: tx, TY: ty}
}

// Then returns the transform that applies t first and n second.
func (t Affine) Then(n Affine) Affine {
	return Affine{
		A:  n.A*t.A + n.C*t.B,
		B:  n.B*t.A + n.D*t.B,
		C:  n.A*t.C + n.C*t.D,
		D:  n.B*t.C + n.D*t.D,
		TX: n.A*t.TX + n.C*t.TY + n.TX,
		TY: n.B*t.TX + n.D*t.TY + n.TY,
	}
}

// Apply maps p through the transform.
func (t Affine) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.C*p.Y + t.TX,
		Y: t.B*p.X + t.D*p.Y + t.TY,
	}
}

// LinearScale is the factor by which the transform scales lengths. It is exact
// for uniform scales and rotations, and a geometric mean otherwise.
func (t Affine) LinearScale() float64 {
	return math.Sqrt(math.Abs(t.A*t.D - t.B*t.C))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
