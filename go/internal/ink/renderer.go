package ink

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// Renderer turns stroke payloads into geometry and geometry into pixels.
type Renderer interface {
	Decode(payload []byte) (Drawing, error)
	Encode(d Drawing) ([]byte, error)
	Bounds(d Drawing) Rect
	Transform(d Drawing, t Affine) Drawing
	Rasterize(d Drawing, size Size) image.Image
}

// capSegments is the polygon resolution used for round caps and joints.
const capSegments = 16

// VectorRenderer is the default Renderer. Payloads are deterministic CBOR
// and rasterization uses an anti-aliasing scanline rasterizer.
type VectorRenderer struct {
	// Background fills the image before strokes are painted. Nil leaves it
	// transparent.
	Background color.Color
}

// NewVectorRenderer returns a renderer that paints onto a white background.
func NewVectorRenderer() *VectorRenderer {
	return &VectorRenderer{Background: color.White}
}

func (r *VectorRenderer) Decode(payload []byte) (Drawing, error) {
	return Unmarshal(payload)
}

func (r *VectorRenderer) Encode(d Drawing) ([]byte, error) {
	return Marshal(d)
}

func (r *VectorRenderer) Bounds(d Drawing) Rect {
	return d.Bounds()
}

func (r *VectorRenderer) Transform(d Drawing, t Affine) Drawing {
	return d.Transform(t)
}

// Rasterize paints the drawing onto a new RGBA image of the given size.
// An invalid size yields an empty image.
func (r *VectorRenderer) Rasterize(d Drawing, size Size) image.Image {
	if !size.Valid() {
		return image.NewRGBA(image.Rectangle{})
	}
	w := int(math.Ceil(size.Width))
	h := int(math.Ceil(size.Height))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if r.Background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)
	}

	for _, s := range d.Strokes {
		if len(s.Points) == 0 || s.Width <= 0 {
			continue
		}
		z := vector.NewRasterizer(w, h)
		z.DrawOp = draw.Over
		radius := s.Width / 2
		for i, p := range s.Points {
			addPolygon(z, disc(p, radius))
			if i > 0 {
				addPolygon(z, segment(s.Points[i-1], p, radius))
			}
		}
		z.Draw(dst, dst.Bounds(), image.NewUniform(s.Color), image.Point{})
	}
	return dst
}

// disc approximates a circle as a regular polygon.
func disc(c Point, radius float64) []Point {
	pts := make([]Point, capSegments)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / capSegments
		pts[i] = Point{X: c.X + radius*math.Cos(a), Y: c.Y + radius*math.Sin(a)}
	}
	return pts
}

// segment returns the quad covering the line from a to b with the given
// half-width. Degenerate segments return nil.
func segment(a, b Point, radius float64) []Point {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	nx, ny := -dy/length*radius, dx/length*radius
	return []Point{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	}
}

// addPolygon adds a closed path with a consistent winding so overlapping
// shapes accumulate coverage instead of cancelling.
func addPolygon(z *vector.Rasterizer, pts []Point) {
	if len(pts) < 3 {
		return
	}
	if signedArea(pts) < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

func signedArea(pts []Point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return a / 2
}
