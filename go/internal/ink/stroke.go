package ink

import (
	"image/color"
	"math"
)

// Stroke is one continuous pen gesture.
type Stroke struct {
	Points []Point
	Color  color.RGBA
	Width  float64
}

// Bounds returns the area touched by the stroke, including half the pen width
// on every side.
func (s Stroke) Bounds() Rect {
	if len(s.Points) == 0 {
		return Rect{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s.Points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	half := s.Width / 2
	return Rect{
		X:      minX - half,
		Y:      minY - half,
		Width:  maxX - minX + s.Width,
		Height: maxY - minY + s.Width,
	}
}

// Transform returns a copy of the stroke mapped through t. The pen width is
// scaled by the transform's linear scale.
func (s Stroke) Transform(t Affine) Stroke {
	pts := make([]Point, len(s.Points))
	for i, p := range s.Points {
		pts[i] = t.Apply(p)
	}
	return Stroke{Points: pts, Color: s.Color, Width: s.Width * t.LinearScale()}
}

// Translate is shorthand for Transform(TranslateBy(dx, dy)).
func (s Stroke) Translate(dx, dy float64) Stroke {
	return s.Transform(TranslateBy(dx, dy))
}

// Drawing is an ordered set of strokes. Later strokes paint over earlier ones.
type Drawing struct {
	Strokes []Stroke
}

// NewDrawing builds a drawing from the given strokes.
func NewDrawing(strokes ...Stroke) Drawing {
	return Drawing{Strokes: append([]Stroke(nil), strokes...)}
}

func (d Drawing) Len() int { return len(d.Strokes) }

func (d Drawing) IsEmpty() bool { return len(d.Strokes) == 0 }

// Bounds returns the union of all stroke bounds, or an empty Rect.
func (d Drawing) Bounds() Rect {
	var r Rect
	for _, s := range d.Strokes {
		r = r.Union(s.Bounds())
	}
	return r
}

// Transform maps every stroke through t.
func (d Drawing) Transform(t Affine) Drawing {
	out := Drawing{Strokes: make([]Stroke, len(d.Strokes))}
	for i, s := range d.Strokes {
		out.Strokes[i] = s.Transform(t)
	}
	return out
}

// Append returns a new drawing with the given strokes added at the end.
func (d Drawing) Append(strokes ...Stroke) Drawing {
	out := make([]Stroke, 0, len(d.Strokes)+len(strokes))
	out = append(out, d.Strokes...)
	out = append(out, strokes...)
	return Drawing{Strokes: out}
}

// Clone copies the stroke slice. Points are shared; strokes are treated as
// immutable once built.
func (d Drawing) Clone() Drawing {
	return Drawing{Strokes: append([]Stroke(nil), d.Strokes...)}
}
