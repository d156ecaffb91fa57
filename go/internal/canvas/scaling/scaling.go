// Package scaling maps drawings between canvases of different sizes with a
// uniform, aspect-preserving, centered transform.
package scaling

import (
	"math"

	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/rs/zerolog/log"
)

// Fit returns the transform that maps content drawn on a canvas of size from
// onto a canvas of size to. The content is scaled uniformly by the smaller
// of the two axis ratios and centered on the target. ok is false when either
// size is not finite and positive.
func Fit(from, to ink.Size) (t ink.Affine, ok bool) {
	if !from.Valid() || !to.Valid() {
		return ink.Identity, false
	}
	s := math.Min(to.Width/from.Width, to.Height/from.Height)
	offsetX := (to.Width - from.Width*s) / 2
	offsetY := (to.Height - from.Height*s) / 2
	// translate(offset/s) then scale(s), folded into one matrix.
	return ink.TranslateBy(offsetX/s, offsetY/s).Then(ink.ScaleBy(s, s)), true
}

// Scale maps d from one canvas size to another through r. Invalid sizes
// return d unchanged; this runs on the sync path and never fails.
func Scale(r ink.Renderer, d ink.Drawing, from, to ink.Size) ink.Drawing {
	t, ok := Fit(from, to)
	if !ok {
		log.Debug().
			Interface("from", from).
			Interface("to", to).
			Msg("skipping scale for invalid canvas size")
		return d
	}
	if t == ink.Identity {
		return d
	}
	return r.Transform(d, t)
}

// ScaleContent is the variant used for whole shared drawings, which carry
// the bounds of their content. The mapping is the same as Scale; the bounds
// are only checked so a malformed blob is reported.
func ScaleContent(r ink.Renderer, d ink.Drawing, from, to ink.Size, bounds ink.Rect) ink.Drawing {
	if !bounds.IsEmpty() && !bounds.Valid() {
		log.Debug().Interface("bounds", bounds).Msg("ignoring invalid content bounds")
	}
	return Scale(r, d, from, to)
}
