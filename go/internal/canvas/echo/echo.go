// Package echo derives offset copies of freshly drawn strokes.
package echo

import (
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
)

const (
	// MaxEchoes is the number of copies made when the configured count is
	// zero, meaning "unbounded".
	MaxEchoes = 10
	// OffsetStep is the diagonal displacement, in points, between
	// consecutive copies.
	OffsetStep = 8.0
)

// Replicator holds the echo settings for one session. It is not safe for
// concurrent use; the session's event loop owns it.
type Replicator struct {
	enabled  bool
	count    int
	baseline int
}

func NewReplicator() *Replicator {
	return &Replicator{}
}

// Enable turns echo on with the given count. Only strokes drawn after the
// current stroke count are echoed.
func (r *Replicator) Enable(count, currentStrokeCount int) {
	if count < 0 {
		count = 0
	}
	r.enabled = true
	r.count = count
	r.baseline = currentStrokeCount
}

func (r *Replicator) Disable() {
	r.enabled = false
}

func (r *Replicator) Enabled() bool {
	return r.enabled
}

// Count is the configured count, zero meaning unbounded.
func (r *Replicator) Count() int {
	return r.count
}

// Limit is the number of copies made per stroke right now.
func (r *Replicator) Limit() int {
	if !r.enabled {
		return 0
	}
	if r.count == 0 {
		return MaxEchoes
	}
	return r.count
}

func (r *Replicator) Baseline() int {
	return r.baseline
}

// SetBaseline marks n strokes as already handled.
func (r *Replicator) SetBaseline(n int) {
	if n < 0 {
		n = 0
	}
	r.baseline = n
}

// Copies returns the echoes of s, the i-th offset by i*OffsetStep on both
// axes. It returns nil when echo is off.
func (r *Replicator) Copies(s ink.Stroke) []ink.Stroke {
	n := r.Limit()
	if n == 0 {
		return nil
	}
	out := make([]ink.Stroke, n)
	for i := 1; i <= n; i++ {
		offset := float64(i) * OffsetStep
		out[i-1] = s.Translate(offset, offset)
	}
	return out
}

// ApplyToDrawing appends echoes of every stroke past the baseline and moves
// the baseline to the end of the result. It returns the new drawing and the
// number of echoes added. With echo off only the baseline moves.
func (r *Replicator) ApplyToDrawing(d ink.Drawing) (ink.Drawing, int) {
	if !r.enabled || d.Len() <= r.baseline {
		r.baseline = d.Len()
		return d, 0
	}
	var added []ink.Stroke
	for _, s := range d.Strokes[r.baseline:] {
		added = append(added, r.Copies(s)...)
	}
	out := d.Append(added...)
	r.baseline = out.Len()
	return out, len(added)
}
