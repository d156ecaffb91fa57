package echo

import (
	"image/color"
	"testing"

	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(x, y float64) ink.Stroke {
	return ink.Stroke{Points: []ink.Point{{X: x, Y: y}}, Color: color.RGBA{A: 255}, Width: 2}
}

func TestCopiesFanOut(t *testing.T) {
	r := NewReplicator()
	r.Enable(3, 0)

	copies := r.Copies(dot(10, 10))
	require.Len(t, copies, 3)
	for i, c := range copies {
		want := 10 + float64(i+1)*OffsetStep
		assert.Equal(t, ink.Point{X: want, Y: want}, c.Points[0])
	}
}

func TestZeroCountMeansCap(t *testing.T) {
	r := NewReplicator()
	r.Enable(0, 0)
	assert.Len(t, r.Copies(dot(0, 0)), MaxEchoes)
}

func TestExplicitCountAboveCapIsHonored(t *testing.T) {
	r := NewReplicator()
	r.Enable(15, 0)
	assert.Equal(t, 15, r.Limit())

	copies := r.Copies(dot(0, 0))
	require.Len(t, copies, 15)
	assert.Equal(t, ink.Point{X: 15 * OffsetStep, Y: 15 * OffsetStep}, copies[14].Points[0])
}

func TestDisabledMakesNoCopies(t *testing.T) {
	r := NewReplicator()
	assert.Nil(t, r.Copies(dot(0, 0)))

	r.Enable(2, 0)
	r.Disable()
	assert.Zero(t, r.Limit())
}

func TestApplyToDrawingOnlyEchoesPastBaseline(t *testing.T) {
	r := NewReplicator()
	d := ink.NewDrawing(dot(0, 0), dot(1, 1))
	r.Enable(2, d.Len())

	d = d.Append(dot(100, 100))
	out, added := r.ApplyToDrawing(d)
	assert.Equal(t, 2, added)
	require.Equal(t, 5, out.Len())
	assert.Equal(t, ink.Point{X: 108, Y: 108}, out.Strokes[3].Points[0])
	assert.Equal(t, ink.Point{X: 116, Y: 116}, out.Strokes[4].Points[0])
	assert.Equal(t, 5, r.Baseline())

	// Echoes themselves are never echoed again.
	again, added := r.ApplyToDrawing(out)
	assert.Zero(t, added)
	assert.Equal(t, out, again)
}

func TestApplyToDrawingWhileDisabledTracksBaseline(t *testing.T) {
	r := NewReplicator()
	d := ink.NewDrawing(dot(0, 0), dot(1, 1), dot(2, 2))
	out, added := r.ApplyToDrawing(d)
	assert.Zero(t, added)
	assert.Equal(t, d, out)
	assert.Equal(t, 3, r.Baseline())
}
