package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStrokeStaysOnCanvas(t *testing.T) {
	size := ink.Size{Width: 100, Height: 80}
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 50; i++ {
		s := randomStroke(rng, size)
		require.GreaterOrEqual(t, len(s.Points), 3)
		for _, p := range s.Points {
			assert.True(t, p.X >= 0 && p.X <= size.Width, "x=%v", p.X)
			assert.True(t, p.Y >= 0 && p.Y <= size.Height, "y=%v", p.Y)
		}
	}
}

func TestComposeLayersBackgroundUnderStrokes(t *testing.T) {
	size := ink.Size{Width: 40, Height: 40}
	bg := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			bg.Set(x, y, color.RGBA{G: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, bg))

	d := ink.NewDrawing(ink.Stroke{
		Points: []ink.Point{{X: 0, Y: 20}, {X: 40, Y: 20}},
		Color:  color.RGBA{R: 255, A: 255},
		Width:  6,
	})
	img := compose(&ink.VectorRenderer{}, d, size, buf.Bytes())

	r, g, _, _ := img.At(20, 20).RGBA()
	assert.Greater(t, r, g, "stroke is painted over the background")
	r, g, _, _ = img.At(20, 2).RGBA()
	assert.Greater(t, g, r, "background shows where there is no stroke")
}

func TestComposeWithoutBackgroundIsWhite(t *testing.T) {
	img := compose(&ink.VectorRenderer{}, ink.Drawing{}, ink.Size{Width: 10, Height: 10}, []byte("not an image"))
	r, g, b, a := img.At(5, 5).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})
}
