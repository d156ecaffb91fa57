package ink

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/fxamacker/cbor/v2"
)

// payloadVersion is bumped whenever the wire layout below changes.
const payloadVersion = 1

var (
	// ErrEmptyPayload is returned when decoding a zero-length payload.
	ErrEmptyPayload = errors.New("ink: empty payload")
	// ErrUnsupportedVersion is returned for payloads from a newer encoder.
	ErrUnsupportedVersion = errors.New("ink: unsupported payload version")
)

// encMode uses Core Deterministic Encoding so the same drawing always
// produces the same bytes on every device.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ink: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ink: CBOR decoder initialization failed: " + err.Error())
	}
}

type wireDrawing struct {
	Version int          `cbor:"v"`
	Strokes []wireStroke `cbor:"strokes"`
}

type wireStroke struct {
	Points [][2]float64 `cbor:"pts"`
	Color  [4]uint8     `cbor:"c"`
	Width  float64      `cbor:"w"`
}

// Marshal encodes a drawing as a stroke payload.
func Marshal(d Drawing) ([]byte, error) {
	w := wireDrawing{Version: payloadVersion, Strokes: make([]wireStroke, len(d.Strokes))}
	for i, s := range d.Strokes {
		pts := make([][2]float64, len(s.Points))
		for j, p := range s.Points {
			pts[j] = [2]float64{p.X, p.Y}
		}
		w.Strokes[i] = wireStroke{
			Points: pts,
			Color:  [4]uint8{s.Color.R, s.Color.G, s.Color.B, s.Color.A},
			Width:  s.Width,
		}
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode drawing: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a stroke payload produced by Marshal.
func Unmarshal(data []byte) (Drawing, error) {
	if len(data) == 0 {
		return Drawing{}, ErrEmptyPayload
	}
	var w wireDrawing
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Drawing{}, fmt.Errorf("decode drawing: %w", err)
	}
	if w.Version != payloadVersion {
		return Drawing{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}
	d := Drawing{Strokes: make([]Stroke, len(w.Strokes))}
	for i, ws := range w.Strokes {
		pts := make([]Point, len(ws.Points))
		for j, p := range ws.Points {
			pts[j] = Point{X: p[0], Y: p[1]}
		}
		d.Strokes[i] = Stroke{
			Points: pts,
			Color:  color.RGBA{R: ws.Color[0], G: ws.Color[1], B: ws.Color[2], A: ws.Color[3]},
			Width:  ws.Width,
		}
	}
	return d, nil
}
