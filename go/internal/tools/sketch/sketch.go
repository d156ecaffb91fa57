// Command sketch is a headless participant: it joins a room through a relay,
// draws a few strokes and writes what the canvas converged to as a PNG.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/session"
	"github.com/mcdev12/drawwithfriends/go/internal/discovery"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/mcdev12/drawwithfriends/go/internal/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/image/draw"
)

type options struct {
	relayURL   string
	room       string
	mode       string
	user       string
	strokes    int
	echo       int
	width      float64
	height     float64
	seed       uint64
	settle     time.Duration
	out        string
	background string
	pass       bool
}

func main() {
	var o options
	pflag.StringVar(&o.relayURL, "relay", "", "relay WebSocket URL; browses mDNS when empty")
	pflag.StringVar(&o.room, "room", "", "room code to join; a new room is created when empty")
	pflag.StringVar(&o.mode, "mode", string(backend.ModeSimultaneous), "mode for a new room: turnBased or simultaneous")
	pflag.StringVar(&o.user, "user", "", "user id (random when empty)")
	pflag.IntVar(&o.strokes, "strokes", 5, "number of strokes to draw")
	pflag.IntVar(&o.echo, "echo", -1, "echo copies per stroke; negative disables echo")
	pflag.Float64Var(&o.width, "width", 390, "canvas width in points")
	pflag.Float64Var(&o.height, "height", 844, "canvas height in points")
	pflag.Uint64Var(&o.seed, "seed", 1, "random seed for the strokes")
	pflag.DurationVar(&o.settle, "settle", 3*time.Second, "how long to wait for other devices before rendering")
	pflag.StringVarP(&o.out, "out", "o", "sketch.png", "output PNG path")
	pflag.StringVar(&o.background, "background", "", "image file to share as the room background")
	pflag.BoolVar(&o.pass, "pass", true, "pass the turn to the next user after drawing (turn-based rooms)")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if o.user == "" {
		o.user = "sketch-" + uuid.NewString()[:8]
	}
	if err := run(context.Background(), o); err != nil {
		log.Fatal().Err(err).Msg("sketch failed")
	}
}

func run(ctx context.Context, o options) error {
	url, err := resolveRelay(o.relayURL)
	if err != nil {
		return err
	}
	client, err := relay.Dial(ctx, url, relay.DefaultClientConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	code := o.room
	if code == "" {
		code, err = client.CreateRoom(ctx, backend.Mode(o.mode), o.user)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		log.Info().Str("room", code).Str("mode", o.mode).Msg("created room")
	}

	size := ink.Size{Width: o.width, Height: o.height}
	surface := ink.NewMemorySurface(size)
	cfg := session.DefaultConfig()
	cfg.RoomCode = code
	cfg.UserID = o.user
	cfg.Backend = client
	cfg.Surface = surface

	s, err := session.New(cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}
	defer s.Stop()

	if o.echo >= 0 {
		if err := s.SetEcho(true, o.echo); err != nil {
			return err
		}
	}
	if o.background != "" {
		data, err := os.ReadFile(o.background)
		if err != nil {
			return fmt.Errorf("read background: %w", err)
		}
		if err := s.SetBackgroundImage(ctx, data); err != nil {
			return err
		}
	}

	if s.Mode() == backend.ModeTurnBased && !s.IsMyTurn() {
		log.Info().Str("turn", s.CurrentTurn()).Msg("not our turn, only watching")
	} else {
		rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
		for i := 0; i < o.strokes; i++ {
			s.BeginGesture()
			surface.AppendStroke(randomStroke(rng, size))
			s.EndGesture()
		}
		if err := s.SyncNow(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		if s.Mode() == backend.ModeTurnBased && o.pass {
			next, err := s.PassTurnToNext(ctx)
			if err != nil {
				return err
			}
			if next != "" {
				log.Info().Str("to", next).Msg("passed turn")
			}
		}
	}

	log.Info().Dur("settle", o.settle).Msg("waiting for other devices")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.settle):
	}

	img := compose(&ink.VectorRenderer{}, surface.Drawing(), size, s.Background())
	if err := writePNG(o.out, img); err != nil {
		return err
	}

	d := s.Diagnostics()
	log.Info().
		Str("room", code).
		Str("out", o.out).
		Int("strokes", surface.Len()).
		Int("sent", d.StrokesSent).
		Int("received", d.StrokesReceived).
		Int("echoes", d.EchoesGenerated).
		Int("blobs_sent", d.BlobsSent).
		Int("blobs_applied", d.BlobsApplied).
		Msg("sketch written")
	return nil
}

func resolveRelay(url string) (string, error) {
	if url != "" {
		return url, nil
	}
	relays, err := discovery.Browse(2 * time.Second)
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", errors.New("no relay found on the local network; pass --relay")
	}
	log.Info().Str("instance", relays[0].Instance).Str("url", relays[0].URL()).Msg("found relay")
	return relays[0].URL(), nil
}

func randomStroke(rng *rand.Rand, size ink.Size) ink.Stroke {
	n := 3 + rng.IntN(6)
	pts := make([]ink.Point, n)
	x, y := rng.Float64()*size.Width, rng.Float64()*size.Height
	for i := range pts {
		pts[i] = ink.Point{X: x, Y: y}
		x = clamp(x+rng.NormFloat64()*30, 0, size.Width)
		y = clamp(y+rng.NormFloat64()*30, 0, size.Height)
	}
	return ink.Stroke{
		Points: pts,
		Color:  color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255},
		Width:  2 + rng.Float64()*6,
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// compose draws the background, scaled to fill the canvas, beneath the
// rasterized strokes on a white page. r must leave its own background
// transparent.
func compose(r ink.Renderer, d ink.Drawing, size ink.Size, background []byte) image.Image {
	strokes := r.Rasterize(d, size)
	bounds := strokes.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)

	if len(background) > 0 {
		bg, _, err := image.Decode(bytes.NewReader(background))
		if err != nil {
			log.Warn().Err(err).Msg("skipping undecodable background")
		} else {
			draw.CatmullRom.Scale(dst, bounds, bg, bg.Bounds(), draw.Over, nil)
		}
	}
	draw.Draw(dst, bounds, strokes, bounds.Min, draw.Over)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
