// Package strokestore keeps every stroke a device knows about and rebuilds
// the canvas from them by full replay.
package strokestore

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/echo"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/scaling"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/rs/zerolog/log"
)

const (
	// batchSpacing separates strokes captured in the same pass.
	batchSpacing = time.Millisecond
	// echoSpacing separates the echoes of one stroke.
	echoSpacing = 100 * time.Microsecond
)

// RebuildResult reports what a call to Rebuild did.
type RebuildResult int

const (
	Rebuilt RebuildResult = iota
	Deferred
	Skipped
)

func (r RebuildResult) String() string {
	switch r {
	case Rebuilt:
		return "rebuilt"
	case Deferred:
		return "deferred"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Emitter receives every record captured from the local surface, in order.
type Emitter func(rec Record)

// Config wires a Store to its collaborators. Echo and Emit may be nil.
type Config struct {
	LocalUserID string
	Surface     ink.Surface
	Renderer    ink.Renderer
	Echo        *echo.Replicator
	Emit        Emitter
	Clock       clockwork.Clock
}

// Stats are running counters for diagnostics.
type Stats struct {
	Records         int
	RemoteInserted  int
	LocalCaptured   int
	EchoesGenerated int
	Rebuilds        int
	Deferred        int
	Skipped         int
	DecodeFailures  int
}

// Store is the authoritative set of strokes on one device. It is not safe for
// concurrent use: a session's event loop owns it.
type Store struct {
	local    string
	surface  ink.Surface
	renderer ink.Renderer
	echo     *echo.Replicator
	emit     Emitter
	clock    clockwork.Clock

	records  map[string]*Record
	ordering []string

	lastLocalCount int
	gestureActive  bool
	pendingRebuild bool
	rebuilding     bool

	stats Stats
}

func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = ink.NewVectorRenderer()
	}
	return &Store{
		local:    cfg.LocalUserID,
		surface:  cfg.Surface,
		renderer: cfg.Renderer,
		echo:     cfg.Echo,
		emit:     cfg.Emit,
		clock:    cfg.Clock,
		records:  make(map[string]*Record),
	}
}

// IngestRemote adds a stroke received from the backend. Strokes already
// known, and strokes authored by the local user, are ignored. It reports
// whether the record was inserted; on insert a rebuild is run or deferred.
func (s *Store) IngestRemote(rec Record) bool {
	if rec.ID == "" {
		return false
	}
	if rec.AuthorID == s.local {
		log.Debug().Str("stroke_id", rec.ID).Msg("ignoring own stroke from backend")
		return false
	}
	if _, ok := s.records[rec.ID]; ok {
		return false
	}

	rec.EchoIndex = 0
	s.insert(&rec)
	s.stats.RemoteInserted++
	recordsTotal.WithLabelValues("remote").Inc()

	log.Debug().
		Str("stroke_id", rec.ID).
		Str("author_id", rec.AuthorID).
		Int("records", len(s.records)).
		Msg("ingested remote stroke")

	s.Rebuild()
	return true
}

// CaptureLocal records strokes appended to the surface since the last
// capture, plus their echoes, and hands each record to the emitter. When
// echoes were added the canvas is rebuilt so they appear.
func (s *Store) CaptureLocal() []Record {
	recs, echoes := s.capture()
	if echoes > 0 {
		s.Rebuild()
	}
	return recs
}

func (s *Store) capture() ([]Record, int) {
	if s.surface == nil {
		return nil, 0
	}
	current := s.surface.Drawing()
	n := current.Len()
	if n < s.lastLocalCount {
		// Strokes removed locally. Records stay; only the anchor moves.
		log.Warn().
			Int("previous", s.lastLocalCount).
			Int("current", n).
			Msg("local stroke count decreased")
		s.lastLocalCount = n
		return nil, 0
	}
	if n == s.lastLocalCount {
		return nil, 0
	}

	size := s.surface.Size()
	base := s.clock.Now()
	var out []Record
	echoes := 0
	for i, stroke := range current.Strokes[s.lastLocalCount:] {
		createdAt := base.Add(time.Duration(i) * batchSpacing)
		rec, ok := s.newLocalRecord(stroke, createdAt, size, 0)
		if !ok {
			continue
		}
		out = append(out, rec)

		if s.echo == nil {
			continue
		}
		for j, c := range s.echo.Copies(stroke) {
			echoRec, ok := s.newLocalRecord(c, createdAt.Add(time.Duration(j+1)*echoSpacing), size, j+1)
			if !ok {
				continue
			}
			out = append(out, echoRec)
			echoes++
		}
	}
	s.lastLocalCount = n
	s.stats.EchoesGenerated += echoes

	for _, rec := range out {
		if s.emit != nil {
			s.emit(rec)
		}
	}
	return out, echoes
}

func (s *Store) newLocalRecord(stroke ink.Stroke, createdAt time.Time, size ink.Size, echoIndex int) (Record, bool) {
	geometry := ink.NewDrawing(stroke)
	payload, err := s.renderer.Encode(geometry)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode local stroke")
		return Record{}, false
	}
	src := size
	rec := &Record{
		ID:          uuid.NewString(),
		Payload:     payload,
		CreatedAt:   createdAt,
		SourceSize:  &src,
		AuthorID:    s.local,
		EchoIndex:   echoIndex,
		geometry:    &geometry,
		geometryFor: size,
	}
	s.insert(rec)
	if echoIndex > 0 {
		recordsTotal.WithLabelValues("echo").Inc()
	} else {
		s.stats.LocalCaptured++
		recordsTotal.WithLabelValues("local").Inc()
	}
	return *rec, true
}

// insert places rec in the map and at its sorted position in the ordering.
func (s *Store) insert(rec *Record) {
	s.records[rec.ID] = rec
	i := sort.Search(len(s.ordering), func(i int) bool {
		return rec.before(s.records[s.ordering[i]])
	})
	s.ordering = append(s.ordering, "")
	copy(s.ordering[i+1:], s.ordering[i:])
	s.ordering[i] = rec.ID
}

// Rebuild replays every record in order onto the surface. It is deferred
// while a gesture is in progress and skipped if a rebuild is already
// running. Records that fail to decode are left out.
func (s *Store) Rebuild() RebuildResult {
	if s.gestureActive {
		s.pendingRebuild = true
		s.stats.Deferred++
		rebuildsTotal.WithLabelValues(Deferred.String()).Inc()
		log.Debug().Msg("rebuild deferred until gesture ends")
		return Deferred
	}
	if s.rebuilding {
		s.stats.Skipped++
		rebuildsTotal.WithLabelValues(Skipped.String()).Inc()
		log.Warn().Msg("already rebuilding, skipping")
		return Skipped
	}
	s.rebuilding = true
	defer func() { s.rebuilding = false }()
	s.pendingRebuild = false

	// Strokes drawn since the last capture would be lost by the replay.
	s.capture()

	d := s.Replay()
	if s.surface != nil {
		s.surface.SetDrawing(d)
	}
	s.lastLocalCount = d.Len()
	s.stats.Rebuilds++
	rebuildsTotal.WithLabelValues(Rebuilt.String()).Inc()

	log.Debug().
		Int("records", len(s.ordering)).
		Int("strokes", d.Len()).
		Msg("canvas rebuilt")
	return Rebuilt
}

// Replay returns the drawing produced by every record in order, scaled to
// the surface size, without touching the surface.
func (s *Store) Replay() ink.Drawing {
	var target ink.Size
	if s.surface != nil {
		target = s.surface.Size()
	}
	var strokes []ink.Stroke
	for _, id := range s.ordering {
		g, err := s.geometry(s.records[id], target)
		if err != nil {
			s.stats.DecodeFailures++
			decodeFailuresTotal.WithLabelValues().Inc()
			log.Warn().Err(err).Str("stroke_id", id).Msg("skipping undecodable stroke")
			continue
		}
		strokes = append(strokes, g.Strokes...)
	}
	return ink.Drawing{Strokes: strokes}
}

func (s *Store) geometry(rec *Record, target ink.Size) (ink.Drawing, error) {
	if rec.geometry != nil && rec.geometryFor == target {
		return *rec.geometry, nil
	}
	d, err := s.renderer.Decode(rec.Payload)
	if err != nil {
		return ink.Drawing{}, err
	}
	if rec.SourceSize != nil && !rec.SourceSize.Equal(target) {
		d = scaling.Scale(s.renderer, d, *rec.SourceSize, target)
	}
	rec.geometry = &d
	rec.geometryFor = target
	return d, nil
}

// BeginGesture marks the user as mid-stroke; rebuilds wait until EndGesture.
func (s *Store) BeginGesture() {
	s.gestureActive = true
}

// EndGesture clears the gesture flag and runs a deferred rebuild if one is
// pending. It reports whether it did.
func (s *Store) EndGesture() bool {
	s.gestureActive = false
	if !s.pendingRebuild {
		return false
	}
	return s.Rebuild() == Rebuilt
}

func (s *Store) GestureActive() bool {
	return s.gestureActive
}

func (s *Store) RebuildPending() bool {
	return s.pendingRebuild
}

// Reset forgets every record and the per-canvas counters. Used when the
// canvas is cleared. Rebuild counters keep counting across resets.
func (s *Store) Reset() {
	s.records = make(map[string]*Record)
	s.ordering = nil
	s.lastLocalCount = 0
	s.pendingRebuild = false
	s.stats = Stats{
		Rebuilds: s.stats.Rebuilds,
		Deferred: s.stats.Deferred,
		Skipped:  s.stats.Skipped,
	}
}

// SyncLocalCount treats everything currently on the surface as captured.
func (s *Store) SyncLocalCount() {
	if s.surface != nil {
		s.lastLocalCount = s.surface.Drawing().Len()
	}
}

func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// Ordering returns a copy of the replay order.
func (s *Store) Ordering() []string {
	return append([]string(nil), s.ordering...)
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (s *Store) Stats() Stats {
	st := s.stats
	st.Records = len(s.records)
	return st
}
