package session

import "github.com/mcdev12/drawwithfriends/go/internal/metrics"

// Diagnostics are running counters for one session.
type Diagnostics struct {
	StrokesSent      int
	StrokesReceived  int
	EchoesGenerated  int
	RebuildsExecuted int
	RebuildsDeferred int
	SyncTimerFires   int
	BlobsSent        int
	BlobsApplied     int
	DroppedWrites    int
	BackendErrors    int
}

var sessionEvents = metrics.NewCounter(
	"events_total",
	"session",
	"Session activity by event and room mode",
	[]string{"event", "mode"},
)

const (
	eventStrokeSent     = "stroke_sent"
	eventStrokeReceived = "stroke_received"
	eventEcho           = "echo_generated"
	eventTick           = "sync_tick"
	eventBlobSent       = "blob_sent"
	eventBlobApplied    = "blob_applied"
	eventDropped        = "write_dropped"
	eventBackendError   = "backend_error"
)

// count bumps a diagnostics field and its Prometheus mirror. Callers hold s.mu.
func (s *Session) count(field *int, event string, n int) {
	*field += n
	sessionEvents.WithLabelValues(event, string(s.mode)).Add(float64(n))
}
