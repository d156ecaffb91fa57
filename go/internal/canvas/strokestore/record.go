package strokestore

import (
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/ink"
)

// Record is one stroke known to this device, local or remote. Its payload
// never changes after creation.
type Record struct {
	ID         string
	Payload    []byte
	CreatedAt  time.Time
	SourceSize *ink.Size
	AuthorID   string
	// EchoIndex is zero for strokes drawn by hand and i for the i-th echo of
	// a locally captured stroke. It is never transported.
	EchoIndex int

	geometry    *ink.Drawing
	geometryFor ink.Size
}

// IsEcho reports whether the record was generated by echo replication.
func (r Record) IsEcho() bool {
	return r.EchoIndex > 0
}

// before is the replay order: by creation time, then by id so every device
// sorts equal timestamps the same way.
func (r *Record) before(o *Record) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.ID < o.ID
}
