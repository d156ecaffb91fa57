package pgbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the statements the backend runs.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type Room struct {
	RoomCode string
	Mode     string
	Turn     sql.NullString
}

type Drawing struct {
	Payload       []byte
	EditorID      string
	CanvasSize    pqtype.NullRawMessage
	ContentBounds pqtype.NullRawMessage
	Version       int64
}

type Background struct {
	Data     []byte
	EditorID string
	Version  int64
}

type Stroke struct {
	Seq              int64
	StrokeID         string
	Payload          []byte
	SenderID         string
	OriginalAuthorID string
	CanvasSize       pqtype.NullRawMessage
	CreatedAt        time.Time
}

const insertRoom = `INSERT INTO rooms (room_code, mode) VALUES ($1, $2) ON CONFLICT (room_code) DO NOTHING`

// InsertRoom reports false if the code is already taken.
func (q *Queries) InsertRoom(ctx context.Context, code, mode string) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertRoom, code, mode)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const getRoom = `SELECT room_code, mode, turn FROM rooms WHERE room_code = $1`

func (q *Queries) GetRoom(ctx context.Context, code string) (Room, error) {
	var r Room
	err := q.db.QueryRowContext(ctx, getRoom, code).Scan(&r.RoomCode, &r.Mode, &r.Turn)
	return r, err
}

const setTurn = `UPDATE rooms SET turn = $2 WHERE room_code = $1`

func (q *Queries) SetTurn(ctx context.Context, code, userID string) error {
	_, err := q.db.ExecContext(ctx, setTurn, code, userID)
	return err
}

const addUser = `INSERT INTO room_users (room_code, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

func (q *Queries) AddUser(ctx context.Context, code, userID string) error {
	_, err := q.db.ExecContext(ctx, addUser, code, userID)
	return err
}

const listUsers = `SELECT user_id FROM room_users WHERE room_code = $1 ORDER BY user_id`

func (q *Queries) ListUsers(ctx context.Context, code string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsers, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const upsertDrawing = `
INSERT INTO room_drawings (room_code, payload, editor_id, canvas_size, content_bounds)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (room_code) DO UPDATE SET
    payload = EXCLUDED.payload,
    editor_id = EXCLUDED.editor_id,
    canvas_size = EXCLUDED.canvas_size,
    content_bounds = EXCLUDED.content_bounds,
    version = nextval('room_slot_version')`

func (q *Queries) UpsertDrawing(ctx context.Context, code string, d Drawing) error {
	_, err := q.db.ExecContext(ctx, upsertDrawing, code, d.Payload, d.EditorID, d.CanvasSize, d.ContentBounds)
	return err
}

const getDrawing = `SELECT payload, editor_id, canvas_size, content_bounds, version FROM room_drawings WHERE room_code = $1`

func (q *Queries) GetDrawing(ctx context.Context, code string) (Drawing, error) {
	var d Drawing
	err := q.db.QueryRowContext(ctx, getDrawing, code).Scan(&d.Payload, &d.EditorID, &d.CanvasSize, &d.ContentBounds, &d.Version)
	return d, err
}

const deleteDrawing = `DELETE FROM room_drawings WHERE room_code = $1`

func (q *Queries) DeleteDrawing(ctx context.Context, code string) error {
	_, err := q.db.ExecContext(ctx, deleteDrawing, code)
	return err
}

const upsertBackground = `
INSERT INTO room_backgrounds (room_code, data, editor_id)
VALUES ($1, $2, $3)
ON CONFLICT (room_code) DO UPDATE SET
    data = EXCLUDED.data,
    editor_id = EXCLUDED.editor_id,
    version = nextval('room_slot_version')`

func (q *Queries) UpsertBackground(ctx context.Context, code string, b Background) error {
	_, err := q.db.ExecContext(ctx, upsertBackground, code, b.Data, b.EditorID)
	return err
}

const getBackground = `SELECT data, editor_id, version FROM room_backgrounds WHERE room_code = $1`

func (q *Queries) GetBackground(ctx context.Context, code string) (Background, error) {
	var b Background
	err := q.db.QueryRowContext(ctx, getBackground, code).Scan(&b.Data, &b.EditorID, &b.Version)
	return b, err
}

const deleteBackground = `DELETE FROM room_backgrounds WHERE room_code = $1`

func (q *Queries) DeleteBackground(ctx context.Context, code string) error {
	_, err := q.db.ExecContext(ctx, deleteBackground, code)
	return err
}

// Serializes stroke inserts per room until the transaction ends, so seq
// values of one room commit in increasing order.
const lockRoomStrokes = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

func (q *Queries) LockRoomStrokes(ctx context.Context, code string) error {
	_, err := q.db.ExecContext(ctx, lockRoomStrokes, code)
	return err
}

const insertStroke = `
INSERT INTO room_strokes (room_code, stroke_id, payload, sender_id, original_author_id, canvas_size, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (room_code, stroke_id) DO NOTHING`

func (q *Queries) InsertStroke(ctx context.Context, code string, s Stroke) error {
	_, err := q.db.ExecContext(ctx, insertStroke,
		code, s.StrokeID, s.Payload, s.SenderID, s.OriginalAuthorID, s.CanvasSize, s.CreatedAt)
	return err
}

const listStrokesAfter = `
SELECT seq, stroke_id, payload, sender_id, original_author_id, canvas_size, created_at
FROM room_strokes
WHERE room_code = $1 AND seq > $2
ORDER BY seq
LIMIT $3`

func (q *Queries) ListStrokesAfter(ctx context.Context, code string, after int64, limit int32) ([]Stroke, error) {
	rows, err := q.db.QueryContext(ctx, listStrokesAfter, code, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list strokes: %w", err)
	}
	defer rows.Close()
	var out []Stroke
	for rows.Next() {
		var s Stroke
		if err := rows.Scan(&s.Seq, &s.StrokeID, &s.Payload, &s.SenderID, &s.OriginalAuthorID, &s.CanvasSize, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
