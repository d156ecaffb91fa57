package pgbackend

// NotifyChannel is the LISTEN channel the triggers below publish on. Each
// payload is "<room code>:<slot>" where slot is turn, drawing, background or
// strokes.
const NotifyChannel = "drawwithfriends_room_events"

// Schema creates the tables and notify triggers. It is idempotent.
const Schema = `
CREATE SEQUENCE IF NOT EXISTS room_slot_version;

CREATE TABLE IF NOT EXISTS rooms (
    room_code  TEXT PRIMARY KEY,
    mode       TEXT NOT NULL CHECK (mode IN ('turnBased', 'simultaneous')),
    turn       TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_users (
    room_code TEXT NOT NULL REFERENCES rooms (room_code) ON DELETE CASCADE,
    user_id   TEXT NOT NULL,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room_code, user_id)
);

CREATE TABLE IF NOT EXISTS room_drawings (
    room_code      TEXT PRIMARY KEY REFERENCES rooms (room_code) ON DELETE CASCADE,
    payload        BYTEA NOT NULL,
    editor_id      TEXT NOT NULL,
    canvas_size    JSONB,
    content_bounds JSONB,
    version        BIGINT NOT NULL DEFAULT nextval('room_slot_version')
);

CREATE TABLE IF NOT EXISTS room_backgrounds (
    room_code TEXT PRIMARY KEY REFERENCES rooms (room_code) ON DELETE CASCADE,
    data      BYTEA NOT NULL,
    editor_id TEXT NOT NULL,
    version   BIGINT NOT NULL DEFAULT nextval('room_slot_version')
);

CREATE TABLE IF NOT EXISTS room_strokes (
    seq                BIGSERIAL PRIMARY KEY,
    room_code          TEXT NOT NULL REFERENCES rooms (room_code) ON DELETE CASCADE,
    stroke_id          TEXT NOT NULL,
    payload            BYTEA NOT NULL,
    sender_id          TEXT NOT NULL,
    original_author_id TEXT NOT NULL,
    canvas_size        JSONB,
    created_at         TIMESTAMPTZ NOT NULL,
    UNIQUE (room_code, stroke_id)
);

CREATE OR REPLACE FUNCTION notify_room_event() RETURNS trigger AS $$
DECLARE
    code TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        code := OLD.room_code;
    ELSE
        code := NEW.room_code;
    END IF;
    PERFORM pg_notify('drawwithfriends_room_events', code || ':' || TG_ARGV[0]);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS rooms_turn_notify ON rooms;
CREATE TRIGGER rooms_turn_notify
    AFTER UPDATE OF turn ON rooms
    FOR EACH ROW EXECUTE FUNCTION notify_room_event('turn');

DROP TRIGGER IF EXISTS room_drawings_notify ON room_drawings;
CREATE TRIGGER room_drawings_notify
    AFTER INSERT OR UPDATE OR DELETE ON room_drawings
    FOR EACH ROW EXECUTE FUNCTION notify_room_event('drawing');

DROP TRIGGER IF EXISTS room_backgrounds_notify ON room_backgrounds;
CREATE TRIGGER room_backgrounds_notify
    AFTER INSERT OR UPDATE OR DELETE ON room_backgrounds
    FOR EACH ROW EXECUTE FUNCTION notify_room_event('background');

DROP TRIGGER IF EXISTS room_strokes_notify ON room_strokes;
CREATE TRIGGER room_strokes_notify
    AFTER INSERT ON room_strokes
    FOR EACH ROW EXECUTE FUNCTION notify_room_event('strokes');
`
