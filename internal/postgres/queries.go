package postgres

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                TEXT PRIMARY KEY,
	creator_id        TEXT        NOT NULL,
	creator_name      TEXT        NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity     TIMESTAMPTZ NOT NULL DEFAULT now(),
	max_participants  INT         NOT NULL DEFAULT 50,
	allow_file_upload BOOLEAN     NOT NULL DEFAULT TRUE,
	ai_enabled        BOOLEAN     NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id   TEXT        NOT NULL,
	user_id   TEXT        NOT NULL,
	name      TEXT        NOT NULL DEFAULT '',
	status    TEXT        NOT NULL DEFAULT 'online',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
	conn_id   TEXT,
	PRIMARY KEY (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS room_participants_conn_idx ON room_participants (conn_id) WHERE conn_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS room_participants_seen_idx ON room_participants (last_seen) WHERE status = 'online';

CREATE TABLE IF NOT EXISTS room_messages (
	id             UUID PRIMARY KEY,
	room_id        TEXT        NOT NULL,
	type           TEXT        NOT NULL DEFAULT 'user',
	text           TEXT        NOT NULL DEFAULT '',
	author         TEXT        NOT NULL DEFAULT '',
	user_id        TEXT        NOT NULL DEFAULT '',
	display_time   TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	file           JSONB,
	is_ai_question BOOLEAN     NOT NULL DEFAULT FALSE,
	origin_user_id TEXT
);
CREATE INDEX IF NOT EXISTS room_messages_room_created_idx ON room_messages (room_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS room_messages_created_idx ON room_messages (created_at);
`

// rooms
const (
	queryGetRoom = `
SELECT id, creator_id, creator_name, created_at, last_activity,
       max_participants, allow_file_upload, ai_enabled
FROM rooms WHERE id = $1`

	queryCreateRoom = `
INSERT INTO rooms (id, creator_id, creator_name, created_at, last_activity,
                   max_participants, allow_file_upload, ai_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	queryTouchRoom = `UPDATE rooms SET last_activity = $2 WHERE id = $1`

	queryDeleteRoom = `DELETE FROM rooms WHERE id = $1`
)

// participants
const (
	participantColumns = `room_id, user_id, name, status, joined_at, last_seen, COALESCE(conn_id, '')`

	queryUpsertParticipant = `
INSERT INTO room_participants (room_id, user_id, name, status, joined_at, last_seen, conn_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
ON CONFLICT (room_id, user_id) DO UPDATE
SET name      = EXCLUDED.name,
    status    = EXCLUDED.status,
    last_seen = EXCLUDED.last_seen,
    conn_id   = EXCLUDED.conn_id
RETURNING ` + participantColumns

	queryMarkOffline = `
UPDATE room_participants
SET status = 'offline', conn_id = NULL, last_seen = $4
WHERE room_id = $1 AND user_id = $2
  AND ($3::text = '' OR conn_id = $3::text)`

	queryTouchParticipant = `UPDATE room_participants SET last_seen = $3 WHERE room_id = $1 AND user_id = $2`

	queryListParticipants = `
SELECT ` + participantColumns + `
FROM room_participants
WHERE room_id = $1
ORDER BY joined_at ASC, user_id ASC`

	queryParticipantByConn = `
SELECT ` + participantColumns + `
FROM room_participants
WHERE conn_id = $1 AND status = 'online'
LIMIT 1`

	queryDemoteStale = `
UPDATE room_participants
SET status = 'offline', conn_id = NULL
WHERE status = 'online' AND last_seen < $1
RETURNING room_id, user_id`

	queryDeleteRoomParticipants = `DELETE FROM room_participants WHERE room_id = $1`
)

// messages
const (
	messageColumns = `id::text, room_id, type, text, author, user_id, display_time,
       created_at, file, is_ai_question, origin_user_id`

	querySaveMessage = `
INSERT INTO room_messages (id, room_id, type, text, author, user_id, display_time,
                           created_at, file, is_ai_question, origin_user_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	queryRecentMessages = `
SELECT ` + messageColumns + `
FROM room_messages
WHERE room_id = $1
  AND (
    $2::timestamptz IS NULL
    OR created_at < $2
    OR (created_at = $2 AND id < $3::uuid)
  )
ORDER BY created_at DESC, id DESC
LIMIT $4`

	queryDeleteRoomMessages = `DELETE FROM room_messages WHERE room_id = $1`

	queryDeleteMessagesBefore = `DELETE FROM room_messages WHERE created_at < $1`
)
