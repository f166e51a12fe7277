package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recording_sessions (
    id              TEXT PRIMARY KEY,
    context_id      TEXT NOT NULL,
    state           TEXT NOT NULL DEFAULT 'recording',
    encoding        TEXT NOT NULL,
    started_at      INTEGER NOT NULL,
    last_chunk_at   INTEGER,
    next_sequence   INTEGER NOT NULL DEFAULT 0,
    display_name    TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recording_sessions_state ON recording_sessions(state, started_at);

CREATE TABLE IF NOT EXISTS recording_chunks (
    session_id  TEXT NOT NULL REFERENCES recording_sessions(id) ON DELETE CASCADE,
    sequence    INTEGER NOT NULL,
    payload     BLOB NOT NULL CHECK (length(payload) > 0),
    written_at  INTEGER NOT NULL,
    PRIMARY KEY (session_id, sequence)
);
`

// SQLiteStore is the default process-local chunk store. Timestamps are stored
// as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
// WAL journaling keeps each chunk append durable without a full fsync storm.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, input store.CreateSessionInput) (*store.RecordingSession, error) {
	now := time.Now()
	sess := &store.RecordingSession{
		ID:        uuid.NewString(),
		ContextID: input.ContextID,
		State:     store.SessionStateRecording,
		Encoding:  input.Encoding,
		StartedAt: input.StartedAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recording_sessions (id, context_id, state, encoding, started_at, next_sequence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.ContextID, string(sess.State), sess.Encoding,
		sess.StartedAt.UnixNano(), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

const sqliteSessionColumns = `id, context_id, state, encoding, started_at, last_chunk_at, next_sequence, display_name, description, created_at, updated_at`

func scanSQLiteSession(row interface{ Scan(...any) error }) (*store.RecordingSession, error) {
	var s store.RecordingSession
	var state string
	var startedAt, createdAt, updatedAt int64
	var lastChunkAt sql.NullInt64
	err := row.Scan(&s.ID, &s.ContextID, &state, &s.Encoding, &startedAt,
		&lastChunkAt, &s.NextSequence, &s.DisplayName, &s.Description,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, err
	}
	s.State = store.SessionState(state)
	s.StartedAt = time.Unix(0, startedAt)
	s.CreatedAt = time.Unix(0, createdAt)
	s.UpdatedAt = time.Unix(0, updatedAt)
	if lastChunkAt.Valid {
		t := time.Unix(0, lastChunkAt.Int64)
		s.LastChunkAt = &t
	}
	return &s, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*store.RecordingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM recording_sessions WHERE id = ?`, sessionID)
	return scanSQLiteSession(row)
}

func (s *SQLiteStore) AppendChunk(ctx context.Context, input store.AppendChunkInput) error {
	if len(input.Payload) == 0 {
		return fmt.Errorf("append chunk %d of session %s: empty payload", input.Sequence, input.SessionID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recording_chunks (session_id, sequence, payload, written_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, sequence)
		 DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at`,
		input.SessionID, input.Sequence, input.Payload, input.WrittenAt.UnixNano()); err != nil {
		return fmt.Errorf("insert chunk %d: %w", input.Sequence, err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE recording_sessions
		 SET next_sequence = ? + 1, last_chunk_at = ?, updated_at = ?
		 WHERE id = ? AND next_sequence = ?`,
		input.Sequence, input.WrittenAt.UnixNano(), time.Now().UnixNano(),
		input.SessionID, input.Sequence)
	if err != nil {
		return fmt.Errorf("advance next_sequence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %s is not at sequence %d", input.SessionID, input.Sequence)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk %d: %w", input.Sequence, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, input store.UpdateMetadataInput) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recording_sessions
		 SET display_name = COALESCE(?, display_name),
		     description  = COALESCE(?, description),
		     updated_at   = ?
		 WHERE id = ?`,
		input.DisplayName, input.Description, time.Now().UnixNano(), input.SessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) ReadAllChunks(ctx context.Context, sessionID string) ([][]byte, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Anything at or past next_sequence is an orphan and stays out of the
	// gap check entirely.
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, payload FROM recording_chunks
		 WHERE session_id = ? AND sequence < ? ORDER BY sequence ASC`,
		sessionID, sess.NextSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payloads := make([][]byte, 0, sess.NextSequence)
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		if seq != int64(len(payloads)) {
			return nil, fmt.Errorf("session %s sequence %d: %w", sessionID, int64(len(payloads)), store.ErrMissingChunk)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if int64(len(payloads)) < sess.NextSequence {
		return nil, fmt.Errorf("session %s sequence %d: %w", sessionID, int64(len(payloads)), store.ErrMissingChunk)
	}
	return payloads, nil
}

func (s *SQLiteStore) ListIncompleteSessions(ctx context.Context) ([]store.RecordingSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM recording_sessions
		 WHERE state NOT IN ('saved', 'discarded')
		 ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []store.RecordingSession
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *sess)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recording_chunks WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recording_sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) MarkState(ctx context.Context, sessionID string, newState store.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transition: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM recording_sessions WHERE id = ?`, sessionID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSessionNotFound
		}
		return err
	}
	if !store.CanTransition(store.SessionState(current), newState) {
		return fmt.Errorf("%s -> %s: %w", current, newState, store.ErrInvalidTransition)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recording_sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(newState), time.Now().UnixNano(), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}
