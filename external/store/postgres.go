package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) store.ChunkStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `id, context_id, state, encoding, started_at, last_chunk_at, next_sequence, display_name, description, created_at, updated_at`

func scanSession(row pgx.Row) (*store.RecordingSession, error) {
	var s store.RecordingSession
	err := row.Scan(&s.ID, &s.ContextID, &s.State, &s.Encoding, &s.StartedAt,
		&s.LastChunkAt, &s.NextSequence, &s.DisplayName, &s.Description,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, input store.CreateSessionInput) (*store.RecordingSession, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO recording_sessions (context_id, encoding, started_at, state)
		 VALUES ($1, $2, $3, 'recording')
		 RETURNING `+sessionColumns,
		input.ContextID, input.Encoding, input.StartedAt)
	return scanSession(row)
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*store.RecordingSession, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM recording_sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func (p *PostgresStore) AppendChunk(ctx context.Context, input store.AppendChunkInput) error {
	if len(input.Payload) == 0 {
		return fmt.Errorf("append chunk %d of session %s: empty payload", input.Sequence, input.SessionID)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Rows at or above next_sequence are dead data; an append may land on one
	// left behind by an interrupted run and must overwrite it.
	if _, err := tx.Exec(ctx,
		`INSERT INTO recording_chunks (session_id, sequence, payload, written_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, sequence)
		 DO UPDATE SET payload = EXCLUDED.payload, written_at = EXCLUDED.written_at`,
		input.SessionID, input.Sequence, input.Payload, input.WrittenAt); err != nil {
		return fmt.Errorf("insert chunk %d: %w", input.Sequence, err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE recording_sessions
		 SET next_sequence = $2 + 1, last_chunk_at = $3, updated_at = NOW()
		 WHERE id = $1 AND next_sequence = $2`,
		input.SessionID, input.Sequence, input.WrittenAt)
	if err != nil {
		return fmt.Errorf("advance next_sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s is not at sequence %d", input.SessionID, input.Sequence)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk %d: %w", input.Sequence, err)
	}
	return nil
}

func (p *PostgresStore) UpdateMetadata(ctx context.Context, input store.UpdateMetadataInput) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE recording_sessions
		 SET display_name = COALESCE($2, display_name),
		     description  = COALESCE($3, description),
		     updated_at   = NOW()
		 WHERE id = $1`,
		input.SessionID, input.DisplayName, input.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) ReadAllChunks(ctx context.Context, sessionID string) ([][]byte, error) {
	sess, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Chunks at or beyond next_sequence are orphans from a crash between the
	// two halves of an append; next_sequence is the source of truth.
	rows, err := p.pool.Query(ctx,
		`SELECT sequence, payload FROM recording_chunks
		 WHERE session_id = $1 AND sequence < $2 ORDER BY sequence ASC`,
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

func (p *PostgresStore) ListIncompleteSessions(ctx context.Context) ([]store.RecordingSession, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM recording_sessions
		 WHERE state NOT IN ('saved', 'discarded')
		 ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []store.RecordingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (p *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	// recording_chunks rows cascade.
	_, err := p.pool.Exec(ctx, `DELETE FROM recording_sessions WHERE id = $1`, sessionID)
	return err
}

func (p *PostgresStore) MarkState(ctx context.Context, sessionID string, newState store.SessionState) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state transition: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current store.SessionState
	err = tx.QueryRow(ctx,
		`SELECT state FROM recording_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrSessionNotFound
		}
		return err
	}
	if !store.CanTransition(current, newState) {
		return fmt.Errorf("%s -> %s: %w", current, newState, store.ErrInvalidTransition)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE recording_sessions SET state = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, newState); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
