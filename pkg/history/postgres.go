// Package history persists finished call sessions.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/birddigital/intercom-gatekeeper/pkg/telephony"
)

// Postgres writes finished call sessions to a call_log table.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pool to the given DSN and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the call_log table if it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS call_log (
			id UUID PRIMARY KEY,
			seq BIGINT NOT NULL,
			caller_id TEXT NOT NULL,
			normalized TEXT NOT NULL,
			state TEXT NOT NULL,
			is_valid BOOLEAN NOT NULL,
			matched_pattern TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			answered_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		)`

	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create call_log table: %w", err)
	}
	return nil
}

// RecordCall inserts one finished session into the call log.
func (p *Postgres) RecordCall(ctx context.Context, s *telephony.CallSession) error {
	query := `
		INSERT INTO call_log (
			id, seq, caller_id, normalized, state,
			is_valid, matched_pattern, started_at, answered_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := p.pool.Exec(ctx, query,
		s.ID,
		int64(s.Seq),
		s.CallerID,
		s.Normalized,
		string(s.State),
		s.IsValid,
		s.MatchedPattern,
		s.StartedAt,
		s.AnsweredAt,
		s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call log row: %w", err)
	}

	p.logger.Debug("call logged", zap.String("id", s.ID.String()))
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
