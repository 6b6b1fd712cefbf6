package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink stores call records in PostgreSQL. All methods are safe for
// concurrent use; the pool serialises nothing beyond what the queries need.
type PostgresSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink connects to the database at dsn, verifies the connection
// and runs [Migrate].
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. The readiness probe calls this.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// StartCall opens a call record and returns its ref.
func (s *PostgresSink) StartCall(ctx context.Context, info CallInfo) (Ref, error) {
	const q = `
		INSERT INTO calls (id, call_sid, caller_phone, customer_name, identified)
		VALUES ($1, $2, $3, $4, $5)`

	ref := Ref(uuid.NewString())
	_, err := s.pool.Exec(ctx, q, string(ref), info.CallID, info.CallerPhone, info.CustomerName, info.Identified)
	if err != nil {
		return NoRef, fmt.Errorf("transcript: start call: %w", err)
	}
	return ref, nil
}

// AppendMessage appends one utterance under ref.
func (s *PostgresSink) AppendMessage(ctx context.Context, ref Ref, speaker Speaker, content string) error {
	if ref == NoRef {
		return nil
	}
	const q = `
		INSERT INTO messages (call_ref, speaker, content)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, string(ref), string(speaker), content); err != nil {
		return fmt.Errorf("transcript: append message: %w", err)
	}
	return nil
}

// AppendToolCall appends one tool invocation record under ref.
func (s *PostgresSink) AppendToolCall(ctx context.Context, ref Ref, name, args, result string) error {
	if ref == NoRef {
		return nil
	}
	const q = `
		INSERT INTO tool_calls (call_ref, name, args, result)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, string(ref), name, args, result); err != nil {
		return fmt.Errorf("transcript: append tool call: %w", err)
	}
	return nil
}

// EndCall closes the call record with its duration.
func (s *PostgresSink) EndCall(ctx context.Context, ref Ref, duration time.Duration) error {
	if ref == NoRef {
		return nil
	}
	const q = `
		UPDATE calls
		SET    ended_at = now(), duration_seconds = $2
		WHERE  id = $1`

	if _, err := s.pool.Exec(ctx, q, string(ref), duration.Seconds()); err != nil {
		return fmt.Errorf("transcript: end call: %w", err)
	}
	return nil
}
