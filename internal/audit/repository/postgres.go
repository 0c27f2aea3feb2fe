package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit event repository backed by the
// given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const insertEventSQL = `
INSERT INTO audit_events
	(id, correlation_id, user_id, broker_type, session_id, action, outcome, source_ip, risk_score, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectEventSQL = `
SELECT id, correlation_id, user_id, broker_type, session_id, action, outcome, source_ip, risk_score, detail, created_at
FROM audit_events`

// Create persists the event. The event must have ID and CreatedAt set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.pool.Exec(ctx, insertEventSQL,
		e.ID, e.CorrelationID, e.UserID, e.BrokerType, e.SessionID,
		e.Action, e.Outcome, e.SourceIP, e.RiskScore, e.Detail, e.CreatedAt)
	return err
}

// GetByID returns the event for id, or nil if not found. It returns an error
// only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	row := r.pool.QueryRow(ctx, selectEventSQL+" WHERE id = $1", id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByUser returns events for the given user, newest first, paginated by
// limit and offset.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, selectEventSQL+" WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.CorrelationID, &e.UserID, &e.BrokerType, &e.SessionID,
		&e.Action, &e.Outcome, &e.SourceIP, &e.RiskScore, &e.Detail, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
