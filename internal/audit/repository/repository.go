package repository

import (
	"context"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/domain"
)

// Repository defines persistence for audit events.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error)
	Create(ctx context.Context, e *domain.Event) error
}
