package repository

import (
	"context"

	"github.com/sakif/rstats-playground/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores execution history.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *model.Execution) error
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	ListBySession(ctx context.Context, sessionID string, opts ListOptions) ([]model.Execution, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}
