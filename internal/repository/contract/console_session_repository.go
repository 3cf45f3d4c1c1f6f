package contract

import (
	"context"

	"analytics-console/internal/entity"
	"analytics-console/internal/repository/specification"
	"analytics-console/pkg/console"
)

type ConsoleSessionRepository interface {
	Upsert(ctx context.Context, session *entity.ConsoleSession) error
	DeleteByUserIdUnscoped(ctx context.Context, userId string) error // Hard delete
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ConsoleSession, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConsoleSession, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}

// SessionStateRepository persists the per-user console record. Load returns
// nil, nil when the user has no record.
type SessionStateRepository interface {
	Load(ctx context.Context, userID string) (*console.Session, error)
	Save(ctx context.Context, session *console.Session) error
	Delete(ctx context.Context, userID string) error
}
