package unitofwork

import (
	"context"

	"analytics-console/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ConsoleSessionRepository() contract.ConsoleSessionRepository
}
