package repository

import (
	"context"

	"analytics-console/internal/mapper"
	"analytics-console/internal/repository/contract"
	"analytics-console/internal/repository/specification"
	"analytics-console/internal/repository/unitofwork"
	"analytics-console/pkg/console"
)

// SessionStore persists console records in Postgres through a unit of work.
type SessionStore struct {
	factory unitofwork.RepositoryFactory
	mapper  *mapper.ConsoleSessionMapper
}

func NewSessionStore(factory unitofwork.RepositoryFactory) *SessionStore {
	return &SessionStore{
		factory: factory,
		mapper:  mapper.NewConsoleSessionMapper(),
	}
}

var _ contract.SessionStateRepository = &SessionStore{}

func (s *SessionStore) Load(ctx context.Context, userID string) (*console.Session, error) {
	uow := s.factory.NewUnitOfWork(ctx)
	found, err := uow.ConsoleSessionRepository().FindOne(ctx, specification.ByUserID{UserID: userID})
	if err != nil {
		return nil, err
	}
	return s.mapper.ToDomain(found), nil
}

func (s *SessionStore) Save(ctx context.Context, session *console.Session) error {
	uow := s.factory.NewUnitOfWork(ctx)
	return uow.ConsoleSessionRepository().Upsert(ctx, s.mapper.FromDomain(session))
}

func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	uow := s.factory.NewUnitOfWork(ctx)
	return uow.ConsoleSessionRepository().DeleteByUserIdUnscoped(ctx, userID)
}

// Replace drops the old record and writes next in one transaction.
func (s *SessionStore) Replace(ctx context.Context, userID string, next *console.Session) error {
	uow := s.factory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	repo := uow.ConsoleSessionRepository()
	if err := repo.DeleteByUserIdUnscoped(ctx, userID); err != nil {
		return err
	}
	if err := repo.Upsert(ctx, s.mapper.FromDomain(next)); err != nil {
		return err
	}
	return uow.Commit()
}

// ListBound returns the records whose source for mode is bound.
func (s *SessionStore) ListBound(ctx context.Context, mode console.Mode, limit int) ([]*console.Session, error) {
	uow := s.factory.NewUnitOfWork(ctx)
	specs := []specification.Specification{
		specification.WithSourceBound{Mode: mode},
		specification.OrderBy{Field: "updated_at", Desc: true},
	}
	if limit > 0 {
		specs = append(specs, specification.Pagination{Limit: limit})
	}
	found, err := uow.ConsoleSessionRepository().FindAll(ctx, specs...)
	if err != nil {
		return nil, err
	}
	out := make([]*console.Session, 0, len(found))
	for _, e := range found {
		out = append(out, s.mapper.ToDomain(e))
	}
	return out, nil
}

// CountBound reports how many records have mode's source bound.
func (s *SessionStore) CountBound(ctx context.Context, mode console.Mode) (int64, error) {
	uow := s.factory.NewUnitOfWork(ctx)
	return uow.ConsoleSessionRepository().Count(ctx, specification.WithSourceBound{Mode: mode})
}
