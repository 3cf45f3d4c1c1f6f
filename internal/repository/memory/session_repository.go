package memory

import (
	"context"

	"analytics-console/internal/repository/contract"
	"analytics-console/pkg/console"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps console records in process. Records never expire;
// they live until deleted or the process exits.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

var _ contract.SessionStateRepository = &SessionRepository{}

func (r *SessionRepository) Load(ctx context.Context, userID string) (*console.Session, error) {
	if x, found := r.cache.Get(userID); found {
		return x.(*console.Session).Clone(), nil
	}
	return nil, nil
}

func (r *SessionRepository) Save(ctx context.Context, session *console.Session) error {
	r.cache.Set(session.UserID, session.Clone(), cache.NoExpiration)
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, userID string) error {
	r.cache.Delete(userID)
	return nil
}

// Count reports how many users hold a record.
func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
