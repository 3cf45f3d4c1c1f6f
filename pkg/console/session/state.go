package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

// Persister stores the per-user session record. Load returns nil, nil when
// nothing has been stored yet.
type Persister interface {
	Load(ctx context.Context, userID string) (*console.Session, error)
	Save(ctx context.Context, session *console.Session) error
	Delete(ctx context.Context, userID string) error
}

// Replacer is implemented by persisters that can swap a record atomically.
type Replacer interface {
	Replace(ctx context.Context, userID string, next *console.Session) error
}

// State is the in-memory session record. Every mutator applies the change and
// then writes the full record through the persister before returning.
type State struct {
	persister Persister
	logger    logger.ILogger

	mu      sync.RWMutex
	session *console.Session
	// relational and document bindings live only as long as the process
	fingerprints map[console.Mode]console.Fingerprint
}

// Load restores the record for userID, or starts an empty one.
func Load(ctx context.Context, persister Persister, userID string, lg logger.ILogger) (*State, error) {
	stored, err := persister.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session for %s: %w", userID, err)
	}

	st := &State{
		persister:    persister,
		logger:       lg,
		fingerprints: make(map[console.Mode]console.Fingerprint),
	}

	if stored == nil {
		st.session = console.NewSession(userID, identifierFor(userID))
		return st, nil
	}

	st.session = stored.Clone()
	st.session.UserID = userID
	if st.session.ID == "" {
		st.session.ID = identifierFor(userID)
	}
	if st.session.Dataset != nil && st.session.DatasetFingerprint.IsZero() {
		st.session.DatasetFingerprint = st.session.Dataset.Fingerprint()
	}
	if st.session.RelationalConnected {
		st.fingerprints[console.ModeRelational] = newBindingFingerprint("conn")
	}
	if st.session.DocumentIndexed {
		st.fingerprints[console.ModeDocument] = newBindingFingerprint("idx")
	}
	return st, nil
}

func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ID
}

func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.UserID
}

// Snapshot returns a copy of the record.
func (s *State) Snapshot() *console.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

func (s *State) SourceActive(mode console.Mode) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.SourceActive(mode)
}

// Fingerprint returns the identity of the source currently bound for mode.
func (s *State) Fingerprint(mode console.Mode) console.Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.SourceActive(mode) {
		return ""
	}
	if mode == console.ModeTabular {
		return s.session.DatasetFingerprint
	}
	return s.fingerprints[mode]
}

func (s *State) CachedSuggestions() *console.SuggestionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.CachedSuggestions.Clone()
}

// BindDataset attaches an uploaded dataset and adopts its upload session id.
// A nil meta unbinds the dataset. Either way the tabular suggestions are dropped.
func (s *State) BindDataset(ctx context.Context, meta *console.DatasetMeta) error {
	return s.mutate(ctx, "bind_dataset", func(sess *console.Session) {
		if meta == nil {
			sess.Dataset = nil
			sess.DatasetFingerprint = ""
			sess.CachedSuggestions = nil
			return
		}
		sess.Dataset = meta.Clone()
		sess.DatasetFingerprint = meta.Fingerprint()
		sess.CachedSuggestions = nil
		if meta.SessionID != "" {
			sess.ID = meta.SessionID
		}
	})
}

func (s *State) ConnectRelational(ctx context.Context) error {
	return s.mutate(ctx, "connect_relational", func(sess *console.Session) {
		sess.RelationalConnected = true
		s.fingerprints[console.ModeRelational] = newBindingFingerprint("conn")
	})
}

func (s *State) DisconnectRelational(ctx context.Context) error {
	return s.mutate(ctx, "disconnect_relational", func(sess *console.Session) {
		sess.RelationalConnected = false
		delete(s.fingerprints, console.ModeRelational)
	})
}

func (s *State) IndexDocument(ctx context.Context, present bool) error {
	return s.mutate(ctx, "index_document", func(sess *console.Session) {
		sess.DocumentIndexed = present
		if present {
			s.fingerprints[console.ModeDocument] = newBindingFingerprint("idx")
		} else {
			delete(s.fingerprints, console.ModeDocument)
		}
	})
}

// CacheSuggestions stores the tabular entry. A nil entry clears it; entries
// for other modes are not persisted.
func (s *State) CacheSuggestions(ctx context.Context, entry *console.SuggestionEntry) error {
	if entry != nil && entry.Mode != console.ModeTabular {
		return nil
	}
	return s.mutate(ctx, "cache_suggestions", func(sess *console.Session) {
		sess.CachedSuggestions = entry.Clone()
	})
}

// Reset drops the stored record and starts a new one under the user-bound
// identifier, or a generated one for anonymous users.
func (s *State) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := s.session.UserID
	next := console.NewSession(userID, identifierFor(userID))

	var err error
	if r, ok := s.persister.(Replacer); ok {
		err = r.Replace(ctx, userID, next.Clone())
	} else {
		err = s.persister.Delete(ctx, userID)
		if err == nil {
			err = s.persister.Save(ctx, next.Clone())
		}
	}

	s.session = next
	s.fingerprints = make(map[console.Mode]console.Fingerprint)

	if err != nil {
		s.logger.Error("SESSION", "Failed to persist reset", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %w", console.ErrPersist, err)
	}
	s.logger.Info("SESSION", "Session reset", map[string]interface{}{
		"user_id":    userID,
		"session_id": next.ID,
	})
	return nil
}

// mutate applies fn and writes the record while holding the lock so stored
// writes follow mutation order.
func (s *State) mutate(ctx context.Context, op string, fn func(*console.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.session)

	if err := s.persister.Save(ctx, s.session.Clone()); err != nil {
		s.logger.Error("SESSION", "Failed to persist session", map[string]interface{}{
			"op":         op,
			"user_id":    s.session.UserID,
			"session_id": s.session.ID,
			"error":      err.Error(),
		})
		return fmt.Errorf("%w: %w", console.ErrPersist, err)
	}
	return nil
}

// identifierFor reuses the user id, or mints an anonymous sess_ identifier.
func identifierFor(userID string) string {
	if userID != "" {
		return userID
	}
	return NewSessionID()
}

// NewSessionID returns "sess_" followed by nine base36 characters.
func NewSessionID() string {
	u := uuid.New()
	raw := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(raw) < 9 {
		raw = strings.Repeat("0", 9-len(raw)) + raw
	}
	return "sess_" + raw[:9]
}

func newBindingFingerprint(prefix string) console.Fingerprint {
	return console.Fingerprint(prefix + "_" + uuid.NewString())
}
