package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

type memPersister struct {
	mu      sync.Mutex
	records map[string]*console.Session
	saves   []*console.Session
	saveErr error
}

func newMemPersister() *memPersister {
	return &memPersister{records: map[string]*console.Session{}}
}

func (p *memPersister) Load(ctx context.Context, userID string) (*console.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[userID].Clone(), nil
}

func (p *memPersister) Save(ctx context.Context, s *console.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.records[s.UserID] = s.Clone()
	p.saves = append(p.saves, s.Clone())
	return nil
}

func (p *memPersister) Delete(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, userID)
	return nil
}

func (p *memPersister) stored(userID string) *console.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[userID].Clone()
}

func sampleMeta() *console.DatasetMeta {
	return &console.DatasetMeta{
		Filename:    "sales.csv",
		SessionID:   "up_123",
		TotalRows:   10,
		Columns:     []string{"region", "price"},
		NumericCols: []string{"price"},
	}
}

func TestLoad_AbsentRecordIsEmpty(t *testing.T) {
	st, err := Load(context.Background(), newMemPersister(), "user_1", logger.NewNop())
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Equal(t, "user_1", snap.ID)
	assert.Empty(t, snap.ActiveSources())
	assert.Nil(t, snap.CachedSuggestions)
}

func TestLoad_RestoresPersistedFields(t *testing.T) {
	p := newMemPersister()
	meta := sampleMeta()
	p.records["user_1"] = &console.Session{
		ID:                  "up_123",
		UserID:              "user_1",
		Dataset:             meta,
		DatasetFingerprint:  meta.Fingerprint(),
		RelationalConnected: true,
		CachedSuggestions:   console.NewSuggestionEntry(console.ModeTabular, meta.Fingerprint(), []string{"a"}),
	}

	st, err := Load(context.Background(), p, "user_1", logger.NewNop())
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Equal(t, "up_123", snap.ID)
	assert.Equal(t, meta.Fingerprint(), st.Fingerprint(console.ModeTabular))
	assert.True(t, st.SourceActive(console.ModeRelational))
	assert.False(t, st.Fingerprint(console.ModeRelational).IsZero())
	assert.False(t, st.SourceActive(console.ModeDocument))
	assert.True(t, snap.CachedSuggestions.UsableFor(console.ModeTabular, meta.Fingerprint()))
}

func TestState_WritesAfterEveryMutation(t *testing.T) {
	p := newMemPersister()
	st, err := Load(context.Background(), p, "user_1", logger.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.BindDataset(ctx, sampleMeta()))
	require.NoError(t, st.ConnectRelational(ctx))
	require.NoError(t, st.IndexDocument(ctx, true))
	require.NoError(t, st.CacheSuggestions(ctx, console.NewSuggestionEntry(console.ModeTabular, st.Fingerprint(console.ModeTabular), []string{"q"})))
	require.NoError(t, st.DisconnectRelational(ctx))

	require.Len(t, p.saves, 5)
	assert.NotNil(t, p.saves[0].Dataset)
	assert.Equal(t, "up_123", p.saves[0].ID)
	assert.True(t, p.saves[1].RelationalConnected)
	assert.True(t, p.saves[2].DocumentIndexed)
	assert.NotNil(t, p.saves[3].CachedSuggestions)
	assert.False(t, p.saves[4].RelationalConnected)

	// each write reflects everything applied before it
	assert.Equal(t, st.Snapshot(), p.stored("user_1"))
}

func TestState_NonTabularSuggestionsNotPersisted(t *testing.T) {
	p := newMemPersister()
	st, _ := Load(context.Background(), p, "user_1", logger.NewNop())

	err := st.CacheSuggestions(context.Background(), console.NewSuggestionEntry(console.ModeRelational, "c", []string{"x"}))
	require.NoError(t, err)
	assert.Empty(t, p.saves)
}

func TestState_FingerprintRules(t *testing.T) {
	st, _ := Load(context.Background(), newMemPersister(), "user_1", logger.NewNop())
	ctx := context.Background()

	assert.True(t, st.Fingerprint(console.ModeTabular).IsZero())

	require.NoError(t, st.BindDataset(ctx, sampleMeta()))
	f1 := st.Fingerprint(console.ModeTabular)
	require.NoError(t, st.BindDataset(ctx, sampleMeta()))
	assert.Equal(t, f1, st.Fingerprint(console.ModeTabular), "same upload identity, same fingerprint")

	other := sampleMeta()
	other.SessionID = "up_456"
	require.NoError(t, st.BindDataset(ctx, other))
	assert.NotEqual(t, f1, st.Fingerprint(console.ModeTabular))

	require.NoError(t, st.ConnectRelational(ctx))
	c1 := st.Fingerprint(console.ModeRelational)
	require.NoError(t, st.ConnectRelational(ctx))
	assert.NotEqual(t, c1, st.Fingerprint(console.ModeRelational), "every connect is a new binding")
}

func TestState_UnbindDatasetClearsSuggestions(t *testing.T) {
	st, _ := Load(context.Background(), newMemPersister(), "user_1", logger.NewNop())
	ctx := context.Background()
	require.NoError(t, st.BindDataset(ctx, sampleMeta()))
	require.NoError(t, st.CacheSuggestions(ctx, console.NewSuggestionEntry(console.ModeTabular, st.Fingerprint(console.ModeTabular), []string{"q"})))

	require.NoError(t, st.BindDataset(ctx, nil))
	assert.False(t, st.SourceActive(console.ModeTabular))
	assert.Nil(t, st.CachedSuggestions())
}

func TestState_Reset(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		check  func(t *testing.T, id string)
	}{
		{
			name:   "signed-in user keeps their id",
			userID: "user_1",
			check:  func(t *testing.T, id string) { assert.Equal(t, "user_1", id) },
		},
		{
			name:   "anonymous session gets a generated id",
			userID: "",
			check: func(t *testing.T, id string) {
				assert.Regexp(t, regexp.MustCompile(`^sess_[0-9a-z]{9}$`), id)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMemPersister()
			st, _ := Load(context.Background(), p, tt.userID, logger.NewNop())
			ctx := context.Background()
			require.NoError(t, st.BindDataset(ctx, sampleMeta()))
			require.NoError(t, st.ConnectRelational(ctx))

			require.NoError(t, st.Reset(ctx))

			snap := st.Snapshot()
			tt.check(t, snap.ID)
			assert.Empty(t, snap.ActiveSources())
			assert.True(t, st.Fingerprint(console.ModeRelational).IsZero())

			stored := p.stored(tt.userID)
			require.NotNil(t, stored)
			assert.Nil(t, stored.Dataset)
			assert.False(t, stored.RelationalConnected)
		})
	}
}

func TestState_PersistFailureIsReported(t *testing.T) {
	p := newMemPersister()
	st, _ := Load(context.Background(), p, "user_1", logger.NewNop())
	p.saveErr = errors.New("disk full")

	err := st.ConnectRelational(context.Background())
	assert.ErrorIs(t, err, console.ErrPersist)
	// the in-memory change still applies
	assert.True(t, st.SourceActive(console.ModeRelational))
}
