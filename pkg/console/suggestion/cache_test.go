package suggestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

type fakeFetcher struct {
	calls   map[console.Mode]int
	prompts []string
	err     error
	// runs inside the fetch, before it returns
	during func()
}

func (f *fakeFetcher) Suggestions(ctx context.Context, sessionID string, mode console.Mode) ([]string, error) {
	if f.calls == nil {
		f.calls = map[console.Mode]int{}
	}
	f.calls[mode]++
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.prompts, nil
}

type fakeSource struct {
	active       map[console.Mode]bool
	fingerprints map[console.Mode]console.Fingerprint
	cached       *console.SuggestionEntry
	writes       int
}

func (s *fakeSource) SessionID() string { return "sess_1" }

func (s *fakeSource) SourceActive(mode console.Mode) bool { return s.active[mode] }

func (s *fakeSource) Fingerprint(mode console.Mode) console.Fingerprint { return s.fingerprints[mode] }

func (s *fakeSource) CachedSuggestions() *console.SuggestionEntry { return s.cached.Clone() }

func (s *fakeSource) CacheSuggestions(ctx context.Context, entry *console.SuggestionEntry) error {
	s.cached = entry.Clone()
	s.writes++
	return nil
}

func newSource() *fakeSource {
	return &fakeSource{
		active: map[console.Mode]bool{
			console.ModeTabular:    true,
			console.ModeRelational: true,
			console.ModeDocument:   false,
		},
		fingerprints: map[console.Mode]console.Fingerprint{
			console.ModeTabular:    "F1",
			console.ModeRelational: "conn_1",
		},
	}
}

func TestCache_TabularHitSkipsFetch(t *testing.T) {
	src := newSource()
	f := &fakeFetcher{prompts: []string{"Average price?", "Top region?"}}
	c := NewCache(f, src, logger.NewNop())

	res, err := c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFetched, res.Outcome)
	assert.Equal(t, 1, f.calls[console.ModeTabular])

	res, err = c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, res.Outcome)
	assert.Equal(t, []string{"Average price?", "Top region?"}, res.Entry.Prompts)
	assert.Equal(t, 1, f.calls[console.ModeTabular], "cache hit must not reach the backend")
}

func TestCache_NewFingerprintMisses(t *testing.T) {
	src := newSource()
	src.cached = console.NewSuggestionEntry(console.ModeTabular, "F1", []string{"old"})
	f := &fakeFetcher{prompts: []string{"new"}}
	c := NewCache(f, src, logger.NewNop())

	src.fingerprints[console.ModeTabular] = "F2"

	_, ok := c.Get(console.ModeTabular)
	assert.False(t, ok)

	res, err := c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls[console.ModeTabular])
	assert.Equal(t, []string{"new"}, res.Entry.Prompts)
	assert.Equal(t, console.Fingerprint("F2"), src.cached.Fingerprint)
}

func TestCache_ForceRefetches(t *testing.T) {
	src := newSource()
	src.cached = console.NewSuggestionEntry(console.ModeTabular, "F1", []string{"old"})
	f := &fakeFetcher{prompts: []string{"fresh"}}
	c := NewCache(f, src, logger.NewNop())

	res, err := c.Refresh(context.Background(), console.ModeTabular, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFetched, res.Outcome)
	assert.Equal(t, 1, f.calls[console.ModeTabular])
}

func TestCache_RelationalAlwaysFetches(t *testing.T) {
	src := newSource()
	f := &fakeFetcher{prompts: []string{"Count orders"}}
	c := NewCache(f, src, logger.NewNop())

	for i := 0; i < 3; i++ {
		res, err := c.Refresh(context.Background(), console.ModeRelational, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFetched, res.Outcome)
	}
	assert.Equal(t, 3, f.calls[console.ModeRelational])
	assert.Equal(t, 0, src.writes, "relational prompts are never persisted")

	entry, ok := c.Get(console.ModeRelational)
	require.True(t, ok)
	assert.Equal(t, []string{"Count orders"}, entry.Prompts)
}

func TestCache_InactiveSourceReturnsEmptyWithoutFetch(t *testing.T) {
	src := newSource()
	f := &fakeFetcher{prompts: []string{"x"}}
	c := NewCache(f, src, logger.NewNop())

	res, err := c.Refresh(context.Background(), console.ModeDocument, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInactive, res.Outcome)
	assert.Empty(t, res.Entry.Prompts)
	assert.Equal(t, 0, f.calls[console.ModeDocument])
}

func TestCache_FailureStoresSentinelAndRetries(t *testing.T) {
	src := newSource()
	f := &fakeFetcher{err: errors.New("503")}
	c := NewCache(f, src, logger.NewNop())

	res, err := c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Entry.Failed())
	assert.Equal(t, "Error loading tabular suggestions.", res.Entry.FetchError)
	require.NotNil(t, src.cached)
	assert.True(t, src.cached.Failed())

	_, ok := c.Get(console.ModeTabular)
	assert.False(t, ok, "sentinel is not a usable entry")

	f.err = nil
	f.prompts = []string{"recovered"}
	res, err = c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFetched, res.Outcome)
	assert.Equal(t, 2, f.calls[console.ModeTabular])
}

func TestCache_StaleFetchIsNotStored(t *testing.T) {
	src := newSource()
	f := &fakeFetcher{prompts: []string{"for F1"}}
	f.during = func() { src.fingerprints[console.ModeTabular] = "F2" }
	c := NewCache(f, src, logger.NewNop())

	_, err := c.Refresh(context.Background(), console.ModeTabular, false)
	require.NoError(t, err)
	assert.Nil(t, src.cached)
}

func TestCache_UnknownMode(t *testing.T) {
	c := NewCache(&fakeFetcher{}, newSource(), logger.NewNop())
	_, err := c.Refresh(context.Background(), console.Mode("graph"), false)
	assert.ErrorIs(t, err, console.ErrUnknownMode)
}
