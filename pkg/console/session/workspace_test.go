package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/suggestion"
)

type fakeBackend struct {
	mu              sync.Mutex
	suggestionCalls map[console.Mode]int
	replies         map[console.Mode]string
	gates           map[console.Mode]chan struct{}
	pins            []console.Pin
	exported        []console.Message
	reportSource    string
	reportID        string
	connectErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		suggestionCalls: map[console.Mode]int{},
		replies: map[console.Mode]string{
			console.ModeTabular:    "Average price is 4.2",
			console.ModeRelational: `{"role":"assistant","content":"{\"x\":[\"n\",\"s\"],\"y\":[3,5],\"title\":\"Orders\"}"}`,
			console.ModeDocument:   `{"role":"assistant","content":"Refunds take 14 days."}`,
		},
		gates: map[console.Mode]chan struct{}{},
	}
}

type gatedReader struct {
	gate chan struct{}
	r    io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.gate != nil {
		<-g.gate
		g.gate = nil
	}
	return g.r.Read(p)
}

func (g *gatedReader) Close() error { return nil }

func (b *fakeBackend) Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &gatedReader{gate: b.gates[mode], r: strings.NewReader(b.replies[mode])}, nil
}

func (b *fakeBackend) Suggestions(ctx context.Context, sessionID string, mode console.Mode) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suggestionCalls[mode]++
	return []string{string(mode) + " starter"}, nil
}

func (b *fakeBackend) Export(ctx context.Context, sessionID string, messages []console.Message) ([]byte, error) {
	b.exported = messages
	return []byte("%PDF"), nil
}

func (b *fakeBackend) UploadDataset(ctx context.Context, filename string, r io.Reader) (*console.DatasetMeta, error) {
	return &console.DatasetMeta{Filename: filename, SessionID: "up_" + filename, Columns: []string{"price"}}, nil
}

func (b *fakeBackend) ConnectRelational(ctx context.Context, sessionID, connectionString string) error {
	return b.connectErr
}

func (b *fakeBackend) IndexDocument(ctx context.Context, sessionID, filename string, r io.Reader) error {
	return nil
}

func (b *fakeBackend) Pin(ctx context.Context, sessionID string, pin console.Pin) error {
	b.pins = append(b.pins, pin)
	return nil
}

func (b *fakeBackend) Report(ctx context.Context, source, sourceID string) ([]byte, error) {
	b.reportSource, b.reportID = source, sourceID
	return []byte("%PDF"), nil
}

func (b *fakeBackend) calls(mode console.Mode) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suggestionCalls[mode]
}

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (u *updateLog) add(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, up)
}

func (u *updateLog) all() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update(nil), u.updates...)
}

func newWorkspace(t *testing.T, backend *fakeBackend, updates *updateLog) (*Workspace, *memPersister) {
	t.Helper()
	p := newMemPersister()
	st, err := Load(context.Background(), p, "user_1", logger.NewNop())
	require.NoError(t, err)
	opts := Options{}
	if updates != nil {
		opts.OnUpdate = updates.add
	}
	return NewWorkspace(st, backend, logger.NewNop(), opts), p
}

func TestWorkspace_EndToEndSuggestionFlow(t *testing.T) {
	backend := newFakeBackend()
	w, p := newWorkspace(t, backend, nil)
	ctx := context.Background()

	meta, err := w.UploadDataset(ctx, "sales.csv", strings.NewReader("price\n1"))
	require.NoError(t, err)
	f1 := w.State().Fingerprint(console.ModeTabular)
	assert.Equal(t, meta.Fingerprint(), f1)

	res, err := w.Suggestions(ctx, console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, suggestion.OutcomeFetched, res.Outcome)
	require.NotNil(t, p.stored("user_1").CachedSuggestions)
	assert.Equal(t, f1, p.stored("user_1").CachedSuggestions.Fingerprint)

	res, err = w.Suggestions(ctx, console.ModeTabular, false)
	require.NoError(t, err)
	assert.Equal(t, suggestion.OutcomeHit, res.Outcome)
	assert.Equal(t, 1, backend.calls(console.ModeTabular))

	require.NoError(t, w.ConnectRelational(ctx, "postgres://x"))
	require.NoError(t, w.SetActiveMode(console.ModeRelational))
	for i := 0; i < 2; i++ {
		res, err = w.Suggestions(ctx, console.ModeRelational, false)
		require.NoError(t, err)
		assert.Equal(t, suggestion.OutcomeFetched, res.Outcome)
	}
	assert.Equal(t, 2, backend.calls(console.ModeRelational))
}

func TestWorkspace_BackgroundTurnLandsInItsMode(t *testing.T) {
	backend := newFakeBackend()
	gate := make(chan struct{})
	backend.gates[console.ModeRelational] = gate
	updates := &updateLog{}
	w, _ := newWorkspace(t, backend, updates)
	ctx := context.Background()

	_, err := w.UploadDataset(ctx, "sales.csv", strings.NewReader(""))
	require.NoError(t, err)
	require.NoError(t, w.ConnectRelational(ctx, "postgres://x"))
	require.NoError(t, w.SetActiveMode(console.ModeRelational))

	turn, err := w.Send(console.ModeRelational, "orders by state")
	require.NoError(t, err)

	_, err = w.Send(console.ModeRelational, "again")
	assert.ErrorIs(t, err, console.ErrTurnInFlight)
	assert.True(t, w.Busy())

	// switch away while the relational turn is still open
	require.NoError(t, w.SetActiveMode(console.ModeTabular))
	tab, err := w.Send(console.ModeTabular, "avg price")
	require.NoError(t, err)
	<-tab.Done()

	close(gate)
	res := turn.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, console.KindChart, res.Content.Kind)
	assert.False(t, w.Busy())

	rel := w.Messages(console.ModeRelational)
	require.Len(t, rel, 2)
	assert.Equal(t, "Orders", rel[1].Content.Chart.Title)
	tabLog := w.Messages(console.ModeTabular)
	require.Len(t, tabLog, 2)
	assert.Equal(t, "Average price is 4.2", tabLog[1].Content.Text)

	ups := updates.all()
	last := ups[len(ups)-1]
	assert.Equal(t, console.ModeRelational, last.Mode)
	assert.True(t, last.Background)
}

func TestWorkspace_SendRequiresBoundSource(t *testing.T) {
	w, _ := newWorkspace(t, newFakeBackend(), nil)
	_, err := w.Send(console.ModeDocument, "hello")
	assert.ErrorIs(t, err, console.ErrSourceInactive)
	assert.Empty(t, w.Messages(console.ModeDocument))
}

func TestWorkspace_SetActiveModeClearsSelection(t *testing.T) {
	backend := newFakeBackend()
	w, _ := newWorkspace(t, backend, nil)
	ctx := context.Background()
	_, _ = w.UploadDataset(ctx, "a.csv", strings.NewReader(""))
	require.NoError(t, w.IndexDocument(ctx, "doc.pdf", strings.NewReader("")))

	turn, err := w.Send(console.ModeTabular, "q")
	require.NoError(t, err)
	<-turn.Done()

	w.SetSelectionMode(true)
	_, err = w.ToggleSelection(1)
	require.NoError(t, err)

	require.NoError(t, w.SetActiveMode(console.ModeDocument))
	snap := w.Snapshot()
	assert.False(t, snap.SelectionEnabled)
	assert.Empty(t, snap.Selected)
}

func TestWorkspace_ExportSelection(t *testing.T) {
	backend := newFakeBackend()
	w, _ := newWorkspace(t, backend, nil)
	ctx := context.Background()
	_, _ = w.UploadDataset(ctx, "a.csv", strings.NewReader(""))

	for _, q := range []string{"q1", "q2"} {
		turn, err := w.Send(console.ModeTabular, q)
		require.NoError(t, err)
		<-turn.Done()
	}

	w.SetSelectionMode(true)
	_, _ = w.ToggleSelection(3)
	_, _ = w.ToggleSelection(1)

	artifact, err := w.ExportSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, artifact.Ordinals)
	require.Len(t, backend.exported, 2)
	assert.Equal(t, console.RoleAssistant, backend.exported[0].Role)
	assert.False(t, w.Snapshot().SelectionEnabled)
}

func TestWorkspace_PinAndReport(t *testing.T) {
	backend := newFakeBackend()
	w, _ := newWorkspace(t, backend, nil)
	ctx := context.Background()
	_, _ = w.UploadDataset(ctx, "sales.csv", strings.NewReader(""))

	turn, err := w.Send(console.ModeTabular, "q")
	require.NoError(t, err)
	<-turn.Done()

	_, err = w.Pin(ctx, console.ModeTabular, 0)
	assert.ErrorIs(t, err, console.ErrNotPinnable)

	pin, err := w.Pin(ctx, console.ModeTabular, 1)
	require.NoError(t, err)
	assert.Equal(t, "text", pin.ChartType)
	assert.Equal(t, "Average price is 4.2...", pin.Title)
	require.Len(t, backend.pins, 1)

	report, err := w.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CSV", report.Source)
	assert.Equal(t, "CSV", backend.reportSource)
	assert.Equal(t, "up_sales.csv", backend.reportID)
}

func TestWorkspace_ResetClearsEverything(t *testing.T) {
	backend := newFakeBackend()
	updates := &updateLog{}
	w, p := newWorkspace(t, backend, updates)
	ctx := context.Background()
	_, _ = w.UploadDataset(ctx, "sales.csv", strings.NewReader(""))
	turn, err := w.Send(console.ModeTabular, "q")
	require.NoError(t, err)
	<-turn.Done()

	require.NoError(t, w.Reset(ctx))

	for _, m := range console.Modes {
		assert.Empty(t, w.Messages(m))
	}
	snap := w.Snapshot()
	assert.Equal(t, "user_1", snap.Session.ID)
	assert.Empty(t, snap.Session.ActiveSources())
	assert.Equal(t, console.ModeTabular, snap.ActiveMode)
	assert.Nil(t, p.stored("user_1").Dataset)
}

func TestWorkspace_ConnectFailureLeavesSourceUnbound(t *testing.T) {
	backend := newFakeBackend()
	backend.connectErr = errors.New("refused")
	w, p := newWorkspace(t, backend, nil)

	err := w.ConnectRelational(context.Background(), "postgres://bad")
	require.Error(t, err)
	assert.False(t, w.State().SourceActive(console.ModeRelational))
	assert.Empty(t, p.saves)
}
