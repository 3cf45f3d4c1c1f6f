package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/conversation"
	"analytics-console/pkg/console/selection"
	"analytics-console/pkg/console/stream"
	"analytics-console/pkg/console/suggestion"
)

// Backend is every analytics route a workspace calls.
type Backend interface {
	stream.QueryClient
	suggestion.Fetcher
	selection.ExportClient
	UploadDataset(ctx context.Context, filename string, r io.Reader) (*console.DatasetMeta, error)
	ConnectRelational(ctx context.Context, sessionID, connectionString string) error
	IndexDocument(ctx context.Context, sessionID, filename string, r io.Reader) error
	Pin(ctx context.Context, sessionID string, pin console.Pin) error
	Report(ctx context.Context, source, sourceID string) ([]byte, error)
}

// Update is a conversation mutation as seen by live subscribers. Background
// marks updates to a mode that is not the one on display.
type Update struct {
	Mode       console.Mode    `json:"mode"`
	Op         conversation.Op `json:"op"`
	Message    console.Message `json:"message"`
	Background bool            `json:"background"`
}

type Options struct {
	StreamTimeout time.Duration
	OnUpdate      func(Update)
	OnTurn        func(stream.Result)
}

type Snapshot struct {
	Session          *console.Session
	ActiveMode       console.Mode
	InFlight         map[console.Mode]bool
	MessageCounts    map[console.Mode]int
	SelectionEnabled bool
	Selected         []int
}

type Report struct {
	Source string
	Data   []byte
}

// Workspace is one user's console: the session record plus the conversation,
// streaming, suggestion and selection components bound to it.
type Workspace struct {
	backend Backend
	state   *State
	logger  logger.ILogger
	opts    Options

	modeMu sync.RWMutex
	active console.Mode

	mu            sync.RWMutex
	conversations *conversation.Store
	assembler     *stream.Assembler
	selection     *selection.Exporter
	suggestions   *suggestion.Cache
	turnCtx       context.Context
	cancelTurns   context.CancelFunc
}

func NewWorkspace(state *State, backend Backend, lg logger.ILogger, opts Options) *Workspace {
	w := &Workspace{
		backend: backend,
		state:   state,
		logger:  lg,
		opts:    opts,
		active:  console.ModeTabular,
	}
	if sources := state.Snapshot().ActiveSources(); len(sources) > 0 {
		w.active = sources[0]
	}
	w.rebuild()
	return w
}

// rebuild starts a fresh set of components. Callers hold w.mu or own w exclusively.
func (w *Workspace) rebuild() {
	w.turnCtx, w.cancelTurns = context.WithCancel(context.Background())
	w.conversations = conversation.NewStore(w.observe)

	opts := []stream.Option{stream.WithTimeout(w.opts.StreamTimeout)}
	if w.opts.OnTurn != nil {
		opts = append(opts, stream.WithCompletionHook(w.opts.OnTurn))
	}
	w.assembler = stream.NewAssembler(w.backend, w.conversations, stream.NewInFlight(), w.logger, opts...)
	w.selection = selection.NewExporter(w.backend, w.conversations, w.ActiveMode(), w.logger)
	w.suggestions = suggestion.NewCache(w.backend, w.state, w.logger)
}

func (w *Workspace) observe(u conversation.Update) {
	if w.opts.OnUpdate == nil {
		return
	}
	w.opts.OnUpdate(Update{
		Mode:       u.Mode,
		Op:         u.Op,
		Message:    u.Message,
		Background: u.Mode != w.ActiveMode(),
	})
}

func (w *Workspace) State() *State {
	return w.state
}

func (w *Workspace) ActiveMode() console.Mode {
	w.modeMu.RLock()
	defer w.modeMu.RUnlock()
	return w.active
}

// SetActiveMode displays mode. Its source must be bound. Leaving a mode never
// cancels its open turn.
func (w *Workspace) SetActiveMode(mode console.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", console.ErrUnknownMode, mode)
	}
	if !w.state.SourceActive(mode) {
		return fmt.Errorf("%w: %s", console.ErrSourceInactive, mode)
	}
	w.setActive(mode)
	return nil
}

func (w *Workspace) setActive(mode console.Mode) {
	w.modeMu.Lock()
	w.active = mode
	w.modeMu.Unlock()

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.selection.SetMode(mode)
}

// settleActiveMode moves off a mode whose source went away.
func (w *Workspace) settleActiveMode() {
	if w.state.SourceActive(w.ActiveMode()) {
		return
	}
	for _, m := range console.Modes {
		if w.state.SourceActive(m) {
			w.setActive(m)
			return
		}
	}
}

// =============================================================================
// SOURCES
// =============================================================================

func (w *Workspace) UploadDataset(ctx context.Context, filename string, r io.Reader) (*console.DatasetMeta, error) {
	meta, err := w.backend.UploadDataset(ctx, filename, r)
	if err != nil {
		return nil, err
	}
	if err := w.state.BindDataset(ctx, meta); err != nil {
		return nil, err
	}
	w.settleActiveMode()
	return meta, nil
}

func (w *Workspace) RemoveDataset(ctx context.Context) error {
	if err := w.state.BindDataset(ctx, nil); err != nil {
		return err
	}
	w.settleActiveMode()
	return nil
}

func (w *Workspace) ConnectRelational(ctx context.Context, connectionString string) error {
	if err := w.backend.ConnectRelational(ctx, w.state.SessionID(), connectionString); err != nil {
		return err
	}
	if err := w.state.ConnectRelational(ctx); err != nil {
		return err
	}
	w.settleActiveMode()
	return nil
}

func (w *Workspace) DisconnectRelational(ctx context.Context) error {
	if err := w.state.DisconnectRelational(ctx); err != nil {
		return err
	}
	w.components().suggestions.Forget(console.ModeRelational)
	w.settleActiveMode()
	return nil
}

func (w *Workspace) IndexDocument(ctx context.Context, filename string, r io.Reader) error {
	if err := w.backend.IndexDocument(ctx, w.state.SessionID(), filename, r); err != nil {
		return err
	}
	if err := w.state.IndexDocument(ctx, true); err != nil {
		return err
	}
	w.settleActiveMode()
	return nil
}

func (w *Workspace) RemoveDocument(ctx context.Context) error {
	if err := w.state.IndexDocument(ctx, false); err != nil {
		return err
	}
	w.components().suggestions.Forget(console.ModeDocument)
	w.settleActiveMode()
	return nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Send opens a turn in mode and runs it in the background. The turn outlives
// the caller's context and is only cancelled by Reset or Close.
func (w *Workspace) Send(mode console.Mode, query string) (*stream.Turn, error) {
	if !w.state.SourceActive(mode) {
		return nil, fmt.Errorf("%w: %s", console.ErrSourceInactive, mode)
	}
	c := w.components()
	return c.assembler.Start(c.turnCtx, stream.Request{
		SessionID: w.state.SessionID(),
		Mode:      mode,
		Query:     query,
	})
}

func (w *Workspace) Messages(mode console.Mode) []console.Message {
	return w.components().conversations.Get(mode)
}

func (w *Workspace) Suggestions(ctx context.Context, mode console.Mode, force bool) (suggestion.Result, error) {
	return w.components().suggestions.Refresh(ctx, mode, force)
}

// =============================================================================
// SELECTION
// =============================================================================

func (w *Workspace) SetSelectionMode(enabled bool) {
	w.components().selection.SetSelectionMode(enabled)
}

func (w *Workspace) ToggleSelection(ordinal int) (bool, error) {
	return w.components().selection.Toggle(ordinal)
}

func (w *Workspace) ExportSelection(ctx context.Context) (*selection.Artifact, error) {
	return w.components().selection.Export(ctx, w.state.SessionID())
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Pin sends the assistant message at ordinal to the dashboard.
func (w *Workspace) Pin(ctx context.Context, mode console.Mode, ordinal int) (console.Pin, error) {
	msg, ok := w.components().conversations.Message(mode, ordinal)
	if !ok {
		return console.Pin{}, fmt.Errorf("%w: %d", console.ErrIndexOutOfRange, ordinal)
	}
	pin, err := console.PinFor(msg)
	if err != nil {
		return console.Pin{}, err
	}
	if err := w.backend.Pin(ctx, w.state.SessionID(), pin); err != nil {
		return console.Pin{}, err
	}
	return pin, nil
}

// Report fetches the full data report of the first bound source.
func (w *Workspace) Report(ctx context.Context) (*Report, error) {
	snap := w.state.Snapshot()
	sources := snap.ActiveSources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no source bound", console.ErrSourceInactive)
	}

	mode := sources[0]
	sourceID := snap.ID
	if mode == console.ModeTabular && snap.Dataset.SessionID != "" {
		sourceID = snap.Dataset.SessionID
	}

	data, err := w.backend.Report(ctx, mode.ReportSource(), sourceID)
	if err != nil {
		return nil, err
	}
	return &Report{Source: mode.ReportSource(), Data: data}, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Reset cancels open turns, clears every conversation and starts a new
// session record.
func (w *Workspace) Reset(ctx context.Context) error {
	w.mu.Lock()
	w.cancelTurns()
	w.conversations.Detach()
	err := w.state.Reset(ctx)

	w.modeMu.Lock()
	w.active = console.ModeTabular
	w.modeMu.Unlock()

	w.rebuild()
	w.mu.Unlock()
	return err
}

// Busy reports whether any mode has an open turn.
func (w *Workspace) Busy() bool {
	for _, open := range w.components().assembler.InFlight().Snapshot() {
		if open {
			return true
		}
	}
	return false
}

// Close stops open turns and silences live updates.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTurns()
	w.conversations.Detach()
}

func (w *Workspace) Snapshot() Snapshot {
	c := w.components()
	return Snapshot{
		Session:          w.state.Snapshot(),
		ActiveMode:       w.ActiveMode(),
		InFlight:         c.assembler.InFlight().Snapshot(),
		MessageCounts:    c.conversations.Counts(),
		SelectionEnabled: c.selection.Enabled(),
		Selected:         c.selection.Selected(),
	}
}

type components struct {
	conversations *conversation.Store
	assembler     *stream.Assembler
	selection     *selection.Exporter
	suggestions   *suggestion.Cache
	turnCtx       context.Context
}

func (w *Workspace) components() components {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return components{
		conversations: w.conversations,
		assembler:     w.assembler,
		selection:     w.selection,
		suggestions:   w.suggestions,
		turnCtx:       w.turnCtx,
	}
}
