package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"analytics-console/internal/constant"
	"analytics-console/internal/dto"
	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/archive"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/session"
	"analytics-console/pkg/console/stream"
	"analytics-console/pkg/console/suggestion"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultWorkspaceCapacity = 512

type IConsoleService interface {
	GetSession(ctx context.Context, userId string) (*dto.SessionResponse, error)
	UploadDataset(ctx context.Context, userId, filename string, r io.Reader) (*dto.SessionResponse, error)
	RemoveDataset(ctx context.Context, userId string) (*dto.SessionResponse, error)
	ConnectRelational(ctx context.Context, userId string, req *dto.ConnectRelationalRequest) (*dto.SessionResponse, error)
	DisconnectRelational(ctx context.Context, userId string) (*dto.SessionResponse, error)
	IndexDocument(ctx context.Context, userId, filename string, r io.Reader) (*dto.SessionResponse, error)
	RemoveDocument(ctx context.Context, userId string) (*dto.SessionResponse, error)
	Reset(ctx context.Context, userId string) (*dto.SessionResponse, error)
	SetMode(ctx context.Context, userId string, req *dto.SetModeRequest) (*dto.SessionResponse, error)

	GetConversation(ctx context.Context, userId, mode string) (*dto.ConversationResponse, error)
	SendQuery(ctx context.Context, userId, mode string, req *dto.SendQueryRequest) (*dto.SendQueryResponse, error)
	GetSuggestions(ctx context.Context, userId, mode string, force bool) (*dto.SuggestionsResponse, error)

	SetSelection(ctx context.Context, userId string, req *dto.SetSelectionRequest) (*dto.SelectionResponse, error)
	ToggleSelection(ctx context.Context, userId string, ordinal int) (*dto.ToggleSelectionResponse, error)
	ExportSelection(ctx context.Context, userId string) (*dto.ExportResult, error)

	PinMessage(ctx context.Context, userId, mode string, ordinal int) (*dto.PinResponse, error)
	GetReport(ctx context.Context, userId string) (*dto.ReportResult, error)

	Close()
}

type ConsoleServiceConfig struct {
	WorkspaceCapacity int
	StreamTimeout     time.Duration
}

type consoleService struct {
	persister session.Persister
	backend   session.Backend
	archive   archive.Archive
	events    EventPublisher
	forwarder IUpdateForwarder
	logger    logger.ILogger
	cfg       ConsoleServiceConfig

	// mu guards the registry, parked and every workspaceEntry field.
	mu         sync.Mutex
	workspaces *lru.Cache[string, *workspaceEntry]
	parked     map[string]*workspaceEntry
}

// workspaceEntry is a loaded workspace plus the requests using it. An
// evicted entry is parked until it is idle, then closed.
type workspaceEntry struct {
	ws      *session.Workspace
	users   int
	evicted bool
	closed  bool
}

func NewConsoleService(
	persister session.Persister,
	backend session.Backend,
	archiveStore archive.Archive,
	events EventPublisher,
	forwarder IUpdateForwarder,
	logger logger.ILogger,
	cfg ConsoleServiceConfig,
) (IConsoleService, error) {
	if cfg.WorkspaceCapacity <= 0 {
		cfg.WorkspaceCapacity = defaultWorkspaceCapacity
	}
	if archiveStore == nil {
		archiveStore = archive.Nop{}
	}

	s := &consoleService{
		persister: persister,
		backend:   backend,
		archive:   archiveStore,
		events:    events,
		forwarder: forwarder,
		logger:    logger,
		cfg:       cfg,
		parked:    make(map[string]*workspaceEntry),
	}

	workspaces, err := lru.NewWithEvict[string, *workspaceEntry](cfg.WorkspaceCapacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("init workspace registry: %w", err)
	}
	s.workspaces = workspaces
	return s, nil
}

// workspace returns the user's workspace and a release func the caller must
// defer. A parked workspace is adopted back, so one user never has two.
func (s *consoleService) workspace(ctx context.Context, userId string) (*session.Workspace, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.workspaces.Get(userId)
	if !ok {
		if parked, found := s.parked[userId]; found {
			delete(s.parked, userId)
			parked.evicted = false
			entry = parked
		} else {
			loaded, err := s.load(ctx, userId)
			if err != nil {
				return nil, nil, err
			}
			entry = loaded
		}
		s.workspaces.Add(userId, entry)
	}

	entry.users++
	return entry.ws, func() { s.release(userId, entry) }, nil
}

// load builds a workspace from the persisted record. s.mu must be held.
func (s *consoleService) load(ctx context.Context, userId string) (*workspaceEntry, error) {
	state, err := session.Load(ctx, s.persister, userId, s.logger)
	if err != nil {
		s.logger.Error(constant.ModuleConsole, "Failed to load session", map[string]interface{}{"user_id": userId, "error": err.Error()})
		return nil, err
	}

	entry := &workspaceEntry{}
	entry.ws = session.NewWorkspace(state, s.backend, s.logger, session.Options{
		StreamTimeout: s.cfg.StreamTimeout,
		OnUpdate: func(u session.Update) {
			if s.forwarder != nil {
				s.forwarder.Forward(userId, u)
			}
		},
		OnTurn: func(res stream.Result) {
			s.events.PublishTurn(context.Background(), userId, res.SessionID, res)
			s.mu.Lock()
			defer s.mu.Unlock()
			s.retireIfIdle(userId, entry)
		},
	})
	return entry, nil
}

func (s *consoleService) release(userId string, entry *workspaceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.users--
	s.retireIfIdle(userId, entry)
}

// onEvict runs inside registry calls, which are all made with s.mu held.
func (s *consoleService) onEvict(userId string, entry *workspaceEntry) {
	entry.evicted = true
	s.parked[userId] = entry
	s.retireIfIdle(userId, entry)
}

// retireIfIdle closes an evicted workspace once no request holds it and no
// turn is open. s.mu must be held.
func (s *consoleService) retireIfIdle(userId string, entry *workspaceEntry) {
	if entry.closed || !entry.evicted || entry.users > 0 || entry.ws.Busy() {
		return
	}
	if s.parked[userId] == entry {
		delete(s.parked, userId)
	}
	entry.closed = true
	entry.ws.Close()
	s.logger.Debug(constant.ModuleConsole, "Workspace retired", map[string]interface{}{"user_id": userId})
}

// =============================================================================
// SESSION
// =============================================================================

func (s *consoleService) GetSession(ctx context.Context, userId string) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) UploadDataset(ctx context.Context, userId, filename string, r io.Reader) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if _, err := ws.UploadDataset(ctx, filename, r); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeTabular, true)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) RemoveDataset(ctx context.Context, userId string) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.RemoveDataset(ctx); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeTabular, false)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) ConnectRelational(ctx context.Context, userId string, req *dto.ConnectRelationalRequest) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.ConnectRelational(ctx, req.ConnectionString); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeRelational, true)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) DisconnectRelational(ctx context.Context, userId string) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.DisconnectRelational(ctx); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeRelational, false)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) IndexDocument(ctx context.Context, userId, filename string, r io.Reader) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.IndexDocument(ctx, filename, r); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeDocument, true)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) RemoveDocument(ctx context.Context, userId string) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.RemoveDocument(ctx); err != nil {
		return nil, err
	}
	s.events.PublishSource(ctx, userId, ws.State().SessionID(), console.ModeDocument, false)
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) Reset(ctx context.Context, userId string) (*dto.SessionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()

	previous := ws.State().SessionID()
	if err := ws.Reset(ctx); err != nil {
		return nil, err
	}
	s.events.PublishReset(ctx, userId, previous, ws.State().SessionID())
	s.logger.Info(constant.ModuleConsole, "Session reset", map[string]interface{}{
		"user_id":             userId,
		"previous_session_id": previous,
		"session_id":          ws.State().SessionID(),
	})
	return toSessionResponse(ws.Snapshot()), nil
}

func (s *consoleService) SetMode(ctx context.Context, userId string, req *dto.SetModeRequest) (*dto.SessionResponse, error) {
	mode, err := console.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := ws.SetActiveMode(mode); err != nil {
		return nil, err
	}
	return toSessionResponse(ws.Snapshot()), nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

func (s *consoleService) GetConversation(ctx context.Context, userId, rawMode string) (*dto.ConversationResponse, error) {
	mode, err := console.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()

	msgs := ws.Messages(mode)
	res := &dto.ConversationResponse{
		Mode:     mode.String(),
		InFlight: ws.Snapshot().InFlight[mode],
		Messages: make([]dto.MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		res.Messages = append(res.Messages, toMessageResponse(m))
	}
	return res, nil
}

// SendQuery opens a turn and returns once both messages exist. The reply is
// streamed in the background and reaches the client as live updates.
func (s *consoleService) SendQuery(ctx context.Context, userId, rawMode string, req *dto.SendQueryRequest) (*dto.SendQueryResponse, error) {
	mode, err := console.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()

	turn, err := ws.Send(mode, req.Query)
	if err != nil {
		return nil, err
	}
	return &dto.SendQueryResponse{
		Mode:             mode.String(),
		UserOrdinal:      turn.Ordinal() - 1,
		AssistantOrdinal: turn.Ordinal(),
	}, nil
}

func (s *consoleService) GetSuggestions(ctx context.Context, userId, rawMode string, force bool) (*dto.SuggestionsResponse, error) {
	mode, err := console.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := ws.Suggestions(ctx, mode, force)
	if err != nil {
		return nil, err
	}
	s.events.PublishSuggestions(ctx, userId, ws.State().SessionID(), mode, res)
	return toSuggestionsResponse(mode, res.Entry, res.Outcome), nil
}

// =============================================================================
// SELECTION
// =============================================================================

func (s *consoleService) SetSelection(ctx context.Context, userId string, req *dto.SetSelectionRequest) (*dto.SelectionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	ws.SetSelectionMode(*req.Enabled)
	snap := ws.Snapshot()
	return &dto.SelectionResponse{Enabled: snap.SelectionEnabled, Selected: nonNilInts(snap.Selected)}, nil
}

func (s *consoleService) ToggleSelection(ctx context.Context, userId string, ordinal int) (*dto.ToggleSelectionResponse, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	selected, err := ws.ToggleSelection(ordinal)
	if err != nil {
		return nil, err
	}
	return &dto.ToggleSelectionResponse{
		Ordinal:  ordinal,
		Selected: selected,
		Current:  nonNilInts(ws.Snapshot().Selected),
	}, nil
}

// ExportSelection generates the artifact and archives a copy. An archive
// failure is logged; the caller still receives the artifact.
func (s *consoleService) ExportSelection(ctx context.Context, userId string) (*dto.ExportResult, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	artifact, err := ws.ExportSelection(ctx)
	if err != nil {
		return nil, err
	}

	key, err := s.archive.Store(ctx, userId, artifact)
	if err != nil {
		s.logger.Warn(constant.ModuleConsole, "Failed to archive export", map[string]interface{}{"user_id": userId, "error": err.Error()})
		key = ""
	}
	s.events.PublishExport(ctx, userId, ws.State().SessionID(), artifact.Mode, artifact.Ordinals, key)

	var url string
	if key != "" {
		if url, err = s.archive.URL(ctx, key); err != nil {
			s.logger.Warn(constant.ModuleConsole, "Failed to presign archived export", map[string]interface{}{"key": key, "error": err.Error()})
			url = ""
		}
	}

	return &dto.ExportResult{
		Filename:    artifact.Filename,
		ContentType: artifact.ContentType,
		Data:        artifact.Data,
		ArchiveKey:  key,
		ArchiveURL:  url,
	}, nil
}

// =============================================================================
// DASHBOARD & REPORT
// =============================================================================

func (s *consoleService) PinMessage(ctx context.Context, userId, rawMode string, ordinal int) (*dto.PinResponse, error) {
	mode, err := console.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	pin, err := ws.Pin(ctx, mode, ordinal)
	if err != nil {
		return nil, err
	}
	return &dto.PinResponse{Title: pin.Title, ChartType: pin.ChartType, ChartConfig: pin.ChartConfig}, nil
}

func (s *consoleService) GetReport(ctx context.Context, userId string) (*dto.ReportResult, error) {
	ws, release, err := s.workspace(ctx, userId)
	if err != nil {
		return nil, err
	}
	defer release()
	report, err := ws.Report(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.ReportResult{
		Source:      report.Source,
		Filename:    fmt.Sprintf("%s_Report.pdf", report.Source),
		ContentType: "application/pdf",
		Data:        report.Data,
	}, nil
}

// Close stops every live workspace.
// Close retires every workspace, cancelling turns that are still open.
func (s *consoleService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces.Purge()
	for userId, entry := range s.parked {
		if !entry.closed {
			entry.closed = true
			entry.ws.Close()
		}
		delete(s.parked, userId)
	}
}

// =============================================================================
// MAPPING
// =============================================================================

func toSessionResponse(snap session.Snapshot) *dto.SessionResponse {
	sess := snap.Session
	res := &dto.SessionResponse{
		SessionId:           sess.ID,
		UserId:              sess.UserID,
		Dataset:             sess.Dataset,
		RelationalConnected: sess.RelationalConnected,
		DocumentIndexed:     sess.DocumentIndexed,
		ActiveMode:          snap.ActiveMode.String(),
		ActiveSources:       []string{},
		InFlight:            []string{},
		MessageCounts:       make(map[string]int, len(snap.MessageCounts)),
		SelectionEnabled:    snap.SelectionEnabled,
		Selected:            nonNilInts(snap.Selected),
	}
	for _, m := range sess.ActiveSources() {
		res.ActiveSources = append(res.ActiveSources, m.String())
	}
	for m, busy := range snap.InFlight {
		if busy {
			res.InFlight = append(res.InFlight, m.String())
		}
	}
	sort.Strings(res.InFlight)
	for m, n := range snap.MessageCounts {
		res.MessageCounts[m.String()] = n
	}
	if sess.CachedSuggestions != nil {
		res.CachedSuggestions = toSuggestionsResponse(sess.CachedSuggestions.Mode, sess.CachedSuggestions, "")
	}
	return res
}

func toMessageResponse(m console.Message) dto.MessageResponse {
	return dto.MessageResponse{
		Ordinal: m.Ordinal,
		Role:    string(m.Role),
		Kind:    string(m.Content.Kind),
		Text:    m.Content.Text,
		Chart:   m.Content.Chart,
	}
}

func toSuggestionsResponse(mode console.Mode, entry *console.SuggestionEntry, outcome suggestion.Outcome) *dto.SuggestionsResponse {
	res := &dto.SuggestionsResponse{
		Mode:    mode.String(),
		Prompts: []string{},
		Outcome: string(outcome),
	}
	if entry == nil {
		return res
	}
	res.Fingerprint = string(entry.Fingerprint)
	res.Error = entry.FetchError
	if entry.Prompts != nil {
		res.Prompts = entry.Prompts
	}
	return res
}

func nonNilInts(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}
