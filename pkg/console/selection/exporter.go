package selection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

const (
	ArtifactFilename    = "Selected_Insights.pdf"
	ArtifactContentType = "application/pdf"
)

// ExportClient renders the selected messages into a document.
type ExportClient interface {
	Export(ctx context.Context, sessionID string, messages []console.Message) ([]byte, error)
}

// MessageSource reads the active conversation.
type MessageSource interface {
	Get(mode console.Mode) []console.Message
}

type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
	Mode        console.Mode
	Ordinals    []int
	CreatedAt   time.Time
}

// Exporter holds the selection set over the active conversation. The set is
// cleared whenever selection mode is toggled or the active mode changes.
type Exporter struct {
	client ExportClient
	log    MessageSource
	logger logger.ILogger

	mu       sync.Mutex
	mode     console.Mode
	enabled  bool
	selected map[int]struct{}
}

func NewExporter(client ExportClient, log MessageSource, mode console.Mode, lg logger.ILogger) *Exporter {
	return &Exporter{
		client:   client,
		log:      log,
		logger:   lg,
		mode:     mode,
		selected: make(map[int]struct{}),
	}
}

// SetSelectionMode enables or disables selection. Either way the set is cleared.
func (e *Exporter) SetSelectionMode(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	e.selected = make(map[int]struct{})
}

// SetMode rebinds the exporter to a new active mode and leaves selection mode.
func (e *Exporter) SetMode(mode console.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == mode {
		return
	}
	e.mode = mode
	e.enabled = false
	e.selected = make(map[int]struct{})
}

func (e *Exporter) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Toggle adds or removes ordinal from the set and reports whether it is now selected.
func (e *Exporter) Toggle(ordinal int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return false, console.ErrSelectionDisabled
	}
	if n := len(e.log.Get(e.mode)); ordinal < 0 || ordinal >= n {
		return false, fmt.Errorf("%w: %d not in [0,%d)", console.ErrIndexOutOfRange, ordinal, n)
	}

	if _, ok := e.selected[ordinal]; ok {
		delete(e.selected, ordinal)
		return false, nil
	}
	e.selected[ordinal] = struct{}{}
	return true, nil
}

// Selected returns the selected ordinals in ascending order.
func (e *Exporter) Selected() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedLocked()
}

func (e *Exporter) sortedLocked() []int {
	out := make([]int, 0, len(e.selected))
	for i := range e.selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Export sends the selected messages in log order. On success selection mode
// is left and the set cleared; on failure both are kept so the user can retry.
func (e *Exporter) Export(ctx context.Context, sessionID string) (*Artifact, error) {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil, console.ErrSelectionDisabled
	}
	ordinals := e.sortedLocked()
	mode := e.mode
	e.mu.Unlock()

	if len(ordinals) == 0 {
		return nil, console.ErrEmptySelection
	}

	log := e.log.Get(mode)
	messages := make([]console.Message, 0, len(ordinals))
	for _, i := range ordinals {
		if i < len(log) {
			messages = append(messages, log[i])
		}
	}

	data, err := e.client.Export(ctx, sessionID, messages)
	if err != nil {
		e.logger.Error("SELECTION", "Export failed", map[string]interface{}{
			"mode":     mode.String(),
			"selected": len(ordinals),
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", console.ErrExport, err)
	}

	e.mu.Lock()
	e.enabled = false
	e.selected = make(map[int]struct{})
	e.mu.Unlock()

	e.logger.Info("SELECTION", "Selection exported", map[string]interface{}{
		"mode":     mode.String(),
		"selected": len(ordinals),
		"bytes":    len(data),
	})

	return &Artifact{
		Filename:    ArtifactFilename,
		ContentType: ArtifactContentType,
		Data:        data,
		Mode:        mode,
		Ordinals:    ordinals,
		CreatedAt:   time.Now(),
	}, nil
}
