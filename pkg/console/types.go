package console

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects the data source a conversation is held against.
type Mode string

const (
	ModeTabular    Mode = "tabular"
	ModeRelational Mode = "relational"
	ModeDocument   Mode = "document"
)

// Modes lists every mode in source fallback order.
var Modes = []Mode{ModeTabular, ModeRelational, ModeDocument}

// ParseMode accepts the canonical names and the legacy route aliases (csv, sql, pdf, rag).
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "tabular", "csv":
		return ModeTabular, nil
	case "relational", "sql":
		return ModeRelational, nil
	case "document", "pdf", "rag":
		return ModeDocument, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
}

func (m Mode) Valid() bool {
	switch m {
	case ModeTabular, ModeRelational, ModeDocument:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}

// RouteKey is the short source name the analytics backend uses in its paths.
func (m Mode) RouteKey() string {
	switch m {
	case ModeTabular:
		return "csv"
	case ModeRelational:
		return "sql"
	case ModeDocument:
		return "rag"
	}
	return ""
}

// ReportSource is the source label of the full data report route.
func (m Mode) ReportSource() string {
	return strings.ToUpper(m.RouteKey())
}

// =============================================================================
// MESSAGES
// =============================================================================

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind tags the variant held by Content. It is decided once by the
// producer of the message; consumers never re-infer it from the payload.
type ContentKind string

const (
	KindText   ContentKind = "text"
	KindRecord ContentKind = "record"
	KindChart  ContentKind = "chart"
	KindError  ContentKind = "error"
)

// ChartRecord is the typed chart payload the relational and document routes emit.
type ChartRecord struct {
	ChartType string        `json:"chart_type,omitempty"`
	Title     string        `json:"title,omitempty"`
	X         []interface{} `json:"x"`
	Y         []interface{} `json:"y"`
	XLabel    string        `json:"x_label,omitempty"`
	YLabel    string        `json:"y_label,omitempty"`
}

// Valid reports whether the record carries both axes.
func (c *ChartRecord) Valid() bool {
	return c != nil && c.X != nil && c.Y != nil
}

type Content struct {
	Kind  ContentKind  `json:"kind"`
	Text  string       `json:"text,omitempty"`
	Chart *ChartRecord `json:"chart,omitempty"`
}

func TextContent(text string) Content {
	return Content{Kind: KindText, Text: text}
}

func RecordContent(text string) Content {
	return Content{Kind: KindRecord, Text: text}
}

func ChartContent(chart *ChartRecord) Content {
	return Content{Kind: KindChart, Chart: chart}
}

// ErrorContent marks a failed turn. It is never merged with streamed text.
func ErrorContent(text string) Content {
	return Content{Kind: KindError, Text: text}
}

func (c Content) IsError() bool {
	return c.Kind == KindError
}

func (c Content) IsEmpty() bool {
	return c.Text == "" && c.Chart == nil
}

// PlainText renders the content as the flat string the export route expects.
// Charts are serialized back to their JSON record.
func (c Content) PlainText() string {
	if c.Kind == KindChart && c.Chart != nil {
		data, err := json.Marshal(c.Chart)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return c.Text
}

type Message struct {
	Ordinal int     `json:"ordinal"`
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

func AssistantMessage(content Content) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// =============================================================================
// SOURCES
// =============================================================================

// Fingerprint identifies a source binding. Two bindings are the same source
// only when their fingerprints are equal.
type Fingerprint string

func (f Fingerprint) IsZero() bool {
	return f == ""
}

// DatasetMeta is what the upload route returns for a tabular dataset.
type DatasetMeta struct {
	Filename        string   `json:"filename"`
	SessionID       string   `json:"session_id"`
	TotalRows       int      `json:"total_rows"`
	TotalColumns    int      `json:"total_columns"`
	Columns         []string `json:"columns"`
	NumericCols     []string `json:"numeric_cols"`
	CategoricalCols []string `json:"categorical_cols"`
	DateCols        []string `json:"date_cols"`
}

// Fingerprint derives the dataset identity from the upload identity fields.
func (d *DatasetMeta) Fingerprint() Fingerprint {
	if d == nil {
		return ""
	}
	sum := sha256.Sum256([]byte(d.SessionID + "\x00" + d.Filename))
	return Fingerprint("ds_" + hex.EncodeToString(sum[:8]))
}

func (d *DatasetMeta) Clone() *DatasetMeta {
	if d == nil {
		return nil
	}
	out := *d
	out.Columns = cloneStrings(d.Columns)
	out.NumericCols = cloneStrings(d.NumericCols)
	out.CategoricalCols = cloneStrings(d.CategoricalCols)
	out.DateCols = cloneStrings(d.DateCols)
	return &out
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// SuggestionEntry is a fetched prompt list bound to the fingerprint it was
// fetched for. FetchError set means the fetch failed; such an entry is a
// sentinel, never a usable cache value.
type SuggestionEntry struct {
	Mode        Mode        `json:"mode"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Prompts     []string    `json:"prompts"`
	FetchError  string      `json:"fetch_error,omitempty"`
}

func NewSuggestionEntry(mode Mode, fp Fingerprint, prompts []string) *SuggestionEntry {
	if prompts == nil {
		prompts = []string{}
	}
	return &SuggestionEntry{Mode: mode, Fingerprint: fp, Prompts: prompts}
}

func NewFetchErrorEntry(mode Mode, fp Fingerprint, reason string) *SuggestionEntry {
	if reason == "" {
		reason = fmt.Sprintf("Error loading %s suggestions.", mode)
	}
	return &SuggestionEntry{Mode: mode, Fingerprint: fp, Prompts: []string{}, FetchError: reason}
}

func (e *SuggestionEntry) Failed() bool {
	return e != nil && e.FetchError != ""
}

// UsableFor reports whether the entry may be served for the given fingerprint.
func (e *SuggestionEntry) UsableFor(mode Mode, fp Fingerprint) bool {
	if e == nil || e.Failed() || fp.IsZero() {
		return false
	}
	return e.Mode == mode && e.Fingerprint == fp
}

func (e *SuggestionEntry) Clone() *SuggestionEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Prompts = cloneStrings(e.Prompts)
	if out.Prompts == nil {
		out.Prompts = []string{}
	}
	return &out
}

// =============================================================================
// SESSION RECORD
// =============================================================================

// Session is the persisted per-user record. Only tabular suggestions are cached
// in it; relational and document suggestions are refetched on every activation.
type Session struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	Dataset             *DatasetMeta     `json:"dataset_metadata"`
	DatasetFingerprint  Fingerprint      `json:"dataset_fingerprint,omitempty"`
	RelationalConnected bool             `json:"relational_connected"`
	DocumentIndexed     bool             `json:"document_indexed"`
	CachedSuggestions   *SuggestionEntry `json:"cached_suggestions"`
}

func NewSession(userID, id string) *Session {
	return &Session{ID: id, UserID: userID}
}

// SourceActive reports whether the source behind mode is bound.
func (s *Session) SourceActive(mode Mode) bool {
	if s == nil {
		return false
	}
	switch mode {
	case ModeTabular:
		return s.Dataset != nil
	case ModeRelational:
		return s.RelationalConnected
	case ModeDocument:
		return s.DocumentIndexed
	}
	return false
}

// ActiveSources returns the bound modes in fallback order.
func (s *Session) ActiveSources() []Mode {
	out := make([]Mode, 0, len(Modes))
	for _, m := range Modes {
		if s.SourceActive(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Dataset = s.Dataset.Clone()
	out.CachedSuggestions = s.CachedSuggestions.Clone()
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// =============================================================================
// PINS
// =============================================================================

const (
	pinTitleLimit   = 30
	defaultPinTitle = "Saved Chart"
)

// Pin is a dashboard card built from an assistant message.
type Pin struct {
	Title       string      `json:"title"`
	ChartType   string      `json:"chart_type"`
	ChartConfig interface{} `json:"chart_config"`
}

// PinFor builds the dashboard card for msg. Only settled assistant replies can be pinned.
func PinFor(msg Message) (Pin, error) {
	if msg.Role != RoleAssistant || msg.Content.IsError() || msg.Content.IsEmpty() {
		return Pin{}, ErrNotPinnable
	}

	if msg.Content.Kind == KindChart {
		chartType := msg.Content.Chart.ChartType
		if chartType == "" {
			chartType = "bar"
		}
		return Pin{Title: defaultPinTitle, ChartType: chartType, ChartConfig: msg.Content.Chart}, nil
	}

	title := strings.SplitN(msg.Content.Text, "\n", 2)[0]
	if r := []rune(title); len(r) > pinTitleLimit {
		title = string(r[:pinTitleLimit])
	}
	return Pin{
		Title:       title + "...",
		ChartType:   "text",
		ChartConfig: map[string]string{"text": msg.Content.Text},
	}, nil
}
