package dto

import (
	"analytics-console/pkg/console"
)

type SessionResponse struct {
	SessionId           string               `json:"session_id"`
	UserId              string               `json:"user_id"`
	Dataset             *console.DatasetMeta `json:"dataset_metadata"`
	RelationalConnected bool                 `json:"relational_connected"`
	DocumentIndexed     bool                 `json:"document_indexed"`
	ActiveMode          string               `json:"active_mode"`
	ActiveSources       []string             `json:"active_sources"`
	InFlight            []string             `json:"in_flight"`
	MessageCounts       map[string]int       `json:"message_counts"`
	SelectionEnabled    bool                 `json:"selection_enabled"`
	Selected            []int                `json:"selected"`
	CachedSuggestions   *SuggestionsResponse `json:"cached_suggestions"`
}

type ConnectRelationalRequest struct {
	ConnectionString string `json:"connection_string" validate:"required"`
}

type SetModeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

type SendQueryRequest struct {
	Query string `json:"query" validate:"required"`
}

// SendQueryResponse points at the two messages a turn opens. The assistant
// message fills in through live updates.
type SendQueryResponse struct {
	Mode             string `json:"mode"`
	UserOrdinal      int    `json:"user_ordinal"`
	AssistantOrdinal int    `json:"assistant_ordinal"`
}

type MessageResponse struct {
	Ordinal int                  `json:"ordinal"`
	Role    string               `json:"role"`
	Kind    string               `json:"kind"`
	Text    string               `json:"text,omitempty"`
	Chart   *console.ChartRecord `json:"chart,omitempty"`
}

type ConversationResponse struct {
	Mode     string            `json:"mode"`
	InFlight bool              `json:"in_flight"`
	Messages []MessageResponse `json:"messages"`
}

type SuggestionsResponse struct {
	Mode        string   `json:"mode"`
	Fingerprint string   `json:"fingerprint"`
	Prompts     []string `json:"prompts"`
	Error       string   `json:"error,omitempty"`
	Outcome     string   `json:"outcome,omitempty"`
}

type SetSelectionRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SelectionResponse struct {
	Enabled  bool  `json:"enabled"`
	Selected []int `json:"selected"`
}

type ToggleSelectionResponse struct {
	Ordinal  int   `json:"ordinal"`
	Selected bool  `json:"selected"`
	Current  []int `json:"current"`
}

type PinResponse struct {
	Title       string      `json:"title"`
	ChartType   string      `json:"chart_type"`
	ChartConfig interface{} `json:"chart_config"`
}

// ExportResult is the generated artifact plus where it was archived, if anywhere.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	ArchiveKey  string
	ArchiveURL  string
}

type ReportResult struct {
	Source      string
	Filename    string
	ContentType string
	Data        []byte
}

// ConsoleUpdateMessage is the websocket frame for one conversation change.
type ConsoleUpdateMessage struct {
	Type       string          `json:"type"`
	Mode       string          `json:"mode"`
	Op         string          `json:"op"`
	Background bool            `json:"background"`
	Message    MessageResponse `json:"message"`
}
