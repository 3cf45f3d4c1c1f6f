package entity

import (
	"time"

	"analytics-console/pkg/console"
)

type ConsoleSession struct {
	UserId              string
	SessionId           string
	Dataset             *console.DatasetMeta
	DatasetFingerprint  string
	RelationalConnected bool
	DocumentIndexed     bool
	CachedSuggestions   *console.SuggestionEntry
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}
