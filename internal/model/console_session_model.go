package model

import (
	"time"

	"gorm.io/datatypes"
)

// ConsoleSession is the single stored record per user.
type ConsoleSession struct {
	UserId              string         `gorm:"type:text;primaryKey"`
	SessionId           string         `gorm:"type:text;not null;index"`
	DatasetMetadata     datatypes.JSON `gorm:"type:jsonb"`
	DatasetFingerprint  string         `gorm:"type:text"`
	RelationalConnected bool           `gorm:"not null;default:false"`
	DocumentIndexed     bool           `gorm:"not null;default:false"`
	CachedSuggestions   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt           time.Time      `gorm:"autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime"`
}

func (ConsoleSession) TableName() string {
	return "console_sessions"
}
