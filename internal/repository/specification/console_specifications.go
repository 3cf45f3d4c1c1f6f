package specification

import (
	"analytics-console/pkg/console"

	"gorm.io/gorm"
)

type ByUserID struct {
	UserID string
}

func (s ByUserID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ?", s.UserID)
}

type BySessionID struct {
	SessionID string
}

func (s BySessionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("session_id = ?", s.SessionID)
}

// WithSourceBound keeps records whose source for Mode is active.
type WithSourceBound struct {
	Mode console.Mode
}

func (s WithSourceBound) Apply(db *gorm.DB) *gorm.DB {
	switch s.Mode {
	case console.ModeTabular:
		return db.Where("dataset_metadata IS NOT NULL")
	case console.ModeRelational:
		return db.Where("relational_connected = ?", true)
	case console.ModeDocument:
		return db.Where("document_indexed = ?", true)
	}
	return db
}
