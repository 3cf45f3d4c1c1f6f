package mapper

import (
	"encoding/json"
	"time"

	"analytics-console/internal/entity"
	"analytics-console/internal/model"
	"analytics-console/pkg/console"

	"gorm.io/datatypes"
)

type ConsoleSessionMapper struct{}

func NewConsoleSessionMapper() *ConsoleSessionMapper {
	return &ConsoleSessionMapper{}
}

// Model Mappers

func (m *ConsoleSessionMapper) ToEntity(s *model.ConsoleSession) (*entity.ConsoleSession, error) {
	if s == nil {
		return nil, nil
	}

	var dataset *console.DatasetMeta
	if err := decodeJSON(s.DatasetMetadata, &dataset); err != nil {
		return nil, err
	}
	var cached *console.SuggestionEntry
	if err := decodeJSON(s.CachedSuggestions, &cached); err != nil {
		return nil, err
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	return &entity.ConsoleSession{
		UserId:              s.UserId,
		SessionId:           s.SessionId,
		Dataset:             dataset,
		DatasetFingerprint:  s.DatasetFingerprint,
		RelationalConnected: s.RelationalConnected,
		DocumentIndexed:     s.DocumentIndexed,
		CachedSuggestions:   cached,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func (m *ConsoleSessionMapper) ToModel(s *entity.ConsoleSession) (*model.ConsoleSession, error) {
	if s == nil {
		return nil, nil
	}

	dataset, err := encodeJSON(s.Dataset)
	if err != nil {
		return nil, err
	}
	cached, err := encodeJSON(s.CachedSuggestions)
	if err != nil {
		return nil, err
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	return &model.ConsoleSession{
		UserId:              s.UserId,
		SessionId:           s.SessionId,
		DatasetMetadata:     dataset,
		DatasetFingerprint:  s.DatasetFingerprint,
		RelationalConnected: s.RelationalConnected,
		DocumentIndexed:     s.DocumentIndexed,
		CachedSuggestions:   cached,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           updatedAt,
	}, nil
}

// Domain Mappers

func (m *ConsoleSessionMapper) ToDomain(s *entity.ConsoleSession) *console.Session {
	if s == nil {
		return nil
	}
	return &console.Session{
		ID:                  s.SessionId,
		UserID:              s.UserId,
		Dataset:             s.Dataset.Clone(),
		DatasetFingerprint:  console.Fingerprint(s.DatasetFingerprint),
		RelationalConnected: s.RelationalConnected,
		DocumentIndexed:     s.DocumentIndexed,
		CachedSuggestions:   s.CachedSuggestions.Clone(),
	}
}

func (m *ConsoleSessionMapper) FromDomain(s *console.Session) *entity.ConsoleSession {
	if s == nil {
		return nil
	}
	return &entity.ConsoleSession{
		UserId:              s.UserID,
		SessionId:           s.ID,
		Dataset:             s.Dataset.Clone(),
		DatasetFingerprint:  string(s.DatasetFingerprint),
		RelationalConnected: s.RelationalConnected,
		DocumentIndexed:     s.DocumentIndexed,
		CachedSuggestions:   s.CachedSuggestions.Clone(),
	}
}

// null columns stay nil
func encodeJSON(v interface{}) (datatypes.JSON, error) {
	switch t := v.(type) {
	case *console.DatasetMeta:
		if t == nil {
			return nil, nil
		}
	case *console.SuggestionEntry:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func decodeJSON(raw datatypes.JSON, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
