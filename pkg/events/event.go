package events

import "time"

// Event defines the contract for all console events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "TURN_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

const (
	TypeTurnCompleted        = "TURN_COMPLETED"
	TypeTurnFailed           = "TURN_FAILED"
	TypeSuggestionsRefreshed = "SUGGESTIONS_REFRESHED"
	TypeSelectionExported    = "SELECTION_EXPORTED"
	TypeSessionReset         = "SESSION_RESET"
	TypeSourceBound          = "SOURCE_BOUND"
	TypeSourceUnbound        = "SOURCE_UNBOUND"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

// New stamps an event with the current time.
func New(eventType string, data map[string]interface{}) BaseEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Envelope is the wire form: the payload plus type and time, so consumers
// do not need to parse the subject.
func Envelope(e Event) map[string]interface{} {
	out := make(map[string]interface{}, len(e.Payload())+2)
	for k, v := range e.Payload() {
		out[k] = v
	}
	out["type"] = e.EventType()
	out["occurred_at"] = e.Timestamp().Format(time.RFC3339Nano)
	return out
}

// FromEnvelope rebuilds an event from its wire form.
func FromEnvelope(fallbackType string, payload map[string]interface{}) BaseEvent {
	evt := BaseEvent{Type: fallbackType, Data: payload, OccurredAt: time.Now().UTC()}
	if t, ok := payload["type"].(string); ok && t != "" {
		evt.Type = t
		delete(payload, "type")
	}
	if raw, ok := payload["occurred_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			evt.OccurredAt = ts
		}
		delete(payload, "occurred_at")
	}
	return evt
}
