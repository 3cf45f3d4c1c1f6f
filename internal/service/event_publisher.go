package service

import (
	"context"
	"time"

	"analytics-console/internal/constant"
	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
	"analytics-console/pkg/console/stream"
	"analytics-console/pkg/console/suggestion"
	"analytics-console/pkg/events"
)

// EventSink is the transport EventPublisher writes to. *nats.Publisher satisfies it.
type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventPublisher emits console domain events. Publishing is best effort: a
// failure is logged and never surfaces to the operation that caused it.
type EventPublisher interface {
	PublishTurn(ctx context.Context, userId, sessionId string, res stream.Result)
	PublishSuggestions(ctx context.Context, userId, sessionId string, mode console.Mode, res suggestion.Result)
	PublishExport(ctx context.Context, userId, sessionId string, mode console.Mode, ordinals []int, archiveKey string)
	PublishReset(ctx context.Context, userId, previousSessionId, sessionId string)
	PublishSource(ctx context.Context, userId, sessionId string, mode console.Mode, bound bool)
}

type NatsEventPublisher struct {
	sink   EventSink
	logger logger.ILogger
}

func NewNatsEventPublisher(sink EventSink, logger logger.ILogger) *NatsEventPublisher {
	return &NatsEventPublisher{
		sink:   sink,
		logger: logger,
	}
}

func (p *NatsEventPublisher) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if p.sink == nil {
		return
	}

	evt := events.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now(),
	}
	if err := p.sink.Publish(ctx, evt); err != nil {
		p.logger.Error(constant.ModuleEvents, "Failed to publish "+eventType+" event", map[string]interface{}{
			"error":   err.Error(),
			"user_id": data["user_id"],
		})
	}
}

// PublishTurn emits TURN_COMPLETED or TURN_FAILED
func (p *NatsEventPublisher) PublishTurn(ctx context.Context, userId, sessionId string, res stream.Result) {
	data := map[string]interface{}{
		"user_id":    userId,
		"session_id": sessionId,
		"mode":       res.Mode.String(),
		"ordinal":    res.Ordinal,
		"kind":       string(res.Content.Kind),
		"chunks":     res.Chunks,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.Failed() {
		data["error"] = res.Err.Error()
		p.publish(ctx, events.TypeTurnFailed, data)
		return
	}
	p.publish(ctx, events.TypeTurnCompleted, data)
}

// PublishSuggestions emits SUGGESTIONS_REFRESHED for fetches that reached the backend.
func (p *NatsEventPublisher) PublishSuggestions(ctx context.Context, userId, sessionId string, mode console.Mode, res suggestion.Result) {
	if res.Outcome != suggestion.OutcomeFetched && res.Outcome != suggestion.OutcomeFailed {
		return
	}
	data := map[string]interface{}{
		"user_id":    userId,
		"session_id": sessionId,
		"mode":       mode.String(),
		"outcome":    string(res.Outcome),
	}
	if res.Entry != nil {
		data["fingerprint"] = string(res.Entry.Fingerprint)
		data["count"] = len(res.Entry.Prompts)
	}
	p.publish(ctx, events.TypeSuggestionsRefreshed, data)
}

func (p *NatsEventPublisher) PublishExport(ctx context.Context, userId, sessionId string, mode console.Mode, ordinals []int, archiveKey string) {
	p.publish(ctx, events.TypeSelectionExported, map[string]interface{}{
		"user_id":     userId,
		"session_id":  sessionId,
		"mode":        mode.String(),
		"ordinals":    ordinals,
		"archive_key": archiveKey,
	})
}

func (p *NatsEventPublisher) PublishReset(ctx context.Context, userId, previousSessionId, sessionId string) {
	p.publish(ctx, events.TypeSessionReset, map[string]interface{}{
		"user_id":             userId,
		"previous_session_id": previousSessionId,
		"session_id":          sessionId,
	})
}

// PublishSource emits SOURCE_BOUND or SOURCE_UNBOUND
func (p *NatsEventPublisher) PublishSource(ctx context.Context, userId, sessionId string, mode console.Mode, bound bool) {
	eventType := events.TypeSourceUnbound
	if bound {
		eventType = events.TypeSourceBound
	}
	p.publish(ctx, eventType, map[string]interface{}{
		"user_id":    userId,
		"session_id": sessionId,
		"mode":       mode.String(),
	})
}
