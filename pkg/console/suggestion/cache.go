package suggestion

import (
	"context"
	"fmt"
	"sync"

	"analytics-console/internal/pkg/logger"
	"analytics-console/pkg/console"
)

// Fetcher loads starter prompts for a bound source.
type Fetcher interface {
	Suggestions(ctx context.Context, sessionID string, mode console.Mode) ([]string, error)
}

// Source exposes the session bindings the cache keys on. The tabular entry is
// persisted through it; other modes never are.
type Source interface {
	SessionID() string
	SourceActive(mode console.Mode) bool
	Fingerprint(mode console.Mode) console.Fingerprint
	CachedSuggestions() *console.SuggestionEntry
	CacheSuggestions(ctx context.Context, entry *console.SuggestionEntry) error
}

// Outcome reports how a Refresh was served.
type Outcome string

const (
	OutcomeInactive Outcome = "inactive"
	OutcomeHit      Outcome = "hit"
	OutcomeFetched  Outcome = "fetched"
	OutcomeFailed   Outcome = "failed"
)

type Result struct {
	Entry   *console.SuggestionEntry
	Outcome Outcome
}

// Cache serves starter prompts per mode. Only the tabular mode is cached,
// keyed by the dataset fingerprint; relational and document prompts are
// fetched on every activation.
type Cache struct {
	fetcher Fetcher
	source  Source
	logger  logger.ILogger

	mu   sync.RWMutex
	last map[console.Mode]*console.SuggestionEntry
}

func NewCache(fetcher Fetcher, source Source, lg logger.ILogger) *Cache {
	return &Cache{
		fetcher: fetcher,
		source:  source,
		logger:  lg,
		last:    make(map[console.Mode]*console.SuggestionEntry),
	}
}

// Get returns the entry for mode if it is usable for the current binding.
func (c *Cache) Get(mode console.Mode) (*console.SuggestionEntry, bool) {
	if !c.source.SourceActive(mode) {
		return nil, false
	}
	fp := c.source.Fingerprint(mode)

	if mode == console.ModeTabular {
		entry := c.source.CachedSuggestions()
		if entry.UsableFor(mode, fp) {
			return entry.Clone(), true
		}
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry := c.last[mode]
	if entry.UsableFor(mode, fp) {
		return entry.Clone(), true
	}
	return nil, false
}

// Put stores entry for mode. A tabular entry is written through to the session.
func (c *Cache) Put(ctx context.Context, mode console.Mode, entry *console.SuggestionEntry) error {
	if mode == console.ModeTabular {
		return c.source.CacheSuggestions(ctx, entry)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[mode] = entry.Clone()
	return nil
}

// Refresh serves the prompt list for mode, fetching unless a usable tabular
// entry exists and force is false. A failed fetch yields a sentinel entry
// that the next activation retries past.
func (c *Cache) Refresh(ctx context.Context, mode console.Mode, force bool) (Result, error) {
	if !mode.Valid() {
		return Result{}, fmt.Errorf("%w: %q", console.ErrUnknownMode, mode)
	}
	if !c.source.SourceActive(mode) {
		return Result{Entry: console.NewSuggestionEntry(mode, "", nil), Outcome: OutcomeInactive}, nil
	}

	fp := c.source.Fingerprint(mode)
	if mode == console.ModeTabular && !force {
		if entry, ok := c.Get(mode); ok {
			return Result{Entry: entry, Outcome: OutcomeHit}, nil
		}
	}

	prompts, err := c.fetcher.Suggestions(ctx, c.source.SessionID(), mode)
	if err != nil {
		c.logger.Warn("SUGGESTION", "Failed to fetch suggestions", map[string]interface{}{
			"mode":  mode.String(),
			"error": err.Error(),
		})
		entry := console.NewFetchErrorEntry(mode, fp, "")
		c.store(ctx, mode, fp, entry)
		return Result{Entry: entry, Outcome: OutcomeFailed}, nil
	}

	entry := console.NewSuggestionEntry(mode, fp, prompts)
	c.store(ctx, mode, fp, entry)
	return Result{Entry: entry.Clone(), Outcome: OutcomeFetched}, nil
}

// store drops results whose source was rebound while the fetch was running.
func (c *Cache) store(ctx context.Context, mode console.Mode, fp console.Fingerprint, entry *console.SuggestionEntry) {
	if c.source.Fingerprint(mode) != fp {
		c.logger.Debug("SUGGESTION", "Discarding stale suggestions", map[string]interface{}{
			"mode":        mode.String(),
			"fingerprint": string(fp),
		})
		return
	}
	if err := c.Put(ctx, mode, entry); err != nil {
		c.logger.Error("SUGGESTION", "Failed to cache suggestions", map[string]interface{}{
			"mode":  mode.String(),
			"error": err.Error(),
		})
	}
}

// Forget drops the in-memory entry of a non-tabular mode.
func (c *Cache) Forget(mode console.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, mode)
}
