// Package history keeps the bounded, most-recent-first list of selected
// locations and persists it after every change.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

// StorageKey is the fixed store key holding the serialized history.
const StorageKey = "searchHistory"

// DefaultMaxEntries is the history length limit.
const DefaultMaxEntries = 5

// ErrPersist wraps failures writing the history to the store.
var ErrPersist = errors.New("history: persist failed")

// History is safe for concurrent use. The in-memory list is authoritative for
// the running process; a failed write is reported to the caller but the
// in-memory update is kept. Writes reach the store in mutation order.
type History struct {
	writeMu sync.Mutex
	mu      sync.Mutex
	store   storage.Store
	max     int
	entries []models.Location
	logger  *zap.Logger
}

// New creates an empty History. Call Load to restore persisted entries.
func New(store storage.Store, maxEntries int, logger *zap.Logger) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{store: store, max: maxEntries, logger: logger}
}

// Load restores the persisted list. A missing or undecodable record yields
// an empty history; only a backend read error is returned.
func (h *History) Load(ctx context.Context) error {
	raw, ok, err := h.store.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("history: load: %w", err)
	}

	var entries []models.Location
	if ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			h.logger.Warn("search history record undecodable, starting empty", zap.Error(err))
			entries = nil
		}
	}

	h.mu.Lock()
	h.entries = normalize(entries, h.max)
	h.mu.Unlock()
	return nil
}

// Entries returns a copy of the list, most recent first.
func (h *History) Entries() []models.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Location, len(h.entries))
	copy(out, h.entries)
	return out
}

// Latest returns the most recent entry.
func (h *History) Latest() (models.Location, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return models.Location{}, false
	}
	return h.entries[0], true
}

// Add moves loc to the front, dropping any entry with the same name
// (case-insensitive), truncates to the limit and persists.
func (h *History) Add(ctx context.Context, loc models.Location) error {
	if loc.Key() == "" {
		return nil
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	next := make([]models.Location, 0, len(h.entries)+1)
	next = append(next, loc)
	next = append(next, h.entries...)
	h.entries = normalize(next, h.max)
	snapshot := append([]models.Location(nil), h.entries...)
	h.mu.Unlock()

	observability.HistoryMutationsTotal.WithLabelValues("select").Inc()
	return h.persist(ctx, snapshot)
}

// Clear deletes the stored list, then empties the in-memory one. On a store
// failure the entries are left unchanged.
func (h *History) Clear(ctx context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := h.store.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()

	observability.HistoryMutationsTotal.WithLabelValues("clear").Inc()
	return nil
}

func (h *History) persist(ctx context.Context, entries []models.Location) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersist, err)
	}
	if err := h.store.Set(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// normalize removes later duplicates by name and truncates to max.
func normalize(entries []models.Location, max int) []models.Location {
	seen := make(map[string]struct{}, len(entries))
	out := make([]models.Location, 0, min(len(entries), max))
	for _, e := range entries {
		k := e.Key()
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
		if len(out) == max {
			break
		}
	}
	return out
}
