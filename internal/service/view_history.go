package service

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

const defaultViewHistorySize = 64

type viewEntry struct {
	startTime time.Duration
	ctx       model.Context
}

// ViewHistory remembers recent views so that an event can be attached to the view that
// was active when it started, even if it is assembled later.
type ViewHistory struct {
	// [MEMORY_MANAGEMENT] Bounded: long sessions only keep the most recent views.
	cache *lru.Cache[string, viewEntry]
}

func NewViewHistory(size int) *ViewHistory {
	if size <= 0 {
		size = defaultViewHistorySize
	}
	cache, _ := lru.New[string, viewEntry](size)
	return &ViewHistory{cache: cache}
}

// Record stores or refreshes a view. Updates to a known view keep its original start.
func (h *ViewHistory) Record(id string, startTime time.Duration, ctx model.Context) {
	if prev, ok := h.cache.Peek(id); ok {
		startTime = prev.startTime
	}
	h.cache.Add(id, viewEntry{startTime: startTime, ctx: model.Clone(ctx)})
}

// FindView returns a copy of the context of the latest view started at or before
// startTime, or nil.
func (h *ViewHistory) FindView(startTime time.Duration) model.Context {
	var (
		found bool
		best  viewEntry
	)
	for _, entry := range h.cache.Values() {
		if entry.startTime > startTime {
			continue
		}
		if !found || entry.startTime >= best.startTime {
			best, found = entry, true
		}
	}
	if !found {
		return nil
	}
	return model.Clone(best.ctx)
}

// Len returns the number of remembered views.
func (h *ViewHistory) Len() int { return h.cache.Len() }
