package service

import (
	"sync"

	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// ContextProvider is a pull accessor for one context layer.
type ContextProvider interface {
	Snapshot() model.Context
}

var _ ContextProvider = (*GlobalContextStore)(nil)

// GlobalContextStore owns the process-wide global context.
//
// [COPY_ON_READ] Readers always receive a private deep copy and setters never expose the
// caller's map, so a merge running on one goroutine never observes a half-applied update.
type GlobalContextStore struct {
	mu  sync.RWMutex
	ctx model.Context
}

func NewGlobalContextStore(initial model.Context) *GlobalContextStore {
	s := &GlobalContextStore{ctx: make(model.Context)}
	if initial != nil {
		s.ctx = model.Clone(initial)
	}
	return s
}

func (s *GlobalContextStore) Snapshot() model.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Clone(s.ctx)
}

// Set replaces the whole global context.
func (s *GlobalContextStore) Set(ctx model.Context) {
	next := model.Clone(ctx)
	if next == nil {
		next = make(model.Context)
	}
	s.mu.Lock()
	s.ctx = next
	s.mu.Unlock()
}

// Add sets one top-level entry.
func (s *GlobalContextStore) Add(key string, value any) {
	v := model.Clone(model.Context{key: value})[key]
	s.mu.Lock()
	s.ctx[key] = v
	s.mu.Unlock()
}

// Remove deletes one top-level entry.
func (s *GlobalContextStore) Remove(key string) {
	s.mu.Lock()
	delete(s.ctx, key)
	s.mu.Unlock()
}
