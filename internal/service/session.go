package service

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// SessionProvider exposes the tracking decision for the current session. Session id and
// sampling persistence are owned by the provider.
type SessionProvider interface {
	ContextProvider
	ID() string
	IsTracked() bool
	IsTrackedWithResource() bool
}

var _ SessionProvider = (*SampledSession)(nil)

// SampledSession draws its tracking decision once, at creation.
type SampledSession struct {
	id           uuid.UUID
	tracked      bool
	withResource bool
}

// NewSampledSession samples a new session. Rates are percentages in [0,100].
func NewSampledSession(sampleRate, resourceSampleRate float64) *SampledSession {
	tracked := sampled(sampleRate)
	return &SampledSession{
		id:           uuid.New(),
		tracked:      tracked,
		withResource: tracked && sampled(resourceSampleRate),
	}
}

// NewFixedSession builds a session with an explicit decision.
func NewFixedSession(tracked, withResource bool) *SampledSession {
	return &SampledSession{
		id:           uuid.New(),
		tracked:      tracked,
		withResource: tracked && withResource,
	}
}

func (s *SampledSession) ID() string                  { return s.id.String() }
func (s *SampledSession) IsTracked() bool             { return s.tracked }
func (s *SampledSession) IsTrackedWithResource() bool { return s.withResource }

func (s *SampledSession) Snapshot() model.Context {
	if !s.tracked {
		return nil
	}
	return model.Context{"session": map[string]any{"id": s.ID()}}
}

func sampled(rate float64) bool {
	if rate >= 100 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64()*100 < rate
}
