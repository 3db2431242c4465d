package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

func twoDestinationRouter(t *testing.T, strategy *captureStrategy) (*Router, *Destination, *Destination) {
	t.Helper()
	primary := testDestination("primary", strategy, nil)
	replica := testDestination("replica", strategy, nil)
	r, err := NewRouter(marshalJSON, discard, primary, replica)
	require.NoError(t, err)
	return r, primary, replica
}

func TestFlushTriggerNotInstalledWithoutTeardownSafeStrategy(t *testing.T) {
	strategy := &captureStrategy{}
	r, primary, _ := twoDestinationRouter(t, strategy)
	b := bus.New(discard)

	trigger := NewFlushTrigger(r, strategy, discard)
	assert.False(t, trigger.Install(b))
	assert.False(t, trigger.Installed())

	r.Add(event.New(event.KindLog, 0, model.Context{"m": 1}))
	b.Notify(bus.VisibilityChanged, event.Hidden)
	b.Notify(bus.BeforeUnload, nil)

	assert.Empty(t, strategy.Calls())
	assert.Equal(t, 1, primary.Buffer.Len())
}

func TestFlushTriggerFlushesEachDestinationOnceOnHidden(t *testing.T) {
	strategy := &captureStrategy{teardownSafe: true}
	r, primary, replica := twoDestinationRouter(t, strategy)
	b := bus.New(discard)

	trigger := NewFlushTrigger(r, strategy, discard)
	require.True(t, trigger.Install(b))

	r.Add(event.New(event.KindLog, 0, model.Context{"m": 1}))
	r.Add(event.New(event.KindLog, 0, model.Context{"m": 2}))

	b.Notify(bus.VisibilityChanged, event.Visible)
	assert.Empty(t, strategy.Calls())

	b.Notify(bus.VisibilityChanged, event.Hidden)
	require.Len(t, strategy.CallsTo(primary.EndpointURL), 1)
	require.Len(t, strategy.CallsTo(replica.EndpointURL), 1)
	assert.Len(t, decodeRecords(t, strategy.CallsTo(primary.EndpointURL)[0]), 2)

	// Everything is already flushed; a second signal must not send empty batches.
	b.Notify(bus.BeforeUnload, nil)
	assert.Len(t, strategy.Calls(), 2)
}

func TestFlushTriggerFlushesOnBeforeUnload(t *testing.T) {
	strategy := &captureStrategy{teardownSafe: true}
	r, primary, _ := twoDestinationRouter(t, strategy)
	b := bus.New(discard)

	trigger := NewFlushTrigger(r, strategy, discard)
	require.True(t, trigger.Install(b))

	r.Add(event.New(event.KindLog, 0, model.Context{"m": 1}))
	b.Notify(bus.BeforeUnload, nil)

	assert.Len(t, strategy.CallsTo(primary.EndpointURL), 1)
}

func TestFlushTriggerInstallIsIdempotentAndUninstallDetaches(t *testing.T) {
	strategy := &captureStrategy{teardownSafe: true}
	r, primary, _ := twoDestinationRouter(t, strategy)
	b := bus.New(discard)

	trigger := NewFlushTrigger(r, strategy, discard)
	require.True(t, trigger.Install(b))
	require.True(t, trigger.Install(b))
	assert.Equal(t, 1, b.SubscriberCount(bus.BeforeUnload))

	trigger.Uninstall()
	assert.False(t, trigger.Installed())

	r.Add(event.New(event.KindLog, 0, model.Context{"m": 1}))
	b.Notify(bus.BeforeUnload, nil)
	assert.Empty(t, strategy.Calls())
	assert.Equal(t, 1, primary.Buffer.Len())
}
