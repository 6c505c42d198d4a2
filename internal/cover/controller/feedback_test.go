package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	handlers map[string]func(active bool)
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: map[string]func(active bool){}}
}

func (f *fakeSource) Subscribe(sensor string, handler func(active bool)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[sensor] = handler
	return nil
}

func (f *fakeSource) transition(t *testing.T, sensor string, active bool) {
	t.Helper()
	f.mu.Lock()
	handler, found := f.handlers[sensor]
	f.mu.Unlock()
	require.True(t, found, "no handler subscribed for %s", sensor)
	handler(active)
}

func feedbackConfig() Config {
	cfg := testConfig()
	cfg.UpSensor = "binary_sensor/salon_moving_up"
	cfg.DownSensor = "binary_sensor/salon_moving_down"
	return cfg
}

func TestFeedbackDrivenManualMove(t *testing.T) {
	store := &fakeStore{position: 100, ok: true}
	c, sink, _ := newTestController(t, feedbackConfig(), store)

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	source.transition(t, "binary_sensor/salon_moving_down", true)
	assert.Equal(t, MovingDown, c.Motion())
	assert.Empty(t, sink.recordedOns(), "an observed move must not issue commands")

	// with close time 400ms, 200ms of physical motion is about half the travel
	time.Sleep(200 * time.Millisecond)
	source.transition(t, "binary_sensor/salon_moving_down", false)

	assert.Equal(t, Idle, c.Motion())
	assert.InDelta(t, 50, c.Position(), 15)
	assert.Empty(t, sink.recordedOffs(), "a physical stop must not run the stop handling")

	assert.Eventually(t, func() bool {
		saved, ok := store.lastSaved()
		return ok && saved > 35 && saved < 65
	}, time.Second, 10*time.Millisecond)
}

func TestFeedbackConfirmsCommandedMove(t *testing.T) {
	c, sink, _ := newTestController(t, feedbackConfig(), &fakeStore{position: 50, ok: true})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	require.NoError(t, c.Open(context.Background()))
	source.transition(t, "binary_sensor/salon_moving_up", true)

	assert.Equal(t, MovingUp, c.Motion())
	assert.Equal(t, []string{"switch/salon_up/set"}, sink.recordedOns())
}

func TestFeedbackInactiveSettlesCommandedMove(t *testing.T) {
	c, _, _ := newTestController(t, feedbackConfig(), &fakeStore{position: 50, ok: true})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	require.NoError(t, c.Open(context.Background()))
	source.transition(t, "binary_sensor/salon_moving_up", true)
	time.Sleep(100 * time.Millisecond)
	source.transition(t, "binary_sensor/salon_moving_up", false)

	assert.Equal(t, Idle, c.Motion())
	assert.Greater(t, c.Position(), 50)
}

func TestFeedbackConflictFollowsMostRecentTransition(t *testing.T) {
	c, sink, _ := newTestController(t, feedbackConfig(), &fakeStore{position: 50, ok: true})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	require.NoError(t, c.Open(context.Background()))
	time.Sleep(60 * time.Millisecond)

	source.transition(t, "binary_sensor/salon_moving_down", true)
	assert.Equal(t, MovingDown, c.Motion())

	// the stale commanded move gets its relays released in the background
	assert.Eventually(t, func() bool {
		return len(sink.recordedOffs()) == 2
	}, time.Second, 10*time.Millisecond)

	source.transition(t, "binary_sensor/salon_moving_down", false)
	assert.Equal(t, Idle, c.Motion())
}

func TestFeedbackMoveSettlesWhenTravelRunsOut(t *testing.T) {
	cfg := feedbackConfig()
	cfg.OpenDuration = 150 * time.Millisecond
	c, sink, _ := newTestController(t, cfg, &fakeStore{position: 50, ok: true})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	source.transition(t, "binary_sensor/salon_moving_up", true)
	assert.Equal(t, MovingUp, c.Motion())

	assert.Eventually(t, func() bool {
		return c.Motion() == Idle
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 100, c.Position())
	assert.Empty(t, sink.recordedOns())
	assert.Empty(t, sink.recordedOffs())
}

func TestFeedbackSupersedesCommandStart(t *testing.T) {
	c, sink, _ := newTestController(t, feedbackConfig(), &fakeStore{position: 50, ok: true})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	// hold the open command inside the relay write so a sensor transition
	// can land before the motion gets recorded
	gate := make(chan struct{})
	sink.mu.Lock()
	sink.turnOnGate = gate
	sink.mu.Unlock()

	openDone := make(chan error, 1)
	go func() { openDone <- c.Open(context.Background()) }()

	assert.Eventually(t, func() bool {
		return len(sink.recordedOns()) == 1
	}, time.Second, 5*time.Millisecond)

	source.transition(t, "binary_sensor/salon_moving_down", true)
	assert.Equal(t, MovingDown, c.Motion())

	close(gate)
	require.NoError(t, <-openDone)

	// the sensor-attributed motion owns the state; the stale open neither
	// clobbers it nor fires further relay commands
	assert.Equal(t, MovingDown, c.Motion())
	assert.Equal(t, []string{"switch/salon_up/set"}, sink.recordedOns())
}

func TestFeedbackInertWithoutSensors(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(), &fakeStore{})

	source := newFakeSource()
	require.NoError(t, c.AttachFeedback(context.Background(), source))

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Empty(t, source.handlers)
}
