package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	action string
	target string
	params map[string]interface{}
	at     time.Time
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []recordedCall
	failing map[string]error
}

func (f *fakeCaller) Call(_ context.Context, action, target string, params map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{action: action, target: target, params: params, at: time.Now()})
	if err, found := f.failing[action]; found {
		return err
	}
	return nil
}

func (f *fakeCaller) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func TestRunStopSequence(t *testing.T) {
	t.Run("steps execute strictly in order with delays applied after each step", func(t *testing.T) {
		caller := &fakeCaller{}
		steps := []StopStep{
			{Action: "logo/pulse_stop", Target: "relay_up", Delay: 30 * time.Millisecond},
			{Action: "logo/confirm", Parameters: map[string]interface{}{"value": 1}},
		}

		start := time.Now()
		runStopSequence(context.Background(), "salon", caller, steps)

		calls := caller.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "logo/pulse_stop", calls[0].action)
		assert.Equal(t, "relay_up", calls[0].target)
		assert.Equal(t, "logo/confirm", calls[1].action)
		assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), 30*time.Millisecond)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("a failed step is logged and execution continues", func(t *testing.T) {
		caller := &fakeCaller{failing: map[string]error{
			"logo/broken": errors.New("host unavailable"),
		}}
		steps := []StopStep{
			{Action: "logo/broken"},
			{Action: "logo/pulse_stop"},
		}

		runStopSequence(context.Background(), "salon", caller, steps)

		calls := caller.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "logo/pulse_stop", calls[1].action)
	})

	t.Run("cancellation during a delay skips the remaining steps", func(t *testing.T) {
		caller := &fakeCaller{}
		steps := []StopStep{
			{Action: "logo/pulse_stop", Delay: time.Second},
			{Action: "logo/never_reached"},
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		runStopSequence(ctx, "salon", caller, steps)

		assert.Less(t, time.Since(start), time.Second)
		require.Len(t, caller.recorded(), 1)
	})
}
