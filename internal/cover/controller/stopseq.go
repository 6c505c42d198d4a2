package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
)

// runStopSequence executes steps strictly in order. A failed step is logged
// and execution continues. Delays suspend on the context, so a superseding
// command cancels the remainder of a stale sequence.
func runStopSequence(ctx context.Context, name string, caller cover.ServiceCaller, steps []StopStep) {
	for i, step := range steps {
		if ctx.Err() != nil {
			logrus.Debugf("%s: stop sequence canceled at step %d", name, i)
			return
		}

		if err := caller.Call(ctx, step.Action, step.Target, step.Parameters); err != nil {
			logrus.Errorf("%s: stop step %d (%s) failed: %s", name, i, step.Action, err)
		}

		if step.Delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			logrus.Debugf("%s: stop sequence canceled at step %d delay", name, i)
			return
		case <-time.After(step.Delay):
		}
	}
}
