package controller

import (
	"time"

	"github.com/pkg/errors"
)

// motionTimer measures wall-clock time of the current motion. Zero value is a
// stopped timer.
type motionTimer struct {
	startedAt time.Time
}

func (t *motionTimer) start() {
	t.startedAt = time.Now()
}

func (t *motionTimer) running() bool {
	return !t.startedAt.IsZero()
}

func (t *motionTimer) elapsed() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	return time.Since(t.startedAt)
}

// stop clears the timer and returns the final elapsed time.
func (t *motionTimer) stop() time.Duration {
	elapsed := t.elapsed()
	t.startedAt = time.Time{}
	return elapsed
}

// estimateDelta converts elapsed motion time into a position delta on the
// 0-100 scale, capped at a full travel. fullDuration must be positive.
func estimateDelta(elapsed, fullDuration time.Duration) (float64, error) {
	if fullDuration <= 0 {
		return 0, errors.Errorf("full travel duration must be positive, got %s", fullDuration)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	delta := 100 * float64(elapsed) / float64(fullDuration)
	if delta > 100 {
		delta = 100
	}
	return delta, nil
}

func clampPosition(position float64) float64 {
	if position < 0 {
		return 0
	}
	if position > 100 {
		return 100
	}
	return position
}
