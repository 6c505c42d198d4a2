package controller

import (
	"time"

	"github.com/pkg/errors"
)

const defaultTickInterval = 200 * time.Millisecond

// StopStep is a single step of a stop sequence: a host action with an
// optional target entity, optional parameters and an optional delay applied
// after the step executed.
type StopStep struct {
	Action     string
	Target     string
	Parameters map[string]interface{}
	Delay      time.Duration
}

// Config describes a single cover instance. Immutable for the controller
// lifetime.
type Config struct {
	Name string

	// Command targets for the momentary up/down relay outputs. Required.
	UpTarget   string
	DownTarget string

	// Optional motion-feedback binary sensors. When both are empty all
	// tracking relies on commanded start/stop and elapsed time only.
	UpSensor   string
	DownSensor string

	// Full travel durations. Both required and positive.
	OpenDuration  time.Duration
	CloseDuration time.Duration

	// Overrun extends the allowed run time when the move target is a travel
	// extreme (0 or 100), to let the motor fully seat. Never counted toward
	// the position estimate.
	Overrun time.Duration

	// Position assumed on first start when no snapshot exists.
	InitialPosition float64

	// Optional preconfigured partial-open percentage for SetShade.
	ShadePosition *float64

	// Stop sequences per direction, with a shared fallback used when a
	// direction-specific sequence is absent or the direction is unknown.
	StopSequenceUp   []StopStep
	StopSequenceDown []StopStep
	StopSequence     []StopStep

	// Live position recompute interval while moving. Defaults to 200ms.
	TickInterval time.Duration
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("cover name is required")
	}
	if c.UpTarget == "" || c.DownTarget == "" {
		return errors.Errorf("%s: up and down command targets are required", c.Name)
	}
	if c.OpenDuration <= 0 {
		return errors.Errorf("%s: open duration must be positive, got %s", c.Name, c.OpenDuration)
	}
	if c.CloseDuration <= 0 {
		return errors.Errorf("%s: close duration must be positive, got %s", c.Name, c.CloseDuration)
	}
	if c.Overrun < 0 {
		return errors.Errorf("%s: overrun must not be negative, got %s", c.Name, c.Overrun)
	}
	if c.ShadePosition != nil && (*c.ShadePosition < 0 || *c.ShadePosition > 100) {
		return errors.Errorf("%s: shade position %f is out of 0-100 range", c.Name, *c.ShadePosition)
	}
	for _, seq := range [][]StopStep{c.StopSequenceUp, c.StopSequenceDown, c.StopSequence} {
		for i, step := range seq {
			if step.Action == "" {
				return errors.Errorf("%s: stop step %d has no action", c.Name, i)
			}
			if step.Delay < 0 {
				return errors.Errorf("%s: stop step %d has a negative delay", c.Name, i)
			}
		}
	}
	return nil
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return defaultTickInterval
}

// fullDuration returns the nominal full-travel duration for a direction.
func (c Config) fullDuration(dir MotionState) time.Duration {
	if dir == MovingDown {
		return c.CloseDuration
	}
	return c.OpenDuration
}

// stopSequenceFor picks the sequence matching a tracked direction, falling
// back to the shared sequence when the direction has none or is unknown.
func (c Config) stopSequenceFor(dir MotionState) []StopStep {
	switch dir {
	case MovingUp:
		if len(c.StopSequenceUp) > 0 {
			return c.StopSequenceUp
		}
	case MovingDown:
		if len(c.StopSequenceDown) > 0 {
			return c.StopSequenceDown
		}
	}
	return c.StopSequence
}
