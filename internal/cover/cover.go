package cover

import (
	"context"
)

const (
	CoverOpenState    = "open"
	CoverClosedState  = "closed"
	CoverOpeningState = "opening"
	CoverClosingState = "closing"
)

type UpdateHandler func(state string, position int)

// Cover is a motorized shutter abstraction with a percent-open position.
// Position is reported in the 0 (fully closed) to 100 (fully open) range.
type Cover interface {
	Name() string

	Position() int
	State() string

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
	SetShade(ctx context.Context) error
}

// CommandSink drives the momentary up/down relay outputs. Targets are opaque
// identifiers resolved by the sink implementation (MQTT topic, wired pin).
type CommandSink interface {
	TurnOn(ctx context.Context, target string) error
	TurnOff(ctx context.Context, target string) error
}

// SensorSource delivers state transitions of the optional motion-feedback
// binary sensors. One handler per sensor; the handler receives true when the
// sensor reports active motion.
type SensorSource interface {
	Subscribe(sensor string, handler func(active bool)) error
}

// ServiceCaller invokes a named host action, used by stop sequences.
type ServiceCaller interface {
	Call(ctx context.Context, action string, target string, params map[string]interface{}) error
}

// SnapshotStore persists the last settled position per cover. Motion never
// survives a restart, so only an idle position is ever stored.
type SnapshotStore interface {
	Load(ctx context.Context, name string) (position float64, ok bool, err error)
	Save(ctx context.Context, name string, position float64) error
}
