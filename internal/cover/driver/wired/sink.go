package wired

import (
	"context"

	"github.com/pkg/errors"
)

type SetPin interface {
	High() error
	Low() error
}

// Output is a single relay output pin. NormalClosed inverts the levels for
// relays wired through the NC contact.
type Output struct {
	Pin          SetPin
	NormalClosed bool
}

func (o *Output) On() error {
	if o.NormalClosed {
		return o.Pin.Low()
	}
	return o.Pin.High()
}

func (o *Output) Off() error {
	if o.NormalClosed {
		return o.Pin.High()
	}
	return o.Pin.Low()
}

// Sink is a command sink for relays wired directly to the controller instead
// of a host-managed switch. Targets map to registered output pins.
type Sink struct {
	outputs map[string]*Output
}

func NewSink() *Sink {
	return &Sink{outputs: map[string]*Output{}}
}

func (s *Sink) Register(target string, output *Output) {
	s.outputs[target] = output
}

func (s *Sink) TurnOn(_ context.Context, target string) error {
	output, found := s.outputs[target]
	if !found {
		return errors.Errorf("%s is not a registered output", target)
	}
	return output.On()
}

func (s *Sink) TurnOff(_ context.Context, target string) error {
	output, found := s.outputs[target]
	if !found {
		return errors.Errorf("%s is not a registered output", target)
	}
	return output.Off()
}
