package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"
)

// Sink drives relay switches, invokes host actions and delivers feedback
// sensor transitions over MQTT. Command targets, actions and sensors are
// plain topic names.
type Sink struct {
	mqtt paho.Client
}

func NewSink(mqtt paho.Client) *Sink {
	return &Sink{mqtt: mqtt}
}

func (s *Sink) TurnOn(_ context.Context, target string) error {
	return s.publish(target, payloadOn)
}

func (s *Sink) TurnOff(_ context.Context, target string) error {
	return s.publish(target, payloadOff)
}

func (s *Sink) publish(topic, payload string) error {
	if token := s.mqtt.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "MQTT publish to %s failed", topic)
	}
	return nil
}

// Call publishes the action parameters as JSON to the action topic. A target
// entity, when given, rides along as entity_id unless the parameters already
// carry one.
func (s *Sink) Call(_ context.Context, action string, target string, params map[string]interface{}) error {
	data := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	if target != "" {
		if _, found := data["entity_id"]; !found {
			data["entity_id"] = target
		}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "%s action parameters are not serializable", action)
	}

	if token := s.mqtt.Publish(action, 0, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s action publish failed", action)
	}
	return nil
}

// Subscribe attaches a handler to a binary sensor state topic. ON/true/1
// payloads report active motion.
func (s *Sink) Subscribe(sensor string, handler func(active bool)) error {
	token := s.mqtt.Subscribe(sensor, 0, func(c paho.Client, msg paho.Message) {
		handler(isActivePayload(msg.Payload()))
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "MQTT sensor %s subscription failed", sensor)
	}
	return nil
}

func isActivePayload(payload []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1", "open", "moving":
		return true
	}
	return false
}
