package mqtt

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const restoreWait = 2 * time.Second

// Store persists the settled position as a retained message on the cover
// position topic. The broker replays it on subscribe, which makes the topic
// double as the restart snapshot.
type Store struct {
	mqtt paho.Client
}

func NewStore(mqtt paho.Client) *Store {
	return &Store{mqtt: mqtt}
}

func (s *Store) topic(name string) string {
	return fmt.Sprintf("cover2mqtt/%s/position", name)
}

func (s *Store) Load(ctx context.Context, name string) (float64, bool, error) {
	topic := s.topic(name)
	restored := make(chan float64, 1)

	handler := func(c paho.Client, msg paho.Message) {
		position, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			logrus.Errorf("%s: retained position %q is not a number", name, msg.Payload())
			return
		}
		select {
		case restored <- position:
		default:
		}
	}

	if token := s.mqtt.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return 0, false, errors.Wrapf(token.Error(), "%s: position restore subscription failed", name)
	}
	defer func() {
		if token := s.mqtt.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: position restore topic unsubscribe failed: %s", name, token.Error())
		}
	}()

	select {
	case position := <-restored:
		return position, true, nil
	case <-time.After(restoreWait):
		// nothing retained yet, first run
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (s *Store) Save(_ context.Context, name string, position float64) error {
	payload := strconv.Itoa(int(math.Round(position)))
	if token := s.mqtt.Publish(s.topic(name), 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: position persist publish failed", name)
	}
	return nil
}
