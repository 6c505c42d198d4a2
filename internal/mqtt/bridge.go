package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
)

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

type Bridge struct {
	mqtt  mqtt.Client
	cover cover.Cover

	StateTopic    string
	PositionTopic string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string
	ShadeTopic          string
}

func NewBridge(mqtt mqtt.Client, cover cover.Cover) *Bridge {
	bridge := &Bridge{mqtt: mqtt, cover: cover}
	bridge.StateTopic = fmt.Sprintf("cover2mqtt/%s/state", cover.Name())
	bridge.PositionTopic = fmt.Sprintf("cover2mqtt/%s/position", cover.Name())
	bridge.MetadataTopic = fmt.Sprintf("cover2mqtt/%s/metadata", cover.Name())
	bridge.CommandTopic = fmt.Sprintf("cover2mqtt/%s/set", cover.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("cover2mqtt/%s/position/set", cover.Name())
	bridge.ShadeTopic = fmt.Sprintf("cover2mqtt/%s/shade/set", cover.Name())

	cover.OnUpdate(bridge.onCoverUpdateHandler())

	return bridge
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.cover.Name())
	}

	return nil
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic, b.ShadeTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.cover.Name(), token.Error())
		}
	}()

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.cover.Name())
	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.cover.Name())
	if token := b.mqtt.Subscribe(b.ShadeTopic, 0, b.onShadeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT shade topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT shade topic subscribed", b.cover.Name())

	return nil
}

func (b *Bridge) onCoverUpdateHandler() cover.UpdateHandler {
	return func(state string, position int) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, state); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.cover.Name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, fmt.Sprintf("%d", position)); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.cover.Name(), token.Error())
		}
	}
}

// Handlers hand off to a goroutine: paho dispatches every message on a single
// router goroutine, and a command stuck behind a running stop sequence delay
// could never cancel it.
func (b *Bridge) onCommandHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		cmd := string(msg.Payload())
		go func() {
			var err error
			switch cmd {
			case mqttOpenCmd:
				err = b.cover.Open(ctx)
			case mqttCloseCmd:
				err = b.cover.Close(ctx)
			case mqttStopCmd:
				err = b.cover.Stop(ctx)
			default:
				logrus.Errorf("%s: MQTT unsupported %s command received", b.cover.Name(), cmd)
				return
			}
			if err != nil {
				logrus.Errorf("%s: %s command failed: %s", b.cover.Name(), cmd, err)
			}
		}()
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		pos, err := strconv.Atoi(string(msg.Payload()))
		if err != nil {
			logrus.Error(err)
			return
		}
		go func() {
			if err := b.cover.SetPosition(ctx, pos); err != nil {
				logrus.Error(err)
			}
		}()
	}
}

func (b *Bridge) onShadeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		go func() {
			if err := b.cover.SetShade(ctx); err != nil {
				logrus.Errorf("%s: shade command failed: %s", b.cover.Name(), err)
			}
		}()
	}
}
