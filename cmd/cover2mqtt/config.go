package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/jkaflik/cover2mqtt/internal/cover"
	"github.com/jkaflik/cover2mqtt/internal/cover/controller"
	"github.com/jkaflik/cover2mqtt/internal/cover/driver/wired"
	"github.com/jkaflik/cover2mqtt/internal/mqtt"
	"github.com/jkaflik/cover2mqtt/internal/store/sqlite"
)

type cfgStopStep struct {
	Action     string                 `yaml:"action"`
	Target     string                 `yaml:"target"`
	Parameters map[string]interface{} `yaml:"parameters"`
	Delay      time.Duration          `yaml:"delay"`
}

type cfgWiredPin struct {
	Mcp23017     int   `yaml:"mcp23017"`
	Pin          uint8 `yaml:"pin"`
	NormalClosed bool  `yaml:"normal_closed"`
}

type cfgSink struct {
	Kind string `yaml:"kind" default:"mqtt"`

	// wired sink only: output pin per command target
	Pins map[string]cfgWiredPin `yaml:"pins"`
}

type cfgCoverMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgCover struct {
	Name string `yaml:"name"`

	UpTarget   string `yaml:"up_target"`
	DownTarget string `yaml:"down_target"`
	UpSensor   string `yaml:"up_sensor"`
	DownSensor string `yaml:"down_sensor"`

	OpenTime  time.Duration `yaml:"open_time" default:"20s"`
	CloseTime time.Duration `yaml:"close_time" default:"20s"`
	Overrun   time.Duration `yaml:"overrun"`

	InitialPosition float64  `yaml:"initial_position"`
	ShadePosition   *float64 `yaml:"shade_position"`

	StopSequence     []cfgStopStep `yaml:"stop_sequence"`
	StopSequenceUp   []cfgStopStep `yaml:"stop_sequence_up"`
	StopSequenceDown []cfgStopStep `yaml:"stop_sequence_down"`

	Sink cfgSink `yaml:"sink"`

	MQTTBridge cfgCoverMQTTBridge `yaml:"mqtt_bridge"`
}

type cfgDrivers struct {
	Mcp23017 map[int]struct {
		Bus          uint8 `yaml:"bus" default:"1"`
		DeviceNumber uint8 `yaml:"device_number" default:"0"`
	} `yaml:"mcp23017"`
}

type cfgStore struct {
	Kind string `yaml:"kind" default:"mqtt"`
	Path string `yaml:"path" default:"cover2mqtt.db"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"cover2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT  cfgMQTT  `yaml:"mqtt" env:"MQTT"`
	HASS  cfgHASS  `yaml:"hass" env:"HASS"`
	Store cfgStore `yaml:"store"`

	Covers []cfgCover `yaml:"covers"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "C2M",
})

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func storeFromConfig(client paho.Client) cover.SnapshotStore {
	switch Cfg.Store.Kind {
	case "", "mqtt":
		return mqtt.NewStore(client)
	case "sqlite":
		store, err := sqlite.Open(Cfg.Store.Path)
		if err != nil {
			logrus.Fatal(err)
		}
		return store
	}

	logrus.Fatalf("%s is not a supported store kind", Cfg.Store.Kind)
	return nil
}

func covers2mqttFromConfig(ctx context.Context, client paho.Client) (bridges []*mqtt.Bridge) {
	store := storeFromConfig(client)
	mqttSink := mqtt.NewSink(client)

	for _, cfg := range Cfg.Covers {
		sink := commandSinkFromConfig(ctx, cfg, mqttSink)

		c, err := controller.New(controllerConfigFromCover(cfg), sink, mqttSink, store)
		if err != nil {
			logrus.Fatal(err)
		}
		if err := c.AttachFeedback(ctx, mqttSink); err != nil {
			logrus.Fatal(err)
		}

		bridge := mqtt.NewBridge(client, c)
		if err := bridge.SetMetadata(cfg.MQTTBridge.Metadata); err != nil {
			logrus.Fatal(err)
		}
		bridges = append(bridges, bridge)
	}

	return bridges
}

func controllerConfigFromCover(cfg cfgCover) controller.Config {
	return controller.Config{
		Name:             cfg.Name,
		UpTarget:         cfg.UpTarget,
		DownTarget:       cfg.DownTarget,
		UpSensor:         cfg.UpSensor,
		DownSensor:       cfg.DownSensor,
		OpenDuration:     cfg.OpenTime,
		CloseDuration:    cfg.CloseTime,
		Overrun:          cfg.Overrun,
		InitialPosition:  cfg.InitialPosition,
		ShadePosition:    cfg.ShadePosition,
		StopSequence:     stopStepsFromConfig(cfg.StopSequence),
		StopSequenceUp:   stopStepsFromConfig(cfg.StopSequenceUp),
		StopSequenceDown: stopStepsFromConfig(cfg.StopSequenceDown),
	}
}

func stopStepsFromConfig(cfg []cfgStopStep) (steps []controller.StopStep) {
	for _, step := range cfg {
		steps = append(steps, controller.StopStep{
			Action:     step.Action,
			Target:     step.Target,
			Parameters: step.Parameters,
			Delay:      step.Delay,
		})
	}
	return steps
}

func commandSinkFromConfig(ctx context.Context, cfg cfgCover, mqttSink *mqtt.Sink) cover.CommandSink {
	switch cfg.Sink.Kind {
	case "", "mqtt":
		return mqttSink
	case "wired":
		sink := wired.NewSink()
		for target, pin := range cfg.Sink.Pins {
			device := mcp23017DeviceFromConfigByID(ctx, pin.Mcp23017)
			p, err := wired.NewMcp23017Pin(device, pin.Pin)
			if err != nil {
				logrus.Fatal(err)
			}
			sink.Register(target, &wired.Output{Pin: p, NormalClosed: pin.NormalClosed})
		}
		return sink
	}

	logrus.Fatalf("%s is not a supported sink kind", cfg.Sink.Kind)
	return nil
}

var mcpDevices = map[int]*mcp23017.Device{}

func mcp23017DeviceFromConfigByID(ctx context.Context, id int) *mcp23017.Device {
	if Cfg.Drivers.Mcp23017 == nil {
		logrus.Fatal("drivers.mcp23017 not defined")
	}

	cfg, found := Cfg.Drivers.Mcp23017[id]
	if !found {
		logrus.Fatalf("%d is not valid defined drivers.mcp23017", id)
		return nil
	}

	dev := mcpDevices[id]
	if dev == nil {
		var err error
		dev, err = mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
		if err != nil {
			logrus.Fatal(err)
		}
		go func() {
			<-ctx.Done()
			if err := dev.Close(); err != nil {
				logrus.Errorf("mcp23017: close failed %s", err)
				return
			}

			logrus.Infof("mcp23017: close")
		}()
		if err := dev.Reset(); err != nil {
			logrus.Fatal(err)
		}

		mcpDevices[id] = dev
	}

	return dev
}
