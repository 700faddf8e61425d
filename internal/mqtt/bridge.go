//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bledom-go-home/internal/controller"
	"bledom-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge exposes the registered LED devices to Home Assistant over MQTT
// with autodiscovery.
type Bridge struct {
	client   pahomqtt.Client
	registry *controller.Registry
	prefix   string
	logger   *slog.Logger
	unsub    func()
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(registry *controller.Registry, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		registry: registry,
		prefix:   cfg.TopicPrefix,
		logger:   logger.With("component", "mqtt"),
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("bledom-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to registry events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.registry.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event controller.Event) {
	switch event.Type {
	case controller.EventDeviceState, controller.EventDeviceLost:
		upd, ok := event.Data.(controller.StateUpdate)
		if !ok {
			return
		}
		b.publishState(upd.Address, upd.State)
	case controller.EventDeviceAdded:
		dev, ok := event.Data.(*store.Device)
		if !ok {
			return
		}
		b.publishDeviceDiscovery(dev)
		b.subscribeDeviceCommands(dev)
	case controller.EventDeviceRemoved:
		data, ok := event.Data.(map[string]string)
		if !ok {
			return
		}
		b.handleDeviceRemoved(data["address"])
	}
}

// lightState is the JSON-schema light state payload.
type lightState struct {
	State      string         `json:"state"`
	Brightness uint8          `json:"brightness"`
	ColorMode  string         `json:"color_mode"`
	Color      map[string]int `json:"color,omitempty"`
	ColorTemp  int            `json:"color_temp,omitempty"`
	Effect     string         `json:"effect,omitempty"`
	MicEnabled bool           `json:"mic_enabled"`
	MicEffect  string         `json:"mic_effect,omitempty"`
	Assumed    bool           `json:"assumed"`
	Stale      bool           `json:"stale"`
}

func (b *Bridge) publishState(address string, st controller.DeviceState) {
	record, err := b.deviceRecord(address)
	if err != nil {
		b.logger.Warn("state for unknown device", "address", address, "err", err)
		return
	}

	payload := lightState{
		State:      "OFF",
		Brightness: st.Brightness,
		ColorMode:  "rgb",
		Color: map[string]int{
			"r": int(st.RGB[0]),
			"g": int(st.RGB[1]),
			"b": int(st.RGB[2]),
		},
		Effect:     st.Effect,
		MicEnabled: st.MicEnabled,
		MicEffect:  st.MicEffect,
		Assumed:    st.Assumed,
		Stale:      st.Stale,
	}
	if st.IsOn {
		payload.State = "ON"
	}
	if st.ColorTempKelvin > 0 {
		payload.ColorMode = "color_temp"
		payload.ColorTemp = kelvinToMireds(st.ColorTempKelvin)
	}

	topic := b.prefix + "/" + deviceTopicName(record)
	b.publish(topic, mustJSON(payload), true)
}

func (b *Bridge) handleDeviceRemoved(address string) {
	if address == "" {
		return
	}
	// The record is gone; rebuild the topic names from the address alone.
	dev := &store.Device{Address: address}
	for _, msg := range buildRemoveDiscovery(dev) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	devices, err := b.registry.Devices()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, dev := range devices {
		if dev.Enabled {
			b.publishDeviceDiscovery(dev)
		}
	}
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	c, ok := b.registry.Get(dev.Address)
	if !ok {
		return
	}
	for _, msg := range buildDiscovery(dev, c.Descriptor(), b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "address", dev.Address, "name", deviceDisplayName(dev))
}

func (b *Bridge) subscribeCommands() {
	devices, err := b.registry.Devices()
	if err != nil {
		b.logger.Error("list devices for command subscription", "err", err)
		return
	}
	for _, dev := range devices {
		if dev.Enabled {
			b.subscribeDeviceCommands(dev)
		}
	}
}

func (b *Bridge) subscribeDeviceCommands(dev *store.Device) {
	address := dev.Address
	base := b.prefix + "/" + deviceTopicName(dev)

	b.client.Subscribe(base+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleLightCommand(address, msg.Payload())
	})
	b.client.Subscribe(base+"/mic/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMicSwitch(address, msg.Payload())
	})
	b.client.Subscribe(base+"/mic_effect/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMicEffect(address, msg.Payload())
	})
	b.client.Subscribe(base+"/mic_sensitivity/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMicSensitivity(address, msg.Payload())
	})
}

// lightCommand is the JSON-schema light command payload from HA.
type lightCommand struct {
	State      string `json:"state,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Color      *struct {
		R int `json:"r"`
		G int `json:"g"`
		B int `json:"b"`
	} `json:"color,omitempty"`
	ColorTemp *int   `json:"color_temp,omitempty"`
	Effect    string `json:"effect,omitempty"`
}

func (b *Bridge) handleLightCommand(address string, payload []byte) {
	c, ok := b.registry.Get(address)
	if !ok {
		b.logger.Warn("command for unknown device", "address", address)
		return
	}

	var cmd lightCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "address", address, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	// Power first so color/brightness land on a lit device.
	switch strings.ToUpper(cmd.State) {
	case "ON":
		if err := c.TurnOn(ctx); err != nil {
			b.logger.Warn("turn on failed", "address", address, "err", err)
			return
		}
	case "OFF":
		if err := c.TurnOff(ctx); err != nil {
			b.logger.Warn("turn off failed", "address", address, "err", err)
		}
		return
	}

	if cmd.Color != nil {
		if err := c.SetRGB(ctx, clampInt(cmd.Color.R), clampInt(cmd.Color.G), clampInt(cmd.Color.B)); err != nil {
			b.logger.Warn("set color failed", "address", address, "err", err)
		}
	}
	if cmd.ColorTemp != nil {
		if err := c.SetColorTemp(ctx, miredsToKelvin(*cmd.ColorTemp)); err != nil {
			b.logger.Warn("set color temp failed", "address", address, "err", err)
		}
	}
	if cmd.Brightness != nil {
		if err := c.SetBrightness(ctx, clampInt(*cmd.Brightness)); err != nil {
			b.logger.Warn("set brightness failed", "address", address, "err", err)
		}
	}
	if cmd.Effect != "" {
		if err := c.SetEffect(ctx, cmd.Effect); err != nil {
			b.logger.Warn("set effect failed", "address", address, "err", err)
		}
	}
}

func (b *Bridge) handleMicSwitch(address string, payload []byte) {
	c, ok := b.registry.Get(address)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	on := strings.EqualFold(strings.TrimSpace(string(payload)), "ON")
	if err := c.SetMicEnabled(ctx, on); err != nil {
		b.logger.Warn("mic switch failed", "address", address, "err", err)
	}
}

func (b *Bridge) handleMicEffect(address string, payload []byte) {
	c, ok := b.registry.Get(address)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	if err := c.SetMicEffect(ctx, strings.TrimSpace(string(payload))); err != nil {
		b.logger.Warn("mic effect failed", "address", address, "err", err)
	}
}

func (b *Bridge) handleMicSensitivity(address string, payload []byte) {
	c, ok := b.registry.Get(address)
	if !ok {
		return
	}
	var level int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(payload)), "%d", &level); err != nil {
		b.logger.Warn("invalid mic sensitivity", "address", address, "payload", string(payload))
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	if err := c.SetMicSensitivity(ctx, clampInt(level)); err != nil {
		b.logger.Warn("mic sensitivity failed", "address", address, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) deviceRecord(address string) (*store.Device, error) {
	return b.registry.Device(address)
}

func kelvinToMireds(kelvin int) int {
	return 1000000 / kelvin
}

func miredsToKelvin(mireds int) int {
	if mireds <= 0 {
		return 0
	}
	return 1000000 / mireds
}

func clampInt(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
