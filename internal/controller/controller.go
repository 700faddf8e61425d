// Package controller is the façade over one LED device: it holds the
// commanded state, applies model quirks and calibration, and turns user
// intents into codec frames handed to the connection manager.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bledom-go-home/internal/ble"
	"bledom-go-home/internal/color"
	"bledom-go-home/internal/model"
	"bledom-go-home/internal/proto"
	"bledom-go-home/internal/store"
)

// UnsupportedOperationError reports an intent the device's model cannot
// perform. It is a usage error, never retried.
type UnsupportedOperationError struct {
	Op    string
	Model string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("model %s does not support %s", e.Model, e.Op)
}

// Link is the transport-facing side of a device, satisfied by *ble.Manager.
type Link interface {
	Send(ctx context.Context, frames ...[]byte) error
	Disconnect(ctx context.Context) error
	State() ble.State
	OnDisconnect(func())
	SetDisconnectDelay(d time.Duration)
	Shutdown(ctx context.Context) error
}

// DeviceState is the commanded state of a light. The hardware offers no
// read-back, so this is "last command sent", not verified device status;
// Assumed is always true and Stale is set while the link is known lost.
type DeviceState struct {
	IsOn            bool     `json:"is_on"`
	RGB             [3]uint8 `json:"rgb"`
	Brightness      uint8    `json:"brightness"`
	ColorTempKelvin int      `json:"color_temp_kelvin,omitempty"`
	Effect          string   `json:"effect,omitempty"`
	EffectSpeed     uint8    `json:"effect_speed,omitempty"`
	MicEnabled      bool     `json:"mic_enabled,omitempty"`
	MicEffect       string   `json:"mic_effect,omitempty"`
	Assumed         bool     `json:"assumed"`
	Stale           bool     `json:"stale"`
}

// StateUpdate is the payload of EventDeviceState and EventDeviceLost.
type StateUpdate struct {
	Address string      `json:"address"`
	State   DeviceState `json:"state"`
}

// ValidateCalibration rejects out-of-range gains and unknown brightness
// modes before they reach a controller.
func ValidateCalibration(c store.Calibration) error {
	for _, g := range []struct {
		name string
		v    float64
	}{{"gain_r", c.GainR}, {"gain_g", c.GainG}, {"gain_b", c.GainB}} {
		if g.v < 0 || g.v > 3.0 {
			return fmt.Errorf("%s must be in [0, 3.0], got %g", g.name, g.v)
		}
	}
	if c.BrightnessMode != "" && !color.BrightnessMode(c.BrightnessMode).Valid() {
		return fmt.Errorf("unknown brightness mode %q", c.BrightnessMode)
	}
	return nil
}

// DefaultCalibration fills a zero-value calibration with the model's
// factory gains and the auto brightness mode.
func DefaultCalibration(desc *model.Descriptor) store.Calibration {
	return store.Calibration{
		GainR:          desc.DefaultGains.R,
		GainG:          desc.DefaultGains.G,
		GainB:          desc.DefaultGains.B,
		BrightnessMode: string(color.ModeAuto),
	}
}

// LinkConfig builds the connection manager configuration for a classified
// device: write characteristic, bring-up frames, and the idle timeout.
func LinkConfig(address string, desc *model.Descriptor, calib store.Calibration) ble.ManagerConfig {
	cfg := ble.ManagerConfig{
		Address:         address,
		WriteChar:       desc.WriteChar,
		DisconnectDelay: time.Duration(calib.DisconnectDelaySeconds) * time.Second,
	}
	if desc.RequiresInit {
		cfg.InitFrames = proto.EncodeInitSequence(desc.Variant)
	}
	return cfg
}

// Controller drives one LED device.
type Controller struct {
	address string
	desc    *model.Descriptor
	link    Link
	events  *EventBus
	logger  *slog.Logger

	mu    sync.Mutex
	calib store.Calibration
	state DeviceState
}

// New creates a controller for a classified device. The calibration must
// already be validated.
func New(address string, desc *model.Descriptor, calib store.Calibration, link Link, events *EventBus, logger *slog.Logger) *Controller {
	if calib.BrightnessMode == "" {
		calib.BrightnessMode = string(color.ModeAuto)
	}
	c := &Controller{
		address: address,
		desc:    desc,
		link:    link,
		events:  events,
		logger:  logger.With("address", address, "model", desc.Prefix),
		calib:   calib,
		state: DeviceState{
			RGB:        [3]uint8{255, 255, 255},
			Brightness: 255,
			Assumed:    true,
		},
	}
	link.OnDisconnect(c.handleLinkLost)
	return c
}

// Address returns the peripheral address this controller drives.
func (c *Controller) Address() string { return c.address }

// Descriptor returns the resolved model descriptor.
func (c *Controller) Descriptor() *model.Descriptor { return c.desc }

// State returns a snapshot of the commanded device state.
func (c *Controller) State() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LinkState reports the connection manager's current link state.
func (c *Controller) LinkState() ble.State { return c.link.State() }

// Calibration returns the active calibration.
func (c *Controller) Calibration() store.Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calib
}

// SetCalibration applies new calibration between operations, without
// reconnecting.
func (c *Controller) SetCalibration(calib store.Calibration) error {
	if err := ValidateCalibration(calib); err != nil {
		return err
	}
	if calib.BrightnessMode == "" {
		calib.BrightnessMode = string(color.ModeAuto)
	}
	c.mu.Lock()
	c.calib = calib
	c.mu.Unlock()
	c.link.SetDisconnectDelay(time.Duration(calib.DisconnectDelaySeconds) * time.Second)
	return nil
}

// TurnOn powers the light, optionally forcing white per calibration.
func (c *Controller) TurnOn(ctx context.Context) error {
	c.mu.Lock()
	c.state.IsOn = true
	frames := [][]byte{proto.EncodePower(true, c.desc)}
	if c.calib.ResetColorOnPowerOn {
		c.state.RGB = [3]uint8{255, 255, 255}
		c.state.ColorTempKelvin = 0
		c.state.Effect = ""
		c.state.Brightness = 0xFF
		frames = append(frames, proto.EncodeWhite(0xFF, c.desc))
	}
	c.mu.Unlock()
	return c.send(ctx, frames...)
}

// TurnOff powers the light down.
func (c *Controller) TurnOff(ctx context.Context) error {
	c.mu.Lock()
	c.state.IsOn = false
	c.mu.Unlock()
	return c.send(ctx, proto.EncodePower(false, c.desc))
}

// SetRGB sets a solid color, leaving color-temperature and effect modes.
func (c *Controller) SetRGB(ctx context.Context, r, g, b uint8) error {
	c.mu.Lock()
	c.state.RGB = [3]uint8{r, g, b}
	c.state.ColorTempKelvin = 0
	c.state.Effect = ""
	res := c.resolveLocked(color.RGB{R: r, G: g, B: b})
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeRGB(res.RGB.R, res.RGB.G, res.RGB.B, c.desc.Variant))
}

// SetBrightness adjusts brightness using the calibrated strategy: a native
// frame where the mode selects it, otherwise a rescaled color frame.
func (c *Controller) SetBrightness(ctx context.Context, level uint8) error {
	c.mu.Lock()
	c.state.Brightness = level
	target := color.RGB{R: c.state.RGB[0], G: c.state.RGB[1], B: c.state.RGB[2]}
	res := c.resolveLocked(target)
	if !res.SendNativeBrightness {
		// The rescaled color frame pulls the device out of any running
		// pattern.
		c.state.Effect = ""
	}
	c.mu.Unlock()

	if res.SendNativeBrightness {
		return c.send(ctx, proto.EncodeBrightness(res.NativeLevel, c.desc.Variant))
	}
	return c.send(ctx, proto.EncodeRGB(res.RGB.R, res.RGB.G, res.RGB.B, c.desc.Variant))
}

// SetColorTemp emulates a white point on the RGB channels. Out-of-range
// kelvin targets are clamped.
func (c *Controller) SetColorTemp(ctx context.Context, kelvin int) error {
	if kelvin < color.KelvinMin {
		kelvin = color.KelvinMin
	}
	if kelvin > color.KelvinMax {
		kelvin = color.KelvinMax
	}
	rgb := color.KelvinToRGB(kelvin)

	c.mu.Lock()
	c.state.ColorTempKelvin = kelvin
	c.state.Effect = ""
	c.state.RGB = [3]uint8{rgb.R, rgb.G, rgb.B}
	res := c.resolveLocked(rgb)
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeRGB(res.RGB.R, res.RGB.G, res.RGB.B, c.desc.Variant))
}

// SetEffect starts a preset pattern by catalog name.
func (c *Controller) SetEffect(ctx context.Context, name string) error {
	if !c.desc.HasEffects {
		return &UnsupportedOperationError{Op: "set_effect", Model: c.desc.Prefix}
	}
	id, ok := model.EffectByName(name)
	if !ok {
		return fmt.Errorf("unknown effect %q", name)
	}
	c.mu.Lock()
	c.state.Effect = name
	c.state.ColorTempKelvin = 0
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeEffect(id, c.desc))
}

// SetEffectSpeed adjusts the pattern speed, 0-100.
func (c *Controller) SetEffectSpeed(ctx context.Context, speed uint8) error {
	if !c.desc.HasEffects {
		return &UnsupportedOperationError{Op: "set_effect_speed", Model: c.desc.Prefix}
	}
	if speed > 100 {
		speed = 100
	}
	c.mu.Lock()
	c.state.EffectSpeed = speed
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeEffectSpeed(speed, c.desc))
}

// SetWhite drives the dedicated white channel.
func (c *Controller) SetWhite(ctx context.Context, level uint8) error {
	c.mu.Lock()
	c.state.Brightness = level
	c.state.ColorTempKelvin = 0
	c.state.Effect = ""
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeWhite(level, c.desc))
}

// SetMicSensitivity adjusts microphone gain, 0-100.
func (c *Controller) SetMicSensitivity(ctx context.Context, level uint8) error {
	if !c.desc.HasMicEffects {
		return &UnsupportedOperationError{Op: "set_mic_sensitivity", Model: c.desc.Prefix}
	}
	if level > 100 {
		level = 100
	}
	return c.send(ctx, proto.EncodeMicSensitivity(level))
}

// SetMicEffect selects a microphone-reactive mode by catalog name.
func (c *Controller) SetMicEffect(ctx context.Context, name string) error {
	if !c.desc.HasMicEffects {
		return &UnsupportedOperationError{Op: "set_mic_effect", Model: c.desc.Prefix}
	}
	id, ok := model.MicEffectByName(name)
	if !ok {
		return fmt.Errorf("unknown mic effect %q", name)
	}
	c.mu.Lock()
	c.state.MicEffect = name
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeMicEffect(id))
}

// SetMicEnabled toggles microphone-reactive mode.
func (c *Controller) SetMicEnabled(ctx context.Context, on bool) error {
	if !c.desc.HasMicEffects {
		return &UnsupportedOperationError{Op: "set_mic_enabled", Model: c.desc.Prefix}
	}
	c.mu.Lock()
	c.state.MicEnabled = on
	c.mu.Unlock()
	return c.send(ctx, proto.EncodeMicOnOff(on))
}

// SyncTime sets the controller clock used by schedules.
func (c *Controller) SyncTime(ctx context.Context, t time.Time) error {
	return c.send(ctx, proto.EncodeSyncTime(t))
}

// SetSchedule programs the on- or off-timer.
func (c *Controller) SetSchedule(ctx context.Context, on bool, hour, minute uint8, days uint8, enabled bool) error {
	if hour > 23 || minute > 59 {
		return fmt.Errorf("invalid schedule time %02d:%02d", hour, minute)
	}
	return c.send(ctx, proto.EncodeSchedule(on, hour, minute, days, enabled))
}

// Disconnect closes the link after any pending writes.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.link.Disconnect(ctx)
}

// Shutdown stops the connection manager.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.link.Shutdown(ctx)
}

// resolveLocked runs the color engine against the current calibration.
// Caller holds c.mu.
func (c *Controller) resolveLocked(target color.RGB) color.Result {
	gains := [3]float64{c.calib.GainR, c.calib.GainG, c.calib.GainB}
	mode := color.BrightnessMode(c.calib.BrightnessMode)
	return color.Resolve(target, c.state.Brightness, gains, mode, c.desc.HasNativeBrightness)
}

// send hands frames to the connection manager. On success the stale flag is
// cleared and the new state announced; on failure the optimistic state is
// kept, since the device's true state is unknown either way.
func (c *Controller) send(ctx context.Context, frames ...[]byte) error {
	if err := c.link.Send(ctx, frames...); err != nil {
		c.logger.Warn("send failed", "err", err)
		return err
	}
	c.mu.Lock()
	c.state.Stale = false
	snapshot := c.state
	c.mu.Unlock()
	c.events.Emit(Event{Type: EventDeviceState, Data: StateUpdate{Address: c.address, State: snapshot}})
	return nil
}

// handleLinkLost runs when the link drops without a local disconnect. The
// commanded state is kept as the best guess, flagged stale.
func (c *Controller) handleLinkLost() {
	c.mu.Lock()
	c.state.Stale = true
	snapshot := c.state
	c.mu.Unlock()
	c.logger.Warn("device link lost")
	c.events.Emit(Event{Type: EventDeviceLost, Data: StateUpdate{Address: c.address, State: snapshot}})
}
