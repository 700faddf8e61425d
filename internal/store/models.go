package store

import "time"

// Calibration holds per-device tuning supplied by the user. Gains compensate
// for LED channel balance; the brightness mode selects how dimming reaches
// the hardware.
type Calibration struct {
	GainR                  float64 `json:"gain_r"`
	GainG                  float64 `json:"gain_g"`
	GainB                  float64 `json:"gain_b"`
	BrightnessMode         string  `json:"brightness_mode"`
	ResetColorOnPowerOn    bool    `json:"reset_color_on_power_on"`
	DisconnectDelaySeconds uint32  `json:"disconnect_delay_seconds"`
}

// Device is one registered LED controller.
type Device struct {
	Address      string      `json:"address"`
	Name         string      `json:"name"`
	ModelPrefix  string      `json:"model_prefix"`
	FriendlyName string      `json:"friendly_name,omitempty"`
	Calibration  Calibration `json:"calibration"`
	Enabled      bool        `json:"enabled"`
	AddedAt      time.Time   `json:"added_at"`
	LastSeen     time.Time   `json:"last_seen"`
	RSSI         int         `json:"rssi,omitempty"`
}
