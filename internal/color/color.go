// Package color computes the device-bound RGB bytes from a requested color,
// per-channel calibration gains, the active brightness strategy, and an
// optional color-temperature target. Everything here is pure: identical
// inputs always produce identical bytes.
package color

import "math"

// BrightnessMode selects how a brightness level reaches the device.
type BrightnessMode string

const (
	// ModeAuto scales RGB unless the model reports reliable native
	// brightness support.
	ModeAuto BrightnessMode = "auto"
	// ModeRGB folds brightness into the RGB channels.
	ModeRGB BrightnessMode = "rgb"
	// ModeNative sends RGB unscaled plus a separate brightness frame.
	ModeNative BrightnessMode = "native"
)

// Valid reports whether m is a recognized mode.
func (m BrightnessMode) Valid() bool {
	switch m {
	case ModeAuto, ModeRGB, ModeNative:
		return true
	}
	return false
}

// RGB is a triplet of device channel values.
type RGB struct {
	R, G, B uint8
}

// Kelvin endpoints of the emulated white curve. Hardware without a real CCT
// channel approximates a white point by mixing RGB between these anchors.
const (
	KelvinMin = 1800
	KelvinMax = 7000
)

var (
	warmWhite = [3]float64{255, 138, 18}
	coolWhite = [3]float64{180, 220, 255}
)

// Result is the outcome of Resolve.
type Result struct {
	RGB RGB
	// SendNativeBrightness is set when a separate native brightness frame
	// must accompany the color frame.
	SendNativeBrightness bool
	NativeLevel          uint8
}

// Resolve computes final channel bytes from the requested color, the 0-255
// brightness level, calibration gains, and the brightness strategy.
// nativeSupported is the model's native-brightness capability, consulted
// only by ModeAuto.
func Resolve(rgb RGB, brightness uint8, gains [3]float64, mode BrightnessMode, nativeSupported bool) Result {
	native := mode == ModeNative || (mode == ModeAuto && nativeSupported)

	scale := 1.0
	if !native {
		scale = float64(brightness) / 255.0
	}

	out := Result{
		RGB: RGB{
			R: clampByte(float64(rgb.R) * gains[0] * scale),
			G: clampByte(float64(rgb.G) * gains[1] * scale),
			B: clampByte(float64(rgb.B) * gains[2] * scale),
		},
	}
	if native {
		out.SendNativeBrightness = true
		out.NativeLevel = brightness
	}
	return out
}

// KelvinToRGB maps a color temperature onto the warm-to-cool curve by linear
// interpolation. Out-of-range targets are clamped, not rejected.
func KelvinToRGB(kelvin int) RGB {
	if kelvin < KelvinMin {
		kelvin = KelvinMin
	}
	if kelvin > KelvinMax {
		kelvin = KelvinMax
	}
	t := float64(kelvin-KelvinMin) / float64(KelvinMax-KelvinMin)
	return RGB{
		R: clampByte(warmWhite[0] + (coolWhite[0]-warmWhite[0])*t),
		G: clampByte(warmWhite[1] + (coolWhite[1]-warmWhite[1])*t),
		B: clampByte(warmWhite[2] + (coolWhite[2]-warmWhite[2])*t),
	}
}

func clampByte(v float64) uint8 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
