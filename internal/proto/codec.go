package proto

import (
	"time"

	"bledom-go-home/internal/model"
)

// EncodePower builds the power frame from the family's templates. The
// power-on payload differs between families; the MELK-OG10 additionally
// uses its own opcode group for power-off.
func EncodePower(on bool, d *model.Descriptor) []byte {
	if on {
		return fill(d.Frames.PowerOn)
	}
	return fill(d.Frames.PowerOff)
}

// EncodeRGB builds the solid-color frame. Identical across variants.
func EncodeRGB(r, g, b uint8, _ model.CommandVariant) []byte {
	return frame(0x00, 0x05, 0x03, r, g, b, 0x00)
}

// EncodeBrightness builds the native brightness frame. The device expects a
// percentage, so the 0-255 level is rescaled.
func EncodeBrightness(level uint8, _ model.CommandVariant) []byte {
	pct := byte(int(level) * 100 / 255)
	return frame(0x04, 0x01, pct, 0xFF, 0x00, 0xFF, 0x00)
}

// EncodeWhite builds the dedicated white-channel frame, level 0-255. The
// device expects a percentage, so the level is rescaled.
func EncodeWhite(level uint8, d *model.Descriptor) []byte {
	pct := byte(int(level) * 100 / 255)
	return fill(d.Frames.White, pct)
}

// EncodeEffect builds the preset pattern frame for an effect ID from the
// model catalog (0x87-0x9C).
func EncodeEffect(effectID uint8, d *model.Descriptor) []byte {
	return fill(d.Frames.Effect, effectID)
}

// EncodeEffectSpeed sets the pattern speed, 0-100.
func EncodeEffectSpeed(speed uint8, d *model.Descriptor) []byte {
	return fill(d.Frames.EffectSpeed, speed)
}

// EncodeColorTempNative builds the warm/cold white mix frame for models with
// separate white channels. Both arguments are percentages.
func EncodeColorTempNative(warmPct, coldPct uint8, d *model.Descriptor) []byte {
	return fill(d.Frames.ColorTemp, warmPct, coldPct)
}

// EncodeMicSensitivity sets the microphone gain, 0-100.
func EncodeMicSensitivity(level uint8) []byte {
	return frame(0x04, 0x06, level, 0xFF, 0xFF, 0xFF, 0x00)
}

// EncodeMicEffect selects a microphone-reactive mode (0x80-0x87).
func EncodeMicEffect(effectID uint8) []byte {
	return frame(0x05, 0x03, effectID, 0x04, 0xFF, 0xFF, 0x00)
}

// EncodeMicOnOff toggles the microphone-reactive mode.
func EncodeMicOnOff(on bool) []byte {
	var b byte
	if on {
		b = 0x01
	}
	return frame(0x04, 0x07, b, 0xFF, 0xFF, 0xFF, 0x00)
}

// EncodeSyncTime sets the controller clock used by schedules. The weekday is
// ISO numbering, Monday=1.
func EncodeSyncTime(t time.Time) []byte {
	dow := byte(t.Weekday())
	if dow == 0 {
		dow = 7 // Sunday
	}
	return frame(0x00, 0x83, byte(t.Hour()), byte(t.Minute()), byte(t.Second()), dow, 0x00)
}

// Weekday bitmask for EncodeSchedule.
const (
	ScheduleMonday    uint8 = 0x01
	ScheduleTuesday   uint8 = 0x02
	ScheduleWednesday uint8 = 0x04
	ScheduleThursday  uint8 = 0x08
	ScheduleFriday    uint8 = 0x10
	ScheduleSaturday  uint8 = 0x20
	ScheduleSunday    uint8 = 0x40
)

// EncodeSchedule programs the on- or off-timer. days is the weekday bitmask;
// enabled=false programs the slot without arming it.
func EncodeSchedule(on bool, hour, minute uint8, days uint8, enabled bool) []byte {
	var onoff byte
	if on {
		onoff = 0x01
	}
	d := days & 0x7F
	if enabled {
		d |= 0x80
	}
	return frame(0x00, 0x82, hour, minute, 0x00, onoff, d)
}

// EncodeInitSequence returns the two MELK bring-up frames. They are raw
// historical byte sequences, sent in this order with nothing interleaved.
func EncodeInitSequence(_ model.CommandVariant) [][]byte {
	return [][]byte{
		{0x7E, 0x07, 0x83},
		{0x7E, 0x04, 0x04},
	}
}
