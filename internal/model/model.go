package model

import "fmt"

// CommandVariant selects the wire-protocol flavor a device family speaks.
// Most families use the standard byte; the BLEDDM revision shipped with a
// different second byte and its own power-on payload.
type CommandVariant uint8

const (
	VariantStandard  CommandVariant = 0x04
	VariantAlternate CommandVariant = 0x00
)

// Write characteristic UUIDs observed in the wild. Most controllers expose
// fff3; the LEDBLE family uses ffe1.
const (
	WriteCharFFF3 = "0000fff3-0000-1000-8000-00805f9b34fb"
	WriteCharFFE1 = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// FrameSlot is the placeholder byte in frame templates. The codec replaces
// each occurrence with the operation's value bytes, in order.
const FrameSlot = 0xBB

// Frames holds a family's templates for the operations whose byte layout
// varies between hardware revisions. RGB, native brightness, and the mic
// frames are identical everywhere and stay hardcoded in the codec.
type Frames struct {
	PowerOn     []byte
	PowerOff    []byte
	White       []byte
	EffectSpeed []byte
	Effect      []byte
	ColorTemp   []byte
}

var standardFrames = Frames{
	PowerOn:     []byte{0x7E, 0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0xEF},
	PowerOff:    []byte{0x7E, 0x00, 0x04, 0x00, 0x00, 0x00, 0xFF, 0x00, 0xEF},
	White:       []byte{0x7E, 0x00, 0x01, FrameSlot, 0x00, 0x00, 0x00, 0x00, 0xEF},
	EffectSpeed: []byte{0x7E, 0x00, 0x02, FrameSlot, 0x00, 0x00, 0x00, 0x00, 0xEF},
	Effect:      []byte{0x7E, 0x00, 0x03, FrameSlot, 0x03, 0x00, 0x00, 0x00, 0xEF},
	ColorTemp:   []byte{0x7E, 0x00, 0x05, 0x02, FrameSlot, FrameSlot, 0x00, 0x00, 0xEF},
}

// alternateFrames differs from the standard set only in the power-on payload
// the BLEDDM revision expects.
var alternateFrames = Frames{
	PowerOn:     []byte{0x7E, 0x00, 0x04, 0xF0, 0x00, 0x01, 0xFF, 0x00, 0xEF},
	PowerOff:    standardFrames.PowerOff,
	White:       standardFrames.White,
	EffectSpeed: standardFrames.EffectSpeed,
	Effect:      standardFrames.Effect,
	ColorTemp:   standardFrames.ColorTemp,
}

// melkFrames moves effect, effect-speed, and color-temperature onto the
// mic-style opcode groups the MELK revisions parse.
var melkFrames = Frames{
	PowerOn:     standardFrames.PowerOn,
	PowerOff:    standardFrames.PowerOff,
	White:       standardFrames.White,
	EffectSpeed: []byte{0x7E, 0x04, 0x02, FrameSlot, 0xFF, 0xFF, 0xFF, 0x00, 0xEF},
	Effect:      []byte{0x7E, 0x05, 0x03, FrameSlot, 0x06, 0xFF, 0xFF, 0x00, 0xEF},
	ColorTemp:   []byte{0x7E, 0x06, 0x05, 0x02, FrameSlot, FrameSlot, 0xFF, 0x08, 0xEF},
}

// melkOG10Frames adds the OG10's own power group and its 8-byte white frame.
// The white frame ships without a terminator byte and must be reproduced
// verbatim, not reshaped to the 9-byte scheme.
var melkOG10Frames = Frames{
	PowerOn:     []byte{0x7E, 0x07, 0x04, 0xFF, 0x00, 0x01, 0x02, 0x01, 0xEF},
	PowerOff:    []byte{0x7E, 0x07, 0x04, 0x00, 0x00, 0x00, 0x02, 0x00, 0xEF},
	White:       []byte{0x7E, 0x07, 0x05, 0x01, FrameSlot, 0xFF, 0x02, 0x01},
	EffectSpeed: melkFrames.EffectSpeed,
	Effect:      melkFrames.Effect,
	ColorTemp:   melkFrames.ColorTemp,
}

// Gains holds per-channel RGB calibration multipliers.
type Gains struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
}

// Descriptor describes one supported controller family. Resolved once per
// discovered peripheral and never mutated.
type Descriptor struct {
	// Prefix is the advertised-name prefix that selects this family.
	Prefix string
	// Variant is the command byte the codec must use for this family.
	Variant CommandVariant
	// WriteChar is the GATT characteristic commands are written to.
	WriteChar string
	// Frames are the family's frame templates for the variable operations.
	Frames Frames

	HasNativeBrightness bool
	HasEffects          bool
	HasMicEffects       bool
	RequiresInit        bool

	// DefaultGains compensate for the family's factory LED balance.
	DefaultGains Gains
}

// descriptors is ordered by match priority: longer or more specific prefixes
// first, so ELK-BLEDDM is never swallowed by ELK-BLE.
var descriptors = []Descriptor{
	{
		Prefix:              "ELK-BLEDDM",
		Variant:             VariantAlternate,
		WriteChar:           WriteCharFFF3,
		Frames:              alternateFrames,
		HasNativeBrightness: true,
		HasEffects:          true,
		HasMicEffects:       true,
		DefaultGains:        Gains{R: 1.00, G: 0.88, B: 0.38},
	},
	{
		Prefix:       "ELK-BULB2",
		Variant:      VariantStandard,
		WriteChar:    WriteCharFFF3,
		Frames:       standardFrames,
		HasEffects:   true,
		DefaultGains: Gains{R: 1, G: 1, B: 1},
	},
	{
		Prefix:       "ELK-BULB",
		Variant:      VariantStandard,
		WriteChar:    WriteCharFFF3,
		Frames:       standardFrames,
		HasEffects:   true,
		DefaultGains: Gains{R: 1, G: 1, B: 1},
	},
	{
		Prefix:       "ELK-LAMPL",
		Variant:      VariantStandard,
		WriteChar:    WriteCharFFF3,
		Frames:       standardFrames,
		HasEffects:   true,
		DefaultGains: Gains{R: 1, G: 1, B: 1},
	},
	{
		// Catches ELK-BLEDOM and the other ELK-BLE* strips.
		Prefix:              "ELK-BLE",
		Variant:             VariantStandard,
		WriteChar:           WriteCharFFF3,
		Frames:              standardFrames,
		HasNativeBrightness: true,
		HasEffects:          true,
		HasMicEffects:       true,
		DefaultGains:        Gains{R: 1, G: 1, B: 1},
	},
	{
		Prefix:              "LEDBLE",
		Variant:             VariantStandard,
		WriteChar:           WriteCharFFE1,
		Frames:              standardFrames,
		HasNativeBrightness: true,
		HasEffects:          true,
		HasMicEffects:       true,
		DefaultGains:        Gains{R: 1, G: 1, B: 1},
	},
	{
		Prefix:       "MELK-OG10",
		Variant:      VariantStandard,
		WriteChar:    WriteCharFFF3,
		Frames:       melkOG10Frames,
		HasEffects:   true,
		RequiresInit: true,
		DefaultGains: Gains{R: 1, G: 1, B: 1},
	},
	{
		Prefix:       "MELK",
		Variant:      VariantStandard,
		WriteChar:    WriteCharFFF3,
		Frames:       melkFrames,
		HasEffects:   true,
		RequiresInit: true,
		DefaultGains: Gains{R: 1, G: 1, B: 1},
	},
}

// NotSupportedError reports an advertised name that matches no known family.
type NotSupportedError struct {
	Name string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("device %q is not a supported controller", e.Name)
}

// Classify maps an advertised peripheral name to its family descriptor.
// Matching is a case-sensitive prefix check against the priority-ordered
// table; unknown names fail with *NotSupportedError.
func Classify(advertisedName string) (*Descriptor, error) {
	for i := range descriptors {
		d := &descriptors[i]
		if hasPrefix(advertisedName, d.Prefix) {
			return d, nil
		}
	}
	return nil, &NotSupportedError{Name: advertisedName}
}

// All returns the descriptor table in priority order.
func All() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
