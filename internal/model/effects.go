package model

// Effect IDs understood by the pattern opcode. The controller cycles the
// named colors; IDs outside this table are ignored by the hardware.
const (
	EffectJumpRGB          uint8 = 0x87
	EffectJumpRGBYCMW      uint8 = 0x88
	EffectCrossfadeRGB     uint8 = 0x89
	EffectCrossfadeRGBYCMW uint8 = 0x8A
	EffectCrossfadeRed     uint8 = 0x8B
	EffectCrossfadeGreen   uint8 = 0x8C
	EffectCrossfadeBlue    uint8 = 0x8D
	EffectCrossfadeYellow  uint8 = 0x8E
	EffectCrossfadeCyan    uint8 = 0x8F
	EffectCrossfadeMagenta uint8 = 0x90
	EffectCrossfadeWhite   uint8 = 0x91
	EffectCrossfadeRG      uint8 = 0x92
	EffectCrossfadeRB      uint8 = 0x93
	EffectCrossfadeGB      uint8 = 0x94
	EffectBlinkRGBYCMW     uint8 = 0x95
	EffectBlinkRed         uint8 = 0x96
	EffectBlinkGreen       uint8 = 0x97
	EffectBlinkBlue        uint8 = 0x98
	EffectBlinkYellow      uint8 = 0x99
	EffectBlinkCyan        uint8 = 0x9A
	EffectBlinkMagenta     uint8 = 0x9B
	EffectBlinkWhite       uint8 = 0x9C
)

// Effects maps effect IDs to the names exposed to the platform.
var Effects = map[uint8]string{
	EffectJumpRGB:          "jump_red_green_blue",
	EffectJumpRGBYCMW:      "jump_red_green_blue_yellow_cyan_magenta_white",
	EffectCrossfadeRGB:     "crossfade_red_green_blue",
	EffectCrossfadeRGBYCMW: "crossfade_red_green_blue_yellow_cyan_magenta_white",
	EffectCrossfadeRed:     "crossfade_red",
	EffectCrossfadeGreen:   "crossfade_green",
	EffectCrossfadeBlue:    "crossfade_blue",
	EffectCrossfadeYellow:  "crossfade_yellow",
	EffectCrossfadeCyan:    "crossfade_cyan",
	EffectCrossfadeMagenta: "crossfade_magenta",
	EffectCrossfadeWhite:   "crossfade_white",
	EffectCrossfadeRG:      "crossfade_red_green",
	EffectCrossfadeRB:      "crossfade_red_blue",
	EffectCrossfadeGB:      "crossfade_green_blue",
	EffectBlinkRGBYCMW:     "blink_red_green_blue_yellow_cyan_magenta_white",
	EffectBlinkRed:         "blink_red",
	EffectBlinkGreen:       "blink_green",
	EffectBlinkBlue:        "blink_blue",
	EffectBlinkYellow:      "blink_yellow",
	EffectBlinkCyan:        "blink_cyan",
	EffectBlinkMagenta:     "blink_magenta",
	EffectBlinkWhite:       "blink_white",
}

// MicEffects maps microphone-reactive effect IDs to names. Only families
// with HasMicEffects accept these.
var MicEffects = map[uint8]string{
	0x80: "classic",
	0x81: "vocal",
	0x82: "pop",
	0x83: "rock",
	0x84: "jazz",
	0x85: "dance",
	0x86: "country",
	0x87: "ballad",
}

// EffectByName resolves a platform-facing effect name back to its ID.
func EffectByName(name string) (uint8, bool) {
	for id, n := range Effects {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// MicEffectByName resolves a mic effect name back to its ID.
func MicEffectByName(name string) (uint8, bool) {
	for id, n := range MicEffects {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// EffectNames returns all effect names in ascending ID order, for the
// platform's effect list.
func EffectNames() []string {
	names := make([]string, 0, len(Effects))
	for id := EffectJumpRGB; id <= EffectBlinkWhite; id++ {
		if n, ok := Effects[id]; ok {
			names = append(names, n)
		}
	}
	return names
}
