package proto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"bledom-go-home/internal/model"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture %q: %v", s, err)
	}
	return b
}

func mustClassify(t *testing.T, name string) *model.Descriptor {
	t.Helper()
	d, err := model.Classify(name)
	if err != nil {
		t.Fatalf("classify %q: %v", name, err)
	}
	return d
}

func TestEncodePower(t *testing.T) {
	cases := []struct {
		name   string
		device string
		on     bool
		want   string
	}{
		{"standard on", "ELK-BLEDOM", true, "7e00040100000000ef"},
		{"standard off", "ELK-BLEDOM", false, "7e0004000000ff00ef"},
		{"bleddm on", "ELK-BLEDDM", true, "7e0004f00001ff00ef"},
		{"bleddm off", "ELK-BLEDDM", false, "7e0004000000ff00ef"},
		{"melk on", "MELK-1234", true, "7e00040100000000ef"},
		{"og10 on", "MELK-OG10", true, "7e0704ff00010201ef"},
		{"og10 off", "MELK-OG10", false, "7e07040000000200ef"},
	}
	for _, tc := range cases {
		got := EncodePower(tc.on, mustClassify(t, tc.device))
		if want := mustHex(t, tc.want); !bytes.Equal(got, want) {
			t.Errorf("%s: got %X, want %X", tc.name, got, want)
		}
	}
}

func TestEncodeRGB(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		want    string
	}{
		{255, 0, 0, "7e000503ff000000ef"},
		{0, 0, 255, "7e0005030000ff00ef"},
		{0, 255, 0, "7e00050300ff0000ef"},
		{18, 52, 86, "7e00050312345600ef"},
	}
	for _, tc := range cases {
		got := EncodeRGB(tc.r, tc.g, tc.b, model.VariantStandard)
		if want := mustHex(t, tc.want); !bytes.Equal(got, want) {
			t.Errorf("EncodeRGB(%d,%d,%d): got %X, want %X", tc.r, tc.g, tc.b, got, want)
		}
	}

	// Variant does not change the color frame.
	a := EncodeRGB(10, 20, 30, model.VariantStandard)
	b := EncodeRGB(10, 20, 30, model.VariantAlternate)
	if !bytes.Equal(a, b) {
		t.Errorf("color frame differs across variants: %X vs %X", a, b)
	}
}

func TestEncodeBrightness(t *testing.T) {
	cases := []struct {
		level   uint8
		wantPct byte
	}{
		{0, 0},
		{255, 100},
		{128, 50},
		{51, 20},
	}
	for _, tc := range cases {
		got := EncodeBrightness(tc.level, model.VariantStandard)
		if got[3] != tc.wantPct {
			t.Errorf("EncodeBrightness(%d): pct byte = %d, want %d", tc.level, got[3], tc.wantPct)
		}
		if err := Validate(got); err != nil {
			t.Errorf("EncodeBrightness(%d): %v", tc.level, err)
		}
	}

	want := mustHex(t, "7e04013cff00ff00ef")
	if got := EncodeBrightness(155, model.VariantStandard); !bytes.Equal(got, want) {
		t.Errorf("EncodeBrightness(155): got %X, want %X", got, want)
	}
}

func TestEncodeWhite(t *testing.T) {
	elk := mustClassify(t, "ELK-BLEDOM")
	cases := []struct {
		level uint8
		want  string
	}{
		// The intensity byte carries a percentage, not the raw level.
		{255, "7e00016400000000ef"},
		{128, "7e00013200000000ef"},
		{0, "7e00010000000000ef"},
	}
	for _, tc := range cases {
		got := EncodeWhite(tc.level, elk)
		if want := mustHex(t, tc.want); !bytes.Equal(got, want) {
			t.Errorf("EncodeWhite(%d): got %X, want %X", tc.level, got, want)
		}
	}

	// MELK-OG10 uses an 8-byte white frame with no terminator.
	og10 := mustClassify(t, "MELK-OG10")
	want := mustHex(t, "7e07050164ff0201")
	got := EncodeWhite(255, og10)
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeWhite(255) og10: got %X, want %X", got, want)
	}
	if err := Validate(got); err != nil {
		t.Errorf("og10 white frame rejected: %v", err)
	}
}

func TestEncodeEffect(t *testing.T) {
	want := mustHex(t, "7e00038703000000ef")
	if got := EncodeEffect(model.EffectJumpRGB, mustClassify(t, "ELK-BLEDOM")); !bytes.Equal(got, want) {
		t.Errorf("EncodeEffect(0x87): got %X, want %X", got, want)
	}

	// MELK parses effects on its own opcode group.
	want = mustHex(t, "7e05038706ffff00ef")
	if got := EncodeEffect(model.EffectJumpRGB, mustClassify(t, "MELK-1234")); !bytes.Equal(got, want) {
		t.Errorf("EncodeEffect(0x87) melk: got %X, want %X", got, want)
	}
}

func TestEncodeEffectSpeed(t *testing.T) {
	want := mustHex(t, "7e00026400000000ef")
	if got := EncodeEffectSpeed(100, mustClassify(t, "ELK-BLEDOM")); !bytes.Equal(got, want) {
		t.Errorf("EncodeEffectSpeed(100): got %X, want %X", got, want)
	}

	want = mustHex(t, "7e040264ffffff00ef")
	if got := EncodeEffectSpeed(100, mustClassify(t, "MELK-1234")); !bytes.Equal(got, want) {
		t.Errorf("EncodeEffectSpeed(100) melk: got %X, want %X", got, want)
	}
}

func TestEncodeColorTempNative(t *testing.T) {
	want := mustHex(t, "7e000502461e0000ef")
	if got := EncodeColorTempNative(70, 30, mustClassify(t, "ELK-BLEDOM")); !bytes.Equal(got, want) {
		t.Errorf("EncodeColorTempNative(70,30): got %X, want %X", got, want)
	}

	want = mustHex(t, "7e060502461eff08ef")
	if got := EncodeColorTempNative(70, 30, mustClassify(t, "MELK-1234")); !bytes.Equal(got, want) {
		t.Errorf("EncodeColorTempNative(70,30) melk: got %X, want %X", got, want)
	}
}

func TestEncodeMicFrames(t *testing.T) {
	if got, want := EncodeMicSensitivity(80), mustHex(t, "7e040650ffffff00ef"); !bytes.Equal(got, want) {
		t.Errorf("EncodeMicSensitivity(80): got %X, want %X", got, want)
	}
	if got, want := EncodeMicEffect(0x83), mustHex(t, "7e05038304ffff00ef"); !bytes.Equal(got, want) {
		t.Errorf("EncodeMicEffect(0x83): got %X, want %X", got, want)
	}
	if got, want := EncodeMicOnOff(true), mustHex(t, "7e040701ffffff00ef"); !bytes.Equal(got, want) {
		t.Errorf("EncodeMicOnOff(true): got %X, want %X", got, want)
	}
	if got, want := EncodeMicOnOff(false), mustHex(t, "7e040700ffffff00ef"); !bytes.Equal(got, want) {
		t.Errorf("EncodeMicOnOff(false): got %X, want %X", got, want)
	}
}

func TestEncodeSyncTime(t *testing.T) {
	// Monday 2026-08-24 13:05:09.
	ts := time.Date(2026, 8, 24, 13, 5, 9, 0, time.UTC)
	got := EncodeSyncTime(ts)
	want := mustHex(t, "7e00830d05090100ef")
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeSyncTime(monday): got %X, want %X", got, want)
	}

	// Sunday maps to ISO weekday 7, not 0.
	sun := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	if got := EncodeSyncTime(sun); got[6] != 7 {
		t.Errorf("sunday weekday byte = %d, want 7", got[6])
	}
}

func TestEncodeSchedule(t *testing.T) {
	days := ScheduleMonday | ScheduleFriday
	got := EncodeSchedule(true, 7, 30, days, true)
	want := mustHex(t, "7e0082071e000191ef")
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeSchedule(on): got %X, want %X", got, want)
	}

	// Disabled slot keeps the weekday bits but clears the arm bit.
	got = EncodeSchedule(false, 22, 0, ScheduleSunday, false)
	if got[7] != ScheduleSunday {
		t.Errorf("disabled schedule days byte = 0x%02X, want 0x%02X", got[7], ScheduleSunday)
	}
	if got[6] != 0x00 {
		t.Errorf("off-timer byte = 0x%02X, want 0x00", got[6])
	}
}

func TestEncodeInitSequence(t *testing.T) {
	frames := EncodeInitSequence(model.VariantStandard)
	if len(frames) != 2 {
		t.Fatalf("init sequence has %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0x7E, 0x07, 0x83}) {
		t.Errorf("init frame 0 = %X, want 7E0783", frames[0])
	}
	if !bytes.Equal(frames[1], []byte{0x7E, 0x04, 0x04}) {
		t.Errorf("init frame 1 = %X, want 7E0404", frames[1])
	}
	for i, f := range frames {
		if err := Validate(f); err != nil {
			t.Errorf("init frame %d rejected: %v", i, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		ok    bool
	}{
		{"good frame", mustHex(t, "7e00040100000000ef"), true},
		{"good init frame", []byte{0x7E, 0x07, 0x83}, true},
		{"good short white frame", mustHex(t, "7e07050164ff0201"), true},
		{"too short", []byte{0x7E, 0x00, 0x04, 0xEF}, false},
		{"too long", mustHex(t, "7e0004010000000000ef"), false},
		{"bad header", mustHex(t, "7f00040100000000ef"), false},
		{"bad terminator", mustHex(t, "7e00040100000000ee"), false},
		{"bad init header", []byte{0x7F, 0x07, 0x83}, false},
	}
	for _, tc := range cases {
		err := Validate(tc.frame)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
				continue
			}
			var ife *InvalidFrameError
			if !errors.As(err, &ife) {
				t.Errorf("%s: error type %T, want *InvalidFrameError", tc.name, err)
			}
		}
	}
}

func TestEncodersProduceFreshFrames(t *testing.T) {
	a := EncodeRGB(1, 2, 3, model.VariantStandard)
	b := EncodeRGB(1, 2, 3, model.VariantStandard)
	if &a[0] == &b[0] {
		t.Error("encoder returned a shared buffer")
	}
	a[4] = 0xAA
	if b[4] == 0xAA {
		t.Error("mutating one frame affected another")
	}
}

func TestTemplateEncodersDoNotShareBuffers(t *testing.T) {
	melk := mustClassify(t, "MELK-1234")
	a := EncodeEffect(model.EffectJumpRGB, melk)
	a[3] = 0x00
	b := EncodeEffect(model.EffectJumpRGB, melk)
	if b[3] != model.EffectJumpRGB {
		t.Errorf("effect template corrupted by caller mutation: got %X", b)
	}
}
