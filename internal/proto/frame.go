// Package proto implements the binary command protocol spoken by
// ELK-BLEDOM-family LED controllers over the GATT write characteristic.
//
// Commands are fixed 9-byte frames:
//
//	[0x7E, grp, op, p1, p2, p3, p4, flag, 0xEF]
//
// There is no checksum; the terminator byte is fixed. The exceptions are the
// MELK bring-up sequence, two raw 3-byte frames that predate the 9-byte
// scheme, and the MELK-OG10 white frame, which ships as 8 bytes without a
// terminator. Both must be sent verbatim.
package proto

import (
	"fmt"

	"bledom-go-home/internal/model"
)

const (
	frameHeader     = 0x7E
	frameTerminator = 0xEF

	// FrameLen is the length of every regular command frame.
	FrameLen = 9
	// ShortFrameLen is the length of the terminator-less MELK-OG10 white
	// frame.
	ShortFrameLen = 8
	// InitFrameLen is the length of the raw MELK bring-up frames.
	InitFrameLen = 3
)

// InvalidFrameError reports a frame that violates the wire format. It
// indicates a bug in the encoder, not a device or transport condition.
type InvalidFrameError struct {
	Frame  []byte
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid frame %X: %s", e.Frame, e.Reason)
}

// Validate checks a frame against the wire format before hand-off to the
// transport. Init frames and the 8-byte MELK-OG10 white frame are recognized
// by their length and checked only for the header byte.
func Validate(frame []byte) error {
	switch len(frame) {
	case InitFrameLen, ShortFrameLen:
		if frame[0] != frameHeader {
			return &InvalidFrameError{Frame: frame, Reason: "bad header byte"}
		}
		return nil
	case FrameLen:
		if frame[0] != frameHeader {
			return &InvalidFrameError{Frame: frame, Reason: "bad header byte"}
		}
		if frame[FrameLen-1] != frameTerminator {
			return &InvalidFrameError{Frame: frame, Reason: "bad terminator byte"}
		}
		return nil
	default:
		return &InvalidFrameError{Frame: frame, Reason: fmt.Sprintf("length %d, want %d", len(frame), FrameLen)}
	}
}

// frame assembles a regular 9-byte command frame.
func frame(grp, op, p1, p2, p3, p4, flag byte) []byte {
	return []byte{frameHeader, grp, op, p1, p2, p3, p4, flag, frameTerminator}
}

// fill copies a frame template and substitutes each model.FrameSlot
// occurrence with the next value, in order. The template is never mutated.
func fill(template []byte, values ...byte) []byte {
	out := make([]byte, len(template))
	copy(out, template)
	i := 0
	for j, b := range out {
		if b == model.FrameSlot && i < len(values) {
			out[j] = values[i]
			i++
		}
	}
	return out
}
