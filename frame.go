package evnet

import (
	"encoding/binary"
	"fmt"
)

// This file implements the FramedTcp wire format (spec.md §4.4): a
// self-describing variable-length size prefix in front of every message.
// The first byte is either the length itself (for short messages) or a
// marker selecting how many little-endian follow-up bytes carry the length.

const (
	maxDirectFrameLen = 250 // lengths 0..250 are encoded directly in the first byte

	frameMarker1 = 251 // 1 follow-up byte,  length fits in uint8
	frameMarker2 = 252 // 2 follow-up bytes, length fits in uint16
	frameMarker4 = 253 // 4 follow-up bytes, length fits in uint32
	frameMarker8 = 254 // 8 follow-up bytes, length fits in uint64
	// 255 is reserved and never emitted; receiving it is a decode error.
)

// ErrFrameDecode reports a malformed FramedTcp prefix. Per spec.md §7 this is
// fatal for the remote that produced it: the adapter emits Disconnected and
// discards the remote's decode state.
var ErrFrameDecode = fmt.Errorf("evnet: malformed frame prefix")

// appendFrame appends payload to dst prefixed with its self-describing
// length encoding. The returned error is always nil: every int length fits
// the 8-byte prefix.
func appendFrame(dst []byte, payload []byte) ([]byte, error) {
	n := len(payload)
	switch {
	case n <= maxDirectFrameLen:
		dst = append(dst, byte(n))
	case n <= 0xFF:
		dst = append(dst, frameMarker1, byte(n))
	case n <= 0xFFFF:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		dst = append(dst, frameMarker2)
		dst = append(dst, b[:]...)
	case n <= 0xFFFFFFFF:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		dst = append(dst, frameMarker4)
		dst = append(dst, b[:]...)
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(n))
		dst = append(dst, frameMarker8)
		dst = append(dst, b[:]...)
	}
	return append(dst, payload...), nil
}

// decodePrefix reads one length prefix from the head of b. ok is false when
// b does not yet hold the whole prefix (it is empty, or the marker byte
// arrived but not its follow-up bytes). err is non-nil only for
// the reserved marker 255.
func decodePrefix(b []byte) (prefixLen, msgLen int, ok bool, err error) {
	if len(b) < 1 {
		return 0, 0, false, nil
	}
	switch first := b[0]; {
	case first <= maxDirectFrameLen:
		return 1, int(first), true, nil
	case first == frameMarker1:
		if len(b) < 2 {
			return 0, 0, false, nil
		}
		return 2, int(b[1]), true, nil
	case first == frameMarker2:
		if len(b) < 3 {
			return 0, 0, false, nil
		}
		return 3, int(binary.LittleEndian.Uint16(b[1:3])), true, nil
	case first == frameMarker4:
		if len(b) < 5 {
			return 0, 0, false, nil
		}
		return 5, int(binary.LittleEndian.Uint32(b[1:5])), true, nil
	case first == frameMarker8:
		if len(b) < 9 {
			return 0, 0, false, nil
		}
		return 9, int(binary.LittleEndian.Uint64(b[1:9])), true, nil
	default:
		return 0, 0, false, ErrFrameDecode
	}
}

// frameDecoder holds the per-remote decode buffer for FramedTcp (spec.md
// §4.4): it must tolerate multiple messages in one read, a message split
// across reads, and a prefix itself split across reads.
type frameDecoder struct {
	buf []byte
}

// feed appends newly-read bytes and repeatedly decodes complete messages,
// invoking yield with a slice that aliases the decoder's own buffer — valid
// only while that yield call runs, since feed compacts the buffer before it
// returns (zero-copy per spec.md §9). yield
// returning an error aborts decoding early and is propagated to the caller.
func (d *frameDecoder) feed(data []byte, yield func([]byte) error) error {
	d.buf = append(d.buf, data...)

	pos := 0
	for {
		prefixLen, msgLen, ok, err := decodePrefix(d.buf[pos:])
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		end := pos + prefixLen + msgLen
		if end > len(d.buf) {
			break
		}
		if err := yield(d.buf[pos+prefixLen : end]); err != nil {
			return err
		}
		pos = end
	}

	if pos > 0 {
		remaining := copy(d.buf, d.buf[pos:])
		d.buf = d.buf[:remaining]
	}
	return nil
}

// reset discards all partially decoded state, per spec.md §4.4's
// Disconnected contract.
func (d *frameDecoder) reset() {
	d.buf = d.buf[:0]
}
