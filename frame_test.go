package evnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFrameDirectLength(t *testing.T) {
	out, err := appendFrame(nil, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 'h', 'e', 'l', 'l', 'o'}, out)
}

func TestAppendFrameMarkerWidths(t *testing.T) {
	cases := []struct {
		name   string
		size   int
		marker byte
	}{
		{"1-byte marker", maxDirectFrameLen + 1, frameMarker1},
		{"2-byte marker", 1 << 9, frameMarker2},
		{"4-byte marker", 1 << 17, frameMarker4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload := make([]byte, c.size)
			out, err := appendFrame(nil, payload)
			require.NoError(t, err)
			assert.Equal(t, c.marker, out[0])

			var d frameDecoder
			var got []byte
			err = d.feed(out, func(msg []byte) error {
				got = append([]byte(nil), msg...)
				return nil
			})
			require.NoError(t, err)
			assert.Len(t, got, c.size)
		})
	}
}

func TestFrameDecoderCoalescedMessages(t *testing.T) {
	var buf []byte
	buf, _ = appendFrame(buf, []byte("one"))
	buf, _ = appendFrame(buf, []byte("two"))
	buf, _ = appendFrame(buf, []byte("three"))

	var d frameDecoder
	var got []string
	err := d.feed(buf, func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestFrameDecoderSplitAcrossReads(t *testing.T) {
	full, _ := appendFrame(nil, []byte("split-me"))

	var d frameDecoder
	var got []string
	yield := func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	}

	// Split right after the one-byte prefix, then mid-payload.
	require.NoError(t, d.feed(full[:1], yield))
	assert.Empty(t, got, "prefix alone should not yield a message")
	require.NoError(t, d.feed(full[1:4], yield))
	assert.Empty(t, got, "partial payload should not yield a message")
	require.NoError(t, d.feed(full[4:], yield))
	require.Equal(t, []string{"split-me"}, got)
}

func TestFrameDecoderRejectsReservedMarker(t *testing.T) {
	var d frameDecoder
	err := d.feed([]byte{255, 0, 0}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrFrameDecode)
}

func TestFrameDecoderResetDropsPartialState(t *testing.T) {
	var d frameDecoder
	require.NoError(t, d.feed([]byte{5, 'a', 'b'}, func([]byte) error { return nil }))
	assert.NotEmpty(t, d.buf)
	d.reset()
	assert.Empty(t, d.buf)
}
