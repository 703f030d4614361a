package mumble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameRoundTrip(t *testing.T) {
	payload := []byte{0x0a, 0x03, 'f', 'o', 'o'}
	buf, err := EncodeFrame(TagTextMessage, payload)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize+len(payload))

	tag, length := DecodeHeader(buf)
	assert.Equal(t, TagTextMessage, tag)
	assert.Equal(t, uint32(len(payload)), length)
	assert.Equal(t, payload, buf[HeaderSize:])
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeFrame(TagTextMessage, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSplitFrameNeedsMoreBytes(t *testing.T) {
	buf, err := EncodeFrame(TagPing, []byte{0x08, 0x01})
	require.NoError(t, err)

	// Every strict prefix is incomplete, never an error.
	for i := 0; i < len(buf); i++ {
		_, rest, ok, err := SplitFrame(buf[:i])
		require.NoError(t, err, "prefix of %d bytes", i)
		assert.False(t, ok, "prefix of %d bytes", i)
		assert.Equal(t, buf[:i], rest)
	}

	f, rest, ok, err := SplitFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagPing, f.Tag)
	assert.Empty(t, rest)
}

func TestSplitFrameConsumesBackToBackFrames(t *testing.T) {
	first, err := EncodeFrame(TagPing, []byte{0x08, 0x01})
	require.NoError(t, err)
	second, err := EncodeFrame(TagVersion, nil)
	require.NoError(t, err)
	buf := append(append([]byte(nil), first...), second...)

	f, rest, ok, err := SplitFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagPing, f.Tag)

	f, rest, ok, err = SplitFrame(rest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagVersion, f.Tag)
	assert.Empty(t, f.Payload)
	assert.Empty(t, rest)
}

func TestSplitFrameReassemblesAcrossArbitraryBoundaries(t *testing.T) {
	msg := &TextMessage{
		Actor:     pu32(42),
		ChannelID: []uint32{7},
		Message:   "split me",
	}
	whole, err := EncodePacket(msg)
	require.NoError(t, err)

	// Feed the frame one byte at a time through the same reassembly
	// loop the event loop runs.
	var pending []byte
	var got *TextMessage
	for _, b := range whole {
		pending = append(pending, b)
		f, rest, ok, err := SplitFrame(pending)
		require.NoError(t, err)
		if !ok {
			continue
		}
		pending = rest
		pkt, err := DecodePacket(f.Tag, f.Payload)
		require.NoError(t, err)
		got = pkt.(*TextMessage)
	}

	require.NotNil(t, got)
	assert.Equal(t, uint32(42), *got.Actor)
	assert.Equal(t, []uint32{7}, got.ChannelID)
	assert.Equal(t, "split me", got.Message)
	assert.Empty(t, pending)
}

func TestSplitFrameFatalOnOversizedAnnouncement(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1] = 0x00, byte(TagTextMessage)
	buf[2], buf[3], buf[4], buf[5] = 0xff, 0xff, 0xff, 0xff

	_, _, _, err := SplitFrame(buf)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
