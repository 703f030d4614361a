package mumble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestVersionRoundTrip(t *testing.T) {
	in := &Version{
		Version: pu32(0x010204),
		Release: pstr("pipo"),
		OS:      pstr("linux"),
	}
	out := &Version{}
	require.NoError(t, out.unmarshal(in.Marshal()))
	assert.Equal(t, in, out)
	assert.Nil(t, out.OSVersion)
}

func TestUserStateRoundTripPartial(t *testing.T) {
	in := &UserState{
		Session:  pu32(9),
		Name:     pstr("alice"),
		SelfMute: pbool(true),
	}
	out := &UserState{}
	require.NoError(t, out.unmarshal(in.Marshal()))
	assert.Equal(t, in, out)
	assert.Nil(t, out.ChannelID)
	assert.Nil(t, out.Mute)
}

func TestTextMessageRoundTrip(t *testing.T) {
	in := &TextMessage{
		Actor:     pu32(5),
		ChannelID: []uint32{1, 2, 3},
		Message:   "hello",
	}
	out := &TextMessage{}
	require.NoError(t, out.unmarshal(in.Marshal()))
	assert.Equal(t, in, out)
}

func TestTextMessageDecodesPackedChannelIDs(t *testing.T) {
	// Peers may pack repeated varint fields; the codec must accept
	// both encodings.
	var b []byte
	var packed []byte
	packed = protowire.AppendVarint(packed, 1)
	packed = protowire.AppendVarint(packed, 7)
	packed = protowire.AppendVarint(packed, 300)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, "hi")

	out := &TextMessage{}
	require.NoError(t, out.unmarshal(b))
	assert.Equal(t, []uint32{1, 7, 300}, out.ChannelID)
	assert.Equal(t, "hi", out.Message)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 12)
	// Field the codec does not know about.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	out := &ServerSync{}
	require.NoError(t, out.unmarshal(b))
	require.NotNil(t, out.Session)
	assert.Equal(t, uint32(12), *out.Session)
}

func TestDecodePacketUnknownTagIsFatal(t *testing.T) {
	_, err := DecodePacket(uint16(tagCount)+3, nil)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecodePacketUnhandledTagYieldsRawPacket(t *testing.T) {
	payload := []byte{0x01, 0x02}
	pkt, err := DecodePacket(TagCryptSetup, payload)
	require.NoError(t, err)

	raw, ok := pkt.(*RawPacket)
	require.True(t, ok)
	assert.Equal(t, TagCryptSetup, raw.Tag)
	assert.Equal(t, payload, raw.Payload)
	assert.Equal(t, TagCryptSetup, raw.WireTag())
}

func TestDecodePacketMalformedPayload(t *testing.T) {
	// A bytes-typed tag announcing more data than present.
	var b []byte
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendVarint(b, 100)

	_, err := DecodePacket(TagServerSync, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ServerSync")
}

func TestChannelStateMergePreservesUnsetFields(t *testing.T) {
	m := &ChannelState{
		ChannelID:   pu32(7),
		Name:        pstr("lobby"),
		Description: pstr("general chat"),
	}
	m.Merge(&ChannelState{ChannelID: pu32(7), Parent: pu32(0)})

	assert.Equal(t, "lobby", *m.Name)
	assert.Equal(t, "general chat", *m.Description)
	assert.Equal(t, uint32(0), *m.Parent)
}

func TestUserStateMergeIsIdempotent(t *testing.T) {
	update := &UserState{Session: pu32(9), Name: pstr("alice"), SelfDeaf: pbool(true)}

	m := &UserState{Session: pu32(9), ChannelID: pu32(3)}
	m.Merge(update)
	once := *m
	m.Merge(update)

	assert.Equal(t, once, *m)
	assert.Equal(t, uint32(3), *m.ChannelID)
	assert.Equal(t, "alice", *m.Name)
}

func TestRejectTypeName(t *testing.T) {
	assert.Equal(t, "UsernameInUse", (&Reject{Type: pu32(5)}).TypeName())
	assert.Equal(t, "None", (&Reject{}).TypeName())
	assert.Equal(t, "unknown", (&Reject{Type: pu32(200)}).TypeName())
}
