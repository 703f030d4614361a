package mumble

import (
	"io"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readFrame pulls one complete frame off a stream.
func readFrame(t *testing.T, r io.Reader) Frame {
	t.Helper()
	head := make([]byte, HeaderSize)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	tag, length := DecodeHeader(head)
	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	return Frame{Tag: tag, Payload: payload}
}

func TestHandshakeSendsVersionThenAuthenticate(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &wireConn{conn: client, log: zerolog.Nop()}
	errCh := make(chan error, 1)
	go func() { errCh <- c.handshake("alice", "secret") }()

	f := readFrame(t, server)
	require.Equal(t, TagVersion, f.Tag)
	pkt, err := DecodePacket(f.Tag, f.Payload)
	require.NoError(t, err)
	v := pkt.(*Version)
	require.NotNil(t, v.Version)
	assert.Equal(t, clientVersion, *v.Version)
	assert.Equal(t, "pipo", *v.Release)

	f = readFrame(t, server)
	require.Equal(t, TagAuthenticate, f.Tag)
	pkt, err = DecodePacket(f.Tag, f.Payload)
	require.NoError(t, err)
	auth := pkt.(*Authenticate)
	assert.Equal(t, "alice", *auth.Username)
	assert.Equal(t, "secret", *auth.Password)
	require.NotNil(t, auth.Opus)
	assert.False(t, *auth.Opus)

	require.NoError(t, <-errCh)
}

func TestHandshakeOmitsEmptyPassword(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &wireConn{conn: client, log: zerolog.Nop()}
	errCh := make(chan error, 1)
	go func() { errCh <- c.handshake("alice", "") }()

	readFrame(t, server) // Version
	f := readFrame(t, server)
	pkt, err := DecodePacket(f.Tag, f.Payload)
	require.NoError(t, err)
	assert.Nil(t, pkt.(*Authenticate).Password)

	require.NoError(t, <-errCh)
}

func TestWritePacketFramesOnTheWire(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &wireConn{conn: client, log: zerolog.Nop()}
	go func() {
		_ = c.writePacket(&Ping{Timestamp: pu64(12345)})
	}()

	f := readFrame(t, server)
	require.Equal(t, TagPing, f.Tag)
	pkt, err := DecodePacket(f.Tag, f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), *pkt.(*Ping).Timestamp)
}
