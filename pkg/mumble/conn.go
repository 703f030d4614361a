package mumble

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

const (
	dialTimeout = 10 * time.Second

	// pingInterval is the keepalive cadence; readTimeout is the
	// dead-peer threshold. Server ping replies guarantee inbound
	// traffic at least every pingInterval on a healthy link, so a
	// read blocked for 3x that means the peer is gone.
	pingInterval = 10 * time.Second
	readTimeout  = 3 * pingInterval
)

// clientVersion is the protocol version advertised in the handshake,
// encoded major<<16 | minor<<8 | patch for 1.2.4.
const clientVersion uint32 = 0x010204

// wireConn owns one live TLS stream. It is created connected and
// handshaken, used by exactly one event loop, and discarded on any
// fatal stream error.
type wireConn struct {
	conn net.Conn
	log  zerolog.Logger
}

// dialServer establishes the TCP connection, completes the TLS
// handshake, and sends the Version/Authenticate opening sequence. Any
// failure is fatal to this attempt only; the caller backs off and
// retries.
func dialServer(ctx context.Context, addr string, tlsCfg *tls.Config, nickname, password string, log zerolog.Logger) (*wireConn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, DefaultPort
	}
	if tlsCfg.ServerName == "" {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.ServerName = host
	}

	d := &net.Dialer{Timeout: dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	tc := tls.Client(raw, tlsCfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	c := &wireConn{conn: tc, log: log}
	if err := c.handshake(nickname, password); err != nil {
		tc.Close()
		return nil, err
	}

	log.Info().Str("server", addr).Msg("connected")
	return c, nil
}

// handshake sends Version immediately followed by Authenticate. No
// server response is awaited; the main read loop handles whatever
// comes back, including a Reject.
func (c *wireConn) handshake(nickname, password string) error {
	v := &Version{
		Version: pu32(clientVersion),
		Release: pstr("pipo"),
		OS:      pstr(runtime.GOOS),
	}
	if err := c.writePacket(v); err != nil {
		return fmt.Errorf("send version: %w", err)
	}

	auth := &Authenticate{
		Username: pstr(nickname),
		Opus:     pbool(false),
	}
	if password != "" {
		auth.Password = pstr(password)
	}
	if err := c.writePacket(auth); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	return nil
}

// writePacket encodes and writes one frame, retrying short writes
// until the frame is fully on the wire.
func (c *wireConn) writePacket(p Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	return c.writeAll(buf)
}

func (c *wireConn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// read performs a single read into buf with the dead-peer deadline
// armed. A zero-byte read or any error is a fatal stream error for the
// caller.
func (c *wireConn) read(buf []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, err
	}
	return c.conn.Read(buf)
}

func (c *wireConn) close() {
	c.conn.Close()
}
