package mumble

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nemored/pipo/pkg/api"
	"github.com/nemored/pipo/pkg/bus"
	"github.com/nemored/pipo/pkg/message"
)

// Reconnect policy: attempt*backoffStep of sleep before each retry
// (first attempt immediate), capped, and reset once a connection has
// stayed up for stableUptime.
const (
	backoffStep        = 30 * time.Second
	maxBackoffAttempts = 10
	stableUptime       = time.Minute
)

var (
	ErrNoServer   = errors.New("mumble: no server configured")
	ErrNoNickname = errors.New("mumble: no nickname configured")
)

// Config carries the transport's settings from the configuration file.
type Config struct {
	// Server is "host" or "host:port"; the default port is 64738.
	Server   string
	Nickname string
	Password string
	// Comment is published as our user comment once the session is
	// established.
	Comment string

	// ClientCert optionally names a PEM file (certificate + key)
	// presented during the TLS handshake.
	ClientCert string
	// ServerCert optionally names a certificate file; when set, the
	// connection trusts exactly that certificate instead of the
	// public CA roots.
	ServerCert string

	// ChannelMapping maps server channel names to bus names. Only
	// these channels are bridged.
	ChannelMapping map[string]string
	// VoiceChannelMapping is accepted for configuration
	// compatibility; voice channels are not bridged.
	VoiceChannelMapping map[string]string
}

// Transport is the Mumble control-channel adapter. One Transport owns
// one connection at a time; all connection state is confined to the
// Run goroutine.
type Transport struct {
	id     int
	cfg    Config
	tlsCfg *tls.Config
	log    zerolog.Logger

	state  *stateCache
	bridge *bridge
	buses  []*bus.Bus

	mu        sync.Mutex
	connected bool
	received  uint64
	sent      uint64
}

// New validates the configuration and builds the transport. Errors here
// are configuration-fatal: they are reported once and not retried.
func New(id int, cfg Config, reg *bus.Registry, store Correlator, log zerolog.Logger) (*Transport, error) {
	if cfg.Server == "" {
		return nil, ErrNoServer
	}
	if cfg.Nickname == "" {
		return nil, ErrNoNickname
	}
	log = log.With().Str("transport", TransportName).Str("server", cfg.Server).Logger()

	var pinned []byte
	if cfg.ServerCert != "" {
		var err error
		pinned, err = loadPinnedCert(cfg.ServerCert)
		if err != nil {
			return nil, err
		}
		log.Info().Str("server_cert", cfg.ServerCert).Msg("certificate pinning enabled")
	}
	tlsCfg, err := newTLSConfig("", pinned, cfg.ClientCert)
	if err != nil {
		return nil, err
	}

	busByChannel := make(map[string]*bus.Bus, len(cfg.ChannelMapping))
	distinct := make(map[string]*bus.Bus)
	for channel, busName := range cfg.ChannelMapping {
		b := reg.Lookup(busName)
		if b == nil {
			log.Warn().Str("bus", busName).Str("channel", channel).
				Msg("no such bus in configuration, channel not bridged")
			continue
		}
		busByChannel[channel] = b
		distinct[busName] = b
	}
	if len(cfg.VoiceChannelMapping) > 0 {
		log.Debug().Msg("voice channel mapping configured, voice channels are not bridged")
	}

	buses := make([]*bus.Bus, 0, len(distinct))
	for _, b := range distinct {
		buses = append(buses, b)
	}

	state := newStateCache(cfg.Nickname, busByChannel)
	t := &Transport{
		id:     id,
		cfg:    cfg,
		tlsCfg: tlsCfg,
		log:    log,
		state:  state,
		buses:  buses,
	}
	t.bridge = &bridge{transportID: id, store: store, state: state, log: log}
	return t, nil
}

// Status reports a snapshot for the HTTP status endpoint.
func (t *Transport) Status() api.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.Status{
		Transport: TransportName,
		Server:    t.cfg.Server,
		Connected: t.connected,
		Received:  t.received,
		Sent:      t.sent,
	}
}

func (t *Transport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *Transport) countReceived(n int) {
	t.mu.Lock()
	t.received += uint64(n)
	t.mu.Unlock()
}

func (t *Transport) countSent() {
	t.mu.Lock()
	t.sent++
	t.mu.Unlock()
}

func backoffDelay(attempt int) time.Duration {
	if attempt > maxBackoffAttempts {
		attempt = maxBackoffAttempts
	}
	return time.Duration(attempt) * backoffStep
}

// Run drives the transport until ctx is cancelled: connect, serve,
// back off, reconnect. Connection-fatal errors never escape this loop.
func (t *Transport) Run(ctx context.Context) error {
	inbox := make(chan message.Message, 100)
	for _, b := range t.buses {
		go fanIn(ctx, b.Subscribe(), inbox)
	}

	for attempt := 0; ; {
		if delay := backoffDelay(attempt); delay > 0 {
			t.log.Info().Dur("delay", delay).Msg("waiting before reconnect")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		conn, err := dialServer(ctx, t.cfg.Server, t.tlsCfg, t.cfg.Nickname, t.cfg.Password, t.log)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Error().Err(err).Msg("connection attempt failed")
			attempt++
			continue
		}

		t.setConnected(true)
		start := time.Now()
		err = t.serve(ctx, conn, inbox)
		conn.close()
		t.setConnected(false)

		if ctx.Err() != nil {
			t.log.Info().Msg("transport stopped")
			return nil
		}
		t.log.Error().Err(err).Msg("connection lost")

		if time.Since(start) >= stableUptime {
			attempt = 0
		} else {
			attempt++
		}
	}
}

// fanIn forwards one bus subscription into the transport's inbox.
func fanIn(ctx context.Context, sub <-chan message.Message, inbox chan<- message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub:
			if !ok {
				return
			}
			select {
			case inbox <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// serve runs the Connected state: a single loop multiplexing wire
// reads, the keepalive timer, and inbound bus messages. Any returned
// error is connection-fatal; the caller handles backoff.
func (t *Transport) serve(ctx context.Context, c *wireConn, inbox <-chan message.Message) error {
	t.state.reset()

	done := make(chan struct{})
	defer close(done)
	readCh := make(chan readResult)
	go readPump(c, readCh, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-readCh:
			if len(res.data) > 0 {
				pending = append(pending, res.data...)
				for {
					f, rest, ok, err := SplitFrame(pending)
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					pending = rest
					if err := t.handleFrame(ctx, c, f); err != nil {
						return err
					}
				}
			}
			if res.err != nil {
				return fmt.Errorf("read: %w", res.err)
			}

		case <-ticker.C:
			if err := c.writePacket(pingPacket()); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}

		case m := <-inbox:
			if err := t.handleBusMessage(c, m); err != nil {
				return err
			}
		}
	}
}

// readPump feeds wire bytes into the event loop. It exits on the first
// read error or when the serve loop is gone.
func readPump(c *wireConn, out chan<- readResult, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := c.read(buf)
		res := readResult{err: err}
		if n > 0 {
			res.data = append([]byte(nil), buf[:n]...)
		} else if err == nil {
			// A zero-byte read is a closed stream, not a case for
			// continued operation.
			res.err = io.EOF
		}
		select {
		case out <- res:
		case <-done:
			return
		}
		if res.err != nil {
			return
		}
	}
}

// handleFrame decodes and dispatches one wire frame. State frames go to
// the cache, text frames to the bridge; a decode failure or a Reject is
// connection-fatal, per-frame resolution problems are logged and
// skipped.
func (t *Transport) handleFrame(ctx context.Context, c *wireConn, f Frame) error {
	pkt, err := DecodePacket(f.Tag, f.Payload)
	if err != nil {
		return err
	}

	switch p := pkt.(type) {
	case *ServerSync:
		if p.Session != nil {
			t.state.setActor(*p.Session)
			t.log.Info().Uint32("session", *p.Session).Msg("session established")
			if t.cfg.Comment != "" {
				us := &UserState{Session: p.Session, Comment: pstr(t.cfg.Comment)}
				if err := c.writePacket(us); err != nil {
					return fmt.Errorf("publish user comment: %w", err)
				}
			}
		}
		if p.WelcomeText != nil {
			t.log.Info().Str("welcome", *p.WelcomeText).Msg("server welcome")
		}

	case *ChannelState:
		if err := t.state.mergeChannel(p); err != nil {
			t.log.Warn().Err(err).Msg("channel state not applied")
		}

	case *ChannelRemove:
		t.state.removeChannel(p.ChannelID)

	case *UserState:
		if err := t.state.mergeUser(p); err != nil {
			t.log.Warn().Err(err).Msg("user state not applied")
		}

	case *UserRemove:
		t.state.removeUser(p.Session)

	case *TextMessage:
		t.countReceived(t.bridge.inboundText(ctx, p))

	case *Reject:
		reason := ""
		if p.Reason != nil {
			reason = *p.Reason
		}
		return fmt.Errorf("server rejected connection: %s (%s)", reason, p.TypeName())

	case *Ping:
		t.log.Debug().Msg("ping reply")

	case *PermissionDenied:
		evt := t.log.Warn()
		if p.Reason != nil {
			evt = evt.Str("reason", *p.Reason)
		}
		evt.Msg("permission denied")

	case *Version:
		if p.Release != nil {
			t.log.Debug().Str("release", *p.Release).Msg("server version")
		}

	case *RawPacket:
		t.log.Debug().Str("type", TagName(p.Tag)).Msg("unhandled frame ignored")
	}
	return nil
}

// handleBusMessage bridges one bus message to the wire. Resolution
// failures drop the message; only a write failure tears the
// connection down.
func (t *Transport) handleBusMessage(c *wireConn, m message.Message) error {
	tm, err := t.bridge.outboundText(m)
	if err != nil {
		t.log.Warn().Err(err).Msg("outbound message dropped")
		return nil
	}
	if tm == nil {
		return nil
	}
	if err := c.writePacket(tm); err != nil {
		return fmt.Errorf("write text message: %w", err)
	}
	t.countSent()
	return nil
}
