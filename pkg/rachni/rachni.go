// Package rachni implements the stream-status transport: it polls a
// Rachni server's ping endpoint and announces stream starts and stops
// on its buses. This transport is publish-only.
package rachni

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nemored/pipo/pkg/api"
	"github.com/nemored/pipo/pkg/bus"
	"github.com/nemored/pipo/pkg/message"
)

const TransportName = "Rachni"

const defaultInterval = 30 * time.Second

var (
	ErrNoServer = errors.New("rachni: no server configured")
	ErrNoAPIKey = errors.New("rachni: no api key configured")
)

// Correlator allocates cross-platform correlation ids.
type Correlator interface {
	Insert(ctx context.Context) (int64, error)
}

// Config carries the transport's settings from the configuration file.
type Config struct {
	Server string
	APIKey string
	// Interval is the poll cadence in seconds; 0 selects the default.
	Interval uint64
	Buses    []string
}

// Transport polls one Rachni server.
type Transport struct {
	id     int
	cfg    Config
	url    string
	client *http.Client
	store  Correlator
	buses  []*bus.Bus
	log    zerolog.Logger

	// streams is the set seen on the previous successful poll. Only
	// the Run goroutine touches it.
	streams map[string]struct{}

	mu        sync.Mutex
	connected bool
	published uint64
}

func New(id int, cfg Config, reg *bus.Registry, store Correlator, log zerolog.Logger) (*Transport, error) {
	if cfg.Server == "" {
		return nil, ErrNoServer
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	log = log.With().Str("transport", TransportName).Str("server", cfg.Server).Logger()

	var buses []*bus.Bus
	for _, name := range cfg.Buses {
		b := reg.Lookup(name)
		if b == nil {
			log.Warn().Str("bus", name).Msg("no such bus in configuration, skipped")
			continue
		}
		buses = append(buses, b)
	}

	return &Transport{
		id:      id,
		cfg:     cfg,
		url:     fmt.Sprintf("http://%s/api/%s/stream/ping", cfg.Server, cfg.APIKey),
		client:  &http.Client{Timeout: 30 * time.Second},
		store:   store,
		buses:   buses,
		log:     log,
		streams: make(map[string]struct{}),
	}, nil
}

// Status reports a snapshot for the HTTP status endpoint.
func (t *Transport) Status() api.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.Status{
		Transport: TransportName,
		Server:    t.cfg.Server,
		Connected: t.connected,
		Received:  t.published,
	}
}

func (t *Transport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *Transport) countPublished() {
	t.mu.Lock()
	t.published++
	t.mu.Unlock()
}

func (t *Transport) interval() time.Duration {
	if t.cfg.Interval == 0 {
		return defaultInterval
	}
	return time.Duration(t.cfg.Interval) * time.Second
}

// Run polls until ctx is cancelled. Poll failures are logged and
// retried on the next tick; the previous stream set is kept so a
// transient outage does not announce spurious stops.
func (t *Transport) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval())
	defer ticker.Stop()

	for {
		if err := t.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.setConnected(false)
			t.log.Warn().Err(err).Msg("poll failed")
		} else {
			t.setConnected(true)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll fetches the current stream set and announces the difference
// against the previous one.
func (t *Transport) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ping response: %w", err)
	}

	// A malformed body is a poll failure and must not disturb the
	// stream set; only a well-formed response that is not a JSON
	// object means no active streams.
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse ping response: %w", err)
	}
	listing, ok := doc.(map[string]any)
	if !ok {
		t.log.Warn().Msg("ping response is not an object, treating as no streams")
	}

	current := make(map[string]struct{}, len(listing))
	for name, v := range listing {
		current[name] = struct{}{}
		if _, known := t.streams[name]; known {
			continue
		}
		details, _ := v.(map[string]any)
		url, _ := details["URL"].(string)
		if url == "" {
			t.log.Warn().Str("stream", name).Msg("stream announcement without url")
			continue
		}
		t.announce(ctx, name, fmt.Sprintf("has started streaming: %s ", url))
	}

	for name := range t.streams {
		if _, still := current[name]; !still {
			t.announce(ctx, name, "has stopped streaming")
		}
	}

	t.streams = current
	return nil
}

// announce publishes one action message, with the stream name as the
// acting username, to every configured bus.
func (t *Transport) announce(ctx context.Context, stream, body string) {
	pipoID, err := t.store.Insert(ctx)
	if err != nil {
		t.log.Warn().Err(err).Str("stream", stream).
			Msg("correlation id allocation failed, announcement skipped")
		return
	}

	m := message.Message{
		Kind:      message.KindAction,
		Sender:    t.id,
		PipoID:    pipoID,
		Transport: TransportName,
		Username:  stream,
		Body:      body,
	}
	for _, b := range t.buses {
		if err := b.Send(m); err != nil {
			t.log.Warn().Err(err).Str("bus", b.Name()).Msg("bus send failed")
			continue
		}
		t.countPublished()
	}
}
