// Package config loads the relay configuration file: a JSON document
// that may contain // line comments, listing the buses and the
// transports to run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
)

var (
	ErrNoBuses      = errors.New("configuration declares no buses")
	ErrNoTransports = errors.New("configuration declares no transports")
)

// comments are stripped before parsing, the same way the config has
// always been written: anything from // to end of line goes, even
// inside string literals.
var commentRe = regexp.MustCompile(`//[^\n\r]*`)

// Bus names one relay bus.
type Bus struct {
	ID string `json:"id"`
}

// Transport is the tagged union of per-transport settings. Transport
// selects the adapter; the adapter validates the fields it needs.
type Transport struct {
	Transport string `json:"transport"`

	// Mumble.
	Server              string            `json:"server"`
	Password            string            `json:"password"`
	Nickname            string            `json:"nickname"`
	ClientCert          string            `json:"client_cert"`
	ServerCert          string            `json:"server_cert"`
	Comment             string            `json:"comment"`
	ChannelMapping      map[string]string `json:"channel_mapping"`
	VoiceChannelMapping map[string]string `json:"voice_channel_mapping"`

	// Rachni.
	APIKey   string   `json:"api_key"`
	Interval uint64   `json:"interval"`
	Buses    []string `json:"buses"`
}

// API configures the optional HTTP status endpoint.
type API struct {
	Listen string `json:"listen"`
}

// Config is the parsed configuration file.
type Config struct {
	Buses      []Bus       `json:"buses"`
	Transports []Transport `json:"transports"`
	API        *API        `json:"api"`
}

// Load reads and parses the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw = commentRe.ReplaceAll(raw, nil)

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if len(cfg.Buses) == 0 {
		return nil, ErrNoBuses
	}
	if len(cfg.Transports) == 0 {
		return nil, ErrNoTransports
	}

	return &cfg, nil
}

// BusNames returns the configured bus names in order.
func (c *Config) BusNames() []string {
	names := make([]string, len(c.Buses))
	for i, b := range c.Buses {
		names[i] = b.ID
	}
	return names
}
