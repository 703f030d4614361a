// Command pipo runs the chat relay: it connects every configured
// transport, joins them over named buses, and optionally serves an
// HTTP status endpoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nemored/pipo/internal/logx"
	"github.com/nemored/pipo/pkg/api"
	"github.com/nemored/pipo/pkg/bus"
	"github.com/nemored/pipo/pkg/config"
	"github.com/nemored/pipo/pkg/mumble"
	"github.com/nemored/pipo/pkg/rachni"
	"github.com/nemored/pipo/pkg/store"
)

// runner is one long-lived component driven until shutdown.
type runner interface {
	Run(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file (default $PIPO_CONFIG)")
	dbPath := flag.String("db", "", "path to the sqlite message database (default $PIPO_DB)")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	logx.Configure(*logLevel)
	log := logx.Log

	if *configPath == "" {
		*configPath = os.Getenv("PIPO_CONFIG")
	}
	if *configPath == "" {
		log.Fatal().Msg("no configuration file: pass -config or set PIPO_CONFIG")
	}
	if *dbPath == "" {
		*dbPath = os.Getenv("PIPO_DB")
	}
	if *dbPath == "" {
		*dbPath = "pipo.db"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("configuration not loaded")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("message database not opened")
	}
	defer st.Close()

	reg := bus.NewRegistry(cfg.BusNames(), log)
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		runners   []runner
		reporters []api.Reporter
	)
	for i, tc := range cfg.Transports {
		switch tc.Transport {
		case "Mumble":
			tr, err := mumble.New(i, mumble.Config{
				Server:              tc.Server,
				Nickname:            tc.Nickname,
				Password:            tc.Password,
				Comment:             tc.Comment,
				ClientCert:          tc.ClientCert,
				ServerCert:          tc.ServerCert,
				ChannelMapping:      tc.ChannelMapping,
				VoiceChannelMapping: tc.VoiceChannelMapping,
			}, reg, st, log)
			if err != nil {
				log.Fatal().Err(err).Int("transport_id", i).Msg("mumble transport not configured")
			}
			runners = append(runners, tr)
			reporters = append(reporters, tr)

		case "Rachni":
			tr, err := rachni.New(i, rachni.Config{
				Server:   tc.Server,
				APIKey:   tc.APIKey,
				Interval: tc.Interval,
				Buses:    tc.Buses,
			}, reg, st, log)
			if err != nil {
				log.Fatal().Err(err).Int("transport_id", i).Msg("rachni transport not configured")
			}
			runners = append(runners, tr)
			reporters = append(reporters, tr)

		default:
			log.Fatal().Str("transport", tc.Transport).Msg("unknown transport in configuration")
		}
	}

	if cfg.API != nil && cfg.API.Listen != "" {
		runners = append(runners, api.NewServer(cfg.API.Listen, reporters, log))
	}

	log.Info().Int("transports", len(cfg.Transports)).Int("buses", len(cfg.Buses)).Msg("relay starting")

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				log.Error().Err(err).Msg("component stopped with error")
			}
		}(r)
	}
	wg.Wait()
	log.Info().Msg("relay stopped")
}
