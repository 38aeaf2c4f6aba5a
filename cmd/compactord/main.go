// Command compactord is the long-running engine process: it hosts the
// WebSocket command/event channel, an optional Prometheus metrics
// endpoint, and a stdio fallback transport for headless use (SPEC_FULL.md
// §1 expansion).
package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/historydb"
	"github.com/halvarsen/compactd/internal/metrics"
	"github.com/halvarsen/compactd/internal/platform"
	"github.com/halvarsen/compactd/internal/proto"
	"github.com/halvarsen/compactd/internal/server"
	"github.com/halvarsen/compactd/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	stdio := flag.Bool("stdio", false, "serve the command/event channel over stdin/stdout instead of (or alongside) the websocket listener")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		log.Fatal().Err(err).Str("state_dir", cfg.StateDir).Msg("creating state dir")
	}

	hashKey, err := store.LoadOrCreateKey(cfg.HashKeySeedPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading hash key")
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "incompressible.store"), cfg.StoreFlushThreshold, func(err error) {
		log.Warn().Err(err).Msg("incompressible-file store degraded to in-memory-only")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("opening incompressible-file store")
	}
	defer st.Close()

	hist, err := historydb.Open(filepath.Join(cfg.StateDir, "history.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("opening job-history database")
	}
	defer hist.Close()

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New(reg)
	}

	adapter := platform.NewAdapter(func(path string, err error) {
		log.Warn().Err(err).Str("path", path).Msg("failed to restore timestamps")
	})

	hub := server.New(cfg, adapter, st, hashKey, m, hist)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}
	if cfg.WebSocketAddr != "" {
		go serveWebSocket(cfg.WebSocketAddr, hub)
	}
	if *stdio || (cfg.WebSocketAddr == "" && cfg.MetricsAddr == "") {
		hub.Serve(proto.NewStdioTransport(os.Stdin, os.Stdout, os.Stdin))
		return
	}

	select {}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics listener exited")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The engine is intended to run alongside a local embedded front-end;
	// it trusts same-machine connections rather than checking Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveWebSocket(addr string, hub *server.Hub) {
	mux := http.NewServeMux()
	mux.HandleFunc("/engine", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Msg("front-end connected")
		hub.Serve(proto.NewWebSocketTransport(conn))
	})
	log.Info().Str("addr", addr).Msg("websocket endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("websocket listener exited")
	}
}
