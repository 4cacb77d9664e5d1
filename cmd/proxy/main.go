// Command hookproxy is a man-in-the-middle proxy for a length-delimited,
// opcode-framed game protocol: it terminates the client's connection,
// dials the real server, runs the handshake and steady-state traffic
// through a per-connection Dispatcher, and lets loaded modules hook,
// inspect, rewrite, silence, or inject messages in either direction.
//
// # Getting started
//
//	go build -o hookproxy ./cmd/proxy
//	./hookproxy -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fenwick-labs/hookproxy/internal/codec"
	"github.com/fenwick-labs/hookproxy/internal/config"
	"github.com/fenwick-labs/hookproxy/internal/dispatch"
	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/proxy"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
	})
	defer func() { _ = log.Sync() }()

	log.Infow("hookproxy starting",
		"listen", cfg.Proxy.Listen,
		"upstream", cfg.Proxy.Upstream,
	)

	demoCodec := buildDemoCodec(cfg)
	codecFactory := func() codec.Codec { return demoCodec }

	opts := proxy.ConnectOptions{
		ListenAddr:   cfg.Proxy.Listen,
		UpstreamAddr: cfg.Proxy.Upstream,
	}

	// ── Register modules ─────────────────────────────────────────────────
	//
	// onDispatch fires once per accepted connection with a freshly built
	// Dispatcher, before any traffic flows. Load your own modules here.
	//
	// Example:
	//   d.LoadModule("my-module", myModuleLoader, log)
	onDispatch := func(d *dispatch.Dispatcher) {
		d.LoadModule("logging", newLoggingModule, log)
		d.LoadModule("chat-shout", newChatShoutModule, log)
	}

	srv := proxy.New(opts, onDispatch, codecFactory, log,
		dispatch.WithCheckVersionOpcode(message.Opcode(cfg.Protocol.CheckVersionOpcode)),
		dispatch.WithEarliestKnownVersion(cfg.Protocol.EarliestKnownVersion),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Infow("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("graceful shutdown incomplete", zap.Error(err))
			os.Exit(1)
		}
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Fatalw("proxy exited with error", zap.Error(err))
	}

	log.Info("hookproxy stopped.")
}
