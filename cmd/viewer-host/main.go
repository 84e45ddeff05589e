package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"viewerhost/internal/channel"
	"viewerhost/internal/config"
	"viewerhost/internal/harness"
	"viewerhost/internal/logging"
	"viewerhost/internal/messaging"
	"viewerhost/internal/metrics"
	"viewerhost/internal/storage"
	"viewerhost/internal/viewer"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file (YAML)")
		transport  = flag.String("transport", "", "Transport kind: memory or nats")
		natsURL    = flag.String("nats-url", "", "NATS server URL")
		viewerID   = flag.String("viewer-id", "", "Viewer frame id")
		baseURL    = flag.String("base-url", "", "Page URL presets are resolved against")
		metricsOn  = flag.Bool("metrics", false, "Serve Prometheus metrics")
		dumpConfig = flag.Bool("dump-config", false, "Print the effective configuration and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags win over the config file when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport.Kind = *transport
		case "nats-url":
			cfg.Transport.NATSURL = *natsURL
		case "viewer-id":
			cfg.Viewer.ID = *viewerID
		case "base-url":
			cfg.Viewer.BaseURL = *baseURL
		case "metrics":
			cfg.Metrics.Enabled = *metricsOn
		}
	})
	if err := config.NewConfigValidator().Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *dumpConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			log.Fatalf("Failed to dump config: %v", err)
		}
		return
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.WithComponent("viewer-host")
	config.PrintConfigurationSummary(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		logger.Fatalf("viewer-host failed: %v", err)
	}
	logger.Info("viewer-host stopped")
}

// errInputClosed stops the group when stdin reaches EOF.
var errInputClosed = errors.New("input closed")

func run(ctx context.Context, cfg *config.AppConfig, in io.Reader, out io.Writer, logger logging.Logger) error {
	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	frame := channel.NewFrame(bus, cfg.Viewer.ID)

	// The memory transport has nobody on the far side; simulate the viewer.
	var peer *viewer.Peer
	if cfg.Transport.Kind == "memory" {
		peer = viewer.NewPeer(frame, logging.WithComponent("mock-viewer"))
		if err := peer.Start(); err != nil {
			return err
		}
		defer peer.Close()
	}

	opts := []channel.Option{
		channel.WithLogger(logging.WithComponent("messenger")),
		channel.WithTimeout(cfg.Messenger.CallTimeout),
		channel.WithStaleCacheSize(cfg.Messenger.StaleCacheSize),
	}

	var prom *metrics.Prom
	if cfg.Metrics.Enabled {
		prom = metrics.NewProm()
		prom.Registry().MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, channel.WithMetrics(prom))
	}

	if cfg.Transcript.Enabled {
		store, err := storage.NewLevelDB(cfg.Transcript.LevelDBPath)
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		defer store.Close()
		opts = append(opts, channel.WithRecorder(storage.NewTranscript(store, cfg.Viewer.ID)))
		logger.Infof("Recording transcript to %s", cfg.Transcript.LevelDBPath)
	}

	m, err := channel.New(frame, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	console := logging.NewConsole("output", out)
	app := harness.New(viewer.NewClient(m), console, harness.Options{
		BaseURL: cfg.Viewer.BaseURL,
		Presets: cfg.Viewer.PresetMap(),
		Logger:  logging.WithComponent("harness"),
	})
	defer app.Close()

	if peer != nil {
		if err := peer.Ready(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if prom != nil {
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: prom.Handler()}
		g.Go(func() error {
			logger.Infof("Metrics server listening on %s", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	// The scanner cannot be interrupted, so it feeds a channel the group selects on.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		logger.Infof("Presets: %v", app.Presets())
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					logger.Info("Input closed")
					return errInputClosed
				}
				if err := app.Exec(line); err != nil {
					logger.Warnf("%v", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errInputClosed) {
		return err
	}
	return nil
}

type closableBus interface {
	messaging.Bus
	Close() error
}

func openBus(cfg *config.AppConfig, logger logging.Logger) (closableBus, error) {
	switch cfg.Transport.Kind {
	case "nats":
		logger.Infof("Connecting to NATS at %s", cfg.Transport.NATSURL)
		return messaging.NewNATSBus(cfg.Transport.NATSURL, messaging.NATSOptions{
			Name:           cfg.Transport.Name,
			ReconnectWait:  cfg.Timeouts.NATSReconnectWait,
			FlushOnPublish: cfg.Transport.FlushOnPublish,
		}, logging.WithComponent("nats"))
	default:
		logger.Info("Using in-process transport with a simulated viewer")
		return messaging.NewMemoryBus(messaging.WithBusLogger(logging.WithComponent("bus"))), nil
	}
}
