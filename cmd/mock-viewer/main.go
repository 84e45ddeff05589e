package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"viewerhost/internal/channel"
	"viewerhost/internal/config"
	"viewerhost/internal/logging"
	"viewerhost/internal/messaging"
	"viewerhost/internal/viewer"
)

// mock-viewer plays the embedded viewer over NATS so viewer-host can be run
// with transport.kind=nats without a browser.
func main() {
	var (
		natsURL  = flag.String("nats-url", config.DefaultNATSURL, "NATS server URL")
		viewerID = flag.String("viewer-id", "zea-svelte-app", "Viewer frame id")
		announce = flag.Duration("announce", 0, "Re-send ready at this interval (0 sends it once)")
		level    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logging.Init(*level, "text")
	logger := logging.WithComponent("mock-viewer")
	logger.Info("Starting mock viewer")

	bus, err := messaging.NewNATSBus(*natsURL, messaging.NATSOptions{Name: "mock-viewer"}, logging.WithComponent("nats"))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer bus.Close()

	frame := channel.NewFrame(bus, *viewerID)
	peer := viewer.NewPeer(frame, logger)
	if err := peer.Start(); err != nil {
		log.Fatalf("Failed to start peer: %v", err)
	}
	defer peer.Close()

	if err := peer.Ready(); err != nil {
		logger.Errorf("Failed to announce ready: %v", err)
	}
	logger.Infof("Serving frame %s (in=%s out=%s)", frame.ID, frame.Inbound, frame.Outbound)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *announce <= 0 {
		<-ctx.Done()
		logger.Info("Shutting down")
		return
	}

	ticker := time.NewTicker(*announce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return
		case <-ticker.C:
			if err := peer.Ready(); err != nil {
				logger.Warnf("Failed to announce ready: %v", err)
			}
		}
	}
}
