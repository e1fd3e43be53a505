// Command server runs a ticknet authoritative game server against the
// built-in demo simulation.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"ticknet/internal/config"
	"ticknet/internal/demogame"
	"ticknet/internal/netlog"
	"ticknet/internal/serverendpoint"
)

var log = netlog.New("cmd/server")

func main() {
	addr := flag.String("addr", ":7777", "UDP address to listen on")
	tickRateHz := flag.Int("tick-rate", config.Default().TickRateHz, "simulation tick rate (Hz)")
	flag.Parse()

	cfg := config.Default()
	cfg.TickRateHz = *tickRateHz
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	srv, err := serverendpoint.New(cfg, *addr, demogame.Game{}, prometheus.NewRegistry())
	if err != nil {
		log.Fatal("failed to start server", "err", err)
	}
	defer srv.Close()

	log.Info("server listening", "addr", *addr, "tick_rate_hz", cfg.TickRateHz)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(stop) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server exited", "err", err)
		}
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig)
		close(stop)
		<-errCh
	}
}
