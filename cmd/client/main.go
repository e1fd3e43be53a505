// Command client is a headless demo driver: it connects to a ticknet
// server, walks forward in a straight line, and logs its predicted and
// reconciled position each second.
package main

import (
	"flag"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ticknet/internal/clientendpoint"
	"ticknet/internal/config"
	"ticknet/internal/demogame"
	"ticknet/internal/entitystate"
	"ticknet/internal/netlog"
)

var log = netlog.New("cmd/client")

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "server address to connect to")
	flag.Parse()

	cfg := config.Default()
	cl, err := clientendpoint.New(cfg, *addr, demogame.Game{}.StepPlayer, entitystate.EntityState{}, prometheus.NewRegistry())
	if err != nil {
		log.Fatal("failed to construct client", "err", err)
	}
	defer cl.Close()

	if err := cl.Connect(); err != nil {
		log.Fatal("connect failed", "err", err)
	}
	log.Info("connecting", "addr", *addr)

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	logTicker := time.NewTicker(1 * time.Second)
	defer logTicker.Stop()

	move := entitystate.Vec3{X: 1}
	for {
		select {
		case now := <-ticker.C:
			if err := cl.Run(now, move, 0, 0, 0); err != nil {
				log.Warn("tick failed", "err", err)
			}
		case <-logTicker.C:
			p := cl.LocalPredicted()
			log.Info("predicted state", "x", p.Position.X, "y", p.Position.Y, "z", p.Position.Z)
		}
	}
}
