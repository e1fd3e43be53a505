// Command loadtest spins up N local clients against a server for
// manual soak testing, grounded on
// original_source/stress_test_tool.cpp's SimulatePlayer/RunTest shape:
// one goroutine per simulated player, each moving at a fixed rate for
// the test duration.
package main

import (
	"flag"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ticknet/internal/clientendpoint"
	"ticknet/internal/config"
	"ticknet/internal/demogame"
	"ticknet/internal/entitystate"
	"ticknet/internal/netlog"
)

var log = netlog.New("cmd/loadtest")

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "server address to connect to")
	numPlayers := flag.Int("players", 20, "number of simulated clients")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	actionsPerSecond := flag.Int("actions-per-second", 20, "simulated input rate per client")
	flag.Parse()

	cfg := config.Default()
	reg := prometheus.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < *numPlayers; i++ {
		wg.Add(1)
		go func(playerID int) {
			defer wg.Done()
			simulatePlayer(playerID, *addr, cfg, *duration, *actionsPerSecond, reg)
		}(i)
	}
	wg.Wait()
	log.Info("stress test completed", "players", *numPlayers, "duration", *duration)
}

func simulatePlayer(playerID int, addr string, cfg config.Config, duration time.Duration, actionsPerSecond int, reg prometheus.Registerer) {
	cl, err := clientendpoint.New(cfg, addr, demogame.Game{}.StepPlayer, entitystate.EntityState{}, reg)
	if err != nil {
		log.Error("player failed to construct", "player_id", playerID, "err", err)
		return
	}
	defer cl.Close()

	if err := cl.Connect(); err != nil {
		log.Error("player failed to connect", "player_id", playerID, "err", err)
		return
	}

	rng := rand.New(rand.NewSource(int64(playerID) + time.Now().UnixNano()))
	interval := time.Second / time.Duration(actionsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	for now := range ticker.C {
		if now.After(deadline) {
			return
		}
		move := entitystate.Vec3{X: rng.Float32()*2 - 1, Y: rng.Float32()*2 - 1}
		if err := cl.Run(now, move, rng.Float32()*360, 0, 0); err != nil {
			log.Warn("player tick failed", "player_id", playerID, "err", err)
		}
	}
}
