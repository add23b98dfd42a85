package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/config"
	"github.com/kaelstrom/tradecore/internal/drift"
	"github.com/kaelstrom/tradecore/internal/gateway"
	"github.com/kaelstrom/tradecore/internal/ledger"
	"github.com/kaelstrom/tradecore/internal/metrics"
	"github.com/kaelstrom/tradecore/internal/planner"
	"github.com/kaelstrom/tradecore/internal/replayguard"
	"github.com/kaelstrom/tradecore/internal/safety"
	"github.com/kaelstrom/tradecore/internal/signal"
	"github.com/kaelstrom/tradecore/internal/store"
	"github.com/kaelstrom/tradecore/internal/transport"
)

// staticL2 is a placeholder L2Source until an upstream market-data feed is
// wired in; upstream strategy logic is out of scope (spec.md §1).
type staticL2 struct{}

func (staticL2) Snapshot(symbol string) (signal.MarketSnapshot, bool) {
	return signal.MarketSnapshot{}, false
}

type liveEquity struct{ gw *gateway.Gateway }

func (e liveEquity) EquityUSD() float64 {
	acct, err := e.gw.GetAccount(context.Background())
	if err != nil {
		return 0
	}
	return acct.EquityUSD
}

func main() {
	hmacSecret := os.Getenv("EXECD_HMAC_SECRET")
	if hmacSecret == "" {
		panic("EXECD_HMAC_SECRET not set")
	}

	dsn := os.Getenv("EXECD_MYSQL_DSN")
	if dsn == "" {
		panic("EXECD_MYSQL_DSN not set")
	}

	configPath := os.Getenv("EXECD_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	db, err := store.Open(dsn)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	realClock := clock.Real{}

	mock := gateway.NewMockAdapter(gateway.MockAdapterConfig{Name: "mock", StartingEquity: 100_000})
	priority := gateway.SelectionPriority{Mock: mock}
	adapter, err := priority.Select()
	if err != nil {
		panic(err)
	}
	limiter := gateway.NewTokenBucket(20, 10)
	gw := gateway.New(adapter, db, limiter)

	l := ledger.New(realClock)
	guard := replayguard.New(realClock, replayguard.DefaultTTL, replayguard.DefaultCapacity)
	envelope := safety.New(realClock, cfg.ToSafetyConfig())

	reg := metrics.New()

	onAlert := func(event string, detail any) {
		_ = db.RecordSystemEvent("Blocked", event, fmt.Sprintf("%+v", detail), time.Now())
	}
	flatten := func(ctx context.Context, reason signal.ExitReason) error {
		return safety.FlattenAll(ctx, reason, func(ctx context.Context) (map[string]float64, error) {
			results, err := gw.CloseAllPositions(ctx)
			if err != nil {
				return nil, err
			}
			prices := make(map[string]float64, len(results))
			for _, r := range results {
				prices[r.Symbol] = r.FillPrice
			}
			return prices, nil
		}, l)
	}

	driftMonitor := drift.New(realClock, drift.DefaultConfig(0, 1), flatten, onAlert)

	// ObserveTrade feeds the Z-score leg from closed-position PnL; with
	// position-close logic out of scope here, the periodic SampleEquity
	// ticker below still drives the drawdown-velocity kill leg.
	p := planner.New(realClock, l, guard, envelope, gw, staticL2{}, liveEquity{gw: gw}, cfg.ToSizingConfig(), nil)

	socketPath := os.Getenv("EXECD_SOCKET_PATH")
	if socketPath == "" {
		socketPath = "/tmp/execd.sock"
	}
	srv := transport.New(transport.Config{
		SocketPath: socketPath,
		Secret:     []byte(hmacSecret),
	}, p, reg, realClock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepTicker := time.NewTicker(time.Second)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				p.SweepStaleIntents()
			}
		}
	}()

	driftTicker := time.NewTicker(10 * time.Second)
	defer driftTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-driftTicker.C:
				if acct, err := gw.GetAccount(ctx); err == nil {
					_ = driftMonitor.SampleEquity(ctx, acct.EquityUSD)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("execd: received %s, shutting down\n", sig)
	case err := <-errCh:
		if err != nil {
			fmt.Printf("execd: transport error: %v\n", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), transport.DefaultDrainDeadline+time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("execd: shutdown error: %v\n", err)
	}
}
