// Command engine runs the unified reconciliation loop (internal/engine)
// over a batch of market-log CSVs, a live tick log, or a live Kalshi
// WebSocket feed (--ws-tickers), against a SimAdapter or a LiveAdapter,
// journaling every decision and order lifecycle event and writing the
// end-of-run output artifacts. Grounded on
// original_source/server_mirror/unified_engine/runner.py's main(), CLI
// flag-for-flag, and the teacher's bot entrypoint (slog setup,
// signal/context wiring, dry-run/debug flags) for the live-trading path.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/adapter"
	"github.com/sdibella/kalshi-btc15m/internal/config"
	"github.com/sdibella/kalshi-btc15m/internal/engine"
	"github.com/sdibella/kalshi-btc15m/internal/journal"
	"github.com/sdibella/kalshi-btc15m/internal/kalshi"
	"github.com/sdibella/kalshi-btc15m/internal/market"
	"github.com/sdibella/kalshi-btc15m/internal/metrics"
	"github.com/sdibella/kalshi-btc15m/internal/strategy"
	"github.com/sdibella/kalshi-btc15m/internal/ticksource"
)

const tsInputLayout = "2006-01-02 15:04:05.999999"

func main() {
	strategyName := flag.String("strategy", "baseline", "strategy variant name, or a JSON policy file path")
	logDir := flag.String("log-dir", filepath.Join("vm_logs", "market_logs"), "directory of market_data_*.csv files to replay")
	tickLog := flag.String("tick-log", "", "optional single live tick CSV (live_ticks_*.csv) instead of --log-dir")
	useIngest := flag.Bool("use-ingest", false, "use ingest_timestamp instead of tick_timestamp from --tick-log")
	follow := flag.Bool("follow", false, "keep tailing --tick-log for new rows instead of exiting at EOF")
	wsTickers := flag.String("ws-tickers", "", "comma-separated tickers to trade live off the Kalshi WebSocket feed, instead of --log-dir/--tick-log")
	snapshot := flag.String("snapshot", "", "optional snapshot JSON to seed starting cash/positions")
	initialCash := flag.Float64("initial-cash", 100.0, "starting cash in dollars, overridden by --snapshot if given")
	minRequote := flag.Float64("min-requote-interval", 2.0, "seconds between requotes per ticker")
	startTS := flag.String("start-ts", "", "skip ticks before this time, \"YYYY-mm-dd HH:MM:SS[.fff]\"")
	endTS := flag.String("end-ts", "", "stop at ticks after this time, \"YYYY-mm-dd HH:MM:SS[.fff]\"")
	outDir := flag.String("out-dir", "unified_engine_out", "directory for unified_trades.csv/unified_orders.csv/unified_positions.json/decision_intents.csv")
	decisionLog := flag.String("decision-log", "", "JSONL journal path (default: <out-dir>/journal.jsonl)")
	diagLog := flag.Bool("diag-log", false, "emit per-tick DIAG lines to stderr")
	diagEvery := flag.Int("diag-every", 1, "ticks between DIAG lines")
	diagHeartbeatS := flag.Float64("diag-heartbeat-s", 30.0, "seconds between follow-mode heartbeats")
	fillLatencyS := flag.Float64("fill-latency-s", 0.0, "SimAdapter fill latency in seconds (0 = immediate)")
	fillLatencyModel := flag.String("fill-latency-model", "constant", "constant | uniform | exponential")
	fillLatencySeed := flag.Int64("fill-latency-seed", 42, "RNG seed for SimAdapter fills and latency sampling")
	dryRun := flag.Bool("dry-run", true, "use SimAdapter instead of the live Kalshi adapter")
	debug := flag.Bool("debug", false, "enable debug logging")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on, e.g. :9090 (empty = disabled)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug || *diagLog {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	mm, err := resolveStrategy(*strategyName)
	if err != nil {
		logger.Error("strategy init failed", "err", err)
		os.Exit(1)
	}

	initialPositions := map[market.Ticker]market.Position{}
	cash := decimal.NewFromFloat(*initialCash)
	if *snapshot != "" {
		snap, err := config.LoadSnapshot(*snapshot)
		if err != nil {
			logger.Error("snapshot load failed", "err", err)
			os.Exit(1)
		}
		cash = decimal.NewFromFloat(snap.Balance)
		if snap.DailyStartEquity > 0 {
			cash = decimal.NewFromFloat(snap.DailyStartEquity)
		}
		initialPositions = config.SnapshotPositions(snap)
	}

	var simOpts []adapter.SimAdapterOption
	switch *fillLatencyModel {
	case "constant":
		if *fillLatencyS > 0 {
			simOpts = append(simOpts, adapter.WithFillLatency(time.Duration(*fillLatencyS*float64(time.Second))))
		}
	case "uniform":
		maxS := *fillLatencyS
		simOpts = append(simOpts, adapter.WithFillLatencySampler(func(r *rand.Rand) time.Duration {
			return time.Duration(r.Float64() * maxS * float64(time.Second))
		}))
	case "exponential":
		meanS := *fillLatencyS
		simOpts = append(simOpts, adapter.WithFillLatencySampler(func(r *rand.Rand) time.Duration {
			if meanS <= 0 {
				return 0
			}
			return time.Duration(-math.Log(1-r.Float64()) * meanS * float64(time.Second))
		}))
	default:
		logger.Error("unknown --fill-latency-model", "value", *fillLatencyModel)
		os.Exit(1)
	}

	var a adapter.Adapter
	var wsClient *kalshi.WSClient
	if *dryRun {
		a = adapter.NewSimAdapter(cash, initialPositions, *fillLatencySeed, simOpts...)
	} else {
		cfg, err := config.Load()
		if err != nil {
			logger.Error("live adapter config error", "err", err)
			os.Exit(1)
		}
		client, err := kalshi.NewClient(cfg)
		if err != nil {
			logger.Error("kalshi client init failed", "err", err)
			os.Exit(1)
		}
		a = adapter.NewLiveAdapter(client)

		if *wsTickers != "" {
			wsClient, err = kalshi.NewWSClient(cfg)
			if err != nil {
				logger.Error("kalshi ws client init failed", "err", err)
				os.Exit(1)
			}
		}
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		logger.Error("creating out-dir", "err", err)
		os.Exit(1)
	}
	journalPath := *decisionLog
	if journalPath == "" {
		journalPath = filepath.Join(*outDir, "journal.jsonl")
	}
	jrnl, err := journal.New(journalPath)
	if err != nil {
		logger.Error("journal init failed", "err", err)
		os.Exit(1)
	}
	defer jrnl.Close()
	balanceCents := int(cash.InexactFloat64() * 100)
	envName := "sim"
	if !*dryRun {
		envName = "live"
	}
	_ = jrnl.Log(journal.NewSessionStart(envName, *dryRun, balanceCents))

	var sink engine.MetricsSink
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		sink = collector
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	cfg := engine.DefaultConfig()
	cfg.MinRequoteInterval = time.Duration(*minRequote * float64(time.Second))
	cfg.DiagEvery = *diagEvery
	eng := engine.New(mm, a, cfg, logger, jrnl, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var startTime, endTime time.Time
	if *startTS != "" {
		startTime, err = parseRunnerTime(*startTS)
		if err != nil {
			logger.Error("bad --start-ts", "err", err)
			os.Exit(1)
		}
	}
	if *endTS != "" {
		endTime, err = parseRunnerTime(*endTS)
		if err != nil {
			logger.Error("bad --end-ts", "err", err)
			os.Exit(1)
		}
	}

	var ticks []ticksource.Tick
	var tickCh <-chan ticksource.Tick
	if wsClient != nil {
		tickers := strings.Split(*wsTickers, ",")
		for i := range tickers {
			tickers[i] = strings.TrimSpace(tickers[i])
		}
		go func() {
			if err := wsClient.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("kalshi ws error", "err", err)
			}
		}()
		if err := wsClient.Subscribe(tickers); err != nil {
			logger.Error("kalshi ws subscribe failed", "err", err)
			os.Exit(1)
		}
		tickCh = ticksource.FromWS(ctx, wsClient, tickers, 500*time.Millisecond)
	} else {
		ticks, tickCh, err = openTickSource(ctx, *tickLog, *logDir, *follow, *useIngest, *diagHeartbeatS, logger)
		if err != nil {
			logger.Error("tick source init failed", "err", err)
			os.Exit(1)
		}
	}

	n := 0
	run := func(t ticksource.Tick) {
		if !startTime.IsZero() && t.Time.Before(startTime) {
			return
		}
		if !endTime.IsZero() && t.Time.After(endTime) {
			cancel()
			return
		}
		n++
		eng.OnTick(t.Ticker, t.State, t.Time)
		if *diagLog && n%max(*diagEvery, 1) == 0 {
			logger.Debug("TICK_IN", "n", n, "ticker", t.Ticker, "time", t.Time)
		}
	}

	if tickCh != nil {
		for {
			select {
			case t, ok := <-tickCh:
				if !ok {
					goto done
				}
				run(t)
			case <-ctx.Done():
				goto done
			}
		}
	} else {
		for _, t := range ticks {
			select {
			case <-ctx.Done():
				goto done
			default:
			}
			run(t)
		}
	}
done:

	if err := writeArtifacts(*outDir, journalPath, a); err != nil {
		logger.Error("writing artifacts failed", "err", err)
		os.Exit(1)
	}
	logger.Info("engine stopped", "ticks", n)
}

func resolveStrategy(name string) (strategy.MarketMaker, error) {
	if _, err := os.Stat(name); err == nil {
		policy, err := config.LoadPolicy(name)
		if err != nil {
			return nil, err
		}
		inner := strategy.NewInventoryAwareMarketMaker(policy.MMConfig())
		return strategy.NewRegimeSwitcher(policy.RegimeConfig(), inner), nil
	}
	if name == "kelly" {
		posterior := strategy.NewBayesianPosterior()
		return strategy.NewKellyScalperWithPosterior(posterior), nil
	}
	return strategy.ResolveVariant(name)
}

func parseRunnerTime(s string) (time.Time, error) {
	for _, layout := range []string{tsInputLayout, "2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized --start-ts/--end-ts value %q", s)
}

func openTickSource(ctx context.Context, tickLog, logDir string, follow, useIngest bool, heartbeatS float64, logger *slog.Logger) ([]ticksource.Tick, <-chan ticksource.Tick, error) {
	if tickLog != "" {
		if follow {
			cfg := ticksource.DefaultLiveLogConfig()
			cfg.HeartbeatInterval = time.Duration(heartbeatS * float64(time.Second))
			cfg.UseIngestTimestamp = useIngest
			return nil, ticksource.Follow(ctx, tickLog, cfg, logger), nil
		}
		ticks, err := ticksource.ReadSingle(tickLog, useIngest)
		return ticks, nil, err
	}
	ticks, err := ticksource.ReadGlob(logDir)
	return ticks, nil, err
}

func writeArtifacts(outDir, journalPath string, a adapter.Adapter) error {
	if err := journal.WritePositionsJSON(filepath.Join(outDir, "unified_positions.json"), a.GetCash(), a.GetPositions()); err != nil {
		return err
	}
	events, err := journal.ReadEvents(journalPath)
	if err != nil {
		return err
	}
	if err := journal.WriteTradesCSV(filepath.Join(outDir, "unified_trades.csv"), events); err != nil {
		return err
	}
	if err := journal.WriteOrdersCSV(filepath.Join(outDir, "unified_orders.csv"), events); err != nil {
		return err
	}
	if err := journal.WriteDecisionIntentsCSV(filepath.Join(outDir, "decision_intents.csv"), events); err != nil {
		return err
	}
	return nil
}
