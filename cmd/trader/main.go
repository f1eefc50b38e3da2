package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/exchange/kalshi"
	"main/internal/exchange/sim"
	"main/internal/marketdata"
	"main/internal/monitor"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/store"
	"main/internal/strategy"
	"main/pkg/broker"
	"main/pkg/broker/kafka"
	"main/pkg/broker/memory"
)

type components map[string]bool

func parseComponents(raw string) (components, error) {
	out := make(components)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
		case "market_data", "oms", "strategy", "monitor":
			out[name] = true
		default:
			return nil, errors.New("unknown component " + name)
		}
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	componentsFlag := flag.String("components", "market_data,oms,strategy", "Comma separated components to run")
	tickersFlag := flag.String("tickers", "", "Comma separated ticker override")
	envFlag := flag.String("env", "", "Exchange environment override (prod|demo)")
	snapshotPath := flag.String("snapshot-path", "testdata/positions.json", "Position snapshot written on shutdown")
	drain := flag.Duration("drain", 5*time.Second, "Shutdown drain window")
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := parseComponents(*componentsFlag)
	if err != nil {
		logs.Errorf("bad -components value %q", *componentsFlag)
		os.Exit(1)
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %+v", err)
		os.Exit(1)
	}
	if *tickersFlag != "" {
		loaded.Tickers = loaded.Tickers[:0]
		for _, t := range strings.Split(*tickersFlag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				loaded.Tickers = append(loaded.Tickers, schema.Ticker(t))
			}
		}
		loaded.MarketData.Tickers = loaded.Tickers
	}
	switch *envFlag {
	case "":
	case "sim":
		loaded.Sim = true
	default:
		env, err := ops.ParseEnvironment(*envFlag)
		if err != nil {
			logs.Errorf("bad -env value %q", *envFlag)
			os.Exit(1)
		}
		loaded.Sim = false
		loaded.Exchange.Environment = env
	}
	if len(loaded.Tickers) == 0 {
		logs.Errorf("no tickers configured")
		os.Exit(1)
	}
	if run["strategy"] && !run["oms"] {
		logs.Errorf("strategy component requires oms in the same process")
		os.Exit(1)
	}

	if loaded.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   loaded.Pyroscope.Server,
		})
		if err != nil {
			logs.Warnf("pyroscope start failed: %+v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	if err := runTrader(ctx, run, loaded, *snapshotPath, *drain); err != nil {
		logs.Errorf("trader exited: %+v", err)
		os.Exit(1)
	}
}

func runTrader(ctx context.Context, run components, loaded ops.Loaded, snapshotPath string, drain time.Duration) error {
	metrics := obs.NewMetrics()

	var client exchange.Client
	if loaded.Sim {
		client = sim.New(sim.DefaultConfig(loaded.Tickers))
	} else {
		client = kalshi.New(loaded.Exchange)
	}
	defer client.Close()

	producer, newConsumer, closeBroker, err := buildBroker(loaded.Broker)
	if err != nil {
		return err
	}
	defer closeBroker()

	var st store.Store
	if loaded.Store != nil {
		pg, err := store.NewPostgres(*loaded.Store)
		if err != nil {
			return err
		}
		st = pg
		defer pg.Close()
	}

	var wg sync.WaitGroup

	var manager *oms.OMS
	if run["oms"] {
		manager = oms.New(client, producer, st, metrics, loaded.OMS)
		if err := manager.Start(ctx); err != nil {
			// Mismatched tickers are halted; the rest keep trading.
			logs.Errorf("reconciliation: %+v", err)
		}
		defer func() {
			writeSnapshot(manager, snapshotPath)
			manager.Stop()
		}()
	}

	if run["market_data"] {
		publisher := marketdata.New(client, producer, metrics, loaded.MarketData)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("market data publisher stopped: %+v", err)
			}
		}()
	}

	if run["strategy"] {
		runner := strategy.NewRunner(
			strategy.NewThreshold("threshold-demo"),
			manager,
			loaded.Strategy.MailboxSize,
			time.Duration(loaded.Strategy.DeadlineMs)*time.Millisecond,
		)
		if err := runner.Start(ctx); err != nil {
			return err
		}
		defer runner.Stop()

		consumer, err := newConsumer(loaded.Broker.GroupID + ".strategy")
		if err != nil {
			return err
		}
		mon := monitor.New(consumer, metrics, loaded.Monitor)
		mon.Register("threshold-demo.market", runner.MarketHandler())
		mon.Register("threshold-demo.orders", runner.OrderHandler())
		mon.Register("threshold-demo.positions", runner.PositionHandler())

		topics := makeTopics(loaded.Tickers)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx, topics); err != nil && ctx.Err() == nil {
				logs.Errorf("strategy monitor stopped: %+v", err)
			}
		}()
	}

	if run["monitor"] {
		consumer, err := newConsumer(loaded.Broker.GroupID + ".audit")
		if err != nil {
			return err
		}
		mon := monitor.New(consumer, metrics, loaded.Monitor)
		mon.Register("audit", auditHandler())

		topics := makeTopics(loaded.Tickers)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx, topics); err != nil && ctx.Err() == nil {
				logs.Errorf("audit monitor stopped: %+v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportMetrics(ctx, metrics)
	}()

	<-ctx.Done()
	logs.Infof("shutting down, draining for up to %s", drain)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		logs.Warnf("drain window elapsed with components still running")
	}
	return nil
}

func buildBroker(cfg ops.BrokerConfig) (broker.Producer, func(groupID string) (broker.Consumer, error), func(), error) {
	switch cfg.Mode {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Brokers)
		if err != nil {
			return nil, nil, nil, err
		}
		newConsumer := func(groupID string) (broker.Consumer, error) {
			return kafka.NewConsumer(cfg.Brokers, groupID)
		}
		return producer, newConsumer, func() { _ = producer.Close() }, nil

	default:
		b := memory.NewBroker()
		newConsumer := func(groupID string) (broker.Consumer, error) {
			return b.Consumer(groupID), nil
		}
		return b.Producer(), newConsumer, b.Close, nil
	}
}

func makeTopics(tickers []schema.Ticker) []string {
	topics := make([]string, 0, len(tickers)+2)
	for _, t := range tickers {
		topics = append(topics, broker.MarketTopic(t.String()))
	}
	return append(topics, broker.TopicOrderUpdates, broker.TopicPositionUpdates)
}

// auditHandler gives operators a heartbeat-free view of broker traffic.
func auditHandler() monitor.HandlerFunc {
	return func(ctx context.Context, msg broker.Message) error {
		logs.Infof("audit: %s@%d key=%s bytes=%d", msg.Topic, msg.Offset, msg.Key, len(msg.Payload))
		return nil
	}
}

func reportMetrics(ctx context.Context, metrics *obs.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()
			logs.Infof("metrics: published=%d dups=%d resyncs=%d queueDrops=%d publishDrops=%d fills=%d handlerFailures=%d",
				snap.EventsPublished, snap.DupsDropped, snap.GapResyncs,
				snap.QueueDrops, snap.PublishDrops, snap.FillsApplied, snap.HandlerFailures)
		}
	}
}

func writeSnapshot(manager *oms.OMS, path string) {
	if path == "" {
		return
	}
	positions, err := manager.Positions()
	if err != nil {
		return
	}
	if err := state.Write(path, state.Build(positions)); err != nil {
		logs.Errorf("write position snapshot: %+v", err)
		return
	}
	logs.Infof("position snapshot written to %s", path)
}
