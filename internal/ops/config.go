package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/exchange/kalshi"
	"main/internal/marketdata"
	"main/internal/monitor"
	"main/internal/oms"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
)

// FileConfig mirrors the JSON config layout. Durations are milliseconds.
type FileConfig struct {
	Tickers     []string       `json:"tickers"`
	Environment string         `json:"environment"`
	Risk        risk.Config    `json:"risk"`
	Broker      BrokerConfig   `json:"broker"`
	Orders      OrdersConfig   `json:"orders"`
	MarketData  MarketDataCfg  `json:"marketData"`
	Monitor     MonitorConfig  `json:"monitor"`
	Strategy    StrategyConfig `json:"strategy"`
	Store       StoreConfig    `json:"store"`
	Pyroscope   PyroscopeCfg   `json:"pyroscope"`
}

// BrokerConfig selects the message broker. Mode is "kafka" or "memory".
type BrokerConfig struct {
	Mode    string   `json:"mode"`
	Brokers []string `json:"brokers"`
	GroupID string   `json:"groupId"`
}

// OrdersConfig tunes the order manager.
type OrdersConfig struct {
	SubmitPerSec  float64 `json:"submitPerSec"`
	SubmitBurst   int     `json:"submitBurst"`
	SubmitRetries int     `json:"submitRetries"`
}

// MarketDataCfg tunes the market data publisher.
type MarketDataCfg struct {
	QueueSize      int `json:"queueSize"`
	QueueWaitMs    int `json:"queueWaitMs"`
	HeartbeatMs    int `json:"heartbeatMs"`
	GapTimeoutMs   int `json:"gapTimeoutMs"`
	MaxPending     int `json:"maxPending"`
	PublishRetries int `json:"publishRetries"`
}

// MonitorConfig tunes handler supervision.
type MonitorConfig struct {
	TripAfter int `json:"tripAfter"`
}

// StrategyConfig tunes the per-strategy runners.
type StrategyConfig struct {
	MailboxSize int `json:"mailboxSize"`
	DeadlineMs  int `json:"deadlineMs"`
}

// StoreConfig enables Postgres persistence.
type StoreConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// PyroscopeCfg enables continuous profiling.
type PyroscopeCfg struct {
	Enabled bool   `json:"enabled"`
	Server  string `json:"server"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Tickers    []schema.Ticker
	Sim        bool
	Exchange   kalshi.Config
	Risk       risk.Config
	Broker     BrokerConfig
	OMS        oms.Config
	MarketData marketdata.Config
	Monitor    monitor.Config
	Strategy   StrategyConfig
	Store      *store.PostgresOption
	Pyroscope  PyroscopeCfg
}

// Load reads a JSON config file and resolves it. Exchange credentials come
// from KALSHI_EMAIL and KALSHI_PASSWORD in the process environment, never
// from the file.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	sim := cfg.Environment == "sim"
	var env kalshi.Environment
	if !sim {
		var err error
		env, err = ParseEnvironment(cfg.Environment)
		if err != nil {
			return Loaded{}, err
		}
	}

	tickers := make([]schema.Ticker, 0, len(cfg.Tickers))
	for _, t := range cfg.Tickers {
		tickers = append(tickers, schema.Ticker(t))
	}

	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = "memory"
	}
	switch cfg.Broker.Mode {
	case "memory":
	case "kafka":
		if len(cfg.Broker.Brokers) == 0 {
			return Loaded{}, fmt.Errorf("broker mode kafka requires at least one broker address")
		}
	default:
		return Loaded{}, fmt.Errorf("unknown broker mode: %s", cfg.Broker.Mode)
	}
	if cfg.Broker.GroupID == "" {
		cfg.Broker.GroupID = "trader"
	}

	omsCfg := oms.DefaultConfig()
	omsCfg.Risk = withRiskDefaults(cfg.Risk)
	if cfg.Orders.SubmitPerSec > 0 {
		omsCfg.SubmitPerSec = cfg.Orders.SubmitPerSec
	}
	if cfg.Orders.SubmitBurst > 0 {
		omsCfg.SubmitBurst = cfg.Orders.SubmitBurst
	}
	if cfg.Orders.SubmitRetries > 0 {
		omsCfg.SubmitRetries = cfg.Orders.SubmitRetries
	}

	mdCfg := marketdata.DefaultConfig(tickers)
	if cfg.MarketData.QueueSize > 0 {
		mdCfg.QueueSize = cfg.MarketData.QueueSize
	}
	if cfg.MarketData.QueueWaitMs > 0 {
		mdCfg.QueueWait = time.Duration(cfg.MarketData.QueueWaitMs) * time.Millisecond
	}
	if cfg.MarketData.HeartbeatMs > 0 {
		mdCfg.HeartbeatEvery = time.Duration(cfg.MarketData.HeartbeatMs) * time.Millisecond
	}
	if cfg.MarketData.GapTimeoutMs > 0 {
		mdCfg.GapTimeout = time.Duration(cfg.MarketData.GapTimeoutMs) * time.Millisecond
	}
	if cfg.MarketData.MaxPending > 0 {
		mdCfg.MaxPending = cfg.MarketData.MaxPending
	}
	if cfg.MarketData.PublishRetries > 0 {
		mdCfg.PublishRetries = cfg.MarketData.PublishRetries
	}

	monCfg := monitor.DefaultConfig()
	if cfg.Monitor.TripAfter > 0 {
		monCfg.TripAfter = cfg.Monitor.TripAfter
	}

	if cfg.Strategy.MailboxSize <= 0 {
		cfg.Strategy.MailboxSize = 1024
	}
	if cfg.Strategy.DeadlineMs <= 0 {
		cfg.Strategy.DeadlineMs = 1000
	}

	var pg *store.PostgresOption
	if cfg.Store.Enabled {
		pg = &store.PostgresOption{
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			Database: cfg.Store.Database,
			SSLMode:  cfg.Store.SSLMode,
		}
	}

	return Loaded{
		Tickers: tickers,
		Sim:     sim,
		Exchange: kalshi.Config{
			Environment: env,
			Email:       os.Getenv("KALSHI_EMAIL"),
			Password:    os.Getenv("KALSHI_PASSWORD"),
		},
		Risk:       omsCfg.Risk,
		Broker:     cfg.Broker,
		OMS:        omsCfg,
		MarketData: mdCfg,
		Monitor:    monCfg,
		Strategy:   cfg.Strategy,
		Store:      pg,
		Pyroscope:  cfg.Pyroscope,
	}, nil
}

// ParseEnvironment maps a config or flag value onto an exchange environment.
// The empty string defaults to demo; trading prod is always an explicit
// choice.
func ParseEnvironment(raw string) (kalshi.Environment, error) {
	switch raw {
	case "", "demo":
		return kalshi.EnvDemo, nil
	case "prod":
		return kalshi.EnvProd, nil
	default:
		return kalshi.EnvUnknown, fmt.Errorf("unknown environment: %s", raw)
	}
}

func withRiskDefaults(cfg risk.Config) risk.Config {
	def := risk.DefaultConfig()
	if cfg.MaxOrderSize == 0 {
		cfg.MaxOrderSize = def.MaxOrderSize
	}
	if cfg.MaxPosition == 0 {
		cfg.MaxPosition = def.MaxPosition
	}
	if cfg.MinPrice == 0 {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MaxPrice == 0 {
		cfg.MaxPrice = def.MaxPrice
	}
	return cfg
}
