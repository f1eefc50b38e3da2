package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"main/internal/schema"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for the order/fill store.
type PostgresOption struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type orderRecord struct {
	ClientOrderID   string `gorm:"primaryKey;column:client_order_id"`
	ExchangeOrderID string `gorm:"column:exchange_order_id"`
	StrategyID      string `gorm:"column:strategy_id;index"`
	Ticker          string `gorm:"column:ticker;index"`
	Side            uint16 `gorm:"column:side"`
	Price           int64  `gorm:"column:price"`
	Size            int64  `gorm:"column:size"`
	FilledSize      int64  `gorm:"column:filled_size"`
	TimeInForce     uint16 `gorm:"column:time_in_force"`
	Status          uint16 `gorm:"column:status"`
	Reason          string `gorm:"column:reason"`
	External        bool   `gorm:"column:external"`
	CreatedAt       int64  `gorm:"column:created_at"`
	UpdatedAt       int64  `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

type fillRecord struct {
	FillID        string `gorm:"primaryKey;column:fill_id"`
	ClientOrderID string `gorm:"column:client_order_id;index"`
	StrategyID    string `gorm:"column:strategy_id;index"`
	Ticker        string `gorm:"column:ticker;index"`
	Side          uint16 `gorm:"column:side"`
	Price         int64  `gorm:"column:price"`
	Size          int64  `gorm:"column:size"`
	TsExchange    int64  `gorm:"column:ts_exchange"`
	Seq           int64  `gorm:"column:seq;autoIncrement;uniqueIndex"`
}

func (fillRecord) TableName() string { return "fills" }

// Postgres persists orders and fills through gorm.
type Postgres struct {
	db *gorm.DB
}

var _ Store = (*Postgres)(nil)

// gormConfig must keep TranslateError on: SaveFill relies on driver
// errors being mapped onto gorm.ErrDuplicatedKey.
func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

// NewPostgres opens the connection pool and migrates the schema.
func NewPostgres(opt PostgresOption) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), gormConfig())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderRecord{}, &fillRecord{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) SaveOrder(ctx context.Context, order schema.Order) error {
	record := orderRecord{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		StrategyID:      order.StrategyID,
		Ticker:          order.Ticker.String(),
		Side:            uint16(order.Side),
		Price:           int64(order.Price),
		Size:            int64(order.Size),
		FilledSize:      int64(order.FilledSize),
		TimeInForce:     uint16(order.TimeInForce),
		Status:          uint16(order.Status),
		Reason:          order.Reason,
		External:        order.External,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

func (s *Postgres) SaveFill(ctx context.Context, strategyID string, fill schema.Fill) error {
	record := fillRecord{
		FillID:        fill.FillID,
		ClientOrderID: fill.ClientOrderID,
		StrategyID:    strategyID,
		Ticker:        fill.Ticker.String(),
		Side:          uint16(fill.Side),
		Price:         int64(fill.Price),
		Size:          int64(fill.Size),
		TsExchange:    fill.TsExchange,
	}
	err := s.db.WithContext(ctx).Create(&record).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		// Re-delivered fill; the ledger is append-only and keyed by fill id.
		return nil
	}
	return err
}

func (s *Postgres) LoadOrders(ctx context.Context) ([]schema.Order, error) {
	var records []orderRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]schema.Order, 0, len(records))
	for _, r := range records {
		out = append(out, schema.Order{
			ClientOrderID:   r.ClientOrderID,
			ExchangeOrderID: r.ExchangeOrderID,
			StrategyID:      r.StrategyID,
			Ticker:          schema.Ticker(r.Ticker),
			Side:            schema.OrderSide(r.Side),
			Price:           schema.Price(r.Price),
			Size:            schema.Quantity(r.Size),
			FilledSize:      schema.Quantity(r.FilledSize),
			TimeInForce:     schema.TimeInForce(r.TimeInForce),
			Status:          schema.OrderStatus(r.Status),
			Reason:          r.Reason,
			External:        r.External,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Postgres) LoadFills(ctx context.Context) ([]StoredFill, error) {
	var records []fillRecord
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]StoredFill, 0, len(records))
	for _, r := range records {
		out = append(out, StoredFill{
			StrategyID: r.StrategyID,
			Fill: schema.Fill{
				FillID:        r.FillID,
				ClientOrderID: r.ClientOrderID,
				Ticker:        schema.Ticker(r.Ticker),
				Side:          schema.OrderSide(r.Side),
				Price:         schema.Price(r.Price),
				Size:          schema.Quantity(r.Size),
				TsExchange:    r.TsExchange,
			},
		})
	}
	return out, nil
}

func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt PostgresOption) dsn() string {
	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u.String()
}
