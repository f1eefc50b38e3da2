package risk

import "main/internal/schema"

// Config defines pre-trade limits. Zero values disable a check, except the
// price band whose defaults match a 1..99 cent contract.
type Config struct {
	KillSwitch   bool            `json:"killSwitch"`
	MaxOrderSize schema.Quantity `json:"maxOrderSize"`
	MaxPosition  schema.Quantity `json:"maxPosition"`
	MinPrice     schema.Price    `json:"minPrice"`
	MaxPrice     schema.Price    `json:"maxPrice"`
}

// DefaultConfig returns limits suitable for a binary-contract venue.
func DefaultConfig() Config {
	return Config{
		MaxOrderSize: 1_000,
		MaxPosition:  5_000,
		MinPrice:     1,
		MaxPrice:     99,
	}
}

// Action is the outcome of a risk evaluation.
type Action uint16

const (
	ActionUnknown Action = iota
	ActionAllow
	ActionDeny
)

// Reason is a coarse reason code for denied intents.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonInvalidIntent
	ReasonMaxSize
	ReasonPriceBand
	ReasonPositionLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill switch engaged"
	case ReasonInvalidIntent:
		return "invalid intent"
	case ReasonMaxSize:
		return "order size limit"
	case ReasonPriceBand:
		return "price outside sanity band"
	case ReasonPositionLimit:
		return "position limit"
	default:
		return "unknown"
	}
}

// StateView provides the current position for the intent's strategy and ticker.
type StateView struct {
	Position schema.Quantity
}

// Decision is the result of evaluating one intent.
type Decision struct {
	Action Action
	Reason Reason
}

// Engine evaluates order intents against static limits.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate applies the configured checks to an order intent.
func (e *Engine) Evaluate(intent schema.OrderIntent, state StateView) Decision {
	if e.cfg.KillSwitch {
		return Decision{Action: ActionDeny, Reason: ReasonKillSwitch}
	}

	if intent.ClientOrderID == "" || intent.Size <= 0 || intent.Side == schema.OrderSideUnknown {
		return Decision{Action: ActionDeny, Reason: ReasonInvalidIntent}
	}

	if e.cfg.MaxOrderSize > 0 && intent.Size > e.cfg.MaxOrderSize {
		return Decision{Action: ActionDeny, Reason: ReasonMaxSize}
	}

	if (e.cfg.MinPrice > 0 && intent.Price < e.cfg.MinPrice) ||
		(e.cfg.MaxPrice > 0 && intent.Price > e.cfg.MaxPrice) {
		return Decision{Action: ActionDeny, Reason: ReasonPriceBand}
	}

	next := applySide(state.Position, intent.Side, intent.Size)
	if e.cfg.MaxPosition > 0 && abs(next) > e.cfg.MaxPosition {
		return Decision{Action: ActionDeny, Reason: ReasonPositionLimit}
	}

	return Decision{Action: ActionAllow, Reason: ReasonNone}
}

func applySide(pos schema.Quantity, side schema.OrderSide, size schema.Quantity) schema.Quantity {
	switch side {
	case schema.OrderSideBuy:
		return pos + size
	case schema.OrderSideSell:
		return pos - size
	default:
		return pos
	}
}

func abs(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}
