package risk

import (
	"testing"

	"main/internal/schema"
)

func validIntent() schema.OrderIntent {
	return schema.OrderIntent{
		ClientOrderID: "c1",
		StrategyID:    "s1",
		Ticker:        "KXHIGHNY-TEST",
		Side:          schema.OrderSideBuy,
		Price:         50,
		Size:          10,
		TimeInForce:   schema.TimeInForceGTC,
	}
}

func TestEvaluateAllows(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	decision := engine.Evaluate(validIntent(), StateView{})
	if decision.Action != ActionAllow {
		t.Fatalf("expected allow, got %v reason=%v", decision.Action, decision.Reason)
	}
}

func TestEvaluateDenies(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		mutate func(*schema.OrderIntent)
		state  StateView
		reason Reason
	}{
		{
			name:   "kill switch",
			cfg:    Config{KillSwitch: true},
			mutate: func(*schema.OrderIntent) {},
			reason: ReasonKillSwitch,
		},
		{
			name:   "zero size",
			cfg:    DefaultConfig(),
			mutate: func(i *schema.OrderIntent) { i.Size = 0 },
			reason: ReasonInvalidIntent,
		},
		{
			name:   "missing client order id",
			cfg:    DefaultConfig(),
			mutate: func(i *schema.OrderIntent) { i.ClientOrderID = "" },
			reason: ReasonInvalidIntent,
		},
		{
			name:   "order size limit",
			cfg:    Config{MaxOrderSize: 5},
			mutate: func(*schema.OrderIntent) {},
			reason: ReasonMaxSize,
		},
		{
			name:   "price below band",
			cfg:    DefaultConfig(),
			mutate: func(i *schema.OrderIntent) { i.Price = 0 },
			reason: ReasonPriceBand,
		},
		{
			name:   "price above band",
			cfg:    DefaultConfig(),
			mutate: func(i *schema.OrderIntent) { i.Price = 120 },
			reason: ReasonPriceBand,
		},
		{
			name:   "position limit on projected position",
			cfg:    Config{MaxPosition: 12},
			mutate: func(*schema.OrderIntent) {},
			state:  StateView{Position: 5},
			reason: ReasonPositionLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := validIntent()
			tt.mutate(&intent)
			decision := NewEngine(tt.cfg).Evaluate(intent, tt.state)
			if decision.Action != ActionDeny {
				t.Fatalf("expected deny, got %v", decision.Action)
			}
			if decision.Reason != tt.reason {
				t.Fatalf("reason mismatch: got %v want %v", decision.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluateShortPositionLimit(t *testing.T) {
	engine := NewEngine(Config{MaxPosition: 8})
	intent := validIntent()
	intent.Side = schema.OrderSideSell

	decision := engine.Evaluate(intent, StateView{Position: -3})
	if decision.Action != ActionDeny || decision.Reason != ReasonPositionLimit {
		t.Fatalf("short side should hit position limit: %+v", decision)
	}

	decision = engine.Evaluate(intent, StateView{Position: 5})
	if decision.Action != ActionAllow {
		t.Fatalf("reducing trade should pass: %+v", decision)
	}
}
