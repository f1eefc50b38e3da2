package codec

import (
	"github.com/bytedance/sonic"

	"main/internal/schema"
)

// EncodeMarketEvent serializes a market event for broker transport.
func EncodeMarketEvent(e schema.MarketEvent) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(e)
}

// DecodeMarketEvent deserializes a broker market event payload.
func DecodeMarketEvent(payload []byte) (schema.MarketEvent, error) {
	var e schema.MarketEvent
	err := sonic.ConfigFastest.Unmarshal(payload, &e)
	return e, err
}
