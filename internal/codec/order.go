package codec

import (
	"github.com/bytedance/sonic"

	"main/internal/schema"
)

// EncodeOrder serializes an order update for broker transport.
func EncodeOrder(o schema.Order) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(o)
}

// DecodeOrder deserializes a broker order update payload.
func DecodeOrder(payload []byte) (schema.Order, error) {
	var o schema.Order
	err := sonic.ConfigFastest.Unmarshal(payload, &o)
	return o, err
}
