package codec

import (
	"github.com/bytedance/sonic"

	"main/internal/schema"
)

// EncodePosition serializes a position update for broker transport.
func EncodePosition(p schema.Position) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(p)
}

// DecodePosition deserializes a broker position update payload.
func DecodePosition(payload []byte) (schema.Position, error) {
	var p schema.Position
	err := sonic.ConfigFastest.Unmarshal(payload, &p)
	return p, err
}
