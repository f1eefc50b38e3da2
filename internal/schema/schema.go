package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// Ticker identifies a tradable market.
type Ticker string

func (t Ticker) String() string {
	return string(t)
}

// Price is an integer price in cents.
type Price int64

// Quantity is an integer contract count. Signed when it describes a position.
type Quantity int64

// EventKind describes the category of a market event.
type EventKind uint16

const (
	EventKindUnknown EventKind = iota
	EventKindBookDelta
	EventKindTrade
	EventKindQuote
	EventKindHeartbeat
)

func (k EventKind) String() string {
	switch k {
	case EventKindBookDelta:
		return "book_delta"
	case EventKindTrade:
		return "trade"
	case EventKindQuote:
		return "quote"
	case EventKindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// MarketEvent is a normalized exchange event. Seq is strictly increasing per
// ticker once gaps are resolved; the pair (Ticker, Seq) identifies the event
// for dedup purposes.
type MarketEvent struct {
	Ticker  Ticker    `json:"ticker"`
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Payload []byte    `json:"payload,omitempty"`
	TsRecv  int64     `json:"tsRecv"`
}
