package event

import (
	"time"
)

// EventType discriminator for settlement-log payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTradeSettled
	EventTypeHarvested
	EventTypeBurnDeposit
	EventTypeBurnFlushed
	EventTypeFeeConfigUpdated
	EventTypeTokenInitialized
	EventTypeDeposited
)

// Envelope wraps every record in the settlement log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable reference (trade/flush UUID)
	Ref string

	// Event type discriminator
	EventType EventType

	// Token symbol context (nullable for instance-global records)
	Symbol *string

	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of affected ledger balances AFTER applying this record
	StateHash [32]byte

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all settlement payloads implement
type Event interface {
	// Ref returns the stable record reference
	Ref() string

	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeTradeSettled:
		return "TradeSettled"
	case EventTypeHarvested:
		return "Harvested"
	case EventTypeBurnDeposit:
		return "BurnDeposit"
	case EventTypeBurnFlushed:
		return "BurnFlushed"
	case EventTypeFeeConfigUpdated:
		return "FeeConfigUpdated"
	case EventTypeTokenInitialized:
		return "TokenInitialized"
	case EventTypeDeposited:
		return "Deposited"
	default:
		return "Unknown"
	}
}
