package event

import (
	"time"

	"github.com/google/uuid"
)

// TradeSettled is the settlement outcome of one buy or sell.
// All amounts are base units; prices are price-scaled (×1e6).
type TradeSettled struct {
	TradeID   uuid.UUID
	Symbol    string
	Sell      bool
	Trader    uuid.UUID
	Recipient uuid.UUID
	Referrer  *uuid.UUID

	GrossInput int64 // what the trader put in (funding on buy, tokens on sell)
	Fee        int64
	NetInput   int64 // what crossed the venue
	Output     int64 // what the recipient received

	CreatorFee  int64
	BurnFee     int64 // credited, never executed, inside the trade
	ProtocolFee int64
	ReferrerFee int64

	BurnDeposited bool // false means the burn share was redirected to protocol

	PrePrice       int64
	PostPrice      int64
	EffectivePrice int64

	Timestamp time.Time
}

func (t *TradeSettled) Ref() string          { return t.TradeID.String() }
func (t *TradeSettled) EventType() EventType { return EventTypeTradeSettled }

// Harvested reports a collection of organically accrued position revenue.
type Harvested struct {
	HarvestID   uuid.UUID
	Symbol      string
	Accrued     int64
	CreatorFee  int64
	ProtocolFee int64
	Timestamp   time.Time
}

func (h *Harvested) Ref() string          { return h.HarvestID.String() }
func (h *Harvested) EventType() EventType { return EventTypeHarvested }
