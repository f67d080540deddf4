package event

import (
	"time"

	"github.com/google/uuid"
)

// BurnDeposit reports a deposit attempt against the burn accumulator.
// Failure here never fails the depositing trade; the flag is how callers
// learn where the share went.
type BurnDeposit struct {
	DepositID uuid.UUID
	TradeRef  string
	Amount    int64
	Accepted  bool
	Timestamp time.Time
}

func (d *BurnDeposit) Ref() string          { return d.DepositID.String() }
func (d *BurnDeposit) EventType() EventType { return EventTypeBurnDeposit }

// BurnFlushed reports a successful accumulator flush: the entire pending
// balance was swapped into the target asset and sent to the burn sink.
type BurnFlushed struct {
	FlushID     uuid.UUID
	FundingIn   int64 // pending balance drained
	Burned      int64 // target asset delivered to the sink
	TargetAsset string
	MinOut      int64 // slippage floor derived from the oracle quote, 0 if none
	Timestamp   time.Time
}

func (f *BurnFlushed) Ref() string          { return f.FlushID.String() }
func (f *BurnFlushed) EventType() EventType { return EventTypeBurnFlushed }
