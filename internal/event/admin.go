package event

import (
	"time"

	"github.com/google/uuid"
)

// TokenInitialized records the one-shot creation of the trading instance
// and its seed allocations.
type TokenInitialized struct {
	InitID            uuid.UUID
	Symbol            string
	Creator           uuid.UUID
	PoolID            uuid.UUID
	TotalSupply       int64
	CreatorAllocation int64
	LiquiditySeed     int64
	Timestamp         time.Time
}

func (t *TokenInitialized) Ref() string          { return t.InitID.String() }
func (t *TokenInitialized) EventType() EventType { return EventTypeTokenInitialized }

// Deposited records funds credited to a user wallet from outside the
// instance.
type Deposited struct {
	DepositID uuid.UUID
	User      uuid.UUID
	Asset     string
	Amount    int64
	Timestamp time.Time
}

func (d *Deposited) Ref() string          { return d.DepositID.String() }
func (d *Deposited) EventType() EventType { return EventTypeDeposited }

// FeeConfigUpdated records an accepted configuration write.
type FeeConfigUpdated struct {
	UpdateID  uuid.UUID
	Timestamp time.Time

	TotalFeeBps        int64
	CreatorShareBps    int64
	BurnShareBps       int64
	ProtocolShareBps   int64
	ReferrerShareBps   int64
	MinOrderSize       int64
	SlippageCeilingBps int64
	AutoFlushThreshold int64
}

func (f *FeeConfigUpdated) Ref() string          { return f.UpdateID.String() }
func (f *FeeConfigUpdated) EventType() EventType { return EventTypeFeeConfigUpdated }
