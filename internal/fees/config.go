package fees

import (
	"fmt"
	"sync"

	fpmath "CurveDesk/internal/math"
)

// FeeConfig is the live-read trading fee configuration. It is owned by the
// external configuration collaborator; the trade engine reads it through
// Provider on every operation and never caches it.
type FeeConfig struct {
	TotalFeeBps      int64 // gross fee taken from the traded amount
	CreatorShareBps  int64 // creator's cut of the gross fee
	BurnShareBps     int64 // three-way split of the remainder:
	ProtocolShareBps int64 //   burn + protocol + referrer == 10_000
	ReferrerShareBps int64

	MinOrderSize       int64 // funding base units; buys below this are rejected
	SlippageCeilingBps int64 // max tolerated slippage on a burn flush
	AutoFlushThreshold int64 // 0 disables implicit flush attempts
}

// Validate enforces the write-time invariants. Every config the engine ever
// observes has passed this; reads do not re-check.
func (c FeeConfig) Validate() error {
	for _, v := range []struct {
		name string
		bps  int64
	}{
		{"total_fee_bps", c.TotalFeeBps},
		{"creator_share_bps", c.CreatorShareBps},
		{"burn_share_bps", c.BurnShareBps},
		{"protocol_share_bps", c.ProtocolShareBps},
		{"referrer_share_bps", c.ReferrerShareBps},
		{"slippage_ceiling_bps", c.SlippageCeilingBps},
	} {
		if v.bps < 0 || v.bps > fpmath.BPSDenominator {
			return fmt.Errorf("%s out of range: %d", v.name, v.bps)
		}
	}

	// A 100% fee leaves no net amount to trade and no payout to deliver.
	if c.TotalFeeBps >= fpmath.BPSDenominator {
		return fmt.Errorf("total_fee_bps must leave a net amount: %d", c.TotalFeeBps)
	}

	if sum := c.BurnShareBps + c.ProtocolShareBps + c.ReferrerShareBps; sum != fpmath.BPSDenominator {
		return fmt.Errorf("remainder split must sum to %d bps, got %d", fpmath.BPSDenominator, sum)
	}

	if c.MinOrderSize < 0 {
		return fmt.Errorf("min_order_size negative: %d", c.MinOrderSize)
	}
	if c.AutoFlushThreshold < 0 {
		return fmt.Errorf("auto_flush_threshold negative: %d", c.AutoFlushThreshold)
	}

	return nil
}

// Provider is the read contract the engine holds on the configuration
// collaborator. Implementations must return the currently effective config:
// an update takes effect for the very next operation.
type Provider interface {
	Current() FeeConfig
}

// Manager is the in-process FeeConfig owner. Updates are validated at write
// time; reads are lock-protected copies, never cached by callers.
type Manager struct {
	mu  sync.RWMutex
	cfg FeeConfig
}

func NewManager(initial FeeConfig) (*Manager, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial fee config rejected: %w", err)
	}
	return &Manager{cfg: initial}, nil
}

// Update replaces the config. Invalid configs are rejected and the previous
// config stays effective.
func (m *Manager) Update(cfg FeeConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("fee config rejected: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Current returns the effective config.
func (m *Manager) Current() FeeConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}
