package fees

import (
	fpmath "CurveDesk/internal/math"
)

// Shares is the outcome of one waterfall split. The four shares always sum
// to the gross fee exactly; the protocol share is computed as the remainder
// and therefore captures all rounding dust.
type Shares struct {
	Creator  int64
	Burn     int64
	Protocol int64
	Referrer int64
}

// Total returns the sum of all four shares. Equals the gross fee by
// construction.
func (s Shares) Total() int64 {
	return s.Creator + s.Burn + s.Protocol + s.Referrer
}

// Split runs the fee waterfall:
//
//	creator  = floor(gross × creatorShare)
//	rem      = gross − creator
//	burn     = floor(rem × burnShare)
//	referrer = floor(rem × referrerShare)   (0 when no referrer is supplied,
//	                                         folded into protocol)
//	protocol = rem − burn − referrer
//
// The subtraction form of the protocol share is load-bearing: it is what
// makes the four outputs sum to gross with no dust left over.
func Split(grossFee int64, cfg FeeConfig, referrerPresent bool) Shares {
	if grossFee <= 0 {
		return Shares{}
	}

	creator := fpmath.ApplyBPS(grossFee, cfg.CreatorShareBps)
	rem := grossFee - creator

	burn := fpmath.ApplyBPS(rem, cfg.BurnShareBps)

	var referrer int64
	if referrerPresent {
		referrer = fpmath.ApplyBPS(rem, cfg.ReferrerShareBps)
	}

	return Shares{
		Creator:  creator,
		Burn:     burn,
		Referrer: referrer,
		Protocol: rem - burn - referrer,
	}
}

// HarvestConfig is the fixed split applied to organically accrued position
// revenue: 50/50 creator/protocol, no burn, no referrer.
var HarvestConfig = FeeConfig{
	CreatorShareBps:  5_000,
	BurnShareBps:     0,
	ReferrerShareBps: 0,
	ProtocolShareBps: fpmath.BPSDenominator,
}

// SplitHarvest splits accrued revenue 50/50 between creator and protocol
// through the same waterfall arithmetic as trading fees.
func SplitHarvest(accrued int64) Shares {
	return Split(accrued, HarvestConfig, false)
}
