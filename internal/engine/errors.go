package engine

import (
	"errors"
	"fmt"
)

// Validation failures. Reported synchronously, before any side effect.
var (
	ErrAmountZero          = errors.New("trade amount is zero")
	ErrBelowMinimum        = errors.New("trade below minimum order size")
	ErrZeroRecipient       = errors.New("zero recipient")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Slippage and fill failures. The whole operation aborts with no partial
// fee distribution and no partial transfer. ErrPartialFill and ErrMinOutput
// both match errors.Is(err, ErrSlippage) while staying distinguishable:
// callers told "below your minimum" can retry with a looser bound, a
// partial fill means the price limit cut the swap short.
var (
	ErrSlippage    = errors.New("slippage bound violated")
	ErrPartialFill = fmt.Errorf("%w: partial fill", ErrSlippage)
	ErrMinOutput   = fmt.Errorf("%w: output below caller minimum", ErrSlippage)
)
