package fees

import (
	"errors"
	"fmt"

	"CurveDesk/internal/ledger"

	"github.com/rs/zerolog"
)

// ErrProtocolUnreachable is the one fee-path failure that aborts a trade:
// the protocol recipient is the final fallback, there is nothing after it.
var ErrProtocolUnreachable = errors.New("protocol fee recipient unreachable")

// Recipients names the payout accounts for one distribution.
type Recipients struct {
	Creator  ledger.AccountKey
	Referrer *ledger.AccountKey // nil when no referrer was supplied
	Protocol ledger.AccountKey
}

// BurnDepositor accepts the burn share. The accumulator implements this;
// a rejected deposit redirects the share to protocol, it never fails the
// caller's trade.
type BurnDepositor interface {
	DepositJournal(batch *ledger.Batch, from ledger.AccountKey, amount int64) error
}

// Result reports where each share actually went.
type Result struct {
	CreatorPaid   int64
	ReferrerPaid  int64
	BurnDeposited int64
	ProtocolPaid  int64
	Redirected    int64 // total rerouted into protocol from failed recipients
}

// Distributor routes waterfall shares into a settlement batch with
// fallback-on-failure semantics: each share is attempted in order, failures
// accumulate additively into the protocol share, and the protocol transfer
// runs last. Only a protocol failure propagates.
type Distributor struct {
	tracker *ledger.BalanceTracker
	log     zerolog.Logger
}

func NewDistributor(tracker *ledger.BalanceTracker, log zerolog.Logger) *Distributor {
	return &Distributor{tracker: tracker, log: log}
}

// Distribute appends fee legs to batch. The payer account funds every leg.
// No ledger state is mutated here: the batch is applied (or discarded) by
// the caller, so a later abort rolls the whole distribution back.
func (d *Distributor) Distribute(
	batch *ledger.Batch,
	payer ledger.AccountKey,
	shares Shares,
	rcp Recipients,
	burner BurnDepositor,
) (Result, error) {
	var res Result
	protocolDue := shares.Protocol

	if shares.Creator > 0 {
		if d.tracker.IsReachable(rcp.Creator) {
			batch.Add(ledger.JournalTypeFeeCreator, rcp.Creator, payer, payer.AssetID, shares.Creator)
			res.CreatorPaid = shares.Creator
		} else {
			d.log.Warn().Str("account", rcp.Creator.AccountPath()).
				Int64("amount", shares.Creator).Msg("creator unreachable, share redirected to protocol")
			protocolDue += shares.Creator
			res.Redirected += shares.Creator
		}
	}

	if shares.Referrer > 0 {
		if rcp.Referrer != nil && d.tracker.IsReachable(*rcp.Referrer) {
			batch.Add(ledger.JournalTypeFeeReferrer, *rcp.Referrer, payer, payer.AssetID, shares.Referrer)
			res.ReferrerPaid = shares.Referrer
		} else {
			protocolDue += shares.Referrer
			res.Redirected += shares.Referrer
		}
	}

	if shares.Burn > 0 {
		var depositErr error
		if burner != nil {
			depositErr = burner.DepositJournal(batch, payer, shares.Burn)
		} else {
			depositErr = errors.New("no burn accumulator configured")
		}
		if depositErr != nil {
			d.log.Warn().Err(depositErr).Int64("amount", shares.Burn).
				Msg("burn deposit rejected, share redirected to protocol")
			protocolDue += shares.Burn
			res.Redirected += shares.Burn
		} else {
			res.BurnDeposited = shares.Burn
		}
	}

	if protocolDue > 0 {
		if !d.tracker.IsReachable(rcp.Protocol) {
			return Result{}, fmt.Errorf("%w: %s", ErrProtocolUnreachable, rcp.Protocol.AccountPath())
		}
		batch.Add(ledger.JournalTypeFeeProtocol, rcp.Protocol, payer, payer.AssetID, protocolDue)
		res.ProtocolPaid = protocolDue
	}

	return res, nil
}
