package guard

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrViolation is the base guard-violation error: a callback arrived while
// no context was armed, or from a caller that is not the configured venue.
// These are never silently absorbed: they indicate an attack or a broken
// invariant.
var ErrViolation = errors.New("settlement guard violation")

// ErrAlreadyArmed means a second arm attempt while a context is live. This
// can only happen via reentrancy.
var ErrAlreadyArmed = errors.New("settlement guard already armed")

// OpKind tags the operation a context belongs to.
type OpKind int32

const (
	OpTrade OpKind = iota
	OpFlush
)

// Context is the ephemeral settlement context: it exists only for the
// duration of one external-venue interaction and carries enough to let the
// callback re-derive and validate the operation.
type Context struct {
	Kind       OpKind
	Sell       bool
	Amount     int64
	PriceLimit int64 // venue price bound for trades, 0 means unbounded
	MinOut     int64 // minimum acceptable output for flushes
	Requester  uuid.UUID
}

// Guard is the single-flight settlement guard: a tagged {Idle | Armed(ctx)}
// state with caller-identity verification. One instance per subsystem:
// the trade engine and the burn accumulator each own their own.
//
// The guard carries no lock of its own: the owning subsystem serializes its
// operations, and the callback runs synchronously inside the venue call
// frame.
type Guard struct {
	venueID uuid.UUID
	armed   bool
	ctx     Context
}

func New(venueID uuid.UUID) *Guard {
	return &Guard{venueID: venueID}
}

// Arm transitions Idle→Armed immediately before invoking the venue's
// locking entry point. Arming while Armed fails loudly.
func (g *Guard) Arm(ctx Context) error {
	if g.armed {
		return fmt.Errorf("%w (kind=%d)", ErrAlreadyArmed, g.ctx.Kind)
	}
	g.armed = true
	g.ctx = ctx
	return nil
}

// Consume verifies the callback and hands out the armed context, clearing
// it in the same step (read-and-cleared). Rejections mutate nothing.
func (g *Guard) Consume(caller uuid.UUID) (Context, error) {
	if !g.armed {
		return Context{}, fmt.Errorf("%w: no context armed", ErrViolation)
	}
	if caller != g.venueID {
		return Context{}, fmt.Errorf("%w: caller %s is not the venue", ErrViolation, caller)
	}

	ctx := g.ctx
	g.armed = false
	g.ctx = Context{}
	return ctx, nil
}

// Disarm unconditionally clears the context after the external call frame
// returns, callback or not. No stale context survives into a future
// operation.
func (g *Guard) Disarm() {
	g.armed = false
	g.ctx = Context{}
}

// IsArmed reports whether a context is live.
func (g *Guard) IsArmed() bool {
	return g.armed
}
