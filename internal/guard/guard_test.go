package guard_test

import (
	"errors"
	"testing"

	"CurveDesk/internal/guard"

	"github.com/google/uuid"
)

func TestGuard_ArmConsumeRoundtrip(t *testing.T) {
	venueID := uuid.New()
	g := guard.New(venueID)

	ctx := guard.Context{Kind: guard.OpTrade, Amount: 42, Requester: uuid.New()}
	if err := g.Arm(ctx); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	if !g.IsArmed() {
		t.Fatal("guard should be armed")
	}

	got, err := g.Consume(venueID)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if got != ctx {
		t.Errorf("got %+v, want %+v", got, ctx)
	}
	if g.IsArmed() {
		t.Error("consume must clear the context")
	}
}

func TestGuard_ConsumeWhileIdle_Violation(t *testing.T) {
	g := guard.New(uuid.New())

	_, err := g.Consume(uuid.New())
	if !errors.Is(err, guard.ErrViolation) {
		t.Errorf("got %v, want ErrViolation", err)
	}
}

func TestGuard_ConsumeWrongCaller_Violation(t *testing.T) {
	venueID := uuid.New()
	g := guard.New(venueID)

	if err := g.Arm(guard.Context{Amount: 1}); err != nil {
		t.Fatalf("arm failed: %v", err)
	}

	_, err := g.Consume(uuid.New())
	if !errors.Is(err, guard.ErrViolation) {
		t.Errorf("got %v, want ErrViolation", err)
	}

	// Rejection must not mutate state: the real venue can still consume.
	if !g.IsArmed() {
		t.Error("rejected callback must leave the context armed")
	}
	if _, err := g.Consume(venueID); err != nil {
		t.Errorf("venue consume after rejection failed: %v", err)
	}
}

func TestGuard_DoubleArm_FailsLoudly(t *testing.T) {
	g := guard.New(uuid.New())

	if err := g.Arm(guard.Context{Amount: 1}); err != nil {
		t.Fatalf("first arm failed: %v", err)
	}
	err := g.Arm(guard.Context{Amount: 2})
	if !errors.Is(err, guard.ErrAlreadyArmed) {
		t.Errorf("got %v, want ErrAlreadyArmed", err)
	}
}

func TestGuard_DisarmClearsStaleContext(t *testing.T) {
	venueID := uuid.New()
	g := guard.New(venueID)

	if err := g.Arm(guard.Context{Amount: 7}); err != nil {
		t.Fatalf("arm failed: %v", err)
	}

	// Call frame returned without a callback firing.
	g.Disarm()

	if g.IsArmed() {
		t.Error("disarm must clear the context")
	}
	if _, err := g.Consume(venueID); !errors.Is(err, guard.ErrViolation) {
		t.Errorf("stale context must not be consumable: got %v", err)
	}
}

func TestGuard_DuplicateCallback_Violation(t *testing.T) {
	venueID := uuid.New()
	g := guard.New(venueID)

	if err := g.Arm(guard.Context{Amount: 1}); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	if _, err := g.Consume(venueID); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}

	// Second callback during the same call frame.
	if _, err := g.Consume(venueID); !errors.Is(err, guard.ErrViolation) {
		t.Errorf("duplicate callback must be rejected: got %v", err)
	}
}
