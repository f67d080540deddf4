package record_test

import (
	"testing"
	"time"

	"CurveDesk/internal/event"
	"CurveDesk/internal/ledger"
	"CurveDesk/internal/record"

	"github.com/google/uuid"
)

func depositBatch(seq int64, user uuid.UUID, amount int64) (*ledger.Batch, event.Event) {
	now := time.Now()
	ev := &event.Deposited{
		DepositID: uuid.New(),
		User:      user,
		Asset:     "ETH",
		Amount:    amount,
		Timestamp: now,
	}
	batch := &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  ev.Ref(),
		Sequence:  seq,
		Timestamp: now.UnixMicro(),
	}
	batch.Add(ledger.JournalTypeAdjustment,
		ledger.NewUserAccountKey(user, ledger.FundingAssetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalGateway, ledger.FundingAssetID),
		ledger.FundingAssetID, amount)
	return batch, ev
}

func TestCommitAssignsSequencesAndChainsHashes(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	persistChan := make(chan record.Output, 8)
	publishChan := make(chan record.Output, 8)
	rec := record.NewRecorder(0, tracker, nil, "MEME", persistChan, publishChan)

	user := uuid.New()

	batch, ev := depositBatch(rec.Sequence(), user, 500)
	env1, err := rec.Commit(ev, batch, time.Now())
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	batch, ev = depositBatch(rec.Sequence(), user, 700)
	env2, err := rec.Commit(ev, batch, time.Now())
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	if env1.Sequence != 0 || env2.Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 0, 1", env1.Sequence, env2.Sequence)
	}
	if rec.Sequence() != 2 {
		t.Errorf("next sequence = %d, want 2", rec.Sequence())
	}

	// Each record links to the hash of the previous one.
	if env2.PrevHash != env1.StateHash {
		t.Error("second record does not chain to the first")
	}
	if env1.StateHash == env2.StateHash {
		t.Error("distinct records produced identical state hashes")
	}
	if rec.StateHash() != env2.StateHash {
		t.Error("chain tip does not match the latest record")
	}

	// The batch was applied.
	got := tracker.GetBalance(ledger.NewUserAccountKey(user, ledger.FundingAssetID))
	if got != 1_200 {
		t.Errorf("user balance = %d, want 1200", got)
	}

	if len(persistChan) != 2 || len(publishChan) != 2 {
		t.Errorf("channel depths = %d, %d; want 2, 2", len(persistChan), len(publishChan))
	}
	out := <-persistChan
	if out.Envelope != env1 {
		t.Error("persist channel did not receive the first record first")
	}
}

func TestRestoreChainExtendsPersistedTip(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	rec := record.NewRecorder(0, tracker, nil, "MEME",
		make(chan record.Output, 8), make(chan record.Output, 8))

	user := uuid.New()
	batch, ev := depositBatch(rec.Sequence(), user, 500)
	env1, err := rec.Commit(ev, batch, time.Now())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A restarted recorder resumes from the durable sequence and tip
	// rather than chaining back to genesis.
	restarted := record.NewRecorder(env1.Sequence+1, ledger.NewBalanceTracker(), nil, "MEME",
		make(chan record.Output, 8), make(chan record.Output, 8))
	if err := restarted.RestoreChain(env1.StateHash[:]); err != nil {
		t.Fatalf("restore chain: %v", err)
	}

	batch, ev = depositBatch(restarted.Sequence(), user, 700)
	env2, err := restarted.Commit(ev, batch, time.Now())
	if err != nil {
		t.Fatalf("commit after restart: %v", err)
	}
	if env2.PrevHash != env1.StateHash {
		t.Error("post-restart record does not chain to the persisted tip")
	}
	if env2.Sequence != env1.Sequence+1 {
		t.Errorf("sequence = %d, want %d", env2.Sequence, env1.Sequence+1)
	}

	if err := restarted.RestoreChain([]byte{0xde, 0xad}); err == nil {
		t.Error("truncated state hash accepted")
	}
}

func TestCommitDropsPublishWhenFull(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	persistChan := make(chan record.Output, 8)
	publishChan := make(chan record.Output, 1)
	rec := record.NewRecorder(0, tracker, nil, "MEME", persistChan, publishChan)

	user := uuid.New()
	for i := 0; i < 3; i++ {
		batch, ev := depositBatch(rec.Sequence(), user, 100)
		if _, err := rec.Commit(ev, batch, time.Now()); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	// Persist kept everything; publish kept only what fit.
	if len(persistChan) != 3 {
		t.Errorf("persist depth = %d, want 3", len(persistChan))
	}
	if len(publishChan) != 1 {
		t.Errorf("publish depth = %d, want 1", len(publishChan))
	}
}

func TestCommitPanicsOnUnbalancedBatch(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	rec := record.NewRecorder(0, tracker, nil, "MEME",
		make(chan record.Output, 1), make(chan record.Output, 1))

	user := uuid.New()
	now := time.Now()
	ev := &event.Deposited{DepositID: uuid.New(), User: user, Asset: "ETH", Amount: -5, Timestamp: now}
	batch := &ledger.Batch{BatchID: uuid.New(), EventRef: ev.Ref(), Timestamp: now.UnixMicro()}
	batch.Add(ledger.JournalTypeAdjustment,
		ledger.NewUserAccountKey(user, ledger.FundingAssetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalGateway, ledger.FundingAssetID),
		ledger.FundingAssetID, -5)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on unbalanced batch")
		}
	}()
	rec.Commit(ev, batch, now)
}

func TestInformationalEventMovesNoBalances(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	persistChan := make(chan record.Output, 2)
	rec := record.NewRecorder(0, tracker, nil, "MEME", persistChan, make(chan record.Output, 2))

	ev := &event.TokenInitialized{
		InitID:      uuid.New(),
		Symbol:      "MEME",
		Creator:     uuid.New(),
		TotalSupply: 1_000,
		Timestamp:   time.Now(),
	}
	env, err := rec.Commit(ev, nil, time.Now())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if env.Sequence != 0 {
		t.Errorf("sequence = %d, want 0", env.Sequence)
	}
	out := <-persistChan
	if out.Batch != nil {
		t.Error("informational record carried a batch")
	}
}
