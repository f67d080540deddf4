// Package record owns the settlement log pipeline: every committed
// operation gets a sequence, extends the state-hash chain over the affected
// ledger balances, and is handed to the persistence and publish workers.
package record

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"CurveDesk/internal/event"
	"CurveDesk/internal/ledger"
	"CurveDesk/internal/observability"
)

// Output is one committed settlement record on its way downstream.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Payload  event.Event
}

// Recorder applies batches and emits records. It is shared by the trade
// engine and the burn accumulator so the instance keeps a single sequence
// and a single hash chain.
type Recorder struct {
	sequence  int64
	hasher    *StateHasher
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	metrics   *observability.Metrics
	symbol    string

	persistChan chan<- Output
	publishChan chan<- Output
}

func NewRecorder(
	startSequence int64,
	tracker *ledger.BalanceTracker,
	metrics *observability.Metrics,
	symbol string,
	persistChan, publishChan chan<- Output,
) *Recorder {
	return &Recorder{
		sequence:    startSequence,
		hasher:      NewStateHasher(),
		tracker:     tracker,
		validator:   ledger.NewInvariantValidator(tracker),
		metrics:     metrics,
		symbol:      symbol,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// Commit validates and applies the batch, then emits the record. A nil or
// empty batch commits a record with no balance movement (informational
// events). An unbalanced batch is a broken invariant, not an error to
// recover from.
//
// The persist channel uses a BLOCKING send: the engine stalls rather than
// lose a record. The publish channel is best-effort, non-blocking.
func (r *Recorder) Commit(ev event.Event, batch *ledger.Batch, ts time.Time) (*event.Envelope, error) {
	if batch != nil && len(batch.Journals) > 0 {
		if err := r.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := r.tracker.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch: %w", err)
		}
	}

	stateDigest := r.computeStateDigest(batch)
	prevHash := r.hasher.GetPrevHash()
	stateHash := r.hasher.ComputeHash(r.sequence, stateDigest)

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	symbol := r.symbol
	envelope := &event.Envelope{
		Sequence:  r.sequence,
		Ref:       ev.Ref(),
		EventType: ev.EventType(),
		Symbol:    &symbol,
		Timestamp: ts,
		Payload:   payload,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}

	output := Output{Envelope: envelope, Batch: batch, Payload: ev}

	r.persistChan <- output

	select {
	case r.publishChan <- output:
	default:
		// Dropped: downstream consumers can read the settlement log.
		if r.metrics != nil {
			r.metrics.PublishDrops.Inc()
		}
	}

	r.sequence++
	if r.metrics != nil {
		r.metrics.EngineSequence.Set(float64(r.sequence))
	}

	return envelope, nil
}

// Sequence returns the next sequence to be assigned.
func (r *Recorder) Sequence() int64 {
	return r.sequence
}

// RestoreChain resets the hash-chain tip to the last persisted record's
// state hash, so the first post-restart commit extends the durable chain
// instead of restarting from genesis.
func (r *Recorder) RestoreChain(stateHash []byte) error {
	if len(stateHash) != sha256.Size {
		return fmt.Errorf("state hash must be %d bytes, got %d", sha256.Size, len(stateHash))
	}
	var tip [32]byte
	copy(tip[:], stateHash)
	r.hasher.SetPrevHash(tip)
	return nil
}

// StateHash returns the current chain tip.
func (r *Recorder) StateHash() [32]byte {
	return r.hasher.GetPrevHash()
}

// computeStateDigest builds canonical bytes over the accounts the batch
// touched: sorted account paths with post-apply balances.
func (r *Recorder) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := r.tracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
