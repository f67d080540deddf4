package persistence

import (
	"context"
	"database/sql"
	"time"

	"CurveDesk/internal/observability"
	"CurveDesk/internal/record"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes the settlement log.
// The recorder sends on that channel BLOCKING: if this worker falls behind,
// settlement stalls rather than lose a record.
type Worker struct {
	db           *sql.DB
	writer       *LogWriter
	inputChan    <-chan record.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan record.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming records and flushes when the batch fills or the
// timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	settlements := make([]SettlementRow, 0, w.batchSize)
	journals := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flushAll := func(flushCtx context.Context) {
		if len(settlements) == 0 {
			return
		}
		if err := w.flushWithRetry(flushCtx, settlements, journals); err != nil {
			w.log.Error().Err(err).Msg("settlement flush abandoned")
		}
		settlements = settlements[:0]
		journals = journals[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flushAll(context.Background())
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				flushAll(context.Background())
				return nil
			}

			settlements = append(settlements, toSettlementRow(output))
			journals = append(journals, toJournalRows(output)...)

			if len(settlements) >= w.batchSize {
				flushAll(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flushAll(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. Records are never
// dropped: on shutdown one final attempt runs on a background context.
func (w *Worker) flushWithRetry(ctx context.Context, settlements []SettlementRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("records", len(settlements)).Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), settlements, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, settlements, journals); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, settlements []SettlementRow, journals []JournalRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteSettlements(ctx, tx, settlements); err != nil {
		w.countError("write_settlements")
		return err
	}
	if err := w.writer.WriteJournals(ctx, tx, journals); err != nil {
		w.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchSize.Observe(float64(len(settlements)))
		w.metrics.PersistRecordsWritten.Add(float64(len(settlements)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		w.metrics.PersistLastSequence.Set(float64(settlements[len(settlements)-1].Sequence))
	}
	return nil
}

func (w *Worker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

func toSettlementRow(out record.Output) SettlementRow {
	env := out.Envelope
	return SettlementRow{
		Sequence:  env.Sequence,
		Ref:       env.Ref,
		EventType: env.EventType.String(),
		Symbol:    env.Symbol,
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: env.Timestamp,
	}
}

func toJournalRows(out record.Output) []JournalRow {
	if out.Batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}
