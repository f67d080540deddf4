// Package persistence owns the durable settlement log: batched Postgres
// writes of settlement records and their journal legs, plus the history
// queries served over the API.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SettlementRow is a row in settlement_log.settlements.
type SettlementRow struct {
	Sequence  int64
	Ref       string
	EventType string
	Symbol    *string
	Payload   []byte // JSON event payload
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// JournalRow is a row in settlement_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// LogWriter writes settlement records with multi-row INSERTs. Conflicts on
// the sequence/journal keys are ignored so a replayed batch is a no-op.
type LogWriter struct {
	db *sql.DB
}

func NewLogWriter(db *sql.DB) *LogWriter {
	return &LogWriter{db: db}
}

func (w *LogWriter) WriteSettlements(ctx context.Context, tx *sql.Tx, rows []SettlementRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.settlements
		(sequence, ref, event_type, symbol, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.Ref, r.EventType, r.Symbol,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *LogWriter) WriteJournals(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, j := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
