package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryEntry is one settlement-log record as served over the API.
type HistoryEntry struct {
	Sequence  int64           `json:"sequence"`
	Ref       string          `json:"ref"`
	EventType string          `json:"event_type"`
	Symbol    *string         `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoryService reads the settlement log for API queries.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Recent returns up to limit settlements in descending sequence order,
// optionally filtered by event type. beforeSeq 0 means "from the tip".
func (s *HistoryService) Recent(ctx context.Context, eventType string, beforeSeq int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if beforeSeq <= 0 {
		beforeSeq = 1<<63 - 1
	}

	query := `SELECT sequence, ref, event_type, symbol, payload, timestamp
		FROM settlement_log.settlements
		WHERE sequence < $1`
	args := []interface{}{beforeSeq}

	if eventType != "" {
		query += ` AND event_type = $2`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Sequence, &e.Ref, &e.EventType, &e.Symbol, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ByRef returns the settlement with the given reference, or sql.ErrNoRows.
func (s *HistoryService) ByRef(ctx context.Context, ref string) (*HistoryEntry, error) {
	var e HistoryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT sequence, ref, event_type, symbol, payload, timestamp
		 FROM settlement_log.settlements WHERE ref = $1`, ref,
	).Scan(&e.Sequence, &e.Ref, &e.EventType, &e.Symbol, &e.Payload, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LastSequence returns the highest durably written sequence, -1 when the
// log is empty. Used to resume the recorder after restart.
func (s *HistoryService) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM settlement_log.settlements`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LastStateHash returns the state hash of the most recent record, nil when
// the log is empty. Pairs with LastSequence to restore the recorder's hash
// chain after restart.
func (s *HistoryService) LastStateHash(ctx context.Context) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_hash FROM settlement_log.settlements ORDER BY sequence DESC LIMIT 1`,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hash, nil
}
