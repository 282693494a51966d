package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hookahplus/internal/domain"
)

// Writer appends workflow events to the events table inside a caller's transaction.
type Writer struct{}

// Append inserts evt and returns its sequence number.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.WorkflowEvent) (int64, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(event_id,session_id,ts,button,staff_role,staff_id,status_tag,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		evt.ID, evt.SessionID, evt.Timestamp.UTC().Format(time.RFC3339Nano), string(evt.ButtonPressed),
		string(evt.StaffRole), nullable(evt.StaffID), string(evt.StatusTag), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Decode restores an event from its stored payload, stamping the row sequence.
func Decode(seq int64, payload string) (domain.WorkflowEvent, error) {
	var evt domain.WorkflowEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return evt, fmt.Errorf("decode event %d: %w", seq, err)
	}
	evt.Seq = seq
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
