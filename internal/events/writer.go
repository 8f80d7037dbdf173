package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends run events to the workspace journal.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Event describes one remote step. Kind, UniqueName and SID are optional.
type Event struct {
	Type       string
	Kind       string
	UniqueName string
	SID        string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, runID string, evt Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := evt.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO run_events(run_id,ts,type,resource_kind,unique_name,sid,payload_json) VALUES (?,?,?,?,?,?,?)`,
		runID, ts, evt.Type, nullable(evt.Kind), nullable(evt.UniqueName), nullable(evt.SID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
