package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"otto/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,action,assistant,target,status,COALESCE(error,''),started_at,COALESCE(finished_at,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	err := row.Scan(&r.ID, &r.Action, &r.Assistant, &r.Target, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id,action,assistant,target,status,error,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Action, run.Assistant, run.Target, run.Status, nullable(run.Error), run.StartedAt, nullable(run.FinishedAt))
	return err
}

// FinishRun sets the terminal status of a run.
func (r Repo) FinishRun(ctx context.Context, id, status, errMsg, finishedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?, error=?, finished_at=? WHERE id=?`,
		status, nullable(errMsg), finishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r Repo) ListRunEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,run_id,ts,type,COALESCE(resource_kind,''),COALESCE(unique_name,''),COALESCE(sid,''),payload_json
FROM run_events WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Type, &e.ResourceKind, &e.UniqueName, &e.SID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of event %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
