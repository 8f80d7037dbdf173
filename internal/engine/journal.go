package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otto/internal/domain"
	"otto/internal/events"
)

func (e Engine) startRun(ctx context.Context, action, assistant string) (string, error) {
	if e.Repo == nil {
		return "", nil
	}
	run := domain.Run{
		ID:        uuid.NewString(),
		Action:    action,
		Assistant: assistant,
		Target:    e.Target,
		Status:    domain.RunRunning,
		StartedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertRun(ctx, run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// finishRun records the outcome of a run and returns runErr unchanged.
func (e Engine) finishRun(ctx context.Context, runID string, runErr error) error {
	if e.Repo == nil || runID == "" {
		return runErr
	}
	status, msg := domain.RunCompleted, ""
	switch {
	case errors.Is(runErr, ErrDeclined):
		status = domain.RunDeclined
	case runErr != nil:
		status, msg = domain.RunFailed, runErr.Error()
	}
	if err := e.Repo.FinishRun(ctx, runID, status, msg, e.now().UTC().Format(time.RFC3339)); err != nil {
		e.log().Warn("journal finish failed", zap.String("run", runID), zap.Error(err))
	}
	return runErr
}

func (e Engine) appendEvent(ctx context.Context, runID string, evt events.Event) {
	if e.Repo == nil || runID == "" {
		return
	}
	if err := e.Events.Append(ctx, runID, evt); err != nil {
		e.log().Warn("journal append failed", zap.String("run", runID), zap.Error(err))
	}
}
