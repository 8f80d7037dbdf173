package domain

// Run is one journaled deploy or teardown.
type Run struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Assistant  string `json:"assistant"`
	Target     string `json:"target"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

const (
	RunDeploy   = "deploy"
	RunTeardown = "teardown"

	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunDeclined  = "declined"
)

// RunEvent is one remote step recorded against a run.
type RunEvent struct {
	ID           int64          `json:"id"`
	RunID        string         `json:"run_id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	ResourceKind string         `json:"resource_kind,omitempty"`
	UniqueName   string         `json:"unique_name,omitempty"`
	SID          string         `json:"sid,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}
