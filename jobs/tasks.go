package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGenerateDues expands the rate card into dues for one period.
	TaskGenerateDues = "fees:generate_dues"
	// TaskLedgerIntegrity scans every due for reconciliation errors.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup prunes expired payment idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// GenerateDuesPayload selects the classes and period of a generation run.
// An empty class list means every class holding a rate for the period's
// academic year; a zero month or year means the current month.
type GenerateDuesPayload struct {
	ClassIDs []int64 `json:"class_ids"`
	Month    int     `json:"month,omitempty"`
	Year     int     `json:"year,omitempty"`
	Scope    string  `json:"scope,omitempty"`
}

// NewGenerateDuesTask constructs an Asynq task.
func NewGenerateDuesTask(payload GenerateDuesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerateDues, data), nil
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, []byte(`{}`))
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))
}
