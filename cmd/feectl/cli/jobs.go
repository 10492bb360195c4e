package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/jobs"
)

// Enqueuer submits background tasks.
type Enqueuer interface {
	EnqueueGenerateDues(ctx context.Context, payload jobs.GenerateDuesPayload) (*asynq.TaskInfo, error)
	EnqueueLedgerIntegrity(ctx context.Context) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	enqueuer  Enqueuer
	inspector jobs.QueueInspector
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client := jobs.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{enqueuer: client, inspector: inspector, closers: []io.Closer{inspector, client}}
}

// NewJobsCLIWith builds the CLI over caller supplied collaborators.
func NewJobsCLIWith(enqueuer Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{enqueuer: enqueuer, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closer := range c.closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// GenerateOptions defines available flags for the generate command.
type GenerateOptions struct {
	Classes string
	Month   int
	Year    int
	Scope   string
	Stdout  io.Writer
	Stderr  io.Writer
}

// GenerateCommand enqueues a dues generation run and prints the task id.
func (c *JobsCLI) GenerateCommand(ctx context.Context, opts GenerateOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.enqueuer == nil {
		_, _ = fmt.Fprintln(stderr, "generate: client not configured")
		return 1
	}
	classIDs, err := ParseClassIDs(opts.Classes)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "generate: %v\n", err)
		return 1
	}
	if opts.Month < 0 || opts.Month > 12 {
		_, _ = fmt.Fprintf(stderr, "generate: month must be between 1 and 12, got %d\n", opts.Month)
		return 1
	}
	if opts.Scope != "" && !ledger.Scope(opts.Scope).Valid() {
		_, _ = fmt.Fprintf(stderr, "generate: unknown scope %q (expected monthly or annual)\n", opts.Scope)
		return 1
	}
	info, err := c.enqueuer.EnqueueGenerateDues(ctx, jobs.GenerateDuesPayload{
		ClassIDs: classIDs,
		Month:    opts.Month,
		Year:     opts.Year,
		Scope:    opts.Scope,
	})
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			_, _ = fmt.Fprintln(stderr, "generate: an identical run is already queued")
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "generate: enqueue: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on queue %s\n", jobs.TaskGenerateDues, info.ID, info.Queue)
	return 0
}

// IntegrityCommand enqueues an immediate ledger integrity scan.
func (c *JobsCLI) IntegrityCommand(ctx context.Context, stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	if c == nil || c.enqueuer == nil {
		_, _ = fmt.Fprintln(stderr, "integrity: client not configured")
		return 1
	}
	info, err := c.enqueuer.EnqueueLedgerIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "integrity: enqueue: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on queue %s\n", jobs.TaskLedgerIntegrity, info.ID, info.Queue)
	return 0
}

// QueueOptions defines available flags for the queue command.
type QueueOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// QueueCommand prints the default queue statistics.
func (c *JobsCLI) QueueCommand(ctx context.Context, opts QueueOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(stderr, "queue: inspector not configured")
		return 1
	}
	health, err := jobs.InspectQueue(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(health); err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	state := "running"
	if health.Paused {
		state = "paused"
	}
	_, _ = fmt.Fprintf(stdout, "queue %s (%s)\n", health.Queue, state)
	_, _ = fmt.Fprintf(stdout, "  pending:   %d\n", health.Pending)
	_, _ = fmt.Fprintf(stdout, "  active:    %d\n", health.Active)
	_, _ = fmt.Fprintf(stdout, "  scheduled: %d\n", health.Scheduled)
	_, _ = fmt.Fprintf(stdout, "  retry:     %d\n", health.Retry)
	_, _ = fmt.Fprintf(stdout, "  archived:  %d\n", health.Archived)
	return 0
}

// ParseClassIDs parses a comma separated list of positive class ids. An
// empty string selects every class holding a rate.
func ParseClassIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	seen := make(map[int64]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid class id %q", part)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
