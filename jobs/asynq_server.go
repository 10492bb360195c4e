package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
	"github.com/schoolledger/feeledger/internal/platform/httpx"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	// Location is the timezone cron specs are evaluated in.
	Location *time.Location
	Handlers []TaskHandler
	Cron     []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			cfg.Logger.Error("task failed", slog.String("task", task.Type()), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: cfg.Location})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueGenerateDues enqueues a generation run. Identical payloads
// enqueued within the uniqueness window collapse into one task.
func (c *Client) EnqueueGenerateDues(ctx context.Context, payload GenerateDuesPayload) (*asynq.TaskInfo, error) {
	task, err := NewGenerateDuesTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(time.Hour),
	)
}

// EnqueueLedgerIntegrity enqueues an immediate integrity scan.
func (c *Client) EnqueueLedgerIntegrity(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewLedgerIntegrityTask(), asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the subset of asynq.Inspector used for queue health.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth summarises one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

// InspectQueue reads queue statistics for the default queue. A nil inspector
// reports an empty queue.
func InspectQueue(inspector QueueInspector) (QueueHealth, error) {
	if inspector == nil {
		return QueueHealth{Queue: QueueDefault}, nil
	}
	info, err := inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		return QueueHealth{}, err
	}
	if info == nil {
		return QueueHealth{Queue: QueueDefault}, nil
	}
	return QueueHealth{
		Queue:     info.Queue,
		Size:      info.Size,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Paused:    info.Paused,
	}, nil
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health, err := InspectQueue(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, health)
}
