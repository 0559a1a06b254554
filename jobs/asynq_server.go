package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/manish5476/apex/internal/platform/httpx"
	"github.com/manish5476/apex/internal/recon"
)

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
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Handlers  []TaskHandler
	Cron      []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
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
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
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

// CronSchedule builds the standing schedule: allocation catch-up every half
// hour, overdue marking and integrity check daily, and the full sweep
// nightly so balance recompute and retention cleanup run without manual
// triggers. Empty specs disable an entry.
func CronSchedule(allocationSpec, overdueSpec, integritySpec, fullSweepSpec string) ([]CronRegistration, error) {
	sectionTask, err := NewReconSectionTask(recon.SectionAllocation)
	if err != nil {
		return nil, err
	}
	integrityTask, err := NewReconSectionTask(recon.SectionIntegrity)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: allocationSpec, Task: sectionTask, Options: []asynq.Option{asynq.Queue(QueueDefault)}},
		{Spec: overdueSpec, Task: NewMarkOverdueTask(), Options: []asynq.Option{asynq.Queue(QueueDefault)}},
		{Spec: integritySpec, Task: integrityTask, Options: []asynq.Option{asynq.Queue(QueueDefault)}},
		{Spec: fullSweepSpec, Task: NewReconSweepTask(), Options: []asynq.Option{asynq.Queue(QueueDefault)}},
	}, nil
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
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// ErrUnknownJob is returned for a trigger naming no registered job.
var ErrUnknownJob = errors.New("jobs: unknown job name")

// EnqueueByName submits the named job for immediate execution. This is the
// manual operational trigger; names match the scheduled jobs.
func (c *Client) EnqueueByName(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	var task *asynq.Task
	switch name {
	case "sweep":
		task = NewReconSweepTask()
	case "mark_overdue":
		task = NewMarkOverdueTask()
	case string(recon.SectionAllocation), string(recon.SectionBalances),
		string(recon.SectionIntegrity), string(recon.SectionCleanup):
		var err error
		task, err = NewReconSectionTask(recon.Section(name))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job observability and manual triggers.
type Handler struct {
	inspector *asynq.Inspector
	client    *Client
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, client *Client, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, client: client, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/trigger/{name}", h.trigger)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queue":"default","pending":0}`))
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	pending := 0
	queueName := QueueDefault
	if info != nil {
		pending = int(info.Pending)
		queueName = info.Queue
	}
	_, _ = w.Write([]byte(`{"queue":"` + queueName + `","pending":` + strconv.Itoa(pending) + `}`))
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "job queue not configured")
		return
	}
	name := chi.URLParam(r, "name")
	info, err := h.client.EnqueueByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, ErrUnknownJob) {
			httpx.Problem(w, http.StatusNotFound, "Unknown Job", err.Error())
			return
		}
		h.logger.Warn("job trigger", slog.String("job", name), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Enqueue Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"job": name, "taskId": info.ID})
}
