package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/manish5476/apex/internal/installments"
	"github.com/manish5476/apex/internal/recon"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconSweep runs every reconciliation section in order.
	TaskReconSweep = "recon:sweep"
	// TaskReconSection runs one named reconciliation section.
	TaskReconSection = "recon:section"
	// TaskMarkOverdue flags installments past their due date.
	TaskMarkOverdue = "installments:mark_overdue"
)

// ReconSectionPayload names the section a recon:section task should run.
type ReconSectionPayload struct {
	Section string `json:"section"`
}

// NewReconSweepTask constructs the full-sweep task.
func NewReconSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReconSweep, nil)
}

// NewReconSectionTask constructs a single-section task.
func NewReconSectionTask(section recon.Section) (*asynq.Task, error) {
	data, err := json.Marshal(ReconSectionPayload{Section: string(section)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconSection, data), nil
}

// NewMarkOverdueTask constructs the overdue-marking task.
func NewMarkOverdueTask() *asynq.Task {
	return asynq.NewTask(TaskMarkOverdue, nil)
}

// Deps carries the services the task handlers drive.
type Deps struct {
	Sweeper      *recon.Sweeper
	Installments *installments.Service
	Logger       *slog.Logger
}

// Handlers binds every task type to its handler.
func Handlers(d Deps) []TaskHandler {
	return []TaskHandler{
		{Type: TaskReconSweep, Handler: handleReconSweep(d)},
		{Type: TaskReconSection, Handler: handleReconSection(d)},
		{Type: TaskMarkOverdue, Handler: handleMarkOverdue(d)},
	}
}

func handleReconSweep(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return d.Sweeper.Run(ctx)
	}
}

func handleReconSection(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconSectionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return d.Sweeper.RunSection(ctx, recon.Section(payload.Section))
	}
}

func handleMarkOverdue(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		marked, err := d.Installments.MarkOverdueInstallments(ctx)
		if err != nil {
			return err
		}
		if d.Logger != nil {
			d.Logger.Info("overdue sweep finished", slog.Int64("marked", marked))
		}
		return nil
	}
}
