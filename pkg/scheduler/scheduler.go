package scheduler

import (
	"github.com/rs/zerolog"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/events"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/metrics"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// Core is the replicated mutation surface the scheduler drives. Satisfied by
// the manager.
type Core interface {
	ClaimTask(workerUID string) (*storage.ClaimResult, error)
	ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*storage.ReportResult, error)
	PublishEvent(event *events.Event)
}

// Scheduler is the claim/report surface for polling workers. The atomic
// semantics live in the store; this layer adds instrumentation and events.
type Scheduler struct {
	core   Core
	logger zerolog.Logger
}

// New creates a scheduler over the given core
func New(core Core) *Scheduler {
	return &Scheduler{
		core:   core,
		logger: log.WithComponent("scheduler"),
	}
}

// Claim assigns the oldest pending task that fits the worker. A nil result
// with a nil error never happens; the error taxonomy distinguishes an empty
// queue (ErrNoTask) from pending work that fits nowhere
// (ErrResourceExhausted).
func (s *Scheduler) Claim(workerUID string) (*storage.ClaimResult, error) {
	timer := metrics.NewTimer()
	res, err := s.core.ClaimTask(workerUID)
	timer.ObserveDuration(metrics.ClaimLatency)

	if err != nil {
		switch {
		case errdefs.IsNoTask(err):
			metrics.ClaimsTotal.WithLabelValues("no_task").Inc()
		case errdefs.IsResourceExhausted(err):
			metrics.ClaimsTotal.WithLabelValues("exhausted").Inc()
		default:
			metrics.ClaimsTotal.WithLabelValues("error").Inc()
			s.logger.Error().Err(err).Str("worker_uid", workerUID).Msg("claim failed")
		}
		return nil, err
	}

	metrics.ClaimsTotal.WithLabelValues("assigned").Inc()
	s.core.PublishEvent(events.New(events.EventTaskClaimed, "task claimed",
		"task_uid", res.Task.UID,
		"function_uid", res.Task.FunctionUID,
		"worker_uid", workerUID))

	s.logger.Debug().
		Str("task_uid", res.Task.UID).
		Str("worker_uid", workerUID).
		Msg("task assigned")

	return res, nil
}

// Report records a task's terminal outcome and surfaces the function rollup
func (s *Scheduler) Report(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*storage.ReportResult, error) {
	res, err := s.core.ReportTask(taskUID, success, result, errMsg, workerUID)
	if err != nil {
		return nil, err
	}

	if res.AlreadyTerminal {
		metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		return res, nil
	}

	if success {
		metrics.ReportsTotal.WithLabelValues("completed").Inc()
		s.core.PublishEvent(events.New(events.EventTaskCompleted, "task completed",
			"task_uid", taskUID, "worker_uid", workerUID))
	} else {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		s.core.PublishEvent(events.New(events.EventTaskFailed, errMsg,
			"task_uid", taskUID, "worker_uid", workerUID))
	}

	if res.FunctionDone {
		eventType := events.EventFunctionCompleted
		if res.FunctionStatus == types.FunctionStatusFailed {
			eventType = events.EventFunctionFailed
		}
		s.core.PublishEvent(events.New(eventType, "function finished",
			"function_uid", res.Task.FunctionUID,
			"status", string(res.FunctionStatus)))

		s.logger.Info().
			Str("function_uid", res.Task.FunctionUID).
			Str("status", string(res.FunctionStatus)).
			Msg("function finished")
	}

	return res, nil
}
