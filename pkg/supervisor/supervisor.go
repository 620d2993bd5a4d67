package supervisor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinci4d/engine/pkg/events"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/metrics"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// Core is the state surface the supervisor sweeps. Satisfied by the manager.
type Core interface {
	IsLeader() bool
	ListWorkers(filter storage.WorkerFilter) ([]*types.Worker, error)
	ListTasks(filter storage.TaskFilter) ([]*types.Task, error)
	GetFunction(uid string) (*types.Function, error)
	SetWorkerOffline(workerUID string) (*types.Worker, error)
	ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*storage.ReportResult, error)
	PublishEvent(event *events.Event)
}

// Supervisor periodically demotes stale workers and fails timed-out tasks
type Supervisor struct {
	core              Core
	interval          time.Duration
	heartbeatDeadline time.Duration
	stopCh            chan struct{}
	logger            zerolog.Logger
}

// Config tunes the supervisor sweep
type Config struct {
	Interval          time.Duration // Sweep period; defaults to 10s
	HeartbeatDeadline time.Duration // Stale threshold; defaults to 30s
}

// New creates a supervisor over the given core
func New(core Core, cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.HeartbeatDeadline <= 0 {
		cfg.HeartbeatDeadline = 30 * time.Second
	}

	return &Supervisor{
		core:              core,
		interval:          cfg.Interval,
		heartbeatDeadline: cfg.HeartbeatDeadline,
		stopCh:            make(chan struct{}),
		logger:            log.WithComponent("supervisor"),
	}
}

// Start begins the sweep loop
func (s *Supervisor) Start() {
	go s.run()
}

// Stop stops the supervisor
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

func (s *Supervisor) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Only the leader mutates; followers would race it
			if !s.core.IsLeader() {
				continue
			}
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep performs one supervision cycle
func (s *Supervisor) Sweep() {
	if err := s.sweepWorkers(); err != nil {
		s.logger.Error().Err(err).Msg("worker sweep failed")
	}
	if err := s.sweepTasks(); err != nil {
		s.logger.Error().Err(err).Msg("task sweep failed")
	}
}

// sweepWorkers takes workers with stale heartbeats offline
func (s *Supervisor) sweepWorkers() error {
	workers, err := s.core.ListWorkers(storage.WorkerFilter{})
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	now := time.Now()
	for _, worker := range workers {
		if worker.Status != types.WorkerStatusOnline && worker.Status != types.WorkerStatusBusy {
			continue
		}
		stale := now.Sub(worker.LastHeartbeat)
		if stale <= s.heartbeatDeadline {
			continue
		}

		s.logger.Warn().
			Str("worker_uid", worker.UID).
			Dur("stale", stale).
			Msg("worker heartbeat stale, taking offline")

		if _, err := s.core.SetWorkerOffline(worker.UID); err != nil {
			s.logger.Error().Err(err).Str("worker_uid", worker.UID).Msg("failed to demote worker")
			continue
		}

		metrics.WorkersDemoted.Inc()
		s.core.PublishEvent(events.New(events.EventWorkerDown, "heartbeat stale",
			"worker_uid", worker.UID, "stale", stale.String()))
	}

	return nil
}

// sweepTasks fails running tasks that exceeded their function's timeout
func (s *Supervisor) sweepTasks() error {
	tasks, err := s.core.ListTasks(storage.TaskFilter{Status: types.TaskStatusRunning})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	now := time.Now()
	for _, task := range tasks {
		fn, err := s.core.GetFunction(task.FunctionUID)
		if err != nil {
			continue
		}
		if fn.Resources.TimeoutSeconds <= 0 {
			continue
		}

		deadline := task.StartedAt.Add(time.Duration(fn.Resources.TimeoutSeconds) * time.Second)
		if now.Before(deadline) {
			continue
		}

		s.logger.Warn().
			Str("task_uid", task.UID).
			Str("function_uid", task.FunctionUID).
			Msg("task exceeded timeout, failing")

		errMsg := fmt.Sprintf("task exceeded %ds timeout", fn.Resources.TimeoutSeconds)
		if _, err := s.core.ReportTask(task.UID, false, nil, errMsg, task.WorkerUID); err != nil {
			s.logger.Error().Err(err).Str("task_uid", task.UID).Msg("failed to time out task")
			continue
		}

		metrics.TasksTimedOut.Inc()
		s.core.PublishEvent(events.New(events.EventTaskTimedOut, errMsg,
			"task_uid", task.UID, "function_uid", task.FunctionUID))
	}

	return nil
}
