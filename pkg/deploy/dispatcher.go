package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinci4d/engine/pkg/events"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/metrics"
	"github.com/vinci4d/engine/pkg/types"
)

// Deployer realizes and tears down worker backing deployments
type Deployer interface {
	CreateWorker(ctx context.Context, worker *types.Worker) error
	DeleteWorker(ctx context.Context, worker *types.Worker) error
}

// OpKind distinguishes dispatcher operations
type OpKind string

const (
	OpCreate OpKind = "create"
	OpDelete OpKind = "delete"
)

type job struct {
	kind     OpKind
	worker   *types.Worker
	attempts int
}

// DeadLetter records a deploy operation abandoned after retries
type DeadLetter struct {
	Kind      OpKind
	Worker    *types.Worker
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// Dispatcher drains deploy work onto a Deployer with retries. Failed
// operations are retried with linear backoff; after maxRetries they land on
// the dead-letter list for operator inspection.
type Dispatcher struct {
	deployer   Deployer
	broker     *events.Broker
	queue      chan *job
	maxRetries int
	backoff    time.Duration
	opTimeout  time.Duration

	mu   sync.Mutex
	dead []DeadLetter

	stopCh chan struct{}
	done   sync.WaitGroup
	logger zerolog.Logger
}

// DispatcherConfig tunes the dispatcher
type DispatcherConfig struct {
	MaxRetries int           // Defaults to 3
	Backoff    time.Duration // Per-attempt backoff step; defaults to 2s
	OpTimeout  time.Duration // Per-operation timeout; defaults to 30s
}

// NewDispatcher creates a dispatcher over the given deployer. The broker is
// optional.
func NewDispatcher(deployer Deployer, broker *events.Broker, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}

	return &Dispatcher{
		deployer:   deployer,
		broker:     broker,
		queue:      make(chan *job, 256),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		opTimeout:  cfg.OpTimeout,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("deploy"),
	}
}

// Start begins draining the queue
func (d *Dispatcher) Start() {
	d.done.Add(1)
	go d.run()
}

// Stop stops the dispatcher after the current operation
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.done.Wait()
}

// EnqueueCreate queues a worker deployment
func (d *Dispatcher) EnqueueCreate(worker *types.Worker) {
	d.enqueue(&job{kind: OpCreate, worker: worker})
}

// EnqueueDelete queues a worker teardown
func (d *Dispatcher) EnqueueDelete(worker *types.Worker) {
	d.enqueue(&job{kind: OpDelete, worker: worker})
}

func (d *Dispatcher) enqueue(j *job) {
	select {
	case d.queue <- j:
	case <-d.stopCh:
	}
}

// DeadLetters returns the abandoned operations
func (d *Dispatcher) DeadLetters() []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetter, len(d.dead))
	copy(out, d.dead)
	return out
}

func (d *Dispatcher) run() {
	defer d.done.Done()

	for {
		select {
		case j := <-d.queue:
			d.process(j)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) process(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case OpCreate:
		err = d.deployer.CreateWorker(ctx, j.worker)
	case OpDelete:
		err = d.deployer.DeleteWorker(ctx, j.worker)
	}

	if err == nil {
		return
	}

	j.attempts++
	d.logger.Warn().
		Err(err).
		Str("op", string(j.kind)).
		Str("worker_uid", j.worker.UID).
		Int("attempt", j.attempts).
		Msg("deploy operation failed")

	if d.broker != nil {
		d.broker.Publish(events.New(events.EventDeployFailed, err.Error(),
			"op", string(j.kind), "worker_uid", j.worker.UID))
	}

	if j.attempts >= d.maxRetries {
		metrics.DeployDeadLetters.Inc()
		d.mu.Lock()
		d.dead = append(d.dead, DeadLetter{
			Kind:      j.kind,
			Worker:    j.worker,
			Attempts:  j.attempts,
			LastError: err.Error(),
			FailedAt:  time.Now(),
		})
		d.mu.Unlock()

		if d.broker != nil {
			d.broker.Publish(events.New(events.EventDeployDeadLetter, err.Error(),
				"op", string(j.kind), "worker_uid", j.worker.UID))
		}
		return
	}

	metrics.DeployRetries.Inc()
	delay := time.Duration(j.attempts) * d.backoff
	time.AfterFunc(delay, func() { d.enqueue(j) })
}
