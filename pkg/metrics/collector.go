package metrics

import (
	"time"

	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// Source is the read surface the collector samples from. Satisfied by the
// manager so the collector sees the same state the API serves.
type Source interface {
	ListGrids() ([]*types.Grid, error)
	ListWorkers(filter storage.WorkerFilter) ([]*types.Worker, error)
	ListFunctions() ([]*types.Function, error)
	ListTasks(filter storage.TaskFilter) ([]*types.Task, error)
	IsLeader() bool
}

// Collector periodically samples entity counts into the gauges
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectGridMetrics()
	c.collectWorkerMetrics()
	c.collectFunctionMetrics()
	c.collectTaskMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectGridMetrics() {
	grids, err := c.source.ListGrids()
	if err != nil {
		return
	}

	counts := make(map[types.GridStatus]int)
	for _, grid := range grids {
		counts[grid.Status]++
		GridUtilization.WithLabelValues(grid.Name).Set(grid.Utilization)
	}

	for status, count := range counts {
		GridsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectWorkerMetrics() {
	workers, err := c.source.ListWorkers(storage.WorkerFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.WorkerStatus]int)
	for _, worker := range workers {
		counts[worker.Status]++
	}

	for status, count := range counts {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectFunctionMetrics() {
	fns, err := c.source.ListFunctions()
	if err != nil {
		return
	}

	counts := make(map[types.FunctionStatus]int)
	for _, fn := range fns {
		counts[fn.Status]++
	}

	for status, count := range counts {
		FunctionsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.source.ListTasks(storage.TaskFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
