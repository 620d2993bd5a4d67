package batcher

import (
	"time"

	"github.com/google/uuid"
	"github.com/vinci4d/engine/pkg/types"
)

// Starter commits a function start with its task batch. Satisfied by the
// manager.
type Starter interface {
	StartFunction(functionUID string, tasks []*types.Task) (*types.Function, error)
}

// Batcher splits function inputs into tasks and starts them
type Batcher struct {
	starter Starter
}

// New creates a batcher on top of a starter
func New(starter Starter) *Batcher {
	return &Batcher{starter: starter}
}

// MakeBatches splits the inputs into ceil(len(inputs)/batchSize) pending
// tasks. Batch indexes are contiguous from zero and the input ranges cover
// [0, len(inputs)) without overlap. Empty inputs produce a single task so a
// parameter-only function still executes once.
func MakeBatches(fn *types.Function, inputs []interface{}, params map[string]interface{}) []*types.Task {
	batchSize := fn.BatchSize
	if override, ok := paramBatchSize(params); ok {
		batchSize = override
	}
	if batchSize < 1 {
		batchSize = 1
	}

	total := (len(inputs) + batchSize - 1) / batchSize
	if total == 0 {
		total = 1
	}

	merged := mergeParams(fn.Params, params)
	now := time.Now()

	tasks := make([]*types.Task, 0, total)
	for i := 0; i < total; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		tasks = append(tasks, &types.Task{
			UID:         uuid.New().String(),
			FunctionUID: fn.UID,
			Status:      types.TaskStatusPending,
			Data: types.TaskData{
				BatchIndex: i,
				BatchSize:  end - start,
				BatchTotal: total,
				InputStart: start,
				InputEnd:   end,
				Inputs:     inputs[start:end],
				Params:     merged,
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return tasks
}

// paramBatchSize reads a batch_size override from the call params. JSON
// numbers decode as float64.
func paramBatchSize(params map[string]interface{}) (int, bool) {
	switch v := params["batch_size"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// mergeParams overlays call params onto the function defaults. The inputs
// key is carried in TaskData, never in params.
func mergeParams(defaults, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	delete(merged, "inputs")
	return merged
}

// Start batches the inputs and commits the function start as one operation
func (b *Batcher) Start(fn *types.Function, inputs []interface{}, params map[string]interface{}) (*types.Function, []*types.Task, error) {
	tasks := MakeBatches(fn, inputs, params)
	started, err := b.starter.StartFunction(fn.UID, tasks)
	if err != nil {
		return nil, nil, err
	}
	return started, tasks, nil
}
