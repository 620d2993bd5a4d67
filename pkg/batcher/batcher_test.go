package batcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/types"
)

func inputs(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestMakeBatches(t *testing.T) {
	tests := []struct {
		name       string
		inputCount int
		batchSize  int
		wantTotal  int
		wantSizes  []int
	}{
		{name: "even split", inputCount: 10, batchSize: 5, wantTotal: 2, wantSizes: []int{5, 5}},
		{name: "uneven tail", inputCount: 10, batchSize: 3, wantTotal: 4, wantSizes: []int{3, 3, 3, 1}},
		{name: "batch larger than inputs", inputCount: 2, batchSize: 10, wantTotal: 1, wantSizes: []int{2}},
		{name: "batch size one", inputCount: 3, batchSize: 1, wantTotal: 3, wantSizes: []int{1, 1, 1}},
		{name: "zero batch size defaults to one", inputCount: 2, batchSize: 0, wantTotal: 2, wantSizes: []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := &types.Function{UID: "f-1", BatchSize: tt.batchSize}
			tasks := MakeBatches(fn, inputs(tt.inputCount), nil)

			require.Len(t, tasks, tt.wantTotal)

			covered := 0
			for i, task := range tasks {
				assert.Equal(t, "f-1", task.FunctionUID)
				assert.Equal(t, types.TaskStatusPending, task.Status)
				assert.Equal(t, i, task.Data.BatchIndex, "indexes contiguous from zero")
				assert.Equal(t, tt.wantTotal, task.Data.BatchTotal)
				assert.Equal(t, tt.wantSizes[i], task.Data.BatchSize)
				assert.Equal(t, covered, task.Data.InputStart, "ranges contiguous")
				assert.Len(t, task.Data.Inputs, task.Data.InputEnd-task.Data.InputStart)
				covered = task.Data.InputEnd
			}
			assert.Equal(t, tt.inputCount, covered, "ranges cover every input")
		})
	}
}

func TestMakeBatchesEmptyInputs(t *testing.T) {
	fn := &types.Function{UID: "f-1", BatchSize: 4}
	tasks := MakeBatches(fn, nil, nil)

	require.Len(t, tasks, 1, "parameter-only function still gets one task")
	assert.Equal(t, 0, tasks[0].Data.BatchIndex)
	assert.Equal(t, 1, tasks[0].Data.BatchTotal)
	assert.Empty(t, tasks[0].Data.Inputs)
}

func TestMakeBatchesParamMerge(t *testing.T) {
	fn := &types.Function{
		UID:       "f-1",
		BatchSize: 2,
		Params: map[string]interface{}{
			"mode":   "fast",
			"inputs": []interface{}{"stale"},
			"scale":  1,
		},
	}

	tasks := MakeBatches(fn, inputs(2), map[string]interface{}{"scale": 2})

	require.Len(t, tasks, 1)
	params := tasks[0].Data.Params
	assert.Equal(t, "fast", params["mode"], "function defaults carried")
	assert.Equal(t, 2, params["scale"], "call params win")
	assert.NotContains(t, params, "inputs", "inputs travel in TaskData only")
}

func TestMakeBatchesBatchSizeOverride(t *testing.T) {
	fn := &types.Function{UID: "f-1", BatchSize: 2}

	tasks := MakeBatches(fn, inputs(6), map[string]interface{}{"batch_size": float64(3)})
	require.Len(t, tasks, 2, "call params override the stored batch size")
	assert.Equal(t, 3, tasks[0].Data.BatchSize)

	tasks = MakeBatches(fn, inputs(6), map[string]interface{}{"batch_size": "bogus"})
	require.Len(t, tasks, 3, "non-numeric override falls back to the stored default")
}

type fakeStarter struct {
	gotUID   string
	gotTasks []*types.Task
	fn       *types.Function
	err      error
}

func (f *fakeStarter) StartFunction(functionUID string, tasks []*types.Task) (*types.Function, error) {
	f.gotUID = functionUID
	f.gotTasks = tasks
	if f.err != nil {
		return nil, f.err
	}
	return f.fn, nil
}

func TestStart(t *testing.T) {
	fn := &types.Function{UID: "f-1", BatchSize: 2, Status: types.FunctionStatusReady}
	starter := &fakeStarter{fn: fn}

	b := New(starter)
	started, tasks, err := b.Start(fn, inputs(5), nil)
	require.NoError(t, err)

	assert.Equal(t, "f-1", starter.gotUID)
	assert.Len(t, starter.gotTasks, 3)
	assert.Equal(t, fn, started)
	assert.Len(t, tasks, 3)
}

func TestStartPropagatesError(t *testing.T) {
	starter := &fakeStarter{err: assert.AnError}

	b := New(starter)
	_, _, err := b.Start(&types.Function{UID: "f-1", BatchSize: 1}, inputs(1), nil)
	assert.ErrorIs(t, err, assert.AnError)
}
