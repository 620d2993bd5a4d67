package manager

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/batcher"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// recordingDeployer captures deploy dispatch calls
type recordingDeployer struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (d *recordingDeployer) EnqueueCreate(worker *types.Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, worker.Name)
}

func (d *recordingDeployer) EnqueueDelete(worker *types.Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, worker.Name)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mgr, err := NewManager(&Config{
		NodeID:   "test-control",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())

	// Wait for leadership election (up to 5 seconds)
	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !mgr.IsLeader() {
		t.Fatal("manager failed to become leader")
	}

	return mgr
}

func TestGridProvisioning(t *testing.T) {
	mgr := newTestManager(t)
	deployer := &recordingDeployer{}
	mgr.SetDeployer(deployer)

	grid := &types.Grid{Name: "render", Length: 2, Width: 2}
	require.NoError(t, mgr.CreateGrid(grid))
	require.NotEmpty(t, grid.UID)

	created, err := mgr.GetGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusCreating, created.Status)

	// Run provisioning synchronously for determinism
	mgr.ProvisionGrid(grid.UID)

	provisioned, err := mgr.GetGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusActive, provisioned.Status)
	assert.Equal(t, 4, provisioned.WorkerCount)
	assert.Equal(t, 4, provisioned.FreeSlots)

	workers, err := mgr.ListWorkers(storage.WorkerFilter{GridUID: grid.UID})
	require.NoError(t, err)
	require.Len(t, workers, 4)

	names := make(map[string]bool)
	cpu, memoryMB, _ := types.DefaultWorkerProfile()
	for _, worker := range workers {
		names[worker.Name] = true
		assert.Equal(t, types.WorkerStatusOffline, worker.Status)
		assert.Equal(t, cpu, worker.CPUTotal)
		assert.Equal(t, memoryMB, worker.MemoryTotalMB)
		assert.Equal(t, "standard", worker.Spec["node_type"])
	}
	for i := 0; i < 4; i++ {
		assert.True(t, names[fmt.Sprintf("render-worker-%d", i)], "worker %d named after grid", i)
	}

	deployer.mu.Lock()
	assert.Len(t, deployer.created, 4)
	deployer.mu.Unlock()
}

func TestFunctionExecutionEndToEnd(t *testing.T) {
	mgr := newTestManager(t)

	grid := &types.Grid{Name: "compute", Length: 1, Width: 2}
	require.NoError(t, mgr.CreateGrid(grid))
	mgr.ProvisionGrid(grid.UID)

	workers, err := mgr.ListWorkers(storage.WorkerFilter{GridUID: grid.UID})
	require.NoError(t, err)
	require.Len(t, workers, 2)

	for _, worker := range workers {
		_, err := mgr.SetWorkerOnline(worker.UID)
		require.NoError(t, err)
	}

	fn := &types.Function{
		Name:        "sum",
		GridUID:     grid.UID,
		ScriptPath:  "scripts/sum.py",
		DockerImage: "python:3.11-slim",
		Resources:   types.ResourceRequirements{CPU: 1.0, MemoryMB: 512},
		BatchSize:   2,
	}
	require.NoError(t, mgr.CreateFunction(fn))

	got, err := mgr.GetFunction(fn.UID)
	require.NoError(t, err)
	assert.Equal(t, types.FunctionStatusReady, got.Status)

	now := time.Now()
	tasks := []*types.Task{
		{UID: "t-0", FunctionUID: fn.UID, Status: types.TaskStatusPending,
			Data: types.TaskData{BatchIndex: 0, Inputs: []interface{}{1.0, 2.0}}, CreatedAt: now},
		{UID: "t-1", FunctionUID: fn.UID, Status: types.TaskStatusPending,
			Data: types.TaskData{BatchIndex: 1, Inputs: []interface{}{3.0}}, CreatedAt: now},
	}
	started, err := mgr.StartFunction(fn.UID, tasks)
	require.NoError(t, err)
	assert.Equal(t, types.FunctionStatusRunning, started.Status)

	// Both workers poll; each wins a distinct task
	first, err := mgr.ClaimTask(workers[0].UID)
	require.NoError(t, err)
	second, err := mgr.ClaimTask(workers[1].UID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Task.UID, second.Task.UID)
	assert.Equal(t, fn.ScriptPath, first.Assignment.ScriptPath)

	// Queue drained for a third poll
	_, err = mgr.ClaimTask(workers[0].UID)
	assert.True(t, errdefs.IsNoTask(err))

	grid2, err := mgr.GetGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, grid2.BusyWorkers)
	assert.Equal(t, 100.0, grid2.Utilization)

	res, err := mgr.ReportTask(first.Task.UID, true, map[string]interface{}{"sum": 3.0}, "", workers[0].UID)
	require.NoError(t, err)
	assert.False(t, res.FunctionDone)

	res, err = mgr.ReportTask(second.Task.UID, true, map[string]interface{}{"sum": 3.0}, "", workers[1].UID)
	require.NoError(t, err)
	assert.True(t, res.FunctionDone)
	assert.Equal(t, types.FunctionStatusCompleted, res.FunctionStatus)

	final, err := mgr.GetGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, 0, final.BusyWorkers)
	assert.Equal(t, 0.0, final.Utilization)
}

func TestPartialGridUtilization(t *testing.T) {
	mgr := newTestManager(t)

	grid := &types.Grid{Name: "render", Length: 2, Width: 2}
	require.NoError(t, mgr.CreateGrid(grid))
	mgr.ProvisionGrid(grid.UID)

	// Pause and reactivate: bulk activation brings every worker online
	_, err := mgr.PauseGrid(grid.UID)
	require.NoError(t, err)
	activated, err := mgr.ActivateGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusActive, activated.Status)

	online, err := mgr.ListWorkers(storage.WorkerFilter{GridUID: grid.UID, Status: types.WorkerStatusOnline})
	require.NoError(t, err)
	require.Len(t, online, 4)

	fn := &types.Function{
		Name:      "frames",
		GridUID:   grid.UID,
		BatchSize: 2,
		Resources: types.ResourceRequirements{CPU: 1.0, MemoryMB: 512},
	}
	require.NoError(t, mgr.CreateFunction(fn))

	tasks := batcher.MakeBatches(fn, []interface{}{"a", "b", "c"}, nil)
	require.Len(t, tasks, 2, "three inputs at batch size two")
	_, err = mgr.StartFunction(fn.UID, tasks)
	require.NoError(t, err)

	_, err = mgr.ClaimTask(online[0].UID)
	require.NoError(t, err)
	_, err = mgr.ClaimTask(online[1].UID)
	require.NoError(t, err)

	// Two of four workers busy
	partial, err := mgr.GetGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, partial.BusyWorkers)
	assert.Equal(t, 2, partial.FreeSlots)
	assert.Equal(t, 50.0, partial.Utilization)
}

func TestGridLifecycleThroughRaft(t *testing.T) {
	mgr := newTestManager(t)
	deployer := &recordingDeployer{}
	mgr.SetDeployer(deployer)

	grid := &types.Grid{Name: "batch", Length: 1, Width: 1}
	require.NoError(t, mgr.CreateGrid(grid))
	mgr.ProvisionGrid(grid.UID)

	paused, err := mgr.PauseGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusPaused, paused.Status)

	// Pausing a paused grid is rejected with the sentinel intact
	_, err = mgr.PauseGrid(grid.UID)
	assert.True(t, errdefs.IsInvalidState(err))

	activated, err := mgr.ActivateGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusActive, activated.Status)

	terminated, err := mgr.TerminateGrid(grid.UID)
	require.NoError(t, err)
	assert.Equal(t, types.GridStatusTerminated, terminated.Status)

	deployer.mu.Lock()
	assert.Len(t, deployer.deleted, 1, "terminate tears down worker deployments")
	deployer.mu.Unlock()
}

func TestCancelFunctionThroughRaft(t *testing.T) {
	mgr := newTestManager(t)

	grid := &types.Grid{Name: "cancel", Length: 1, Width: 1}
	require.NoError(t, mgr.CreateGrid(grid))
	mgr.ProvisionGrid(grid.UID)

	fn := &types.Function{
		Name:      "noop",
		GridUID:   grid.UID,
		Resources: types.ResourceRequirements{CPU: 1.0, MemoryMB: 256},
	}
	require.NoError(t, mgr.CreateFunction(fn))

	tasks := []*types.Task{
		{UID: "t-0", FunctionUID: fn.UID, Status: types.TaskStatusPending, CreatedAt: time.Now()},
		{UID: "t-1", FunctionUID: fn.UID, Status: types.TaskStatusPending, CreatedAt: time.Now()},
	}
	_, err := mgr.StartFunction(fn.UID, tasks)
	require.NoError(t, err)

	res, err := mgr.CancelFunction(fn.UID)
	require.NoError(t, err)
	assert.Equal(t, types.FunctionStatusCancelled, res.Function.Status)
	assert.Len(t, res.CancelledTasks, 2)

	// Deleting after cancellation cascades to tasks
	require.NoError(t, mgr.DeleteFunction(fn.UID))
	remaining, err := mgr.ListTasks(storage.TaskFilter{FunctionUID: fn.UID})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestJoinTokens(t *testing.T) {
	mgr := newTestManager(t)

	token, err := mgr.GenerateJoinToken("worker")
	require.NoError(t, err)

	role, err := mgr.ValidateJoinToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "worker", role)

	_, err = mgr.ValidateJoinToken("bogus")
	assert.Error(t, err)
}
