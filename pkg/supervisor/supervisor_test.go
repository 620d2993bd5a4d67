package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/events"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

type fakeCore struct {
	leader    bool
	workers   []*types.Worker
	tasks     []*types.Task
	functions map[string]*types.Function

	demoted  []string
	failed   []string
	failMsgs []string
}

func (f *fakeCore) IsLeader() bool { return f.leader }

func (f *fakeCore) ListWorkers(filter storage.WorkerFilter) ([]*types.Worker, error) {
	return f.workers, nil
}

func (f *fakeCore) ListTasks(filter storage.TaskFilter) ([]*types.Task, error) {
	var out []*types.Task
	for _, task := range f.tasks {
		if filter.Status == "" || task.Status == filter.Status {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeCore) GetFunction(uid string) (*types.Function, error) {
	fn, ok := f.functions[uid]
	if !ok {
		return nil, assert.AnError
	}
	return fn, nil
}

func (f *fakeCore) SetWorkerOffline(workerUID string) (*types.Worker, error) {
	f.demoted = append(f.demoted, workerUID)
	return &types.Worker{UID: workerUID, Status: types.WorkerStatusOffline}, nil
}

func (f *fakeCore) ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*storage.ReportResult, error) {
	f.failed = append(f.failed, taskUID)
	f.failMsgs = append(f.failMsgs, errMsg)
	return &storage.ReportResult{Task: &types.Task{UID: taskUID}}, nil
}

func (f *fakeCore) PublishEvent(event *events.Event) {}

func TestSweepDemotesStaleWorkers(t *testing.T) {
	now := time.Now()
	core := &fakeCore{
		leader: true,
		workers: []*types.Worker{
			{UID: "w-fresh", Status: types.WorkerStatusOnline, LastHeartbeat: now},
			{UID: "w-stale", Status: types.WorkerStatusOnline, LastHeartbeat: now.Add(-2 * time.Minute)},
			{UID: "w-busy-stale", Status: types.WorkerStatusBusy, LastHeartbeat: now.Add(-2 * time.Minute)},
			{UID: "w-offline", Status: types.WorkerStatusOffline, LastHeartbeat: now.Add(-time.Hour)},
		},
	}

	s := New(core, Config{HeartbeatDeadline: 30 * time.Second})
	s.Sweep()

	assert.ElementsMatch(t, []string{"w-stale", "w-busy-stale"}, core.demoted,
		"only stale online/busy workers are demoted")
}

func TestSweepFailsTimedOutTasks(t *testing.T) {
	now := time.Now()
	core := &fakeCore{
		leader: true,
		functions: map[string]*types.Function{
			"f-timed":    {UID: "f-timed", Resources: types.ResourceRequirements{TimeoutSeconds: 60}},
			"f-no-limit": {UID: "f-no-limit", Resources: types.ResourceRequirements{TimeoutSeconds: 0}},
		},
		tasks: []*types.Task{
			{UID: "t-over", FunctionUID: "f-timed", WorkerUID: "w-1",
				Status: types.TaskStatusRunning, StartedAt: now.Add(-5 * time.Minute)},
			{UID: "t-within", FunctionUID: "f-timed", WorkerUID: "w-1",
				Status: types.TaskStatusRunning, StartedAt: now.Add(-10 * time.Second)},
			{UID: "t-unlimited", FunctionUID: "f-no-limit", WorkerUID: "w-2",
				Status: types.TaskStatusRunning, StartedAt: now.Add(-24 * time.Hour)},
			{UID: "t-done", FunctionUID: "f-timed",
				Status: types.TaskStatusCompleted, StartedAt: now.Add(-time.Hour)},
		},
	}

	s := New(core, Config{})
	s.Sweep()

	require.Equal(t, []string{"t-over"}, core.failed, "only the overdue running task fails")
	assert.Contains(t, core.failMsgs[0], "60s timeout")
}

func TestFollowerDoesNotSweep(t *testing.T) {
	core := &fakeCore{
		leader: false,
		workers: []*types.Worker{
			{UID: "w-stale", Status: types.WorkerStatusOnline, LastHeartbeat: time.Now().Add(-time.Hour)},
		},
	}

	s := New(core, Config{Interval: 10 * time.Millisecond})
	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, core.demoted, "followers never mutate")
}
