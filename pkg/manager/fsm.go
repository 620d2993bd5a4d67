package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// EngineFSM implements the Raft finite state machine for the engine's state.
// Every mutation flows through Apply so replicas converge on the same
// sequence of store transactions.
type EngineFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewEngineFSM creates a new FSM instance
func NewEngineFSM(store storage.Store) *EngineFSM {
	return &EngineFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// initGridCmd carries the worker set for grid initialization
type initGridCmd struct {
	GridUID string          `json:"grid_uid"`
	Workers []*types.Worker `json:"workers"`
}

// gridErrorCmd marks a grid failed during provisioning
type gridErrorCmd struct {
	GridUID string `json:"grid_uid"`
	Reason  string `json:"reason"`
}

// startFunctionCmd carries the task batch for a function start
type startFunctionCmd struct {
	FunctionUID string        `json:"function_uid"`
	Tasks       []*types.Task `json:"tasks"`
}

// reportTaskCmd carries a task's terminal outcome
type reportTaskCmd struct {
	TaskUID   string                 `json:"task_uid"`
	Success   bool                   `json:"success"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	WorkerUID string                 `json:"worker_uid,omitempty"`
}

// Apply applies a Raft log entry to the FSM. The return value is either an
// error or the operation's result struct; it reaches the caller in-process
// through future.Response() on the leader.
func (f *EngineFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Grid operations
	case "create_grid":
		var grid types.Grid
		if err := json.Unmarshal(cmd.Data, &grid); err != nil {
			return err
		}
		return f.store.CreateGrid(&grid)

	case "init_grid":
		var c initGridCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.store.InitializeGrid(c.GridUID, c.Workers)

	case "activate_grid":
		var gridUID string
		if err := json.Unmarshal(cmd.Data, &gridUID); err != nil {
			return err
		}
		return respond(f.store.ActivateGrid(gridUID))

	case "pause_grid":
		var gridUID string
		if err := json.Unmarshal(cmd.Data, &gridUID); err != nil {
			return err
		}
		return respond(f.store.PauseGrid(gridUID))

	case "terminate_grid":
		var gridUID string
		if err := json.Unmarshal(cmd.Data, &gridUID); err != nil {
			return err
		}
		return respond(f.store.TerminateGrid(gridUID))

	case "grid_error":
		var c gridErrorCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		grid, err := f.store.GetGrid(c.GridUID)
		if err != nil {
			return err
		}
		if !grid.Status.CanTransition(types.GridStatusError) {
			return nil // already terminal, nothing to mark
		}
		grid.Status = types.GridStatusError
		grid.UpdatedAt = time.Now()
		return f.store.UpdateGrid(grid)

	case "recompute_grid":
		var gridUID string
		if err := json.Unmarshal(cmd.Data, &gridUID); err != nil {
			return err
		}
		return respond(f.store.RecomputeGridUtilization(gridUID))

	// Worker operations
	case "create_worker":
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.CreateWorker(&worker)

	case "worker_online":
		var workerUID string
		if err := json.Unmarshal(cmd.Data, &workerUID); err != nil {
			return err
		}
		return respond(f.store.SetWorkerOnline(workerUID))

	case "worker_offline":
		var workerUID string
		if err := json.Unmarshal(cmd.Data, &workerUID); err != nil {
			return err
		}
		return respond(f.store.SetWorkerOffline(workerUID))

	case "worker_heartbeat":
		var workerUID string
		if err := json.Unmarshal(cmd.Data, &workerUID); err != nil {
			return err
		}
		return f.store.HeartbeatWorker(workerUID)

	case "delete_worker":
		var workerUID string
		if err := json.Unmarshal(cmd.Data, &workerUID); err != nil {
			return err
		}
		return respond(f.store.DeleteWorker(workerUID))

	// Function operations
	case "create_function":
		var fn types.Function
		if err := json.Unmarshal(cmd.Data, &fn); err != nil {
			return err
		}
		return f.store.CreateFunction(&fn)

	case "update_function":
		var fn types.Function
		if err := json.Unmarshal(cmd.Data, &fn); err != nil {
			return err
		}
		return f.store.UpdateFunction(&fn)

	case "delete_function":
		var functionUID string
		if err := json.Unmarshal(cmd.Data, &functionUID); err != nil {
			return err
		}
		return f.store.DeleteFunction(functionUID)

	case "start_function":
		var c startFunctionCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return respond(f.store.StartFunction(c.FunctionUID, c.Tasks))

	case "cancel_function":
		var functionUID string
		if err := json.Unmarshal(cmd.Data, &functionUID); err != nil {
			return err
		}
		return respond(f.store.CancelFunction(functionUID))

	// Task operations
	case "claim_task":
		var workerUID string
		if err := json.Unmarshal(cmd.Data, &workerUID); err != nil {
			return err
		}
		return respond(f.store.ClaimTask(workerUID))

	case "report_task":
		var c reportTaskCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return respond(f.store.ReportTask(c.TaskUID, c.Success, c.Result, c.Error, c.WorkerUID))

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// respond collapses a (result, error) pair into a single Apply return value
func respond(result interface{}, err error) interface{} {
	if err != nil {
		return err
	}
	return result
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *EngineFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	grids, err := f.store.ListGrids()
	if err != nil {
		return nil, fmt.Errorf("failed to list grids: %v", err)
	}

	workers, err := f.store.ListWorkers(storage.WorkerFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %v", err)
	}

	functions, err := f.store.ListFunctions()
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %v", err)
	}

	tasks, err := f.store.ListTasks(storage.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %v", err)
	}

	snapshot := &EngineSnapshot{
		Grids:     grids,
		Workers:   workers,
		Functions: functions,
		Tasks:     tasks,
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot
func (f *EngineFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot EngineSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, grid := range snapshot.Grids {
		if err := f.store.CreateGrid(grid); err != nil {
			return fmt.Errorf("failed to restore grid: %v", err)
		}
	}

	for _, worker := range snapshot.Workers {
		if err := f.store.UpdateWorker(worker); err != nil {
			return fmt.Errorf("failed to restore worker: %v", err)
		}
	}

	for _, fn := range snapshot.Functions {
		if err := f.store.CreateFunction(fn); err != nil {
			return fmt.Errorf("failed to restore function: %v", err)
		}
	}

	for _, task := range snapshot.Tasks {
		if err := f.store.UpdateTask(task); err != nil {
			return fmt.Errorf("failed to restore task: %v", err)
		}
	}

	return nil
}

// EngineSnapshot represents a point-in-time snapshot of engine state
type EngineSnapshot struct {
	Grids     []*types.Grid
	Workers   []*types.Worker
	Functions []*types.Function
	Tasks     []*types.Task
}

// Persist writes the snapshot to the given SnapshotSink
func (s *EngineSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *EngineSnapshot) Release() {}
