package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/ledger"
	"github.com/vinci4d/engine/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketGrids     = []byte("grids")
	bucketWorkers   = []byte("workers")
	bucketFunctions = []byte("functions")
	bucketTasks     = []byte("tasks")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "engine.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketGrids,
			bucketWorkers,
			bucketFunctions,
			bucketTasks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- In-transaction helpers ---

func getEntity(tx *bolt.Tx, bucket []byte, uid string, out interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(uid))
	if data == nil {
		return errdefs.NotFound(string(bucket[:len(bucket)-1]), uid)
	}
	return json.Unmarshal(data, out)
}

func putEntity(tx *bolt.Tx, bucket []byte, uid string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(uid), data)
}

func getGridTx(tx *bolt.Tx, uid string) (*types.Grid, error) {
	var grid types.Grid
	if err := getEntity(tx, bucketGrids, uid, &grid); err != nil {
		return nil, err
	}
	return &grid, nil
}

func getWorkerTx(tx *bolt.Tx, uid string) (*types.Worker, error) {
	var worker types.Worker
	if err := getEntity(tx, bucketWorkers, uid, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

func getFunctionTx(tx *bolt.Tx, uid string) (*types.Function, error) {
	var fn types.Function
	if err := getEntity(tx, bucketFunctions, uid, &fn); err != nil {
		return nil, err
	}
	return &fn, nil
}

func getTaskTx(tx *bolt.Tx, uid string) (*types.Task, error) {
	var task types.Task
	if err := getEntity(tx, bucketTasks, uid, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func gridWorkersTx(tx *bolt.Tx, gridUID string) ([]*types.Worker, error) {
	var workers []*types.Worker
	err := tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
		var worker types.Worker
		if err := json.Unmarshal(v, &worker); err != nil {
			return err
		}
		if worker.GridUID == gridUID {
			workers = append(workers, &worker)
		}
		return nil
	})
	return workers, err
}

func functionTasksTx(tx *bolt.Tx, functionUID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		if task.FunctionUID == functionUID {
			tasks = append(tasks, &task)
		}
		return nil
	})
	return tasks, err
}

// recomputeGridTx rederives a grid's aggregates from its current worker set.
// Zero-worker grids get zeroed aggregates so the free_slots invariant holds.
func recomputeGridTx(tx *bolt.Tx, gridUID string) (*types.Grid, error) {
	grid, err := getGridTx(tx, gridUID)
	if err != nil {
		return nil, err
	}

	workers, err := gridWorkersTx(tx, gridUID)
	if err != nil {
		return nil, err
	}

	total := len(workers)
	busy := 0
	for _, w := range workers {
		if w.Status == types.WorkerStatusBusy {
			busy++
		}
	}

	grid.WorkerCount = total
	grid.BusyWorkers = busy
	grid.FreeSlots = total - busy
	if total == 0 {
		grid.Utilization = 0
	} else {
		grid.Utilization = float64(busy) / float64(total) * 100
	}
	grid.UpdatedAt = time.Now()

	if err := putEntity(tx, bucketGrids, grid.UID, grid); err != nil {
		return nil, err
	}
	return grid, nil
}

// --- Grid operations ---

func (s *BoltStore) CreateGrid(grid *types.Grid) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntity(tx, bucketGrids, grid.UID, grid)
	})
}

func (s *BoltStore) GetGrid(uid string) (*types.Grid, error) {
	var grid *types.Grid
	err := s.db.View(func(tx *bolt.Tx) error {
		g, err := getGridTx(tx, uid)
		grid = g
		return err
	})
	return grid, err
}

func (s *BoltStore) ListGrids() ([]*types.Grid, error) {
	var grids []*types.Grid
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrids).ForEach(func(k, v []byte) error {
			var grid types.Grid
			if err := json.Unmarshal(v, &grid); err != nil {
				return err
			}
			grids = append(grids, &grid)
			return nil
		})
	})
	return grids, err
}

func (s *BoltStore) UpdateGrid(grid *types.Grid) error {
	return s.CreateGrid(grid) // Same as create (upsert)
}

// InitializeGrid inserts the initial worker set and flips the grid to active.
// Legal only while the grid is still creating. The whole worker set commits
// as one transaction.
func (s *BoltStore) InitializeGrid(gridUID string, workers []*types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		grid, err := getGridTx(tx, gridUID)
		if err != nil {
			return err
		}
		if grid.Status != types.GridStatusCreating {
			return errdefs.InvalidState("grid %s cannot be initialized from %s", gridUID, grid.Status)
		}

		for _, worker := range workers {
			if err := checkWorkerNameTx(tx, worker.Name); err != nil {
				return err
			}
			if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
				return err
			}
		}

		grid.Status = types.GridStatusActive
		grid.UpdatedAt = time.Now()
		if err := putEntity(tx, bucketGrids, grid.UID, grid); err != nil {
			return err
		}

		_, err = recomputeGridTx(tx, gridUID)
		return err
	})
}

// ActivateGrid brings a paused or errored grid back to active and flips its
// offline workers online with a fresh heartbeat stamp.
func (s *BoltStore) ActivateGrid(gridUID string) (*types.Grid, error) {
	var out *types.Grid
	err := s.db.Update(func(tx *bolt.Tx) error {
		grid, err := getGridTx(tx, gridUID)
		if err != nil {
			return err
		}
		if !grid.Status.CanTransition(types.GridStatusActive) {
			return errdefs.InvalidState("grid %s cannot be activated from %s", gridUID, grid.Status)
		}

		now := time.Now()
		workers, err := gridWorkersTx(tx, gridUID)
		if err != nil {
			return err
		}
		for _, worker := range workers {
			if worker.Status != types.WorkerStatusOffline {
				continue
			}
			worker.Status = types.WorkerStatusOnline
			worker.LastHeartbeat = now
			worker.UpdatedAt = now
			if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
				return err
			}
		}

		grid.Status = types.GridStatusActive
		grid.UpdatedAt = now
		if err := putEntity(tx, bucketGrids, grid.UID, grid); err != nil {
			return err
		}

		out, err = recomputeGridTx(tx, gridUID)
		return err
	})
	return out, err
}

// PauseGrid takes an active grid to paused and its online/busy workers
// offline. Reservations and running tasks are left alone; pausing is a soft
// drain signal, not a hard stop.
func (s *BoltStore) PauseGrid(gridUID string) (*types.Grid, error) {
	var out *types.Grid
	err := s.db.Update(func(tx *bolt.Tx) error {
		grid, err := getGridTx(tx, gridUID)
		if err != nil {
			return err
		}
		if grid.Status != types.GridStatusActive {
			return errdefs.InvalidState("grid %s cannot be paused from %s", gridUID, grid.Status)
		}

		now := time.Now()
		workers, err := gridWorkersTx(tx, gridUID)
		if err != nil {
			return err
		}
		for _, worker := range workers {
			if worker.Status != types.WorkerStatusOnline && worker.Status != types.WorkerStatusBusy {
				continue
			}
			worker.Status = types.WorkerStatusOffline
			worker.UpdatedAt = now
			if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
				return err
			}
		}

		grid.Status = types.GridStatusPaused
		grid.UpdatedAt = now
		if err := putEntity(tx, bucketGrids, grid.UID, grid); err != nil {
			return err
		}

		out, err = recomputeGridTx(tx, gridUID)
		return err
	})
	return out, err
}

// TerminateGrid deletes every worker in the grid and marks it terminated.
// Returns the deleted workers so the caller can tear down their backing
// deployments.
func (s *BoltStore) TerminateGrid(gridUID string) (*TerminateResult, error) {
	var res *TerminateResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		grid, err := getGridTx(tx, gridUID)
		if err != nil {
			return err
		}
		if grid.Status == types.GridStatusTerminated {
			return errdefs.InvalidState("grid %s is already terminated", gridUID)
		}

		workers, err := gridWorkersTx(tx, gridUID)
		if err != nil {
			return err
		}
		for _, worker := range workers {
			if err := clearTaskWorkerRefsTx(tx, worker.UID); err != nil {
				return err
			}
			if err := tx.Bucket(bucketWorkers).Delete([]byte(worker.UID)); err != nil {
				return err
			}
		}

		grid.Status = types.GridStatusTerminated
		grid.UpdatedAt = time.Now()
		if err := putEntity(tx, bucketGrids, grid.UID, grid); err != nil {
			return err
		}

		updated, err := recomputeGridTx(tx, gridUID)
		if err != nil {
			return err
		}

		res = &TerminateResult{Grid: updated, DeletedWorkers: workers}
		return nil
	})
	return res, err
}

func (s *BoltStore) RecomputeGridUtilization(gridUID string) (*types.Grid, error) {
	var grid *types.Grid
	err := s.db.Update(func(tx *bolt.Tx) error {
		g, err := recomputeGridTx(tx, gridUID)
		grid = g
		return err
	})
	return grid, err
}

// --- Worker operations ---

func checkWorkerNameTx(tx *bolt.Tx, name string) error {
	return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
		var existing types.Worker
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if existing.Name == name {
			return errdefs.InvalidState("worker name %q already exists", name)
		}
		return nil
	})
}

// clearTaskWorkerRefsTx nulls the worker back-reference on tasks that point
// at a worker being deleted.
func clearTaskWorkerRefsTx(tx *bolt.Tx, workerUID string) error {
	b := tx.Bucket(bucketTasks)
	var stale []*types.Task
	err := b.ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		if task.WorkerUID == workerUID {
			stale = append(stale, &task)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, task := range stale {
		task.WorkerUID = ""
		task.UpdatedAt = time.Now()
		if err := putEntity(tx, bucketTasks, task.UID, task); err != nil {
			return err
		}
	}
	return nil
}

// CreateWorker inserts a worker, enforcing name uniqueness in-transaction
func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := checkWorkerNameTx(tx, worker.Name); err != nil {
			return err
		}
		if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
			return err
		}
		if worker.GridUID != "" {
			if _, err := recomputeGridTx(tx, worker.GridUID); err != nil && !errdefs.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetWorker(uid string) (*types.Worker, error) {
	var worker *types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		w, err := getWorkerTx(tx, uid)
		worker = w
		return err
	})
	return worker, err
}

func (s *BoltStore) ListWorkers(filter WorkerFilter) ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			if filter.GridUID != "" && worker.GridUID != filter.GridUID {
				return nil
			}
			if filter.Status != "" && worker.Status != filter.Status {
				return nil
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntity(tx, bucketWorkers, worker.UID, worker)
	})
}

// SetWorkerOnline flips the worker online and stamps its heartbeat
func (s *BoltStore) SetWorkerOnline(uid string) (*types.Worker, error) {
	return s.setWorkerStatus(uid, types.WorkerStatusOnline, true)
}

// SetWorkerOffline flips the worker offline
func (s *BoltStore) SetWorkerOffline(uid string) (*types.Worker, error) {
	return s.setWorkerStatus(uid, types.WorkerStatusOffline, false)
}

func (s *BoltStore) setWorkerStatus(uid string, status types.WorkerStatus, stampHeartbeat bool) (*types.Worker, error) {
	var out *types.Worker
	err := s.db.Update(func(tx *bolt.Tx) error {
		worker, err := getWorkerTx(tx, uid)
		if err != nil {
			return err
		}

		now := time.Now()
		worker.Status = status
		worker.UpdatedAt = now
		if stampHeartbeat {
			worker.LastHeartbeat = now
		}
		if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
			return err
		}
		out = worker

		_, err = recomputeGridTx(tx, worker.GridUID)
		return err
	})
	return out, err
}

// HeartbeatWorker refreshes the liveness stamp without touching status
func (s *BoltStore) HeartbeatWorker(uid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		worker, err := getWorkerTx(tx, uid)
		if err != nil {
			return err
		}
		worker.LastHeartbeat = time.Now()
		worker.UpdatedAt = worker.LastHeartbeat
		return putEntity(tx, bucketWorkers, worker.UID, worker)
	})
}

// DeleteWorker removes a worker. Deletion is refused while the worker holds
// an active task reservation; tasks that reference it historically get their
// back-reference cleared.
func (s *BoltStore) DeleteWorker(uid string) (*types.Worker, error) {
	var out *types.Worker
	err := s.db.Update(func(tx *bolt.Tx) error {
		worker, err := getWorkerTx(tx, uid)
		if err != nil {
			return err
		}
		if ledger.Outstanding(worker) > 0 {
			return errdefs.InvalidState("worker %s holds %d active reservations", uid, ledger.Outstanding(worker))
		}

		if err := clearTaskWorkerRefsTx(tx, uid); err != nil {
			return err
		}
		if err := tx.Bucket(bucketWorkers).Delete([]byte(uid)); err != nil {
			return err
		}
		out = worker

		_, err = recomputeGridTx(tx, worker.GridUID)
		return err
	})
	return out, err
}

// --- Function operations ---

func (s *BoltStore) CreateFunction(fn *types.Function) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntity(tx, bucketFunctions, fn.UID, fn)
	})
}

func (s *BoltStore) GetFunction(uid string) (*types.Function, error) {
	var fn *types.Function
	err := s.db.View(func(tx *bolt.Tx) error {
		f, err := getFunctionTx(tx, uid)
		fn = f
		return err
	})
	return fn, err
}

func (s *BoltStore) ListFunctions() ([]*types.Function, error) {
	var fns []*types.Function
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFunctions).ForEach(func(k, v []byte) error {
			var fn types.Function
			if err := json.Unmarshal(v, &fn); err != nil {
				return err
			}
			fns = append(fns, &fn)
			return nil
		})
	})
	return fns, err
}

func (s *BoltStore) UpdateFunction(fn *types.Function) error {
	return s.CreateFunction(fn)
}

// DeleteFunction removes a function and cascades to its tasks. Refused while
// the function is running.
func (s *BoltStore) DeleteFunction(uid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		fn, err := getFunctionTx(tx, uid)
		if err != nil {
			return err
		}
		if fn.Status == types.FunctionStatusRunning {
			return errdefs.InvalidState("function %s cannot be deleted while running", uid)
		}

		tasks, err := functionTasksTx(tx, uid)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := tx.Bucket(bucketTasks).Delete([]byte(task.UID)); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketFunctions).Delete([]byte(uid))
	})
}

// StartFunction transitions the function to running and inserts its task
// batch as a single unit. A failure anywhere rolls the whole start back.
func (s *BoltStore) StartFunction(functionUID string, tasks []*types.Task) (*types.Function, error) {
	var out *types.Function
	err := s.db.Update(func(tx *bolt.Tx) error {
		fn, err := getFunctionTx(tx, functionUID)
		if err != nil {
			return err
		}
		if !fn.Status.Startable() {
			return errdefs.InvalidState("function %s is not startable from %s", functionUID, fn.Status)
		}

		now := time.Now()
		fn.Status = types.FunctionStatusRunning
		fn.StartedAt = now
		fn.UpdatedAt = now
		if err := putEntity(tx, bucketFunctions, fn.UID, fn); err != nil {
			return err
		}

		for _, task := range tasks {
			if err := putEntity(tx, bucketTasks, task.UID, task); err != nil {
				return err
			}
		}

		out = fn
		return nil
	})
	return out, err
}

// CancelFunction cancels a pending or running function together with its
// non-terminal tasks, releasing any reservations the running ones held.
func (s *BoltStore) CancelFunction(functionUID string) (*CancelResult, error) {
	var res *CancelResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		fn, err := getFunctionTx(tx, functionUID)
		if err != nil {
			return err
		}
		if fn.Status != types.FunctionStatusPending && fn.Status != types.FunctionStatusRunning {
			return errdefs.InvalidState("function %s cannot be cancelled from %s", functionUID, fn.Status)
		}

		now := time.Now()
		fn.Status = types.FunctionStatusCancelled
		fn.EndedAt = now
		fn.UpdatedAt = now
		if err := putEntity(tx, bucketFunctions, fn.UID, fn); err != nil {
			return err
		}

		tasks, err := functionTasksTx(tx, functionUID)
		if err != nil {
			return err
		}

		var cancelled []string
		for _, task := range tasks {
			if task.Status != types.TaskStatusPending && task.Status != types.TaskStatusRunning {
				continue
			}
			if task.Status == types.TaskStatusRunning && task.WorkerUID != "" {
				if err := releaseWorkerTx(tx, task.WorkerUID, task.UID); err != nil {
					return err
				}
			}
			task.Status = types.TaskStatusCancelled
			task.EndedAt = now
			task.UpdatedAt = now
			if err := putEntity(tx, bucketTasks, task.UID, task); err != nil {
				return err
			}
			cancelled = append(cancelled, task.UID)
		}

		if _, err := recomputeGridTx(tx, fn.GridUID); err != nil && !errdefs.IsNotFound(err) {
			return err
		}

		res = &CancelResult{Function: fn, CancelledTasks: cancelled, GridUID: fn.GridUID}
		return nil
	})
	return res, err
}

// releaseWorkerTx releases one task's reservation on a worker and persists
// the updated record. Missing workers and missing reservations are ignored;
// release must stay idempotent under retried reports.
func releaseWorkerTx(tx *bolt.Tx, workerUID, taskUID string) error {
	worker, err := getWorkerTx(tx, workerUID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !ledger.Release(worker, taskUID) {
		return nil
	}
	worker.UpdatedAt = time.Now()
	return putEntity(tx, bucketWorkers, worker.UID, worker)
}

// --- Task operations ---

func (s *BoltStore) GetTask(uid string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := getTaskTx(tx, uid)
		task = t
		return err
	})
	return task, err
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEntity(tx, bucketTasks, task.UID, task)
	})
}

func (s *BoltStore) ListTasks(filter TaskFilter) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if filter.FunctionUID != "" && task.FunctionUID != filter.FunctionUID {
				return nil
			}
			if filter.WorkerUID != "" && task.WorkerUID != filter.WorkerUID {
				return nil
			}
			if filter.Status != "" && task.Status != filter.Status {
				return nil
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

// pendingTasksFIFO returns all pending tasks ordered by creation time, with
// batch index and UID as tie-breaks for determinism.
func pendingTasksFIFO(tx *bolt.Tx) ([]*types.Task, error) {
	var pending []*types.Task
	err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		if task.Status == types.TaskStatusPending {
			pending = append(pending, &task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		if pending[i].Data.BatchIndex != pending[j].Data.BatchIndex {
			return pending[i].Data.BatchIndex < pending[j].Data.BatchIndex
		}
		return pending[i].UID < pending[j].UID
	})
	return pending, nil
}

// ClaimTask assigns the oldest pending task that fits the worker's available
// resources, flipping it to running and the worker to busy in one
// transaction. BoltDB admits a single writer, so two concurrent claims can
// never observe the same task as pending.
func (s *BoltStore) ClaimTask(workerUID string) (*ClaimResult, error) {
	var res *ClaimResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		worker, err := getWorkerTx(tx, workerUID)
		if err != nil {
			return err
		}
		if worker.Status != types.WorkerStatusOnline && worker.Status != types.WorkerStatusBusy {
			return errdefs.InvalidState("worker %s cannot claim tasks while %s", workerUID, worker.Status)
		}

		pending, err := pendingTasksFIFO(tx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return errdefs.ErrNoTask
		}

		var lastReserveErr error
		for _, task := range pending {
			fn, err := getFunctionTx(tx, task.FunctionUID)
			if err != nil {
				return err
			}

			if err := ledger.Reserve(worker, task.UID, fn.Resources); err != nil {
				lastReserveErr = err
				continue
			}

			now := time.Now()
			task.WorkerUID = worker.UID
			task.Status = types.TaskStatusRunning
			task.StartedAt = now
			task.UpdatedAt = now

			worker.UpdatedAt = now
			if err := putEntity(tx, bucketWorkers, worker.UID, worker); err != nil {
				return err
			}
			if err := putEntity(tx, bucketTasks, task.UID, task); err != nil {
				return err
			}
			if _, err := recomputeGridTx(tx, worker.GridUID); err != nil {
				return err
			}

			res = &ClaimResult{
				Task: task,
				Assignment: &types.TaskAssignment{
					TaskUID:     task.UID,
					FunctionUID: fn.UID,
					ScriptPath:  fn.ScriptPath,
					DockerImage: fn.DockerImage,
					Inputs:      task.Data.Inputs,
					Params:      task.Data.Params,
				},
				GridUID: worker.GridUID,
			}
			return nil
		}

		return fmt.Errorf("no pending task fits worker %s: %w", workerUID, lastReserveErr)
	})
	return res, err
}

// rollupFunctionTx applies the completion rollup: once every sibling task is
// terminal the function finishes, failed if any sibling failed, completed
// otherwise.
func rollupFunctionTx(tx *bolt.Tx, functionUID string) (bool, types.FunctionStatus, error) {
	fn, err := getFunctionTx(tx, functionUID)
	if err != nil {
		return false, "", err
	}
	if fn.Status != types.FunctionStatusRunning {
		return false, fn.Status, nil
	}

	tasks, err := functionTasksTx(tx, functionUID)
	if err != nil {
		return false, fn.Status, err
	}

	anyFailed := false
	for _, task := range tasks {
		if !task.Status.Terminal() {
			return false, fn.Status, nil
		}
		if task.Status == types.TaskStatusFailed {
			anyFailed = true
		}
	}

	now := time.Now()
	if anyFailed {
		fn.Status = types.FunctionStatusFailed
	} else {
		fn.Status = types.FunctionStatusCompleted
	}
	fn.EndedAt = now
	fn.UpdatedAt = now
	if err := putEntity(tx, bucketFunctions, fn.UID, fn); err != nil {
		return false, fn.Status, err
	}
	return true, fn.Status, nil
}

// ReportTask records a task's terminal outcome, releases its reservation, and
// runs the completion rollup. Reporting an already-terminal task is a no-op
// success so retried reports stay safe.
func (s *BoltStore) ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*ReportResult, error) {
	var res *ReportResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTaskTx(tx, taskUID)
		if err != nil {
			return err
		}

		if task.Status.Terminal() {
			fn, err := getFunctionTx(tx, task.FunctionUID)
			if err != nil {
				return err
			}
			res = &ReportResult{Task: task, AlreadyTerminal: true, FunctionStatus: fn.Status}
			return nil
		}

		now := time.Now()
		claimedBy := task.WorkerUID
		if success {
			task.Status = types.TaskStatusCompleted
			task.Result = result
		} else {
			task.Status = types.TaskStatusFailed
			task.Error = errMsg
		}
		if workerUID != "" {
			task.WorkerUID = workerUID
		}
		task.EndedAt = now
		task.UpdatedAt = now
		if err := putEntity(tx, bucketTasks, task.UID, task); err != nil {
			return err
		}

		// The reservation belongs to whichever worker claimed the task, which
		// can differ from the reporting worker. Release the claimer's hold.
		gridUID := ""
		if claimedBy != "" {
			worker, err := getWorkerTx(tx, claimedBy)
			if err == nil {
				gridUID = worker.GridUID
			} else if !errdefs.IsNotFound(err) {
				return err
			}
			if err := releaseWorkerTx(tx, claimedBy, task.UID); err != nil {
				return err
			}
			if gridUID != "" {
				if _, err := recomputeGridTx(tx, gridUID); err != nil && !errdefs.IsNotFound(err) {
					return err
				}
			}
		}

		done, fnStatus, err := rollupFunctionTx(tx, task.FunctionUID)
		if err != nil {
			return err
		}

		res = &ReportResult{
			Task:           task,
			FunctionDone:   done,
			FunctionStatus: fnStatus,
			GridUID:        gridUID,
		}
		return nil
	})
	return res, err
}
