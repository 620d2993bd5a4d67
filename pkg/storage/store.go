package storage

import (
	"github.com/vinci4d/engine/pkg/types"
)

// WorkerFilter narrows ListWorkers results. Zero values match everything.
type WorkerFilter struct {
	GridUID string
	Status  types.WorkerStatus
}

// TaskFilter narrows ListTasks results. Zero values match everything.
type TaskFilter struct {
	FunctionUID string
	WorkerUID   string
	Status      types.TaskStatus
}

// ClaimResult is returned by a successful ClaimTask
type ClaimResult struct {
	Task       *types.Task
	Assignment *types.TaskAssignment
	GridUID    string // Grid whose aggregates changed with the busy flip
}

// ReportResult is returned by ReportTask
type ReportResult struct {
	Task            *types.Task
	AlreadyTerminal bool // Report was an idempotent no-op
	FunctionDone    bool // This report completed the rollup
	FunctionStatus  types.FunctionStatus
	GridUID         string // Grid affected by the reservation release, if any
}

// CancelResult is returned by CancelFunction
type CancelResult struct {
	Function       *types.Function
	CancelledTasks []string
	GridUID        string
}

// TerminateResult is returned by TerminateGrid
type TerminateResult struct {
	Grid           *types.Grid
	DeletedWorkers []*types.Worker
}

// Store defines the interface for engine state storage.
// Every method that reads state and then writes it executes as one
// transaction; concurrent callers serialize on the store's writer lock.
type Store interface {
	// Grids
	CreateGrid(grid *types.Grid) error
	GetGrid(uid string) (*types.Grid, error)
	ListGrids() ([]*types.Grid, error)
	UpdateGrid(grid *types.Grid) error
	InitializeGrid(gridUID string, workers []*types.Worker) error
	ActivateGrid(gridUID string) (*types.Grid, error)
	PauseGrid(gridUID string) (*types.Grid, error)
	TerminateGrid(gridUID string) (*TerminateResult, error)
	RecomputeGridUtilization(gridUID string) (*types.Grid, error)

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(uid string) (*types.Worker, error)
	ListWorkers(filter WorkerFilter) ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	SetWorkerOnline(uid string) (*types.Worker, error)
	SetWorkerOffline(uid string) (*types.Worker, error)
	HeartbeatWorker(uid string) error
	DeleteWorker(uid string) (*types.Worker, error)

	// Functions
	CreateFunction(fn *types.Function) error
	GetFunction(uid string) (*types.Function, error)
	ListFunctions() ([]*types.Function, error)
	UpdateFunction(fn *types.Function) error
	DeleteFunction(uid string) error
	StartFunction(functionUID string, tasks []*types.Task) (*types.Function, error)
	CancelFunction(functionUID string) (*CancelResult, error)

	// Tasks
	GetTask(uid string) (*types.Task, error)
	UpdateTask(task *types.Task) error
	ListTasks(filter TaskFilter) ([]*types.Task, error)
	ClaimTask(workerUID string) (*ClaimResult, error)
	ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*ReportResult, error)

	// Utility
	Close() error
}
