package types

import (
	"time"
)

// Grid represents a named pool of workers with a nominal capacity
type Grid struct {
	UID         string
	Name        string
	Length      int
	Width       int
	Status      GridStatus
	Utilization float64 // Percentage of workers busy (0-100)
	FreeSlots   int
	WorkerCount int
	BusyWorkers int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Capacity returns the nominal worker capacity of the grid (length x width).
// The actual worker set may diverge from this; aggregates are always derived
// from the workers that exist.
func (g *Grid) Capacity() int {
	return g.Length * g.Width
}

// GridStatus represents the lifecycle state of a grid
type GridStatus string

const (
	GridStatusCreating   GridStatus = "creating"
	GridStatusActive     GridStatus = "active"
	GridStatusPaused     GridStatus = "paused"
	GridStatusTerminated GridStatus = "terminated"
	GridStatusError      GridStatus = "error"
)

// gridTransitions is the closed transition table for grids.
// Terminated has no outgoing transitions.
var gridTransitions = map[GridStatus][]GridStatus{
	GridStatusCreating: {GridStatusActive, GridStatusError, GridStatusTerminated},
	GridStatusActive:   {GridStatusPaused, GridStatusError, GridStatusTerminated},
	GridStatusPaused:   {GridStatusActive, GridStatusTerminated},
	GridStatusError:    {GridStatusActive, GridStatusTerminated},
}

// CanTransition reports whether a grid may move from one status to another
func (s GridStatus) CanTransition(to GridStatus) bool {
	for _, next := range gridTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Worker represents an execution slot with resource capacity and liveness status
type Worker struct {
	UID               string
	Name              string // Unique across all grids
	GridUID           string
	CPUTotal          float64 // Cores
	CPUAvailable      float64
	MemoryTotalMB     int64
	MemoryAvailableMB int64
	GPUID             string // Empty when the worker has no GPU
	GPUMemoryMB       int64
	Status            WorkerStatus
	LastHeartbeat     time.Time
	Spec              map[string]string       // docker_image, os, arch, node_type
	Reservations      map[string]*Reservation // Outstanding reservations keyed by task UID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WorkerStatus represents the current state of a worker
type WorkerStatus string

const (
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusError   WorkerStatus = "error"
)

var workerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerStatusOffline: {WorkerStatusOnline, WorkerStatusError},
	WorkerStatusOnline:  {WorkerStatusOffline, WorkerStatusBusy, WorkerStatusError},
	WorkerStatusBusy:    {WorkerStatusOnline, WorkerStatusOffline, WorkerStatusError},
	WorkerStatusError:   {WorkerStatusOnline, WorkerStatusOffline},
}

// CanTransition reports whether a worker may move from one status to another
func (s WorkerStatus) CanTransition(to WorkerStatus) bool {
	for _, next := range workerTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reservation records the resources a single task holds on a worker
type Reservation struct {
	TaskUID    string
	CPU        float64
	MemoryMB   int64
	GPU        bool
	ReservedAt time.Time
}

// ResourceRequirements declares what a function needs from a worker per task
type ResourceRequirements struct {
	CPU            float64 // Cores
	MemoryMB       int64
	GPU            bool
	TimeoutSeconds int // 0 means no runtime limit
}

// Function represents a submitted unit of work, split into tasks at start time
type Function struct {
	UID            string
	Name           string
	GridUID        string
	ScriptPath     string // Opaque reference into the script store
	ArtifactoryURL string
	Resources      ResourceRequirements
	DockerImage    string
	BatchSize      int                    // >= 1, default 1
	Params         map[string]interface{} // Default parameters merged into every task
	Status         FunctionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      time.Time
	EndedAt        time.Time
}

// FunctionStatus represents the lifecycle state of a function
type FunctionStatus string

const (
	FunctionStatusReady     FunctionStatus = "ready"
	FunctionStatusPending   FunctionStatus = "pending"
	FunctionStatusRunning   FunctionStatus = "running"
	FunctionStatusCompleted FunctionStatus = "completed"
	FunctionStatusFailed    FunctionStatus = "failed"
	FunctionStatusCancelled FunctionStatus = "cancelled"
)

var functionTransitions = map[FunctionStatus][]FunctionStatus{
	FunctionStatusReady:   {FunctionStatusPending, FunctionStatusRunning, FunctionStatusCancelled},
	FunctionStatusPending: {FunctionStatusRunning, FunctionStatusCancelled},
	FunctionStatusRunning: {FunctionStatusCompleted, FunctionStatusFailed, FunctionStatusCancelled},
}

// CanTransition reports whether a function may move from one status to another
func (s FunctionStatus) CanTransition(to FunctionStatus) bool {
	for _, next := range functionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is a terminal function state
func (s FunctionStatus) Terminal() bool {
	return s == FunctionStatusCompleted || s == FunctionStatusFailed || s == FunctionStatusCancelled
}

// Startable reports whether a function in this status may be started
func (s FunctionStatus) Startable() bool {
	return s == FunctionStatusReady || s == FunctionStatusPending
}

// Task represents one batch of a function's input, executed by exactly one worker
type Task struct {
	UID         string
	FunctionUID string
	WorkerUID   string // Empty until claimed; cleared if the worker is deleted
	Status      TaskStatus
	Data        TaskData
	Result      map[string]interface{}
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	EndedAt     time.Time
}

// TaskData carries the batch metadata and merged parameters for one task
type TaskData struct {
	BatchIndex int // 0-based, strictly increasing and contiguous within a function
	BatchSize  int
	BatchTotal int
	InputStart int
	InputEnd   int // Exclusive
	Inputs     []interface{}
	Params     map[string]interface{}
}

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// CanTransition reports whether a task may move from one status to another
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is a terminal task state
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskAssignment is what a polling worker receives when a claim succeeds
type TaskAssignment struct {
	TaskUID     string
	FunctionUID string
	ScriptPath  string
	DockerImage string
	Inputs      []interface{}
	Params      map[string]interface{}
}

// DefaultWorkerProfile returns the resource profile used for workers
// provisioned during grid initialization.
func DefaultWorkerProfile() (cpu float64, memoryMB int64, spec map[string]string) {
	return 4.0, 8192, map[string]string{"node_type": "standard"}
}
