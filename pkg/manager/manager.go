package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
	"github.com/vinci4d/engine/pkg/events"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

// WorkerDeployer receives worker deployment work from the manager. Wired to
// the deploy dispatcher in the server; nil in tests.
type WorkerDeployer interface {
	EnqueueCreate(worker *types.Worker)
	EnqueueDelete(worker *types.Worker)
}

// Manager represents an engine control-plane node
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	fsm          *EngineFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
	deployer     WorkerDeployer
	logger       zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          NewEngineFSM(store),
		store:        store,
		tokenManager: NewTokenManager(),
		eventBroker:  eventBroker,
		logger:       log.WithComponent("manager"),
	}

	return m, nil
}

// SetDeployer wires the worker deploy dispatcher into the manager
func (m *Manager) SetDeployer(d WorkerDeployer) {
	m.deployer = d
}

// setupRaft builds the Raft instance shared by Bootstrap and Join
func (m *Manager) setupRaft() (*raft.Raft, raft.Transport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned below the WAN-oriented defaults; the control plane targets
	// LAN deployments where sub-second failure detection is realistic.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %v", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %v", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	r, transport, err := m.setupRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Str("bind_addr", m.bindAddr).Msg("cluster bootstrapped")
	return nil
}

// JoinFunc contacts the current leader to add this node as a voter. Injected
// so the transport (REST client) stays out of this package.
type JoinFunc func(nodeID, raftAddr, token string) error

// Join starts Raft without bootstrapping and asks the leader to add this node
func (m *Manager) Join(join JoinFunc, token string) error {
	r, transport, err := m.setupRaft()
	if err != nil {
		return err
	}
	m.raft = r

	if err := join(m.nodeID, string(transport.LocalAddr()), token); err != nil {
		return fmt.Errorf("failed to join cluster: %v", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Msg("joined cluster")
	return nil
}

// AddVoter adds a new control-plane node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}

	m.logger.Info().Str("node_id", nodeID).Str("address", address).Msg("voter added")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this node is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// apply submits a command through the Raft log and returns the FSM response
func (m *Manager) apply(op string, payload interface{}) (interface{}, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command payload: %v", err)
	}

	cmdData, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(cmdData, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %v", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}

	return resp, nil
}

// --- Grid operations ---

// CreateGrid records a new grid in creating status. Provisioning of the
// worker set happens asynchronously via ProvisionGrid.
func (m *Manager) CreateGrid(grid *types.Grid) error {
	if grid.UID == "" {
		grid.UID = uuid.New().String()
	}
	now := time.Now()
	grid.Status = types.GridStatusCreating
	grid.CreatedAt = now
	grid.UpdatedAt = now

	if _, err := m.apply("create_grid", grid); err != nil {
		return err
	}

	m.PublishEvent(events.New(events.EventGridCreated, "grid created",
		"grid_uid", grid.UID, "grid_name", grid.Name))
	return nil
}

// ProvisionGrid builds the grid's worker set with the default profile,
// dispatches their deployments, and initializes the grid. Run in a goroutine
// after CreateGrid; a provisioning failure marks the grid errored.
func (m *Manager) ProvisionGrid(gridUID string) {
	grid, err := m.store.GetGrid(gridUID)
	if err != nil {
		m.logger.Error().Err(err).Str("grid_uid", gridUID).Msg("provisioning lookup failed")
		return
	}

	cpu, memoryMB, spec := types.DefaultWorkerProfile()
	now := time.Now()

	workers := make([]*types.Worker, 0, grid.Capacity())
	for i := 0; i < grid.Capacity(); i++ {
		workers = append(workers, &types.Worker{
			UID:               uuid.New().String(),
			Name:              fmt.Sprintf("%s-worker-%d", grid.Name, i),
			GridUID:           grid.UID,
			CPUTotal:          cpu,
			CPUAvailable:      cpu,
			MemoryTotalMB:     memoryMB,
			MemoryAvailableMB: memoryMB,
			Status:            types.WorkerStatusOffline,
			Spec:              spec,
			Reservations:      map[string]*types.Reservation{},
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if _, err := m.apply("init_grid", initGridCmd{GridUID: grid.UID, Workers: workers}); err != nil {
		m.logger.Error().Err(err).Str("grid_uid", gridUID).Msg("grid initialization failed")
		m.markGridError(gridUID, err.Error())
		return
	}

	// Workers start offline; they come online when their deployments report in
	if m.deployer != nil {
		for _, worker := range workers {
			m.deployer.EnqueueCreate(worker)
		}
	}

	m.PublishEvent(events.New(events.EventGridInitialized, "grid initialized",
		"grid_uid", grid.UID, "workers", fmt.Sprintf("%d", len(workers))))
}

func (m *Manager) markGridError(gridUID, reason string) {
	if _, err := m.apply("grid_error", gridErrorCmd{GridUID: gridUID, Reason: reason}); err != nil {
		m.logger.Error().Err(err).Str("grid_uid", gridUID).Msg("failed to mark grid errored")
		return
	}
	m.PublishEvent(events.New(events.EventGridError, reason, "grid_uid", gridUID))
}

// ActivateGrid resumes a paused or errored grid
func (m *Manager) ActivateGrid(gridUID string) (*types.Grid, error) {
	resp, err := m.apply("activate_grid", gridUID)
	if err != nil {
		return nil, err
	}

	grid := resp.(*types.Grid)
	m.PublishEvent(events.New(events.EventGridActivated, "grid activated", "grid_uid", gridUID))
	return grid, nil
}

// PauseGrid suspends an active grid
func (m *Manager) PauseGrid(gridUID string) (*types.Grid, error) {
	resp, err := m.apply("pause_grid", gridUID)
	if err != nil {
		return nil, err
	}

	grid := resp.(*types.Grid)
	m.PublishEvent(events.New(events.EventGridPaused, "grid paused", "grid_uid", gridUID))
	return grid, nil
}

// TerminateGrid tears down a grid and its workers
func (m *Manager) TerminateGrid(gridUID string) (*types.Grid, error) {
	resp, err := m.apply("terminate_grid", gridUID)
	if err != nil {
		return nil, err
	}

	res := resp.(*storage.TerminateResult)

	if m.deployer != nil {
		for _, worker := range res.DeletedWorkers {
			m.deployer.EnqueueDelete(worker)
		}
	}

	m.PublishEvent(events.New(events.EventGridTerminated, "grid terminated", "grid_uid", gridUID))
	return res.Grid, nil
}

// RecomputeGrid rederives a grid's aggregates from its worker set
func (m *Manager) RecomputeGrid(gridUID string) (*types.Grid, error) {
	resp, err := m.apply("recompute_grid", gridUID)
	if err != nil {
		return nil, err
	}
	return resp.(*types.Grid), nil
}

// --- Worker operations ---

// CreateWorker adds a single worker to an existing grid
func (m *Manager) CreateWorker(worker *types.Worker) error {
	if worker.UID == "" {
		worker.UID = uuid.New().String()
	}
	now := time.Now()
	worker.CreatedAt = now
	worker.UpdatedAt = now
	if worker.Reservations == nil {
		worker.Reservations = map[string]*types.Reservation{}
	}

	if _, err := m.apply("create_worker", worker); err != nil {
		return err
	}

	if m.deployer != nil {
		m.deployer.EnqueueCreate(worker)
	}

	m.PublishEvent(events.New(events.EventWorkerCreated, "worker created",
		"worker_uid", worker.UID, "grid_uid", worker.GridUID))
	return nil
}

// SetWorkerOnline flips a worker online with a fresh heartbeat
func (m *Manager) SetWorkerOnline(workerUID string) (*types.Worker, error) {
	resp, err := m.apply("worker_online", workerUID)
	if err != nil {
		return nil, err
	}

	worker := resp.(*types.Worker)
	m.PublishEvent(events.New(events.EventWorkerOnline, "worker online", "worker_uid", workerUID))
	return worker, nil
}

// SetWorkerOffline flips a worker offline
func (m *Manager) SetWorkerOffline(workerUID string) (*types.Worker, error) {
	resp, err := m.apply("worker_offline", workerUID)
	if err != nil {
		return nil, err
	}

	worker := resp.(*types.Worker)
	m.PublishEvent(events.New(events.EventWorkerOffline, "worker offline", "worker_uid", workerUID))
	return worker, nil
}

// HeartbeatWorker refreshes a worker's liveness stamp
func (m *Manager) HeartbeatWorker(workerUID string) error {
	_, err := m.apply("worker_heartbeat", workerUID)
	return err
}

// DeleteWorker removes a worker and tears down its deployment
func (m *Manager) DeleteWorker(workerUID string) error {
	resp, err := m.apply("delete_worker", workerUID)
	if err != nil {
		return err
	}

	worker := resp.(*types.Worker)
	if m.deployer != nil {
		m.deployer.EnqueueDelete(worker)
	}

	m.PublishEvent(events.New(events.EventWorkerDeleted, "worker deleted",
		"worker_uid", workerUID, "grid_uid", worker.GridUID))
	return nil
}

// --- Function operations ---

// CreateFunction registers a new function in ready status
func (m *Manager) CreateFunction(fn *types.Function) error {
	if fn.UID == "" {
		fn.UID = uuid.New().String()
	}
	now := time.Now()
	fn.Status = types.FunctionStatusReady
	fn.CreatedAt = now
	fn.UpdatedAt = now
	if fn.BatchSize < 1 {
		fn.BatchSize = 1
	}
	if fn.DockerImage == "" {
		fn.DockerImage = "default"
	}

	if _, err := m.apply("create_function", fn); err != nil {
		return err
	}

	m.PublishEvent(events.New(events.EventFunctionCreated, "function created",
		"function_uid", fn.UID, "grid_uid", fn.GridUID))
	return nil
}

// UpdateFunction replaces a function definition
func (m *Manager) UpdateFunction(fn *types.Function) error {
	fn.UpdatedAt = time.Now()
	_, err := m.apply("update_function", fn)
	return err
}

// DeleteFunction removes a function and its tasks
func (m *Manager) DeleteFunction(functionUID string) error {
	if _, err := m.apply("delete_function", functionUID); err != nil {
		return err
	}

	m.PublishEvent(events.New(events.EventFunctionDeleted, "function deleted",
		"function_uid", functionUID))
	return nil
}

// StartFunction transitions a function to running with its task batch
func (m *Manager) StartFunction(functionUID string, tasks []*types.Task) (*types.Function, error) {
	resp, err := m.apply("start_function", startFunctionCmd{FunctionUID: functionUID, Tasks: tasks})
	if err != nil {
		return nil, err
	}

	fn := resp.(*types.Function)
	m.PublishEvent(events.New(events.EventFunctionStarted, "function started",
		"function_uid", functionUID, "tasks", fmt.Sprintf("%d", len(tasks))))
	return fn, nil
}

// CancelFunction cancels a pending or running function
func (m *Manager) CancelFunction(functionUID string) (*storage.CancelResult, error) {
	resp, err := m.apply("cancel_function", functionUID)
	if err != nil {
		return nil, err
	}

	res := resp.(*storage.CancelResult)
	m.PublishEvent(events.New(events.EventFunctionCancelled, "function cancelled",
		"function_uid", functionUID, "cancelled_tasks", fmt.Sprintf("%d", len(res.CancelledTasks))))
	return res, nil
}

// --- Task operations ---

// ClaimTask assigns a pending task to a polling worker
func (m *Manager) ClaimTask(workerUID string) (*storage.ClaimResult, error) {
	resp, err := m.apply("claim_task", workerUID)
	if err != nil {
		return nil, err
	}
	return resp.(*storage.ClaimResult), nil
}

// ReportTask records a task's terminal outcome
func (m *Manager) ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*storage.ReportResult, error) {
	resp, err := m.apply("report_task", reportTaskCmd{
		TaskUID:   taskUID,
		Success:   success,
		Result:    result,
		Error:     errMsg,
		WorkerUID: workerUID,
	})
	if err != nil {
		return nil, err
	}
	return resp.(*storage.ReportResult), nil
}

// --- Reads (local store) ---

// GetGrid retrieves a grid by UID
func (m *Manager) GetGrid(uid string) (*types.Grid, error) {
	return m.store.GetGrid(uid)
}

// ListGrids returns all grids
func (m *Manager) ListGrids() ([]*types.Grid, error) {
	return m.store.ListGrids()
}

// GetWorker retrieves a worker by UID
func (m *Manager) GetWorker(uid string) (*types.Worker, error) {
	return m.store.GetWorker(uid)
}

// ListWorkers returns workers matching the filter
func (m *Manager) ListWorkers(filter storage.WorkerFilter) ([]*types.Worker, error) {
	return m.store.ListWorkers(filter)
}

// GetFunction retrieves a function by UID
func (m *Manager) GetFunction(uid string) (*types.Function, error) {
	return m.store.GetFunction(uid)
}

// ListFunctions returns all functions
func (m *Manager) ListFunctions() ([]*types.Function, error) {
	return m.store.ListFunctions()
}

// GetTask retrieves a task by UID
func (m *Manager) GetTask(uid string) (*types.Task, error) {
	return m.store.GetTask(uid)
}

// ListTasks returns tasks matching the filter
func (m *Manager) ListTasks(filter storage.TaskFilter) ([]*types.Task, error) {
	return m.store.ListTasks(filter)
}

// --- Tokens ---

// GenerateJoinToken generates a new join token for adding nodes
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}

	// Token valid for 24 hours
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates a join token
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
