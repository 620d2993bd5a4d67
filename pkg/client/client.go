package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/types"
)

// Client wraps the Vinci4D REST API for easy CLI and programmatic usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new client for the control plane at addr.
// addr may be a bare host:port or a full http(s) URL.
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the error envelope returned by the control plane
type apiError struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// do issues a request and decodes the JSON response into out (if non-nil).
// Non-2xx responses are mapped back onto the errdefs sentinels so callers
// can use the same errdefs.Is* predicates on both sides of the wire.
func (c *Client) do(method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrDownstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", errdefs.ErrNotFound, apiErr.Error)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", errdefs.ErrInvalidState, apiErr.Error)
		default:
			return fmt.Errorf("request failed (%d): %s", resp.StatusCode, apiErr.Error)
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateGrid creates a grid and kicks off worker provisioning
func (c *Client) CreateGrid(name string, length, width int) (*types.Grid, error) {
	var grid types.Grid
	err := c.do(http.MethodPost, "/api/grids", map[string]interface{}{
		"name":   name,
		"length": length,
		"width":  width,
	}, &grid)
	if err != nil {
		return nil, err
	}
	return &grid, nil
}

// GetGrid retrieves a grid by UID
func (c *Client) GetGrid(uid string) (*types.Grid, error) {
	var grid types.Grid
	if err := c.do(http.MethodGet, "/api/grids/"+uid, nil, &grid); err != nil {
		return nil, err
	}
	return &grid, nil
}

// ListGrids lists all grids
func (c *Client) ListGrids() ([]*types.Grid, error) {
	var resp struct {
		Grids []*types.Grid `json:"grids"`
	}
	if err := c.do(http.MethodGet, "/api/grids", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Grids, nil
}

// ActivateGrid brings a paused or provisioned grid online
func (c *Client) ActivateGrid(uid string) (*types.Grid, error) {
	var grid types.Grid
	if err := c.do(http.MethodPost, "/api/grids/"+uid+"/activate", nil, &grid); err != nil {
		return nil, err
	}
	return &grid, nil
}

// PauseGrid takes a grid offline without destroying it
func (c *Client) PauseGrid(uid string) (*types.Grid, error) {
	var grid types.Grid
	if err := c.do(http.MethodPost, "/api/grids/"+uid+"/pause", nil, &grid); err != nil {
		return nil, err
	}
	return &grid, nil
}

// TerminateGrid destroys a grid and all its workers
func (c *Client) TerminateGrid(uid string) (*types.Grid, error) {
	var grid types.Grid
	if err := c.do(http.MethodDelete, "/api/grids/"+uid, nil, &grid); err != nil {
		return nil, err
	}
	return &grid, nil
}

// ListGridWorkers lists the workers belonging to a grid
func (c *Client) ListGridWorkers(gridUID string) ([]*types.Worker, error) {
	var resp struct {
		Workers []*types.Worker `json:"workers"`
	}
	if err := c.do(http.MethodGet, "/api/grids/"+gridUID+"/workers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// GetWorker retrieves a worker by UID
func (c *Client) GetWorker(uid string) (*types.Worker, error) {
	var worker types.Worker
	if err := c.do(http.MethodGet, "/api/workers/"+uid, nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// ListWorkers lists workers, optionally filtered by grid and status
func (c *Client) ListWorkers(gridUID, status string) ([]*types.Worker, error) {
	q := url.Values{}
	if gridUID != "" {
		q.Set("grid_uid", gridUID)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/workers"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Workers []*types.Worker `json:"workers"`
	}
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// SetWorkerOnline marks a worker ready to claim tasks
func (c *Client) SetWorkerOnline(uid string) (*types.Worker, error) {
	var worker types.Worker
	if err := c.do(http.MethodPost, "/api/workers/"+uid+"/online", nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// SetWorkerOffline takes a worker out of the claim pool
func (c *Client) SetWorkerOffline(uid string) (*types.Worker, error) {
	var worker types.Worker
	if err := c.do(http.MethodPost, "/api/workers/"+uid+"/offline", nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// HeartbeatWorker refreshes a worker's liveness timestamp
func (c *Client) HeartbeatWorker(uid string) error {
	return c.do(http.MethodPost, "/api/workers/"+uid+"/heartbeat", nil, nil)
}

// CreateFunction registers a function definition on a grid
func (c *Client) CreateFunction(fn *types.Function) (*types.Function, error) {
	var created types.Function
	err := c.do(http.MethodPost, "/api/functions", map[string]interface{}{
		"name":            fn.Name,
		"grid_uid":        fn.GridUID,
		"script_path":     fn.ScriptPath,
		"artifactory_url": fn.ArtifactoryURL,
		"docker_image":    fn.DockerImage,
		"batch_size":      fn.BatchSize,
		"cpu":             fn.Resources.CPU,
		"memory_mb":       fn.Resources.MemoryMB,
		"gpu":             fn.Resources.GPU,
		"timeout_seconds": fn.Resources.TimeoutSeconds,
		"params":          fn.Params,
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetFunction retrieves a function by UID
func (c *Client) GetFunction(uid string) (*types.Function, error) {
	var fn types.Function
	if err := c.do(http.MethodGet, "/api/functions/"+uid, nil, &fn); err != nil {
		return nil, err
	}
	return &fn, nil
}

// ListFunctions lists all registered functions
func (c *Client) ListFunctions() ([]*types.Function, error) {
	var resp struct {
		Functions []*types.Function `json:"functions"`
	}
	if err := c.do(http.MethodGet, "/api/functions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Functions, nil
}

// DeleteFunction removes a terminal function and its tasks
func (c *Client) DeleteFunction(uid string) error {
	return c.do(http.MethodDelete, "/api/functions/"+uid, nil, nil)
}

// StartFunction batches inputs into tasks and begins execution.
// Returns the running function and the number of tasks created.
func (c *Client) StartFunction(uid string, inputs []interface{}, params map[string]interface{}) (*types.Function, int, error) {
	var resp struct {
		Function *types.Function `json:"function"`
		Tasks    int             `json:"tasks"`
	}
	err := c.do(http.MethodPost, "/api/functions/"+uid+"/start", map[string]interface{}{
		"inputs": inputs,
		"params": params,
	}, &resp)
	if err != nil {
		return nil, 0, err
	}
	return resp.Function, resp.Tasks, nil
}

// CancelFunction cancels a running function and its non-terminal tasks
func (c *Client) CancelFunction(uid string) (*types.Function, []string, error) {
	var resp struct {
		Function       *types.Function `json:"function"`
		CancelledTasks []string        `json:"cancelled_tasks"`
	}
	if err := c.do(http.MethodPost, "/api/functions/"+uid+"/cancel", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Function, resp.CancelledTasks, nil
}

// ListFunctionTasks lists the tasks of a function
func (c *Client) ListFunctionTasks(functionUID string) ([]*types.Task, error) {
	var resp struct {
		Tasks []*types.Task `json:"tasks"`
	}
	if err := c.do(http.MethodGet, "/api/functions/"+functionUID+"/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// GetTask retrieves a task by UID
func (c *Client) GetTask(uid string) (*types.Task, error) {
	var task types.Task
	if err := c.do(http.MethodGet, "/api/tasks/"+uid, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimTask atomically claims the next runnable task for a worker.
// Returns errdefs.ErrNoTask when the queue is empty.
func (c *Client) ClaimTask(workerUID string) (*types.TaskAssignment, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/tasks/claim",
		strings.NewReader(fmt.Sprintf(`{"worker_uid":%q}`, workerUID)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrDownstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, errdefs.ErrNoTask
	case http.StatusOK:
		var assignment types.TaskAssignment
		if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
			return nil, err
		}
		return &assignment, nil
	case http.StatusConflict:
		data, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		if strings.Contains(apiErr.Error, "no pending task fits") {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrResourceExhausted, apiErr.Error)
		}
		return nil, fmt.Errorf("%w: %s", errdefs.ErrInvalidState, apiErr.Error)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: worker %s", errdefs.ErrNotFound, workerUID)
	default:
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("claim failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
}

// ReportTask reports the outcome of a claimed task
func (c *Client) ReportTask(taskUID string, success bool, result map[string]interface{}, errMsg, workerUID string) (*types.Task, error) {
	var resp struct {
		Task *types.Task `json:"task"`
	}
	err := c.do(http.MethodPost, "/api/tasks/"+taskUID+"/report", map[string]interface{}{
		"success":    &success,
		"result":     result,
		"error":      errMsg,
		"worker_uid": workerUID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// JoinCluster asks the target node to add this node as a Raft voter
func (c *Client) JoinCluster(nodeID, raftAddr, token string) error {
	return c.do(http.MethodPost, "/api/cluster/join", map[string]interface{}{
		"node_id":   nodeID,
		"raft_addr": raftAddr,
		"token":     token,
	}, nil)
}

// GenerateJoinToken asks the leader to mint a cluster join token
func (c *Client) GenerateJoinToken(role string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(http.MethodPost, "/api/cluster/token", map[string]interface{}{
		"role": role,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ListClusterServers lists the Raft cluster membership
func (c *Client) ListClusterServers() ([]map[string]interface{}, error) {
	var resp struct {
		Servers []map[string]interface{} `json:"servers"`
	}
	if err := c.do(http.MethodGet, "/api/cluster/servers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}
