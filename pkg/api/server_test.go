package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/manager"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "test-api",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())
	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.True(t, mgr.IsLeader(), "manager failed to become leader")

	return NewServer(mgr), mgr
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// createActiveGrid drives a grid through creation and waits for async
// provisioning to finish
func createActiveGrid(t *testing.T, s *Server, mgr *manager.Manager, name string, length, width int) string {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/api/grids", h{
		"name": name, "length": length, "width": width,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var grid types.Grid
	decode(t, rec, &grid)
	require.Equal(t, types.GridStatusCreating, grid.Status)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := mgr.GetGrid(grid.UID)
		require.NoError(t, err)
		if got.Status == types.GridStatusActive {
			return grid.UID
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("grid did not become active")
	return ""
}

type h = map[string]interface{}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vinci4d_")
}

func TestGridLifecycleOverREST(t *testing.T) {
	s, mgr := newTestServer(t)

	gridUID := createActiveGrid(t, s, mgr, "render", 2, 2)

	rec := doJSON(t, s, http.MethodGet, "/api/grids/"+gridUID+"/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var workersResp struct {
		Workers []*types.Worker `json:"workers"`
	}
	decode(t, rec, &workersResp)
	assert.Len(t, workersResp.Workers, 4)

	rec = doJSON(t, s, http.MethodPost, "/api/grids/"+gridUID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Illegal transition maps to 409
	rec = doJSON(t, s, http.MethodPost, "/api/grids/"+gridUID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/grids/"+gridUID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/grids/"+gridUID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown grid maps to 404
	rec = doJSON(t, s, http.MethodGet, "/api/grids/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/grids", h{"name": "incomplete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/workers", h{"name": "no-grid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/tasks/claim", h{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimReportOverREST(t *testing.T) {
	s, mgr := newTestServer(t)

	gridUID := createActiveGrid(t, s, mgr, "compute", 1, 1)

	workers, err := mgr.ListWorkers(storage.WorkerFilter{GridUID: gridUID})
	require.NoError(t, err)
	require.Len(t, workers, 1)
	workerUID := workers[0].UID

	rec := doJSON(t, s, http.MethodPost, "/api/workers/"+workerUID+"/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Empty queue: 204
	rec = doJSON(t, s, http.MethodPost, "/api/tasks/claim", h{"worker_uid": workerUID})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/functions", h{
		"name":        "sum",
		"grid_uid":    gridUID,
		"script_path": "scripts/sum.py",
		"batch_size":  2,
		"cpu":         1.0,
		"memory_mb":   512,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fn types.Function
	decode(t, rec, &fn)

	rec = doJSON(t, s, http.MethodPost, "/api/functions/"+fn.UID+"/start", h{
		"inputs": []interface{}{1, 2, 3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Claim the first batch
	rec = doJSON(t, s, http.MethodPost, "/api/tasks/claim", h{"worker_uid": workerUID})
	require.Equal(t, http.StatusOK, rec.Code)
	var assignment types.TaskAssignment
	decode(t, rec, &assignment)
	assert.Equal(t, fn.UID, assignment.FunctionUID)
	assert.Equal(t, "scripts/sum.py", assignment.ScriptPath)

	// Report it done
	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%s/report", assignment.TaskUID), h{
		"success":    true,
		"result":     h{"sum": 3},
		"worker_uid": workerUID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Duplicate    bool `json:"duplicate"`
		FunctionDone bool `json:"function_done"`
	}
	decode(t, rec, &report)
	assert.False(t, report.Duplicate)
	assert.False(t, report.FunctionDone, "second batch still pending")

	// Duplicate report is acknowledged, not failed
	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%s/report", assignment.TaskUID), h{
		"success":    false,
		"error":      "late",
		"worker_uid": workerUID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &report)
	assert.True(t, report.Duplicate)

	// Reporting an unknown task maps to 404
	rec = doJSON(t, s, http.MethodPost, "/api/tasks/nope/report", h{"success": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFunctionCancelOverREST(t *testing.T) {
	s, mgr := newTestServer(t)

	gridUID := createActiveGrid(t, s, mgr, "cancelgrid", 1, 1)

	rec := doJSON(t, s, http.MethodPost, "/api/functions", h{
		"name":     "noop",
		"grid_uid": gridUID,
		"cpu":      1.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var fn types.Function
	decode(t, rec, &fn)

	rec = doJSON(t, s, http.MethodPost, "/api/functions/"+fn.UID+"/start", h{
		"inputs": []interface{}{1, 2},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/functions/"+fn.UID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling again is an invalid transition
	rec = doJSON(t, s, http.MethodPost, "/api/functions/"+fn.UID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
