package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestNewClientAddrNormalization(t *testing.T) {
	assert.Equal(t, "http://manager:8080", NewClient("manager:8080").baseURL)
	assert.Equal(t, "http://manager:8080", NewClient("http://manager:8080/").baseURL)
	assert.Equal(t, "https://manager:8080", NewClient("https://manager:8080").baseURL)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, `{"error":"grid g-1 not found"}`, errdefs.IsNotFound},
		{"conflict", http.StatusConflict, `{"error":"grid is paused"}`, errdefs.IsInvalidState},
		{"plain body", http.StatusNotFound, "gone", errdefs.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetGrid("g-1")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestClaimTaskStatuses(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		_, err := c.ClaimTask("w-1")
		assert.True(t, errdefs.IsNoTask(err))
	})

	t.Run("assignment", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "w-1", req["worker_uid"])
			_ = json.NewEncoder(w).Encode(types.TaskAssignment{
				TaskUID:     "t-1",
				FunctionUID: "f-1",
				ScriptPath:  "scripts/run.py",
			})
		})
		assignment, err := c.ClaimTask("w-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", assignment.TaskUID)
		assert.Equal(t, "scripts/run.py", assignment.ScriptPath)
	})

	t.Run("exhausted", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"no pending task fits worker w-1"}`))
		})
		_, err := c.ClaimTask("w-1")
		assert.True(t, errdefs.IsResourceExhausted(err))
	})

	t.Run("offline worker", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"worker w-1 is offline"}`))
		})
		_, err := c.ClaimTask("w-1")
		assert.True(t, errdefs.IsInvalidState(err))
	})
}

func TestStartFunction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/functions/f-1/start", r.URL.Path)
		var req struct {
			Inputs []interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Inputs, 3)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"function": &types.Function{UID: "f-1", Status: types.FunctionStatusRunning},
			"tasks":    2,
		})
	})

	fn, tasks, err := c.StartFunction("f-1", []interface{}{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.FunctionStatusRunning, fn.Status)
	assert.Equal(t, 2, tasks)
}

func TestJoinCluster(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cluster/join", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "joined"})
	})

	require.NoError(t, c.JoinCluster("node-2", "127.0.0.1:7001", "tok"))
	assert.Equal(t, "node-2", got["node_id"])
	assert.Equal(t, "127.0.0.1:7001", got["raft_addr"])
	assert.Equal(t, "tok", got["token"])
}
