package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/types"
)

func newWorker() *types.Worker {
	return &types.Worker{
		UID:               "w-1",
		Name:              "grid-worker-1",
		CPUTotal:          4.0,
		CPUAvailable:      4.0,
		MemoryTotalMB:     8192,
		MemoryAvailableMB: 8192,
		Status:            types.WorkerStatusOnline,
	}
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name      string
		req       types.ResourceRequirements
		setup     func(w *types.Worker)
		wantErr   func(error) bool
		wantCPU   float64
		wantMemMB int64
	}{
		{
			name:      "fits exactly",
			req:       types.ResourceRequirements{CPU: 4.0, MemoryMB: 8192},
			wantCPU:   0,
			wantMemMB: 0,
		},
		{
			name:      "partial reservation",
			req:       types.ResourceRequirements{CPU: 1.5, MemoryMB: 2048},
			wantCPU:   2.5,
			wantMemMB: 6144,
		},
		{
			name:    "cpu exceeds availability",
			req:     types.ResourceRequirements{CPU: 4.5, MemoryMB: 1024},
			wantErr: errdefs.IsResourceExhausted,
		},
		{
			name:    "memory exceeds availability",
			req:     types.ResourceRequirements{CPU: 1.0, MemoryMB: 16384},
			wantErr: errdefs.IsResourceExhausted,
		},
		{
			name:    "gpu required but absent",
			req:     types.ResourceRequirements{CPU: 1.0, MemoryMB: 512, GPU: true},
			wantErr: errdefs.IsResourceExhausted,
		},
		{
			name: "gpu required and present",
			req:  types.ResourceRequirements{CPU: 1.0, MemoryMB: 512, GPU: true},
			setup: func(w *types.Worker) {
				w.GPUID = "gpu-0"
				w.GPUMemoryMB = 16384
			},
			wantCPU:   3.0,
			wantMemMB: 7680,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorker()
			if tt.setup != nil {
				tt.setup(w)
			}

			err := Reserve(w, "t-1", tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err))
				// No side effects on failure
				assert.Equal(t, 4.0, w.CPUAvailable)
				assert.Equal(t, int64(8192), w.MemoryAvailableMB)
				assert.Equal(t, types.WorkerStatusOnline, w.Status)
				assert.Zero(t, Outstanding(w))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCPU, w.CPUAvailable)
			assert.Equal(t, tt.wantMemMB, w.MemoryAvailableMB)
			assert.Equal(t, types.WorkerStatusBusy, w.Status)
			assert.Equal(t, 1, Outstanding(w))
		})
	}
}

func TestReserveDuplicateTask(t *testing.T) {
	w := newWorker()
	require.NoError(t, Reserve(w, "t-1", types.ResourceRequirements{CPU: 1.0, MemoryMB: 512}))

	err := Reserve(w, "t-1", types.ResourceRequirements{CPU: 1.0, MemoryMB: 512})
	require.Error(t, err)
	assert.True(t, errdefs.IsConflictingClaim(err))
	assert.Equal(t, 3.0, w.CPUAvailable)
	assert.Equal(t, 1, Outstanding(w))
}

func TestRelease(t *testing.T) {
	w := newWorker()
	require.NoError(t, Reserve(w, "t-1", types.ResourceRequirements{CPU: 1.0, MemoryMB: 1024}))
	require.NoError(t, Reserve(w, "t-2", types.ResourceRequirements{CPU: 2.0, MemoryMB: 2048}))
	assert.Equal(t, types.WorkerStatusBusy, w.Status)

	t.Run("release restores availability", func(t *testing.T) {
		assert.True(t, Release(w, "t-1"))
		assert.Equal(t, 2.0, w.CPUAvailable)
		assert.Equal(t, int64(6144), w.MemoryAvailableMB)
		// Still holds t-2
		assert.Equal(t, types.WorkerStatusBusy, w.Status)
	})

	t.Run("double release is rejected", func(t *testing.T) {
		assert.False(t, Release(w, "t-1"))
		assert.Equal(t, 2.0, w.CPUAvailable)
		assert.Equal(t, int64(6144), w.MemoryAvailableMB)
	})

	t.Run("last release returns worker to online", func(t *testing.T) {
		assert.True(t, Release(w, "t-2"))
		assert.Equal(t, 4.0, w.CPUAvailable)
		assert.Equal(t, int64(8192), w.MemoryAvailableMB)
		assert.Equal(t, types.WorkerStatusOnline, w.Status)
		assert.Zero(t, Outstanding(w))
	})
}

func TestReleaseDoesNotFlipOfflineWorker(t *testing.T) {
	// Pausing a grid takes a busy worker offline without cancelling its task.
	// Releasing the reservation afterwards must not resurrect it to online.
	w := newWorker()
	require.NoError(t, Reserve(w, "t-1", types.ResourceRequirements{CPU: 1.0, MemoryMB: 512}))
	w.Status = types.WorkerStatusOffline

	assert.True(t, Release(w, "t-1"))
	assert.Equal(t, types.WorkerStatusOffline, w.Status)
}

func TestReleaseClampsToTotals(t *testing.T) {
	w := newWorker()
	require.NoError(t, Reserve(w, "t-1", types.ResourceRequirements{CPU: 1.0, MemoryMB: 1024}))

	// An external update shrank the totals while the reservation was held.
	w.CPUTotal = 0.5
	w.MemoryTotalMB = 512

	assert.True(t, Release(w, "t-1"))
	assert.Equal(t, 0.5, w.CPUAvailable)
	assert.Equal(t, int64(512), w.MemoryAvailableMB)
}
