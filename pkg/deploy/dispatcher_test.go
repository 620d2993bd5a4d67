package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinci4d/engine/pkg/types"
)

// flakyDeployer fails the first failures calls per operation kind
type flakyDeployer struct {
	mu       sync.Mutex
	failures int
	creates  int
	deletes  int
}

func (f *flakyDeployer) CreateWorker(ctx context.Context, worker *types.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.creates <= f.failures {
		return errors.New("apiserver unavailable")
	}
	return nil
}

func (f *flakyDeployer) DeleteWorker(ctx context.Context, worker *types.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *flakyDeployer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.deletes
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	deployer := &flakyDeployer{failures: 2}
	d := NewDispatcher(deployer, nil, DispatcherConfig{Backoff: 10 * time.Millisecond})
	d.Start()
	defer d.Stop()

	d.EnqueueCreate(&types.Worker{UID: "w-1", Name: "g-worker-0"})

	waitFor(t, 5*time.Second, func() bool {
		creates, _ := deployer.counts()
		return creates == 3
	})

	assert.Empty(t, d.DeadLetters(), "recovered operation must not dead-letter")
}

func TestDispatcherDeadLettersAfterMaxRetries(t *testing.T) {
	deployer := &flakyDeployer{failures: 100} // never succeeds
	d := NewDispatcher(deployer, nil, DispatcherConfig{MaxRetries: 3, Backoff: 10 * time.Millisecond})
	d.Start()
	defer d.Stop()

	worker := &types.Worker{UID: "w-1", Name: "g-worker-0"}
	d.EnqueueCreate(worker)

	waitFor(t, 5*time.Second, func() bool { return len(d.DeadLetters()) == 1 })

	dead := d.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, OpCreate, dead[0].Kind)
	assert.Equal(t, "w-1", dead[0].Worker.UID)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "apiserver unavailable")

	// No further attempts after dead-lettering
	creates, _ := deployer.counts()
	assert.Equal(t, 3, creates)
}

func TestDispatcherProcessesDeletes(t *testing.T) {
	deployer := &flakyDeployer{}
	d := NewDispatcher(deployer, nil, DispatcherConfig{})
	d.Start()
	defer d.Stop()

	d.EnqueueDelete(&types.Worker{UID: "w-1", Name: "g-worker-0"})

	waitFor(t, 5*time.Second, func() bool {
		_, deletes := deployer.counts()
		return deletes == 1
	})
}
