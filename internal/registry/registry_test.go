// SPDX-License-Identifier: MIT

package registry

import (
	"sync"
	"testing"

	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDuplicatePID(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(100, 1))
	err := r.Add(100, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate pid")
}

func TestActiveCountTracksStatus(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(1, 0))
	require.NoError(t, r.Add(2, 0))
	assert.Equal(t, 2, r.ActiveCount())

	require.NoError(t, r.SetStatus(1, job.StatusRunning))
	require.NoError(t, r.SetStatus(1, job.StatusFinished))
	assert.Equal(t, 2, r.ActiveCount(), "FINISHED is still < REAPED")

	require.NoError(t, r.SetStatus(1, job.StatusReaped))
	assert.Equal(t, 1, r.ActiveCount())
}

func TestRemoveIsIdempotentOnceReaped(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(5, 0))
	require.NoError(t, r.SetStatus(5, job.StatusReaped))

	ok, err := r.Remove(5, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Remove(5, true)
	require.NoError(t, err)
	assert.True(t, ok, "remove of an absent pid is a no-op success")
}

func TestMarkRestartAndShallRestart(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(9, 2))
	shall, err := r.ShallRestart(9)
	require.NoError(t, err)
	assert.False(t, shall)

	require.NoError(t, r.MarkRestart(9))
	shall, err = r.ShallRestart(9)
	require.NoError(t, err)
	assert.True(t, shall)
}

func TestDeathLevelMonotonic(t *testing.T) {
	r := New()
	r.RaiseDeath(2)
	r.RaiseDeath(1) // lower level must not regress
	assert.EqualValues(t, 2, r.ReadDeath())
	r.RaiseDeath(4)
	assert.EqualValues(t, 4, r.ReadDeath())
}

func TestMarkReapedAsyncIsLockFree(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(42, 0))
	require.NoError(t, r.SetStatus(42, job.StatusRunning))

	// Simulate a signal-handler-style reaper: must never block on the
	// registry's mutex.
	done := make(chan struct{})
	go func() {
		r.MarkReapedAsync(42)
		close(done)
	}()
	<-done

	status, err := r.GetStatus(42)
	require.NoError(t, err)
	assert.Equal(t, job.StatusReaped, status)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestSnapshotPIDsConcurrentWithMutate(t *testing.T) {
	r := New()
	for i := 1; i <= 10; i++ {
		require.NoError(t, r.Add(i, 0))
	}

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Mutate(i, func(rec *job.ChildRecord) {
				rec.StdoutBuf = append(rec.StdoutBuf, "line")
			})
		}()
	}
	pids := r.SnapshotPIDs()
	wg.Wait()
	assert.Len(t, pids, 10)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(7, 3))
	rec, err := r.Get(7)
	require.NoError(t, err)
	rec.StdoutBuf = append(rec.StdoutBuf, "mutated-local-copy")

	rec2, err := r.Get(7)
	require.NoError(t, err)
	assert.Empty(t, rec2.StdoutBuf, "Get must not let callers mutate internal state")
}
