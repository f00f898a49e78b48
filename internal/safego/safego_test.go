// SPDX-License-Identifier: MIT

package safego

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanicAndLogs(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var gotRecovered any

	var wg sync.WaitGroup
	wg.Add(1)
	Go("tick-loop", &syncWriter{&buf, &mu}, func() {
		defer wg.Done()
		panic("invariant breach")
	}, func(r any, stack []byte) {
		gotRecovered = r
		assert.NotEmpty(t, stack)
	})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "PANIC in tick-loop")
	assert.Equal(t, "invariant breach", gotRecovered)
}

func TestGoWithRecoverDeliversError(t *testing.T) {
	errCh := make(chan error, 1)
	GoWithRecover("worker", nil, func() error {
		panic("boom")
	}, errCh, nil)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "panic in worker"))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error channel")
	}
}

func TestGoWithRecoverClosesChannelOnSuccess(t *testing.T) {
	errCh := make(chan error, 1)
	GoWithRecover("worker", nil, func() error {
		return nil
	}, errCh, nil)

	err, ok := <-errCh
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestRecoverToPanic(t *testing.T) {
	err := RecoverToPanic(func() error {
		panic("nope")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	err = RecoverToPanic(func() error { return nil })
	assert.NoError(t, err)
}

type syncWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
