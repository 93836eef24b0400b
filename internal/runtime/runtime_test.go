package runtime_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/runtime"
)

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()

	rt, err := runtime.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	return rt
}

func TestRuntime_ReadyTasksRunInFIFOOrder(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	var order []int

	for i := range 5 {
		i := i
		rt.Spawn(func(*runtime.Task) error {
			order = append(order, i)
			return nil
		})
	}

	stop := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(stop)
	}()

	require.NoError(t, rt.Run(stop))
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRuntime_YieldRequeuesAtTail(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	var order []string

	rt.Spawn(func(t *runtime.Task) error {
		order = append(order, "a1")
		require.NoError(t, t.Yield())
		order = append(order, "a2")
		return nil
	})

	rt.Spawn(func(*runtime.Task) error {
		order = append(order, "b1")
		return nil
	})

	stop := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(stop)
	}()

	require.NoError(t, rt.Run(stop))
	require.Equal(t, []string{"a1", "b1", "a2"}, order)
}

// Timers fire in non-decreasing deadline order.
func TestRuntime_TimersFireInDeadlineOrder(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	var fired []string

	rt.Spawn(func(t *runtime.Task) error {
		require.NoError(t, t.AwaitTimer(30*time.Millisecond))
		fired = append(fired, "slow")
		return nil
	})

	rt.Spawn(func(t *runtime.Task) error {
		require.NoError(t, t.AwaitTimer(5*time.Millisecond))
		fired = append(fired, "fast")
		return nil
	})

	stop := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(stop)
	}()

	require.NoError(t, rt.Run(stop))
	require.Equal(t, []string{"fast", "slow"}, fired)
}

// A cancelled task observes Cancelled at its next suspension, not before
// — a timer wait already in flight still runs to its own deadline, per
// spec.md §4.7's "in-flight syscalls are not interrupted mid-call."
func TestRuntime_CancelObservedAtNextSuspension(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	var taskErr error

	task := rt.Spawn(func(t *runtime.Task) error {
		taskErr = t.AwaitTimer(10 * time.Millisecond)
		return taskErr
	})

	task.Cancel()

	stop := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(stop)
	}()

	require.NoError(t, rt.Run(stop))
	require.True(t, errs.Is(taskErr, errs.Cancelled))
}

func TestRuntime_AwaitIOFiresOnReadability(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(); _ = w.Close() })

	rt := newRuntime(t)

	var gotEvents runtime.IOEvents
	var gotErr error
	done := make(chan struct{})

	rt.Spawn(func(t *runtime.Task) error {
		ev, err := t.AwaitIO(int(r.Fd()), runtime.EventRead)
		gotEvents, gotErr = ev, err
		close(done)
		return err
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}()

	stop := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		close(stop)
	}()

	require.NoError(t, rt.Run(stop))
	require.NoError(t, gotErr)
	require.NotZero(t, gotEvents&runtime.EventRead)
}
