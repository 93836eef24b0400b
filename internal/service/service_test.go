package service_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/service"
)

func TestLifecycle_HappyPathTransitions(t *testing.T) {
	t.Parallel()

	var calls []string

	l := service.NewLifecycle(service.Hooks{
		Init:   func() error { calls = append(calls, "init"); return nil },
		Start:  func() error { calls = append(calls, "start"); return nil },
		Stop:   func() error { calls = append(calls, "stop"); return nil },
		Reload: func() error { calls = append(calls, "reload"); return nil },
	})

	require.Equal(t, service.StateInit, l.Status())

	require.NoError(t, l.Init())
	require.Equal(t, service.StateReady, l.Status())

	require.NoError(t, l.Start())
	require.Equal(t, service.StateRunning, l.Status())

	require.NoError(t, l.Reload())
	require.Equal(t, service.StateRunning, l.Status())

	require.NoError(t, l.Stop())
	require.Equal(t, service.StateStopped, l.Status())

	require.Equal(t, []string{"init", "start", "reload", "stop"}, calls)
}

func TestLifecycle_StartOnRunningIsIdempotentNoOp(t *testing.T) {
	t.Parallel()

	startCount := 0

	l := service.NewLifecycle(service.Hooks{
		Start: func() error { startCount++; return nil },
	})

	require.NoError(t, l.Init())
	require.NoError(t, l.Start())
	require.NoError(t, l.Start())
	require.NoError(t, l.Start())

	require.Equal(t, 1, startCount)
	require.Equal(t, service.StateRunning, l.Status())
}

func TestLifecycle_StopOnStoppedIsIdempotentNoOp(t *testing.T) {
	t.Parallel()

	stopCount := 0

	l := service.NewLifecycle(service.Hooks{
		Stop: func() error { stopCount++; return nil },
	})

	require.NoError(t, l.Init())
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())

	require.Equal(t, 1, stopCount)
	require.Equal(t, service.StateStopped, l.Status())
}

func TestLifecycle_StartBeforeInitIsUsageError(t *testing.T) {
	t.Parallel()

	l := service.NewLifecycle(service.Hooks{})
	require.Error(t, l.Start())
}

func TestLifecycle_InitFailureEntersErrorAndStaysThere(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	l := service.NewLifecycle(service.Hooks{
		Init: func() error { return boom },
	})

	err := l.Init()
	require.ErrorIs(t, err, boom)
	require.Equal(t, service.StateError, l.Status())

	// Error is sticky: every subsequent call returns it.
	require.ErrorIs(t, l.Init(), boom)
	require.ErrorIs(t, l.Start(), boom)
	require.ErrorIs(t, l.Stop(), boom)
}

func TestRegistry_RegisterGetAndDuplicateRejection(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	svc := service.NewLifecycle(service.Hooks{})

	require.NoError(t, reg.Register("runtime", svc))
	require.Error(t, reg.Register("runtime", svc))

	got, err := reg.Get("runtime")
	require.NoError(t, err)
	require.Equal(t, svc, got)

	_, err = reg.Get("missing")
	require.Error(t, err)
}

func TestRegistry_StartAllAndStopAll(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()

	var order []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		svc := service.NewLifecycle(service.Hooks{
			Start: func() error { order = append(order, "start:"+name); return nil },
			Stop:  func() error { order = append(order, "stop:"+name); return nil },
		})
		require.NoError(t, svc.Init())
		require.NoError(t, reg.Register(name, svc))
	}

	require.NoError(t, reg.StartAll())
	require.NoError(t, reg.StopAll())

	require.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, order)
}
