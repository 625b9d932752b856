package device

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/finsim/cuvec/cudriver"
)

func TestExecutorRunsInSubmissionOrder(t *testing.T) {
	e := NewExecutor(cudriver.NewSim(0))
	defer e.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, e.Run(func(cudriver.Driver) error {
			order = append(order, i)
			return nil
		}))
	}
	require.Len(t, order, 100)
	for i, got := range order {
		require.Equal(t, i, got)
	}
}

func TestExecutorSerializesConcurrentSubmitters(t *testing.T) {
	e := NewExecutor(cudriver.NewSim(0))
	defer e.Close()

	// A deliberately racy increment: only safe if ops never interleave.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = e.Run(func(cudriver.Driver) error {
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1600, counter)
}

func TestExecutorSurfacesOpErrors(t *testing.T) {
	e := NewExecutor(cudriver.NewSim(0))
	defer e.Close()

	boom := errors.New("boom")
	err := e.Run(func(cudriver.Driver) error { return boom })
	require.ErrorIs(t, err, boom)

	// The worker must survive a failed op.
	require.NoError(t, e.Run(func(cudriver.Driver) error { return nil }))
}

func TestExecutorRecoversPanics(t *testing.T) {
	e := NewExecutor(cudriver.NewSim(0))
	defer e.Close()

	err := e.Run(func(cudriver.Driver) error { panic("kernel went sideways") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "kernel went sideways")

	require.NoError(t, e.Run(func(cudriver.Driver) error { return nil }))
}

func TestExecutorClose(t *testing.T) {
	e := NewExecutor(cudriver.NewSim(0))
	e.Close()
	e.Close() // idempotent
	require.ErrorIs(t, e.Run(func(cudriver.Driver) error { return nil }), ErrClosed)
}
