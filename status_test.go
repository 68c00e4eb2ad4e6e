package emulator

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownFlagIsOneWay(t *testing.T) {
	status := NewServiceStatus()
	assert.False(t, status.ShutdownRequested())

	status.RequestShutdown()
	assert.True(t, status.ShutdownRequested())

	// Health updates after shutdown never clear the flag.
	status.SetONVIFHealthy(true)
	status.SetDiscoveryHealthy(false)
	assert.True(t, status.ShutdownRequested())
}

func TestServiceStatusHealthAndError(t *testing.T) {
	status := NewServiceStatus()
	assert.False(t, status.ONVIFHealthy())

	status.SetONVIFHealthy(true)
	status.SetDiscoveryHealthy(true)
	assert.True(t, status.ONVIFHealthy())
	assert.True(t, status.DiscoveryHealthy())

	status.SetError("stream went away")
	assert.Equal(t, "stream went away", status.LastError())
}

func TestCoordinatorShutsDownOnFirstExit(t *testing.T) {
	status := NewServiceStatus()
	coord := NewCoordinator(status, zerolog.Nop())

	coord.Go("failing", func() error {
		return errors.New("bind failed")
	})
	coord.Go("polling", func() error {
		for !status.ShutdownRequested() {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})

	err := coord.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind failed")
	assert.True(t, status.ShutdownRequested())
	assert.Contains(t, status.LastError(), "bind failed")
}

func TestCoordinatorCleanExit(t *testing.T) {
	status := NewServiceStatus()
	coord := NewCoordinator(status, zerolog.Nop())

	coord.Go("finished", func() error { return nil })
	assert.NoError(t, coord.Wait())
	assert.True(t, status.ShutdownRequested())
}

func TestCoordinatorRecoversWorkerPanic(t *testing.T) {
	status := NewServiceStatus()
	coord := NewCoordinator(status, zerolog.Nop())

	coord.Go("panicking", func() error {
		panic("boom")
	})

	err := coord.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCoordinatorRunsShutdownHooks(t *testing.T) {
	status := NewServiceStatus()
	coord := NewCoordinator(status, zerolog.Nop())

	hookRan := make(chan struct{})
	blocked := make(chan struct{})
	coord.OnShutdown(func() {
		close(hookRan)
		close(blocked)
	})

	// This worker only exits once the hook releases it, proving hooks
	// run before workers are joined.
	coord.Go("server-like", func() error {
		<-blocked
		return nil
	})
	coord.Go("trigger", func() error { return nil })

	require.NoError(t, coord.Wait())
	select {
	case <-hookRan:
	default:
		t.Fatal("shutdown hook did not run")
	}
}
