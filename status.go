package emulator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ServiceStatus is the shared health record mutated by every worker.
// The shutdown flag is one-way: once requested it never reverts.
type ServiceStatus struct {
	discoveryHealthy atomic.Bool
	onvifHealthy     atomic.Bool
	shutdown         atomic.Bool

	mu        sync.Mutex
	lastError string
}

func NewServiceStatus() *ServiceStatus {
	return &ServiceStatus{}
}

func (s *ServiceStatus) RequestShutdown()        { s.shutdown.Store(true) }
func (s *ServiceStatus) ShutdownRequested() bool { return s.shutdown.Load() }

func (s *ServiceStatus) SetDiscoveryHealthy(v bool) { s.discoveryHealthy.Store(v) }
func (s *ServiceStatus) DiscoveryHealthy() bool     { return s.discoveryHealthy.Load() }

func (s *ServiceStatus) SetONVIFHealthy(v bool) { s.onvifHealthy.Store(v) }
func (s *ServiceStatus) ONVIFHealthy() bool     { return s.onvifHealthy.Load() }

func (s *ServiceStatus) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *ServiceStatus) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

type workerExit struct {
	name string
	err  error
}

// Coordinator supervises the service workers and drives graceful
// shutdown. The first worker to finish, successfully or not, flips the
// shutdown flag; the remaining workers observe it within their polling
// interval and are joined before Wait returns.
type Coordinator struct {
	status *ServiceStatus
	log    zerolog.Logger
	wg     sync.WaitGroup
	done   chan workerExit

	mu    sync.Mutex
	hooks []func()
}

func NewCoordinator(status *ServiceStatus, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		status: status,
		log:    log.With().Str("component", "lifecycle").Logger(),
		done:   make(chan workerExit, 16),
	}
}

// Go runs fn as a supervised worker. fn must observe the shutdown flag
// and return promptly once it is set. Panics are recovered and treated
// as worker failure, not process death.
func (c *Coordinator) Go(name string, fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err := errors.Errorf("worker panic: %v", r)
				c.status.SetError(fmt.Sprintf("%s: %v", name, err))
				c.done <- workerExit{name: name, err: err}
			}
		}()
		err := fn()
		if err != nil {
			c.status.SetError(fmt.Sprintf("%s: %v", name, err))
		}
		c.done <- workerExit{name: name, err: err}
	}()
}

// OnShutdown registers a hook run after the shutdown flag is set but
// before workers are joined. Used for components that block in their
// own loop, like the diagnostics HTTP server.
func (c *Coordinator) OnShutdown(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Wait blocks until any worker exits, then requests shutdown, runs the
// hooks and joins the rest. The triggering worker's error, if any, is
// returned.
func (c *Coordinator) Wait() error {
	first := <-c.done
	if first.err != nil {
		c.log.Error().Err(first.err).Str("worker", first.name).Msg("worker failed, shutting down")
	} else {
		c.log.Info().Str("worker", first.name).Msg("worker finished, shutting down")
	}
	c.status.RequestShutdown()
	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	c.wg.Wait()
	return first.err
}

// Heartbeat returns a worker that logs a liveness line every interval
// until shutdown.
func Heartbeat(status *ServiceStatus, log zerolog.Logger, interval time.Duration) func() error {
	hb := log.With().Str("component", "heartbeat").Logger()
	return func() error {
		last := time.Now()
		beats := 0
		for !status.ShutdownRequested() {
			time.Sleep(time.Second)
			if time.Since(last) < interval {
				continue
			}
			beats++
			hb.Info().
				Int("beat", beats).
				Bool("onvif_healthy", status.ONVIFHealthy()).
				Bool("discovery_healthy", status.DiscoveryHealthy()).
				Msg("service heartbeat")
			last = time.Now()
		}
		return nil
	}
}
