// Package childproc is the shared process-lifecycle primitive behind the
// capture and publisher wrappers: start, graceful SIGINT-then-SIGKILL
// stop, and capped-exponential-backoff auto-restart on crash (§6.1, §6.2).
package childproc

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("childproc")

// Spec describes how to launch and stop one child process.
type Spec struct {
	Name string
	Args []string

	// GracePeriod is how long Stop waits after SIGINT before SIGKILL.
	GracePeriod time.Duration

	// RestartBackoffBase/Cap bound the supervisor's auto-restart delay.
	// If both are zero, the supervisor does not auto-restart on exit.
	RestartBackoffBase time.Duration
	RestartBackoffCap  time.Duration

	// OnReady, if set, is polled after each (re)spawn; Start blocks until
	// it returns true or the context is done.
	OnReady func() bool
	// ReadyPollInterval is how often OnReady is polled. Defaults to 200ms.
	ReadyPollInterval time.Duration

	// OnSpawn, if set, is handed the child's stdout pipe after every
	// (re)spawn and run in its own goroutine for the lifetime of that
	// spawn. Used by capture to watch for its readiness marker.
	OnSpawn func(stdout io.Reader)
}

// Supervisor runs one Spec as a supervised child process, optionally
// auto-restarting it on crash.
type Supervisor struct {
	spec Spec

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Supervisor for spec. Nothing is launched until Start.
func New(spec Spec) *Supervisor {
	if spec.GracePeriod == 0 {
		spec.GracePeriod = 5 * time.Second
	}
	if spec.ReadyPollInterval == 0 {
		spec.ReadyPollInterval = 200 * time.Millisecond
	}
	return &Supervisor{spec: spec}
}

// Start launches the child process and, if auto-restart is configured,
// begins supervising it in the background. Start returns once the process
// has been spawned (and, if OnReady is set, is observed ready) — it does
// not wait for process exit.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.spawn(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	if s.spec.OnReady != nil {
		if !s.waitReady(ctx) {
			return fmt.Errorf("childproc: %s did not become ready", s.spec.Name)
		}
	}

	if s.spec.RestartBackoffBase > 0 {
		go s.superviseLoop(ctx)
	} else {
		go func() {
			s.mu.Lock()
			cmd := s.cmd
			s.mu.Unlock()
			if cmd != nil {
				cmd.Wait()
			}
			close(s.doneCh)
		}()
	}
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context) bool {
	ticker := time.NewTicker(s.spec.ReadyPollInterval)
	defer ticker.Stop()
	for {
		if s.spec.OnReady() {
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		case <-s.stopCh:
			return false
		}
	}
}

func (s *Supervisor) spawn() error {
	cmd := exec.Command(s.spec.Name, s.spec.Args...)
	setProcessGroup(cmd)

	var stdout io.ReadCloser
	if s.spec.OnSpawn != nil {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("childproc: stdout pipe for %s: %w", s.spec.Name, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("childproc: start %s: %w", s.spec.Name, err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	log.Info("child process started", "name", s.spec.Name, "pid", cmd.Process.Pid)

	if s.spec.OnSpawn != nil {
		go s.spec.OnSpawn(stdout)
	}
	return nil
}

// superviseLoop restarts the child with capped exponential backoff and
// jitter whenever it exits, until Stop is called.
func (s *Supervisor) superviseLoop(ctx context.Context) {
	defer close(s.doneCh)
	backoff := s.spec.RestartBackoffBase

	for {
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd != nil {
			cmd.Wait()
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		log.Warn("child process exited, restarting", "name", s.spec.Name, "backoff", backoff)
		jitter := backoff.Seconds() * 0.2 * (rand.Float64()*2 - 1)
		sleep := backoff + time.Duration(jitter*float64(time.Second))
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-time.After(sleep):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}

		backoff = time.Duration(float64(backoff) * 2)
		if backoff > s.spec.RestartBackoffCap {
			backoff = s.spec.RestartBackoffCap
		}

		if err := s.spawn(); err != nil {
			log.Error("restart failed", "name", s.spec.Name, "error", err)
			continue
		}
	}
}

// Stop sends SIGINT and waits up to GracePeriod before SIGKILL. Idempotent;
// safe to call even if Start was never called.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cmd := s.cmd
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := signalProcessGroup(cmd, syscall.SIGINT); err != nil {
		log.Warn("SIGINT failed, killing directly", "name", s.spec.Name, "error", err)
		cmd.Process.Kill()
	}

	select {
	case <-doneCh:
	case <-time.After(s.spec.GracePeriod):
		log.Warn("grace period expired, sending SIGKILL", "name", s.spec.Name)
		signalProcessGroup(cmd, syscall.SIGKILL)
		select {
		case <-doneCh:
		case <-time.After(time.Second):
		}
	}
}
