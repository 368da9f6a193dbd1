// Package capture wraps the always-on capture child process (§6.2): it
// produces raw NV12/I420 frames into a shared-memory ring continuously, and
// must be kept running by an auto-restarter with infinite retries and a
// capped exponential backoff. Readiness is observed, not assumed: the
// socket file must exist and a PLAYING marker must have been seen on the
// child's stdout.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/clearlane/visionpipe/internal/childproc"
	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("capture")

const (
	gracePeriod   = 5 * time.Second
	backoffBase   = 500 * time.Millisecond
	backoffCap    = 30 * time.Second
	playingMarker = "PLAYING"
)

// Config describes the one capture source a Capture instance manages.
type Config struct {
	BinaryPath string
	SourceURI  string
	SocketPath string
	Width      int
	Height     int
	FPS        int
	ShmSizeMB  int
}

// Capture supervises the capture child process: always-on, infinite
// restart retries with capped exponential backoff, and readiness gated on
// both the shared-memory socket appearing on disk and a PLAYING marker
// observed on the child's stdout.
type Capture struct {
	cfg Config
	sup *childproc.Supervisor

	mu      sync.Mutex
	playing bool
}

// New constructs a Capture bound to cfg. Nothing is launched yet.
func New(cfg Config) *Capture {
	c := &Capture{cfg: cfg}
	spec := childproc.Spec{
		Name: cfg.BinaryPath,
		Args: []string{
			"--source", cfg.SourceURI,
			"--socket", cfg.SocketPath,
			"--width", fmt.Sprint(cfg.Width),
			"--height", fmt.Sprint(cfg.Height),
			"--fps", fmt.Sprint(cfg.FPS),
			"--shm-size-mb", fmt.Sprint(cfg.ShmSizeMB),
		},
		GracePeriod: gracePeriod,
		// Capture is "fixed, infinite retries" per its spec: the cap bounds
		// the delay, but RestartBackoffBase/Cap never disable restarting.
		RestartBackoffBase: backoffBase,
		RestartBackoffCap:  backoffCap,
		OnReady:            c.isReady,
		OnSpawn:            c.watchStdout,
	}
	c.sup = childproc.New(spec)
	return c
}

// Start launches the capture child and blocks until it is observed ready
// (socket present and PLAYING marker seen) or ctx is done.
func (c *Capture) Start(ctx context.Context) error {
	log.Info("starting capture", "source", c.cfg.SourceURI, "socket", c.cfg.SocketPath)
	return c.sup.Start(ctx)
}

// Stop sends SIGINT to the capture process group and escalates to SIGKILL
// after the grace period.
func (c *Capture) Stop() {
	log.Info("stopping capture")
	c.sup.Stop()
}

// isReady reports whether the shared-memory socket exists on disk and a
// PLAYING marker has been observed on the child's stdout since the last
// (re)spawn.
func (c *Capture) isReady() bool {
	if _, err := os.Stat(c.cfg.SocketPath); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// watchStdout scans r for the PLAYING marker, setting the playing flag the
// first time it appears. It is meant to be run against the capture child's
// stdout pipe for the lifetime of one spawn; a fresh scan starts on every
// restart since a new child process means a new "not yet playing" state.
func (c *Capture) watchStdout(r io.Reader) {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, playingMarker) {
			c.mu.Lock()
			c.playing = true
			c.mu.Unlock()
		}
	}
}
