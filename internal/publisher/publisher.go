// Package publisher wraps the RTSP-push child process launched by the
// orchestrator on StartStream (§6.1): it reads NV12/I420 frames from the
// capture shared-memory socket and pushes H.264 to a configured media
// server. The process itself is external; this package only supervises it.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/clearlane/visionpipe/internal/childproc"
	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("publisher")

const (
	gracePeriod = 1500 * time.Millisecond
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Config describes the one RTSP target and shared-memory source a Publisher
// instance pushes from. It mirrors EdgeConfig's Source/Publisher groups.
type Config struct {
	BinaryPath string // path to the rtsp-push executable
	SocketPath string // shared-memory socket the capture child writes to
	Width      int
	Height     int
	FPS        int

	Host string
	Port int
	Path string
}

func (c Config) targetURL() string {
	return fmt.Sprintf("rtsp://%s:%d/%s", c.Host, c.Port, c.Path)
}

// Publisher satisfies the orchestrator.Publisher interface: Start launches
// the child (and keeps it running with crash-restart backoff for as long
// as the session is active), Stop tears it down gracefully.
type Publisher struct {
	cfg Config
	sup *childproc.Supervisor
}

// New constructs a Publisher bound to cfg. Nothing is launched yet.
func New(cfg Config) *Publisher {
	spec := childproc.Spec{
		Name: cfg.BinaryPath,
		Args: []string{
			"--input", cfg.SocketPath,
			"--width", fmt.Sprint(cfg.Width),
			"--height", fmt.Sprint(cfg.Height),
			"--fps", fmt.Sprint(cfg.FPS),
			"--output", cfg.targetURL(),
		},
		GracePeriod:        gracePeriod,
		RestartBackoffBase: backoffBase,
		RestartBackoffCap:  backoffCap,
	}
	return &Publisher{cfg: cfg, sup: childproc.New(spec)}
}

// Start launches the publisher child. It is restarted automatically with
// capped exponential backoff if it crashes, for as long as Stop has not
// been called — matching the orchestrator's expectation that the publisher
// stays up across the whole ACTIVE/CLOSING lifetime of a session.
func (p *Publisher) Start() error {
	log.Info("starting publisher", "url", p.cfg.targetURL(), "socket", p.cfg.SocketPath)
	return p.sup.Start(context.Background())
}

// Stop sends SIGINT to the publisher's process group and escalates to
// SIGKILL after the grace period.
func (p *Publisher) Stop() {
	log.Info("stopping publisher")
	p.sup.Stop()
}
