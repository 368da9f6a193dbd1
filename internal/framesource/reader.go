// Package framesource bridges the capture child's shared-memory socket to
// the feeder: it dials the socket, reads fixed-size raw NV12/I420 frames on
// a schedule, and hands each one to the feeder as a CaptureBuffer. The
// socket is treated as cold until the file exists, and redial/backoff never
// gives up — camera outages can last minutes, and a finite retry cap would
// make the edge agent silently stop capturing.
package framesource

import (
	"context"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

var log = logging.L("framesource")

const (
	dialBackoffBase = 1 * time.Second
	dialBackoffCap  = 30 * time.Second
	backoffFactor   = 2.0
	jitterFraction  = 0.20
)

// CaptureBuffer mirrors feeder.CaptureBuffer's shape; framesource does not
// import feeder so the dependency runs transport-like, source -> sink.
type CaptureBuffer struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat protocol.PixelFormat
	TsMonoNs    int64
	TsUtcNs     int64
}

// Config describes the shared-memory socket and the frame geometry the
// capture child was configured to produce.
type Config struct {
	SocketPath  string
	Width       int
	Height      int
	PixelFormat protocol.PixelFormat
	FPSIdle     float64
	FPSActive   float64
}

func (c Config) frameSize() int {
	// NV12/I420: one luma byte per pixel plus one chroma byte per 2x2 block.
	return c.Width*c.Height + c.Width*c.Height/2
}

// OnFrameFunc receives one decoded capture buffer.
type OnFrameFunc func(CaptureBuffer)

// Reader polls for the shared-memory socket, reads frames at the current
// FPS, and invokes OnFrame for each one. Readiness and redial are fully
// decoupled from the capture child's own process supervision (internal/capture):
// this reader only cares whether the socket is present and producing bytes.
type Reader struct {
	cfg     Config
	onFrame OnFrameFunc

	fpsMu sync.RWMutex
	fps   float64

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	framesRead atomic.Uint64
}

// New constructs a Reader. The reader starts in idle-fps mode; call
// SetActive(true) when the orchestrator enters ACTIVE.
func New(cfg Config, onFrame OnFrameFunc) *Reader {
	if cfg.FPSIdle <= 0 {
		cfg.FPSIdle = 1
	}
	return &Reader{
		cfg:     cfg,
		onFrame: onFrame,
		fps:     cfg.FPSIdle,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetActive switches the read cadence between FPSIdle and FPSActive,
// mirroring the orchestrator's CmdSetAIFpsMode.
func (r *Reader) SetActive(active bool) {
	r.fpsMu.Lock()
	defer r.fpsMu.Unlock()
	if active {
		r.fps = r.cfg.FPSActive
	} else {
		r.fps = r.cfg.FPSIdle
	}
}

func (r *Reader) currentInterval() time.Duration {
	r.fpsMu.RLock()
	fps := r.fps
	r.fpsMu.RUnlock()
	if fps <= 0 {
		fps = 1
	}
	return time.Duration(float64(time.Second) / fps)
}

// FramesRead returns the total number of frames delivered to OnFrame, for
// health/metrics reporting.
func (r *Reader) FramesRead() uint64 {
	return r.framesRead.Load()
}

// Run blocks, reading frames until ctx is cancelled or Stop is called.
func (r *Reader) Run(ctx context.Context) {
	defer close(r.doneCh)
	backoff := dialBackoffBase
	for {
		if r.stopped() || ctx.Err() != nil {
			return
		}
		conn, err := r.dial(ctx)
		if err != nil {
			if r.sleep(ctx, jittered(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = dialBackoffBase
		r.readLoop(ctx, conn)
		conn.Close()
	}
}

// Stop terminates Run. Idempotent.
func (r *Reader) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reader) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// dial waits for the socket file to exist, then connects to it. It never
// gives up; callers loop it under their own backoff.
func (r *Reader) dial(ctx context.Context) (net.Conn, error) {
	if _, err := os.Stat(r.cfg.SocketPath); err != nil {
		return nil, err
	}
	d := net.Dialer{}
	return d.DialContext(ctx, "unix", r.cfg.SocketPath)
}

func (r *Reader) readLoop(ctx context.Context, conn net.Conn) {
	frameSize := r.cfg.frameSize()
	buf := make([]byte, frameSize)
	ticker := time.NewTicker(r.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			ticker.Reset(r.currentInterval())
			if _, err := readFull(conn, buf); err != nil {
				log.Warn("frame read failed, will redial", "error", err)
				return
			}
			now := time.Now()
			frame := CaptureBuffer{
				Data:        append([]byte(nil), buf...),
				Width:       r.cfg.Width,
				Height:      r.cfg.Height,
				PixelFormat: r.cfg.PixelFormat,
				TsMonoNs:    now.UnixNano(),
				TsUtcNs:     now.UnixNano(),
			}
			r.framesRead.Add(1)
			r.onFrame(frame)
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *Reader) sleep(ctx context.Context, d time.Duration) (stopped bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	case <-r.stopCh:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * backoffFactor)
	if d > dialBackoffCap {
		d = dialBackoffCap
	}
	return d
}

func jittered(d time.Duration) time.Duration {
	j := d.Seconds() * jitterFraction * (rand.Float64()*2 - 1)
	out := d + time.Duration(j*float64(time.Second))
	if out < 0 {
		out = 0
	}
	return out
}
