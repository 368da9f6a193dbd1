// Package feeder bridges captured NV12/I420 buffers to the worker
// connection: it enforces window-manager flow control, applies
// LATEST_WINS dropping under backpressure, caches frames for later
// ingestion, and triggers codec degradation on format failures.
package feeder

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/clearlane/visionpipe/internal/degrade"
	"github.com/clearlane/visionpipe/internal/framecache"
	"github.com/clearlane/visionpipe/internal/imaging"
	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/metrics"
	"github.com/clearlane/visionpipe/internal/window"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

var log = logging.L("feeder")

// SendFunc transmits an Envelope on the active connection.
type SendFunc func(*protocol.Envelope) error

// Config captures the model/resolution/window settings fixed at Init time.
type Config struct {
	ModelName            string
	Width                int
	Height               int
	MaxInflight          int
	ClassesFilter        []string
	ConfidenceThreshold  *float32
	JPEGQuality          int // default 85
}

// CaptureBuffer is one captured NV12/I420 frame handed to the feeder.
type CaptureBuffer struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat protocol.PixelFormat
	TsMonoNs    int64
	TsUtcNs     int64
	SessionID   string
}

// Feeder is the edge-side bridge from capture callbacks to the wire.
type Feeder struct {
	cfg Config

	mu          sync.Mutex
	started     bool
	sendFn      SendFunc
	streamID    string
	chosenCodec protocol.Codec
	maxFrameBytes uint32
	pending     *CaptureBuffer
	sessionID   string

	frameCounter atomic.Uint64
	lastFrameID  atomic.Uint64
	sendTs       sync.Map // frameID uint64 -> time.Time
	frameSession sync.Map // frameID uint64 -> session_id string, as of send time

	window *window.Manager
	cache  *framecache.Cache
	deg    *degrade.Manager

	latestWinsDrops atomic.Uint64

	readyCh chan struct{}
	readyOnce sync.Once
}

// New constructs a Feeder; frameCacheTTL configures the frame cache used to
// reattach image bytes to late detections.
func New(cfg Config, frameCacheTTL time.Duration) *Feeder {
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 85
	}
	return &Feeder{
		cfg:     cfg,
		window:  window.New(),
		cache:   framecache.New(frameCacheTTL),
		deg:     degrade.New(),
		readyCh: make(chan struct{}),
	}
}

// SetSendFn wires the transport used to emit envelopes. Called by the TCP
// client after connect.
func (f *Feeder) SetSendFn(fn SendFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendFn = fn
}

// SetStreamID records the stream_id assigned for this connection.
func (f *Feeder) SetStreamID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamID = id
}

// SetSessionID is called by the orchestrator adapter on session open/close.
func (f *Feeder) SetSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

// BuildInit constructs the Init envelope. preferJPEG puts JPEG first in
// accepted_codecs, used during degradation.
func (f *Feeder) BuildInit(preferJPEG bool) *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	codecs := []protocol.Codec{protocol.CodecNone, protocol.CodecJPEG}
	if preferJPEG {
		codecs = []protocol.Codec{protocol.CodecJPEG, protocol.CodecNone}
	}

	init := &protocol.Init{
		Model: f.cfg.ModelName,
		Caps: protocol.Capabilities{
			AcceptedPixelFormats: []protocol.PixelFormat{protocol.PixelFormatNV12, protocol.PixelFormatI420},
			AcceptedCodecs:       codecs,
			MaxWidth:             uint32(f.cfg.Width),
			MaxHeight:            uint32(f.cfg.Height),
			MaxInflight:          uint32(f.cfg.MaxInflight),
			DesiredMaxFrameBytes: uint32(f.cfg.Width * f.cfg.Height * 3 / 2),
		},
		ClassesFilter:       f.cfg.ClassesFilter,
		ConfidenceThreshold: f.cfg.ConfidenceThreshold,
	}

	return &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		StreamID:        f.streamID,
		MsgType:         protocol.MsgInit,
		Init:            init,
	}
}

// HandleInitOk records the negotiated format and initializes the window.
func (f *Feeder) HandleInitOk(ok *protocol.InitOk) {
	if ok.Chosen.Policy != protocol.PolicyLatestWins {
		log.Warn("worker chose an unknown flow-control policy, treating it as LATEST_WINS", "policy", ok.Chosen.Policy)
	}

	f.mu.Lock()
	f.chosenCodec = ok.Chosen.Codec
	f.maxFrameBytes = ok.MaxFrameBytes
	f.mu.Unlock()

	f.window.Initialize(ok.Chosen.InitialCredits)
	metrics.WindowSize.Set(float64(ok.Chosen.InitialCredits))

	f.readyOnce.Do(func() { close(f.readyCh) })
}

// Ready returns a channel closed once the first InitOk has been processed.
func (f *Feeder) Ready() <-chan struct{} { return f.readyCh }

// Start subscribes the feeder to capture callbacks. Idempotent.
func (f *Feeder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
}

// Stop unsubscribes and clears any pending frame.
func (f *Feeder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.pending = nil
}

// Destroy additionally cancels the frame-cache sweep timer. Call once,
// on final shutdown.
func (f *Feeder) Destroy() {
	f.Stop()
	f.cache.Stop()
}

// OnCapture is the per-frame decision point (§4.5.2).
func (f *Feeder) OnCapture(buf CaptureBuffer) {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return
	}

	want := buf.Width * buf.Height * 3 / 2
	if len(buf.Data) != want {
		log.Warn("capture buffer size mismatch, triggering degradation", "got", len(buf.Data), "want", want)
		f.maybeDegrade()
		return
	}

	f.mu.Lock()
	maxBytes := f.maxFrameBytes
	f.mu.Unlock()
	if maxBytes > 0 && uint32(len(buf.Data)) > maxBytes {
		log.Warn("capture buffer exceeds max_frame_bytes, triggering degradation", "size", len(buf.Data), "max", maxBytes)
		f.maybeDegrade()
		return
	}

	if f.window.HasCredits() {
		f.send(buf)
		return
	}

	f.mu.Lock()
	f.pending = &buf
	f.mu.Unlock()
	f.latestWinsDrops.Add(1)
	metrics.LatestWinsDropsTotal.Inc()
}

// HandleResult applies a Result, frees a window credit, and tries to flush
// any pending frame.
func (f *Feeder) HandleResult(r *protocol.Result) {
	f.window.OnResultReceived()
	f.sendTs.Delete(r.FrameID)
	size, inflight := f.window.Snapshot()
	metrics.WindowSize.Set(float64(size))
	metrics.WindowInflight.Set(float64(inflight))
	f.tryFlushPending()
}

// SessionIDForFrame returns the session_id that was active when frameID was
// sent, for the ingester to scope a Result's detections to a session. The
// mapping is consumed (deleted) on read since each frame_id is only ever
// resulted once.
func (f *Feeder) SessionIDForFrame(frameID uint64) (string, bool) {
	v, ok := f.frameSession.LoadAndDelete(frameID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// HandleWindowUpdate applies an authoritative window size and tries to
// flush any pending frame.
func (f *Feeder) HandleWindowUpdate(w *protocol.WindowUpdate) {
	f.window.OnWindowUpdate(w.NewSize)
	size, inflight := f.window.Snapshot()
	metrics.WindowSize.Set(float64(size))
	metrics.WindowInflight.Set(float64(inflight))
	f.tryFlushPending()
}

// HandleError applies an Error, triggering degradation for format-related
// codes. It returns true if the connection should be closed (fatal code).
func (f *Feeder) HandleError(e *protocol.Error) (fatal bool) {
	switch e.Code {
	case protocol.ErrorFrameTooLarge, protocol.ErrorUnsupportedFormat:
		f.maybeDegrade()
		return false
	case protocol.ErrorVersionUnsupported, protocol.ErrorBadMessage, protocol.ErrorBadSequence:
		return true
	default:
		return false
	}
}

func (f *Feeder) maybeDegrade() bool {
	if !f.deg.Trigger(time.Now()) {
		if f.deg.Exhausted() {
			log.Error("degradation attempts exhausted, giving up", "attempts", f.deg.Attempts())
		}
		return false
	}
	metrics.DegradationAttemptsTotal.Inc()

	f.mu.Lock()
	sendFn := f.sendFn
	f.mu.Unlock()
	if sendFn == nil {
		return false
	}
	env := f.BuildInit(true)
	if err := sendFn(env); err != nil {
		log.Warn("failed to send degraded Init", "error", err)
	}
	return true
}

func (f *Feeder) tryFlushPending() {
	f.mu.Lock()
	pending := f.pending
	if pending == nil {
		f.mu.Unlock()
		return
	}
	if !f.window.HasCredits() {
		f.mu.Unlock()
		return
	}
	f.pending = nil
	f.mu.Unlock()
	f.send(*pending)
}

// send assigns a frame_id, encodes per chosen codec, caches the original
// NV12 buffer, and transmits (§4.5.3).
func (f *Feeder) send(buf CaptureBuffer) {
	f.mu.Lock()
	sendFn := f.sendFn
	streamID := f.streamID
	codec := f.chosenCodec
	sessionID := f.sessionID
	f.mu.Unlock()
	if sendFn == nil {
		return
	}

	frameID := f.frameCounter.Add(1)
	f.frameSession.Store(frameID, sessionID)

	f.cache.Put(frameID, framecache.Entry{
		Data:    buf.Data,
		Width:   buf.Width,
		Height:  buf.Height,
		TsUtcNs: buf.TsUtcNs,
	})

	wireCodec := protocol.CodecNone
	data := buf.Data
	var planes []protocol.Plane
	if codec == protocol.CodecJPEG {
		encoded, err := imaging.EncodeNV12ToJPEG(buf.Data, buf.Width, buf.Height, f.cfg.JPEGQuality)
		if err != nil {
			log.Warn("JPEG encode failed, falling back to RAW for this frame", "error", err)
			planes = imaging.RawPlanes(buf.Width, buf.Height)
		} else {
			wireCodec = protocol.CodecJPEG
			data = encoded
		}
	} else {
		planes = imaging.RawPlanes(buf.Width, buf.Height)
	}

	frame := &protocol.Frame{
		FrameID:     frameID,
		TsMonoNs:    buf.TsMonoNs,
		TsUtcNs:     buf.TsUtcNs,
		SessionID:   sessionID,
		Width:       uint32(buf.Width),
		Height:      uint32(buf.Height),
		PixelFormat: buf.PixelFormat,
		Codec:       wireCodec,
		Planes:      planes,
		Data:        data,
	}

	env := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		StreamID:        streamID,
		MsgType:         protocol.MsgFrame,
		Frame:           frame,
	}

	if err := sendFn(env); err != nil {
		log.Warn("send frame failed", "frame_id", frameID, "error", err)
		return
	}

	f.window.OnFrameSent()
	size, inflight := f.window.Snapshot()
	metrics.WindowSize.Set(float64(size))
	metrics.WindowInflight.Set(float64(inflight))
	f.sendTs.Store(frameID, time.Now())
	f.lastFrameID.Store(frameID)
}

// SendTimestamp returns the time a given frame_id was sent, for RTT
// tracking. Returns ok=false if unknown.
func (f *Feeder) SendTimestamp(frameID uint64) (time.Time, bool) {
	v, ok := f.sendTs.Load(frameID)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Cache exposes the frame cache for the ingester.
func (f *Feeder) Cache() *framecache.Cache { return f.cache }

// LatestWinsDrops returns the cumulative LATEST_WINS drop count.
func (f *Feeder) LatestWinsDrops() uint64 { return f.latestWinsDrops.Load() }

// LastFrameID returns the frame_id most recently handed to the transport,
// for the client's Heartbeat envelopes (§4.6.1).
func (f *Feeder) LastFrameID() uint64 { return f.lastFrameID.Load() }

// ResetDegradation clears degradation attempt/cooldown state. Called on
// every successful (re)connect so a fresh connection gets a fresh
// degradation budget instead of inheriting an exhausted one.
func (f *Feeder) ResetDegradation() { f.deg.Reset() }
