// Package edgeclient implements the edge side of the Protocol v1 TCP
// channel to the inference worker: connection lifecycle, handshake,
// heartbeats, inactivity detection, and reconnect-with-backoff.
package edgeclient

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/metrics"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

var log = logging.L("edgeclient")

// State is the connection state machine defined in §4.6.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	default:
		return "DISCONNECTED"
	}
}

const (
	initialBackoff    = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.20
	heartbeatInterval = 2 * time.Second
	handshakeTimeout  = 5 * time.Second
	inactivityTimeout = 10 * time.Second
)

// Feeder is the subset of *feeder.Feeder the client drives. Defined here so
// edgeclient does not import feeder, keeping the dependency direction
// transport -> feeder-as-interface rather than a cycle.
type Feeder interface {
	SetSendFn(func(*protocol.Envelope) error)
	SetStreamID(string)
	BuildInit(preferJPEG bool) *protocol.Envelope
	HandleInitOk(*protocol.InitOk)
	HandleResult(*protocol.Result)
	HandleWindowUpdate(*protocol.WindowUpdate)
	HandleError(*protocol.Error) (fatal bool)
	LastFrameID() uint64
	ResetDegradation()
}

// Client manages one logical connection to the inference worker, handling
// reconnection transparently underneath the feeder it drives.
type Client struct {
	host   string
	port   int
	feeder Feeder

	// onResult, if set, is invoked for every Result received, after the
	// feeder has had a chance to process it. Used by the orchestrator
	// wiring to classify detections for FSM relevance without edgeclient
	// depending on the orchestrator package.
	onResult func(*protocol.Result)

	connMu sync.RWMutex
	conn   net.Conn
	writer *protocol.Writer
	state  State

	lastActivityMu sync.Mutex
	lastActivity   time.Time

	done     chan struct{}
	stopOnce sync.Once

	runningMu sync.Mutex
	isRunning bool
}

// New constructs a Client targeting host:port, driving feeder.
func New(host string, port int, feeder Feeder) *Client {
	return &Client{
		host:   host,
		port:   port,
		feeder: feeder,
		done:   make(chan struct{}),
	}
}

// SetOnResult registers a callback invoked for every Result envelope
// received, after the feeder's own HandleResult has run.
func (c *Client) SetOnResult(fn func(*protocol.Result)) {
	c.onResult = fn
}

// Start begins the connect/reconnect loop in the background. Idempotent.
func (c *Client) Start() {
	c.runningMu.Lock()
	if c.isRunning {
		c.runningMu.Unlock()
		return
	}
	c.isRunning = true
	c.runningMu.Unlock()

	go c.reconnectLoop()
}

// Stop terminates the connection and reconnect loop. Idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

func (c *Client) setState(s State) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// CloseSession emits an End envelope for the current stream, telling the
// worker to finalize the session's artifacts without closing the TCP
// connection itself. It is a no-op if no connection is currently ready.
func (c *Client) CloseSession() error {
	c.connMu.RLock()
	w := c.writer
	c.connMu.RUnlock()
	if w == nil {
		return nil
	}
	return w.WriteEnvelope(&protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgEnd,
		End:             &protocol.End{},
	})
}

func (c *Client) reconnectLoop() {
	backoff := initialBackoff
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connectOnce(); err != nil {
			log.Warn("connect failed", "error", err, "backoff", backoff)
			metrics.ReconnectsTotal.Inc()

			jitter := backoff.Seconds() * jitterFraction * (rand.Float64()*2 - 1)
			sleep := backoff + time.Duration(jitter*float64(time.Second))
			if sleep < 0 {
				sleep = 0
			}

			select {
			case <-time.After(sleep):
			case <-c.done:
				return
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// connectOnce blocks for the life of the connection; on return the
		// connection has failed or been closed. Reset backoff and retry.
		backoff = initialBackoff
		metrics.ReconnectsTotal.Inc()

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// connectOnce dials, performs the handshake, and then serves the
// connection until it fails or Stop is called. It returns an error only
// when the connection could not be established or the handshake failed.
func (c *Client) connectOnce() error {
	c.setState(StateConnecting)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return fmt.Errorf("edgeclient: dial %s: %w", addr, err)
	}

	streamID := newStreamID()
	c.feeder.SetStreamID(streamID)

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	c.connMu.Lock()
	c.conn = conn
	c.writer = writer
	c.connMu.Unlock()
	c.setState(StateHandshaking)
	c.touchActivity()

	c.feeder.SetSendFn(func(env *protocol.Envelope) error {
		return writer.WriteEnvelope(env)
	})

	initEnv := c.feeder.BuildInit(false)
	initEnv.StreamID = streamID
	if err := writer.WriteEnvelope(initEnv); err != nil {
		conn.Close()
		return fmt.Errorf("edgeclient: send init: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return err
	}
	env, err := reader.ReadEnvelope()
	if err != nil {
		conn.Close()
		return fmt.Errorf("edgeclient: handshake read: %w", err)
	}
	if err := protocol.CheckVersion(env); err != nil {
		conn.Close()
		return err
	}
	if env.MsgType != protocol.MsgInitOk || env.InitOk == nil {
		conn.Close()
		return fmt.Errorf("edgeclient: expected INIT_OK, got %s", env.MsgType)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.feeder.HandleInitOk(env.InitOk)
	c.feeder.ResetDegradation()
	c.setState(StateReady)
	c.touchActivity()
	log.Info("connected and ready", "stream_id", streamID, "addr", addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	readErrCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		readErrCh <- c.readLoop(reader)
	}()

	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()

	select {
	case <-readErrCh:
	case <-c.done:
	}
	cancel()
	conn.Close()
	wg.Wait()

	c.connMu.Lock()
	c.conn = nil
	c.writer = nil
	c.connMu.Unlock()
	c.setState(StateDisconnected)

	return nil
}

func (c *Client) readLoop(reader *protocol.Reader) error {
	for {
		env, err := reader.ReadEnvelope()
		if err != nil {
			return err
		}
		c.touchActivity()
		c.dispatch(env)
	}
}

// dispatch routes an inbound Envelope per §4.6.2.
func (c *Client) dispatch(env *protocol.Envelope) {
	switch env.MsgType {
	case protocol.MsgInitOk:
		if env.InitOk != nil {
			c.feeder.HandleInitOk(env.InitOk)
		}
	case protocol.MsgResult:
		if env.Result != nil {
			c.feeder.HandleResult(env.Result)
			if c.onResult != nil {
				c.onResult(env.Result)
			}
		}
	case protocol.MsgWindowUpdate:
		if env.WindowUpdate != nil {
			c.feeder.HandleWindowUpdate(env.WindowUpdate)
		}
	case protocol.MsgHeartbeat:
		// touchActivity already ran in readLoop; nothing else to do.
	case protocol.MsgError:
		if env.Error != nil {
			if fatal := c.feeder.HandleError(env.Error); fatal {
				c.connMu.Lock()
				if c.conn != nil {
					c.conn.Close()
				}
				c.connMu.Unlock()
			}
		}
	case protocol.MsgEnd:
		// Not acted on: the feeder's session_id is changed only by the
		// orchestrator adapter, and the connection stays open.
	default:
		log.Warn("unexpected message type from worker", "type", env.MsgType)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	checkTicker := time.NewTicker(heartbeatInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			w := c.writer
			c.connMu.RUnlock()
			if w == nil {
				continue
			}
			hb := &protocol.Envelope{
				ProtocolVersion: protocol.CurrentVersion,
				MsgType:         protocol.MsgHeartbeat,
				Heartbeat:       &protocol.Heartbeat{LastFrameID: c.feeder.LastFrameID()},
			}
			if err := w.WriteEnvelope(hb); err != nil {
				log.Warn("heartbeat send failed", "error", err)
			}
		case <-checkTicker.C:
			if c.inactiveFor() > inactivityTimeout {
				log.Warn("inactivity timeout, closing connection")
				c.connMu.Lock()
				if c.conn != nil {
					c.conn.Close()
				}
				c.connMu.Unlock()
				return
			}
		}
	}
}

func (c *Client) touchActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Client) inactiveFor() time.Duration {
	c.lastActivityMu.Lock()
	defer c.lastActivityMu.Unlock()
	if c.lastActivity.IsZero() {
		return 0
	}
	return time.Since(c.lastActivity)
}

// newStreamID produces a stream_id in the edge-<unix-ts>-<rand> format
// (spec §3.1). The random suffix only needs to disambiguate two streams
// opened by the same edge within the same second, so a short hex token
// is enough.
func newStreamID() string {
	return fmt.Sprintf("edge-%d-%s", time.Now().Unix(), randSuffix())
}

func randSuffix() string {
	var b [4]byte
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%02x%02x%02x%02x", b[0], b[1], b[2], b[3])
}
