// Package workerconn implements the per-connection state machine on the
// inference worker: handshake, model load, heartbeat, Frame dispatch, and
// End/socket-close cleanup (§4.9).
package workerconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clearlane/visionpipe/internal/frameproc"
	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/metrics"
	"github.com/clearlane/visionpipe/internal/modelpool"
	"github.com/clearlane/visionpipe/internal/sessionwriter"
	"github.com/clearlane/visionpipe/internal/tracker"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

var log = logging.L("workerconn")

const (
	handshakeTimeout  = 5 * time.Second
	heartbeatInterval = 2 * time.Second
	inactivityTimeout = 10 * time.Second
)

// Options configures a Handler.
type Options struct {
	Pool          *modelpool.Pool
	SessionBaseDir string
	DeviceID      string
	MaxFrameBytes uint32
	InitialCredits uint32
}

// Handler serves Protocol v1 connections accepted by the worker listener.
type Handler struct {
	opts Options
}

// New constructs a Handler sharing pool across all connections it serves.
func New(opts Options) *Handler {
	if opts.MaxFrameBytes == 0 {
		opts.MaxFrameBytes = protocol.DefaultMaxFrameLen
	}
	if opts.InitialCredits == 0 {
		opts.InitialCredits = 4
	}
	return &Handler{opts: opts}
}

// connState holds the per-connection mutable state the dispatch loop
// mutates; it is only ever touched from the single goroutine running
// Serve, preserving per-connection serialization of envelope handling
// (§5) even though the process as a whole is multi-threaded.
type connState struct {
	sessionID   string
	tracker     *tracker.Tracker
	writer      *sessionwriter.Writer
	lastFrameID atomic.Uint64
}

// Serve drives one TCP connection to completion: handshake, model load,
// frame loop, and cleanup on End/close. It blocks until the connection
// ends.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	connDone := make(chan struct{})
	defer close(connDone)

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)
	seq := &protocol.SequenceState{}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		log.Warn("set handshake deadline failed", "error", err)
		return
	}
	env, err := reader.ReadEnvelope()
	if err != nil {
		log.Warn("handshake read failed", "error", err)
		return
	}
	if err := protocol.CheckVersion(env); err != nil {
		sendError(writer, protocol.ErrorVersionUnsupported, err.Error(), nil)
		return
	}
	if env.MsgType != protocol.MsgInit || env.Init == nil {
		sendError(writer, protocol.ErrorBadSequence, "expected INIT as first message", nil)
		return
	}
	seq.MarkHandshakeDone()
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return
	}

	state := &connState{tracker: tracker.New()}

	loadCtx, cancelLoad := context.WithCancel(ctx)
	defer cancelLoad()

	modelCh := make(chan loadResult, 1)
	go loadModel(loadCtx, h.opts.Pool, env.Init.Model, modelCh)

	var model frameproc.Model
	var modelErr error
	var classesFilter map[string]bool
	var confidenceThreshold float32
	if env.Init.ConfidenceThreshold != nil {
		confidenceThreshold = *env.Init.ConfidenceThreshold
	}
	if len(env.Init.ClassesFilter) > 0 {
		classesFilter = make(map[string]bool, len(env.Init.ClassesFilter))
		for _, c := range env.Init.ClassesFilter {
			classesFilter[c] = true
		}
	}

	lastActivity := time.Now()
	var mu sync.Mutex
	touch := func() {
		mu.Lock()
		lastActivity = time.Now()
		mu.Unlock()
	}
	inactiveFor := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Since(lastActivity)
	}

	heartbeatDone := make(chan struct{})
	go h.heartbeatLoop(writer, state, inactiveFor, heartbeatDone, conn)
	defer close(heartbeatDone)

	pendingFrames := 0
	const maxPendingDuringLoad = 64

	type readResult struct {
		env *protocol.Envelope
		err error
	}
	envCh := make(chan readResult)
	go func() {
		for {
			env, err := reader.ReadEnvelope()
			select {
			case envCh <- readResult{env: env, err: err}:
			case <-connDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down, closing connection")
			h.cleanup(state, model)
			return

		case res := <-modelCh:
			modelCh = nil // stop selecting on it again
			model, modelErr = res.model, res.err
			if modelErr != nil {
				sendError(writer, protocol.ErrorModelNotReady, modelErr.Error(), nil)
				return
			}
			chosen := protocol.ChosenFormat{
				PixelFormat:    protocol.PixelFormatNV12,
				Codec:          preferredCodec(env.Init.Caps.AcceptedCodecs),
				InitialCredits: h.opts.InitialCredits,
			}
			if w, hh := model.InputSize(); w > 0 && hh > 0 {
				chosen.Width, chosen.Height = uint32(w), uint32(hh)
			}
			initOk := &protocol.Envelope{
				ProtocolVersion: protocol.CurrentVersion,
				StreamID:        env.StreamID,
				MsgType:         protocol.MsgInitOk,
				InitOk: &protocol.InitOk{
					Chosen:        chosen,
					MaxFrameBytes: h.opts.MaxFrameBytes,
				},
			}
			if err := writer.WriteEnvelope(initOk); err != nil {
				log.Warn("write init_ok failed", "error", err)
				return
			}

		case rr := <-envCh:
			if rr.err != nil {
				log.Info("connection closed", "error", rr.err)
				h.cleanup(state, model)
				return
			}
			inEnv := rr.env
			touch()

			if err := protocol.CheckPayloadMatchesType(inEnv); err != nil {
				sendError(writer, protocol.ErrorBadMessage, err.Error(), nil)
				return
			}
			if err := seq.CheckHandshakeOrder(inEnv.MsgType); err != nil {
				sendError(writer, protocol.ErrorBadSequence, err.Error(), nil)
				return
			}

			switch inEnv.MsgType {
			case protocol.MsgFrame:
				if model == nil {
					pendingFrames++
					retry := uint32(200)
					sendError(writer, protocol.ErrorModelNotReady, "model still loading", &retry)
					if pendingFrames > maxPendingDuringLoad {
						log.Warn("too many frames queued during model load, closing")
						return
					}
					continue
				}
				h.handleFrame(loadCtx, writer, state, inEnv.Frame, seq, model, classesFilter, confidenceThreshold, h.opts)
			case protocol.MsgHeartbeat:
				// touch() above already recorded activity.
			case protocol.MsgEnd:
				h.closeSession(state)
			default:
				sendError(writer, protocol.ErrorBadMessage, fmt.Sprintf("unexpected msg_type %s from edge", inEnv.MsgType), nil)
				return
			}
		}
	}
}

type loadResult struct {
	model frameproc.Model
	err   error
}

func loadModel(ctx context.Context, pool *modelpool.Pool, name string, out chan<- loadResult) {
	model, err := pool.Acquire(ctx, name)
	select {
	case out <- loadResult{model: model, err: err}:
	case <-ctx.Done():
	}
}

func preferredCodec(accepted []protocol.Codec) protocol.Codec {
	for _, c := range accepted {
		if c == protocol.CodecNone {
			return protocol.CodecNone
		}
	}
	if len(accepted) > 0 {
		return accepted[0]
	}
	return protocol.CodecNone
}

func (h *Handler) handleFrame(ctx context.Context, writer *protocol.Writer, state *connState, frame *protocol.Frame, seq *protocol.SequenceState, model frameproc.Model, classesFilter map[string]bool, confidenceThreshold float32, opts Options) {
	if err := seq.CheckFrameID(frame.FrameID); err != nil {
		sendError(writer, protocol.ErrorInvalidFrame, err.Error(), nil)
		return
	}
	if err := protocol.ValidateFramePayload(frame, opts.MaxFrameBytes); err != nil {
		code := protocol.ErrorInvalidFrame
		var fe *protocol.FrameValidationError
		if errors.As(err, &fe) {
			code = fe.Code
		}
		sendError(writer, code, err.Error(), nil)
		return
	}

	result, err := frameproc.Process(ctx, model, frame, classesFilter, confidenceThreshold)
	if err != nil {
		sendError(writer, protocol.ErrorInvalidFrame, err.Error(), nil)
		return
	}
	metrics.StageLatencyMs.WithLabelValues("decode").Observe(float64(result.PreMs))
	metrics.StageLatencyMs.WithLabelValues("infer").Observe(float64(result.InferMs))
	metrics.StageLatencyMs.WithLabelValues("post").Observe(float64(result.PostMs))
	metrics.StageLatencyMs.WithLabelValues("total").Observe(float64(result.TotalMs))

	if frame.SessionID != state.sessionID {
		h.transitionSession(state, frame.SessionID, frame, opts)
	}

	var wireDetections []protocol.Detection
	if frame.SessionID != "" {
		trackerDets := make([]tracker.Detection, len(result.Detections))
		for i, d := range result.Detections {
			trackerDets[i] = tracker.Detection{
				ClassID:    d.ClassID,
				ClassName:  d.ClassName,
				Confidence: float64(d.Confidence),
				BBoxXYXY:   [4]float64{float64(d.BBoxXYXY[0]), float64(d.BBoxXYXY[1]), float64(d.BBoxXYXY[2]), float64(d.BBoxXYXY[3])},
			}
		}
		tracks := state.tracker.Update(trackerDets)

		if state.writer != nil && len(tracks) > 0 {
			objs := make([]sessionwriter.Object, len(tracks))
			for i, tr := range tracks {
				objs[i] = sessionwriter.Object{
					TrackID:    tr.TrackID,
					ClassID:    tr.ClassID,
					ClassName:  tr.ClassName,
					Confidence: tr.Confidence,
					BBoxXYXY:   tr.BBoxXYXY,
				}
			}
			if err := state.writer.Append(objs, frame.FrameID, frame.TsMonoNs, frame.TsUtcNs); err != nil {
				log.Error("session writer append failed", "error", err)
			}
		}

		wireDetections = make([]protocol.Detection, len(tracks))
		for i, tr := range tracks {
			trackID := tr.TrackID
			wireDetections[i] = protocol.Detection{
				BBoxXYXY:   [4]float32{float32(tr.BBoxXYXY[0]), float32(tr.BBoxXYXY[1]), float32(tr.BBoxXYXY[2]), float32(tr.BBoxXYXY[3])},
				Confidence: float32(tr.Confidence),
				ClassName:  tr.ClassName,
				TrackID:    &trackID,
			}
		}
	} else {
		wireDetections = make([]protocol.Detection, len(result.Detections))
		for i, d := range result.Detections {
			wireDetections[i] = protocol.Detection{
				BBoxXYXY:   d.BBoxXYXY,
				Confidence: d.Confidence,
				ClassName:  d.ClassName,
			}
		}
	}

	state.lastFrameID.Store(frame.FrameID)
	resultEnv := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgResult,
		Result: &protocol.Result{
			FrameID:    frame.FrameID,
			Detections: wireDetections,
			PreMs:      result.PreMs,
			InferMs:    result.InferMs,
			PostMs:     result.PostMs,
			TotalMs:    result.TotalMs,
		},
	}
	if err := writer.WriteEnvelope(resultEnv); err != nil {
		log.Warn("write result failed", "error", err)
	}
	metrics.FramesProcessedTotal.WithLabelValues("ok").Inc()
}

// transitionSession handles §4.10 step 4: closing the previous writer and
// opening a new one when session_id changes.
func (h *Handler) transitionSession(state *connState, newSessionID string, frame *protocol.Frame, opts Options) {
	if state.writer != nil {
		if err := state.writer.Close(); err != nil {
			log.Error("session writer close failed", "error", err)
		}
		state.writer = nil
	}
	state.sessionID = newSessionID
	state.tracker.Reset()
	metrics.TrackerResetsTotal.Inc()

	if newSessionID == "" {
		return
	}

	w, err := sessionwriter.New(opts.SessionBaseDir, newSessionID, opts.DeviceID, int(frame.Width), int(frame.Height))
	if err != nil {
		log.Error("failed to create session writer", "session_id", newSessionID, "error", err)
		return
	}
	state.writer = w
	metrics.ActiveSessions.Inc()
}

// closeSession handles §4.9 step 6: an explicit End message.
func (h *Handler) closeSession(state *connState) {
	if state.writer != nil {
		if err := state.writer.Close(); err != nil {
			log.Error("session writer close on End failed", "error", err)
		}
		state.writer = nil
		metrics.ActiveSessions.Dec()
	}
	state.sessionID = ""
	state.tracker.Reset()
}

// cleanup handles §4.9 step 7: socket close.
func (h *Handler) cleanup(state *connState, model frameproc.Model) {
	if state.writer != nil {
		if err := state.writer.Close(); err != nil {
			log.Error("session writer close on socket close failed", "error", err)
		}
		metrics.ActiveSessions.Dec()
	}
	if model != nil {
		h.opts.Pool.Release(model.Name())
	}
}

func (h *Handler) heartbeatLoop(writer *protocol.Writer, state *connState, inactiveFor func() time.Duration, done <-chan struct{}, conn net.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			hb := &protocol.Envelope{
				ProtocolVersion: protocol.CurrentVersion,
				MsgType:         protocol.MsgHeartbeat,
				Heartbeat:       &protocol.Heartbeat{LastFrameID: state.lastFrameID.Load()},
			}
			if err := writer.WriteEnvelope(hb); err != nil {
				log.Warn("heartbeat write failed", "error", err)
			}
			if inactiveFor() > inactivityTimeout {
				log.Warn("inactivity timeout, closing connection")
				conn.Close()
				return
			}
		}
	}
}

func sendError(w *protocol.Writer, code protocol.ErrorCode, message string, retryAfterMs *uint32) {
	err := w.WriteEnvelope(&protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgError,
		Error: &protocol.Error{
			Code:         code,
			Message:      message,
			RetryAfterMs: retryAfterMs,
		},
	})
	if err != nil {
		log.Warn("failed to send error envelope", "code", code, "error", err)
	}
}
