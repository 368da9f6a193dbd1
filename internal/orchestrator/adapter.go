package orchestrator

import (
	"sync"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/metrics"
)

var log = logging.L("orchestrator")

// Publisher is the subset of the publisher child-process wrapper the
// adapter drives (§6.1).
type Publisher interface {
	Start() error
	Stop()
}

// SessionStore is the subset of the HTTP session store client the adapter
// drives (§6.3). OpenSession and CloseSession are expected to retry
// internally; the adapter treats a returned error as "give up, stay in
// the current FSM state" rather than blocking the reducer on I/O.
type SessionStore interface {
	OpenSession() (sessionID string, err error)
	CloseSession(sessionID string) error
}

// SessionTarget receives session_id transitions (the feeder and, by
// extension, the frame processor's persistence path).
type SessionTarget interface {
	SetSessionID(sessionID string)
}

// SessionCloser tells the TCP client to emit End for the current stream.
type SessionCloser interface {
	CloseSession() error
}

// Timers is the adapter's injectable clock, letting tests fire timer
// events deterministically instead of sleeping.
type Timers struct {
	DwellMs    int
	SilenceMs  int
	PostrollMs int
}

// Adapter is the imperative shell around the pure Reduce function: it owns
// the actual timers, and executes commands by calling into the publisher,
// session store, feeder, and TCP client.
type Adapter struct {
	mu      sync.Mutex
	ctx     Context
	timers  Timers
	publisher Publisher
	store     SessionStore
	target    SessionTarget
	closer    SessionCloser

	dwellTimer    *time.Timer
	silenceTimer  *time.Timer
	postrollTimer *time.Timer

	// onFPSMode, if set, is invoked whenever the reducer asks for an AI fps
	// mode switch, so the frame source reader can change its read cadence.
	// Kept as a hook rather than a dependency so orchestrator does not need
	// to know about framesource.
	onFPSMode func(active bool)

	eventCh chan Event
	done    chan struct{}
	stopOnce sync.Once
}

// NewAdapter constructs an Adapter in the IDLE state.
func NewAdapter(timers Timers, publisher Publisher, store SessionStore, target SessionTarget, closer SessionCloser) *Adapter {
	return &Adapter{
		ctx:       New(),
		timers:    timers,
		publisher: publisher,
		store:     store,
		target:    target,
		closer:    closer,
		eventCh:   make(chan Event, 64),
		done:      make(chan struct{}),
	}
}

// SetOnFPSMode registers a callback invoked with true/false whenever the
// reducer issues CmdSetAIFpsMode, letting the caller drive the frame
// source's read cadence without the orchestrator importing it.
func (a *Adapter) SetOnFPSMode(fn func(active bool)) {
	a.onFPSMode = fn
}

// Start launches the adapter's event loop.
func (a *Adapter) Start() {
	go a.run()
}

// Stop terminates the event loop and cancels any armed timers. Idempotent.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.cancelAllTimersLocked()
		a.mu.Unlock()
	})
}

// Dispatch enqueues an event for processing by the adapter's event loop.
// Safe for concurrent callers (the AI detection callback, timer firings).
func (a *Adapter) Dispatch(event Event) {
	select {
	case a.eventCh <- event:
	case <-a.done:
	}
}

// Shutdown force-closes any in-progress recording session outside the
// normal event-driven transitions, for the process-exit shutdown sequence
// (§5): step 1 is "close_session if active", independent of whether the
// FSM is mid-DWELL, ACTIVE, or CLOSING when the signal arrives.
func (a *Adapter) Shutdown() {
	a.mu.Lock()
	sessionID := a.ctx.SessionID
	state := a.ctx.State
	a.cancelAllTimersLocked()
	a.ctx = Context{State: StateIdle}
	a.mu.Unlock()

	if state == StateActive || state == StateClosing {
		a.execute(Command{Kind: CmdStopStream}, a.ctx)
	}
	if sessionID != "" {
		a.closeSession(sessionID)
	}
}

// State returns the current orchestrator state, for metrics/health.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx.State
}

func (a *Adapter) run() {
	for {
		select {
		case event := <-a.eventCh:
			a.apply(event)
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) apply(event Event) {
	a.mu.Lock()
	next, cmds := Reduce(a.ctx, event)
	a.ctx = next
	a.mu.Unlock()

	metrics.OrchestratorState.Set(metrics.OrchestratorStateValue(next.State.String()))

	for _, cmd := range cmds {
		a.execute(cmd, next)
	}
}

func (a *Adapter) execute(cmd Command, ctx Context) {
	switch cmd.Kind {
	case CmdArmDwellTimer:
		a.arm(&a.dwellTimer, a.timers.DwellMs, EventDwellTimerFired)
	case CmdArmSilenceTimer:
		a.arm(&a.silenceTimer, a.timers.SilenceMs, EventSilenceTimerFired)
	case CmdResetSilenceTimer:
		a.stopTimer(&a.silenceTimer)
		a.arm(&a.silenceTimer, a.timers.SilenceMs, EventSilenceTimerFired)
	case CmdArmPostrollTimer:
		a.arm(&a.postrollTimer, a.timers.PostrollMs, EventPostrollTimerFired)
	case CmdCancelPostrollTimer:
		a.stopTimer(&a.postrollTimer)
	case CmdStartStream:
		if a.publisher != nil {
			if err := a.publisher.Start(); err != nil {
				log.Error("publisher start failed", "error", err)
			}
		}
	case CmdStopStream:
		if a.publisher != nil {
			a.publisher.Stop()
		}
	case CmdOpenSession:
		a.openSession()
	case CmdCloseSession:
		a.closeSession(cmd.SessionID)
	case CmdSetAIFpsMode:
		if a.onFPSMode != nil {
			a.onFPSMode(cmd.FPSMode == FPSModeActive)
		}
	}
}

func (a *Adapter) openSession() {
	if a.store == nil {
		return
	}
	go func() {
		sessionID, err := a.store.OpenSession()
		if err != nil {
			log.Error("open session failed", "error", err)
			return
		}
		if a.target != nil {
			a.target.SetSessionID(sessionID)
		}
		a.Dispatch(Event{Kind: EventSessionOpened, SessionID: sessionID})
	}()
}

func (a *Adapter) closeSession(sessionID string) {
	if sessionID == "" {
		return
	}
	if a.closer != nil {
		if err := a.closer.CloseSession(); err != nil {
			log.Warn("failed to emit End to worker", "error", err)
		}
	}
	if a.target != nil {
		a.target.SetSessionID("")
	}
	if a.store == nil {
		return
	}
	go func() {
		if err := a.store.CloseSession(sessionID); err != nil {
			log.Error("close session failed", "session_id", sessionID, "error", err)
			return
		}
		a.Dispatch(Event{Kind: EventSessionClosed, SessionID: sessionID})
	}()
}

func (a *Adapter) arm(slot **time.Timer, ms int, fired EventKind) {
	if ms <= 0 {
		ms = 1
	}
	d := time.Duration(ms) * time.Millisecond
	timer := time.AfterFunc(d, func() { a.Dispatch(Event{Kind: fired}) })
	a.mu.Lock()
	*slot = timer
	a.mu.Unlock()
}

func (a *Adapter) stopTimer(slot **time.Timer) {
	a.mu.Lock()
	t := *slot
	*slot = nil
	a.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (a *Adapter) cancelAllTimersLocked() {
	for _, t := range []*time.Timer{a.dwellTimer, a.silenceTimer, a.postrollTimer} {
		if t != nil {
			t.Stop()
		}
	}
	a.dwellTimer, a.silenceTimer, a.postrollTimer = nil, nil, nil
}
