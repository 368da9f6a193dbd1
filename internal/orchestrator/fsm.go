// Package orchestrator implements the edge agent's recording orchestrator:
// a pure reducer mapping detection/timer/session events to state
// transitions and commands (§4.7), driven by an imperative adapter that
// performs the actual I/O.
package orchestrator

// State is the orchestrator's recording state.
type State int32

const (
	StateIdle State = iota
	StateDwell
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDwell:
		return "DWELL"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	default:
		return "IDLE"
	}
}

// EventKind enumerates the inputs the reducer accepts (§4.7.1).
type EventKind int32

const (
	EventDetection EventKind = iota
	EventKeepalive
	EventDwellTimerFired
	EventSilenceTimerFired
	EventPostrollTimerFired
	EventSessionOpened
	EventSessionClosed
)

// Event is one input to Reduce.
type Event struct {
	Kind      EventKind
	Relevant  bool   // for EventDetection: class ∈ filter ∧ conf ≥ threshold
	SessionID string // for EventSessionOpened
}

// CommandKind enumerates the side effects the adapter must perform.
type CommandKind int32

const (
	CmdArmDwellTimer CommandKind = iota
	CmdArmSilenceTimer
	CmdResetSilenceTimer
	CmdArmPostrollTimer
	CmdCancelPostrollTimer
	CmdStartStream
	CmdStopStream
	CmdOpenSession
	CmdCloseSession
	CmdSetAIFpsMode
)

// FPSMode is the argument to CmdSetAIFpsMode.
type FPSMode int32

const (
	FPSModeIdle FPSMode = iota
	FPSModeActive
)

// Command is one side effect the reducer asks the adapter to perform.
type Command struct {
	Kind      CommandKind
	SessionID string // for CmdCloseSession: the session being closed
	FPSMode   FPSMode
}

// Context is the orchestrator's reducer state. It carries no timers or
// deadlines itself — those are the adapter's responsibility to arm, and
// their expiration is fed back in as events.
type Context struct {
	State     State
	SessionID string
}

// New returns the initial IDLE context with no active session.
func New() Context {
	return Context{State: StateIdle}
}

// Reduce applies one event to ctx and returns the next context plus any
// commands the adapter must execute. Reduce performs no I/O and has no
// side effects beyond computing its return values (I1).
func Reduce(ctx Context, event Event) (Context, []Command) {
	switch ctx.State {
	case StateIdle:
		return reduceIdle(ctx, event)
	case StateDwell:
		return reduceDwell(ctx, event)
	case StateActive:
		return reduceActive(ctx, event)
	case StateClosing:
		return reduceClosing(ctx, event)
	default:
		return ctx, nil
	}
}

func reduceIdle(ctx Context, event Event) (Context, []Command) {
	switch event.Kind {
	case EventDetection:
		if !event.Relevant {
			return ctx, nil
		}
		ctx.State = StateDwell
		return ctx, []Command{{Kind: CmdArmDwellTimer}}
	default:
		return ctx, nil
	}
}

func reduceDwell(ctx Context, event Event) (Context, []Command) {
	switch event.Kind {
	case EventDetection:
		// Relevant or not, DWELL stays DWELL; the dwell timer is
		// fixed and never reset by further detections.
		return ctx, nil
	case EventKeepalive:
		return ctx, nil
	case EventDwellTimerFired:
		ctx.State = StateActive
		return ctx, []Command{
			{Kind: CmdStartStream},
			{Kind: CmdOpenSession},
			{Kind: CmdSetAIFpsMode, FPSMode: FPSModeActive},
			{Kind: CmdArmSilenceTimer},
		}
	default:
		return ctx, nil
	}
}

func reduceActive(ctx Context, event Event) (Context, []Command) {
	switch event.Kind {
	case EventDetection:
		if !event.Relevant {
			return ctx, nil
		}
		return ctx, []Command{{Kind: CmdResetSilenceTimer}}
	case EventKeepalive:
		// Keepalive does NOT reset the silence timer: only relevant
		// detections count as activity for hysteresis purposes.
		return ctx, nil
	case EventSilenceTimerFired:
		ctx.State = StateClosing
		return ctx, []Command{
			{Kind: CmdSetAIFpsMode, FPSMode: FPSModeIdle},
			{Kind: CmdArmPostrollTimer},
		}
	case EventSessionOpened:
		ctx.SessionID = event.SessionID
		return ctx, nil
	default:
		return ctx, nil
	}
}

func reduceClosing(ctx Context, event Event) (Context, []Command) {
	switch event.Kind {
	case EventDetection:
		if !event.Relevant {
			return ctx, nil
		}
		ctx.State = StateActive
		return ctx, []Command{
			{Kind: CmdCancelPostrollTimer},
			{Kind: CmdArmSilenceTimer},
		}
	case EventPostrollTimerFired:
		closingSessionID := ctx.SessionID
		ctx.State = StateIdle
		ctx.SessionID = ""
		return ctx, []Command{
			{Kind: CmdStopStream},
			{Kind: CmdCloseSession, SessionID: closingSessionID},
		}
	case EventSessionOpened:
		ctx.SessionID = event.SessionID
		return ctx, nil
	default:
		return ctx, nil
	}
}
