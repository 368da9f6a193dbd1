package orchestrator

import "testing"

func hasCommand(cmds []Command, kind CommandKind) bool {
	for _, c := range cmds {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

func TestIdleIrrelevantDetectionStaysIdle(t *testing.T) {
	ctx := New()
	next, cmds := Reduce(ctx, Event{Kind: EventDetection, Relevant: false})
	if next.State != StateIdle {
		t.Fatalf("state = %v, want IDLE", next.State)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands, got %v", cmds)
	}
}

func TestIdleRelevantDetectionArmsDwell(t *testing.T) {
	ctx := New()
	next, cmds := Reduce(ctx, Event{Kind: EventDetection, Relevant: true})
	if next.State != StateDwell {
		t.Fatalf("state = %v, want DWELL", next.State)
	}
	if !hasCommand(cmds, CmdArmDwellTimer) {
		t.Fatalf("expected CmdArmDwellTimer, got %v", cmds)
	}
}

func TestDwellDetectionDoesNotResetTimer(t *testing.T) {
	ctx := Context{State: StateDwell}
	next, cmds := Reduce(ctx, Event{Kind: EventDetection, Relevant: true})
	if next.State != StateDwell {
		t.Fatalf("state = %v, want DWELL", next.State)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no re-arm command on repeated detection, got %v", cmds)
	}
}

func TestDwellTimerFiredGoesActive(t *testing.T) {
	ctx := Context{State: StateDwell}
	next, cmds := Reduce(ctx, Event{Kind: EventDwellTimerFired})
	if next.State != StateActive {
		t.Fatalf("state = %v, want ACTIVE", next.State)
	}
	for _, want := range []CommandKind{CmdStartStream, CmdOpenSession, CmdSetAIFpsMode, CmdArmSilenceTimer} {
		if !hasCommand(cmds, want) {
			t.Errorf("expected command %v among %v", want, cmds)
		}
	}
}

func TestActiveKeepaliveDoesNotResetSilence(t *testing.T) {
	ctx := Context{State: StateActive, SessionID: "s1"}
	next, cmds := Reduce(ctx, Event{Kind: EventKeepalive})
	if next.State != StateActive {
		t.Fatalf("state = %v, want ACTIVE", next.State)
	}
	if hasCommand(cmds, CmdResetSilenceTimer) {
		t.Fatal("keepalive must not reset the silence timer")
	}
}

func TestActiveRelevantDetectionResetsSilence(t *testing.T) {
	ctx := Context{State: StateActive, SessionID: "s1"}
	next, cmds := Reduce(ctx, Event{Kind: EventDetection, Relevant: true})
	if next.State != StateActive {
		t.Fatalf("state = %v, want ACTIVE", next.State)
	}
	if !hasCommand(cmds, CmdResetSilenceTimer) {
		t.Fatal("expected CmdResetSilenceTimer")
	}
}

func TestActiveSilenceTimerGoesClosing(t *testing.T) {
	ctx := Context{State: StateActive, SessionID: "s1"}
	next, cmds := Reduce(ctx, Event{Kind: EventSilenceTimerFired})
	if next.State != StateClosing {
		t.Fatalf("state = %v, want CLOSING", next.State)
	}
	if next.SessionID != "s1" {
		t.Fatal("session_id must be preserved through CLOSING")
	}
	if !hasCommand(cmds, CmdArmPostrollTimer) {
		t.Fatal("expected CmdArmPostrollTimer")
	}
}

func TestClosingDetectionReactivatesSameSession(t *testing.T) {
	ctx := Context{State: StateClosing, SessionID: "s1"}
	next, cmds := Reduce(ctx, Event{Kind: EventDetection, Relevant: true})
	if next.State != StateActive {
		t.Fatalf("state = %v, want ACTIVE", next.State)
	}
	if next.SessionID != "s1" {
		t.Fatal("re-activation must preserve session_id")
	}
	if !hasCommand(cmds, CmdCancelPostrollTimer) || !hasCommand(cmds, CmdArmSilenceTimer) {
		t.Fatalf("expected cancel-postroll and arm-silence, got %v", cmds)
	}
}

func TestClosingPostrollFiredGoesIdleAndClosesSession(t *testing.T) {
	ctx := Context{State: StateClosing, SessionID: "s1"}
	next, cmds := Reduce(ctx, Event{Kind: EventPostrollTimerFired})
	if next.State != StateIdle {
		t.Fatalf("state = %v, want IDLE", next.State)
	}
	if next.SessionID != "" {
		t.Fatal("session_id must be cleared on return to IDLE")
	}
	var closeCmd *Command
	for i := range cmds {
		if cmds[i].Kind == CmdCloseSession {
			closeCmd = &cmds[i]
		}
	}
	if closeCmd == nil {
		t.Fatal("expected CmdCloseSession")
	}
	if closeCmd.SessionID != "s1" {
		t.Errorf("CmdCloseSession.SessionID = %q, want s1", closeCmd.SessionID)
	}
	if !hasCommand(cmds, CmdStopStream) {
		t.Fatal("expected CmdStopStream")
	}
}

// TestSessionIDInvariant checks P5: session_id is non-empty iff state is
// ACTIVE or CLOSING, across the full happy-path event sequence.
func TestSessionIDInvariant(t *testing.T) {
	ctx := New()
	steps := []Event{
		{Kind: EventDetection, Relevant: true},
		{Kind: EventDwellTimerFired},
		{Kind: EventSessionOpened, SessionID: "abc"},
		{Kind: EventDetection, Relevant: true},
		{Kind: EventSilenceTimerFired},
		{Kind: EventPostrollTimerFired},
	}
	for i, ev := range steps {
		ctx, _ = Reduce(ctx, ev)
		wantNonEmpty := ctx.State == StateActive || ctx.State == StateClosing
		gotNonEmpty := ctx.SessionID != ""
		if wantNonEmpty != gotNonEmpty {
			t.Fatalf("step %d: state=%v session_id=%q violates P5", i, ctx.State, ctx.SessionID)
		}
	}
	if ctx.State != StateIdle {
		t.Fatalf("final state = %v, want IDLE", ctx.State)
	}
}
