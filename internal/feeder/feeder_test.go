package feeder

import (
	"testing"
	"time"

	"github.com/clearlane/visionpipe/pkg/protocol"
)

func nv12Buffer(w, h int) CaptureBuffer {
	return CaptureBuffer{
		Data:        make([]byte, w*h*3/2),
		Width:       w,
		Height:      h,
		PixelFormat: protocol.PixelFormatNV12,
		TsMonoNs:    1,
		TsUtcNs:     1,
	}
}

// ready returns a Feeder that has completed handshake with the given
// window size, recording every envelope it sends.
func ready(t *testing.T, initialCredits uint32) (*Feeder, *[]*protocol.Envelope) {
	t.Helper()
	f := New(Config{ModelName: "m", Width: 2, Height: 2, MaxInflight: 4}, time.Minute)
	sent := make([]*protocol.Envelope, 0)
	f.SetSendFn(func(e *protocol.Envelope) error {
		sent = append(sent, e)
		return nil
	})
	f.SetStreamID("edge-1-aaaa")
	f.HandleInitOk(&protocol.InitOk{
		Chosen:        protocol.ChosenFormat{Codec: protocol.CodecNone, InitialCredits: initialCredits},
		MaxFrameBytes: 1 << 20,
	})
	f.Start()
	return f, &sent
}

func TestOnCaptureSendsImmediatelyWhenCreditsAvailable(t *testing.T) {
	f, sent := ready(t, 2)

	f.OnCapture(nv12Buffer(2, 2))

	if len(*sent) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(*sent))
	}
	if (*sent)[0].MsgType != protocol.MsgFrame {
		t.Fatalf("msg_type = %s, want FRAME", (*sent)[0].MsgType)
	}
	if f.LastFrameID() != (*sent)[0].Frame.FrameID {
		t.Fatalf("LastFrameID() = %d, want %d", f.LastFrameID(), (*sent)[0].Frame.FrameID)
	}
}

func TestOnCaptureDropsLatestWinsWhenNoCredits(t *testing.T) {
	f, sent := ready(t, 1)

	f.OnCapture(nv12Buffer(2, 2)) // consumes the only credit
	if len(*sent) != 1 {
		t.Fatalf("first capture: got %d envelopes, want 1", len(*sent))
	}

	f.OnCapture(nv12Buffer(2, 2)) // no credits: queued as pending, counted as a drop
	f.OnCapture(nv12Buffer(2, 2)) // replaces pending, counted as a drop

	if len(*sent) != 1 {
		t.Fatalf("no-credit captures must not be sent immediately, got %d envelopes", len(*sent))
	}
	if got := f.LatestWinsDrops(); got != 2 {
		t.Fatalf("LatestWinsDrops() = %d, want 2", got)
	}

	f.HandleResult(&protocol.Result{FrameID: (*sent)[0].Frame.FrameID})
	if len(*sent) != 2 {
		t.Fatalf("pending frame should flush once a credit frees up, got %d envelopes", len(*sent))
	}
}

func TestOnCaptureSizeMismatchTriggersDegradeNotSend(t *testing.T) {
	f, sent := ready(t, 4)

	bad := nv12Buffer(2, 2)
	bad.Data = bad.Data[:len(bad.Data)-1] // wrong size for 2x2 NV12

	f.OnCapture(bad)

	if len(*sent) != 1 {
		t.Fatalf("got %d envelopes, want 1 (degraded Init, no Frame)", len(*sent))
	}
	if (*sent)[0].MsgType != protocol.MsgInit {
		t.Fatalf("msg_type = %s, want INIT (degradation retry)", (*sent)[0].MsgType)
	}
	if (*sent)[0].Init.Caps.AcceptedCodecs[0] != protocol.CodecJPEG {
		t.Fatal("degraded Init must prefer JPEG first")
	}
}

func TestOnCaptureOverMaxFrameBytesTriggersDegrade(t *testing.T) {
	f := New(Config{ModelName: "m", Width: 2, Height: 2, MaxInflight: 4}, time.Minute)
	sent := make([]*protocol.Envelope, 0)
	f.SetSendFn(func(e *protocol.Envelope) error {
		sent = append(sent, e)
		return nil
	})
	f.HandleInitOk(&protocol.InitOk{
		Chosen:        protocol.ChosenFormat{Codec: protocol.CodecNone, InitialCredits: 4},
		MaxFrameBytes: 1, // smaller than any real NV12 buffer
	})
	f.Start()

	f.OnCapture(nv12Buffer(2, 2))

	if len(sent) != 1 || sent[0].MsgType != protocol.MsgInit {
		t.Fatalf("expected a single degraded Init, got %+v", sent)
	}
}

func TestOnCaptureIgnoredAfterStop(t *testing.T) {
	f, sent := ready(t, 4)
	f.Stop()

	f.OnCapture(nv12Buffer(2, 2))

	if len(*sent) != 0 {
		t.Fatalf("capture while stopped must be ignored, got %d envelopes", len(*sent))
	}
}

func TestHandleErrorDegradableCodesAreNotFatal(t *testing.T) {
	cases := []protocol.ErrorCode{protocol.ErrorFrameTooLarge, protocol.ErrorUnsupportedFormat}
	for _, code := range cases {
		f, sent := ready(t, 4)
		fatal := f.HandleError(&protocol.Error{Code: code})
		if fatal {
			t.Fatalf("code %s: HandleError returned fatal=true, want false", code)
		}
		if len(*sent) != 1 || (*sent)[0].MsgType != protocol.MsgInit {
			t.Fatalf("code %s: expected a degraded Init retry, got %+v", code, *sent)
		}
	}
}

func TestHandleErrorFatalCodesCloseConnection(t *testing.T) {
	cases := []protocol.ErrorCode{protocol.ErrorVersionUnsupported, protocol.ErrorBadMessage, protocol.ErrorBadSequence}
	for _, code := range cases {
		f, sent := ready(t, 4)
		fatal := f.HandleError(&protocol.Error{Code: code})
		if !fatal {
			t.Fatalf("code %s: HandleError returned fatal=false, want true", code)
		}
		if len(*sent) != 0 {
			t.Fatalf("code %s: fatal errors must not trigger a degraded Init, got %+v", code, *sent)
		}
	}
}

func TestHandleErrorUnknownCodeIsNotFatal(t *testing.T) {
	f, sent := ready(t, 4)
	fatal := f.HandleError(&protocol.Error{Code: protocol.ErrorInternal})
	if fatal {
		t.Fatal("ErrorInternal should not be treated as fatal")
	}
	if len(*sent) != 0 {
		t.Fatalf("ErrorInternal should not trigger degradation, got %+v", *sent)
	}
}

func TestResetDegradationAllowsImmediateRetrigger(t *testing.T) {
	f, sent := ready(t, 4)

	f.HandleError(&protocol.Error{Code: protocol.ErrorFrameTooLarge})
	if len(*sent) != 1 {
		t.Fatalf("expected first degrade attempt to fire, got %d envelopes", len(*sent))
	}

	// Immediately within the cooldown window, a second attempt is suppressed.
	f.HandleError(&protocol.Error{Code: protocol.ErrorFrameTooLarge})
	if len(*sent) != 1 {
		t.Fatalf("second attempt within cooldown should be suppressed, got %d envelopes", len(*sent))
	}

	f.ResetDegradation()
	f.HandleError(&protocol.Error{Code: protocol.ErrorFrameTooLarge})
	if len(*sent) != 2 {
		t.Fatalf("ResetDegradation should clear cooldown/attempt state, got %d envelopes", len(*sent))
	}
}
