package protocol

import "fmt"

// CheckVersion returns a VERSION_UNSUPPORTED error if env's protocol_version
// is not the one this package implements.
func CheckVersion(env *Envelope) error {
	if env.ProtocolVersion != CurrentVersion {
		return fmt.Errorf("protocol: unsupported protocol_version %d (want %d)", env.ProtocolVersion, CurrentVersion)
	}
	return nil
}

// CheckPayloadMatchesType verifies the oneof payload actually set on env
// agrees with env.MsgType. Mismatch is a fatal BAD_MESSAGE per the wire
// contract.
func CheckPayloadMatchesType(env *Envelope) error {
	present := map[MsgType]bool{
		MsgInit:         env.Init != nil,
		MsgInitOk:       env.InitOk != nil,
		MsgFrame:        env.Frame != nil,
		MsgResult:       env.Result != nil,
		MsgWindowUpdate: env.WindowUpdate != nil,
		MsgHeartbeat:    env.Heartbeat != nil,
		MsgError:        env.Error != nil,
		MsgEnd:          env.End != nil,
	}
	if !present[env.MsgType] {
		return fmt.Errorf("protocol: msg_type %s has no matching payload", env.MsgType)
	}
	for mt, ok := range present {
		if mt != env.MsgType && ok {
			return fmt.Errorf("protocol: payload for %s present alongside msg_type %s", mt, env.MsgType)
		}
	}
	return nil
}

// FrameValidationError carries the ErrorCode a ValidateFramePayload failure
// should be reported to the edge under, so callers don't have to collapse
// every payload violation onto a single code.
type FrameValidationError struct {
	Code ErrorCode
	Err  error
}

func (e *FrameValidationError) Error() string { return e.Err.Error() }
func (e *FrameValidationError) Unwrap() error { return e.Err }

// ValidateFramePayload checks §4.2 rule 5: size and plane-layout constraints
// tying Frame.Data to its declared codec and dimensions. Errors are
// *FrameValidationError so the caller can map them to the wire taxonomy's
// FRAME_TOO_LARGE, INVALID_FRAME, or UNSUPPORTED_FORMAT code instead of
// reporting every failure the same way.
func ValidateFramePayload(f *Frame, maxFrameBytes uint32) error {
	if maxFrameBytes > 0 && uint32(len(f.Data)) > maxFrameBytes {
		return &FrameValidationError{
			Code: ErrorFrameTooLarge,
			Err:  fmt.Errorf("protocol: frame payload %d bytes exceeds max_frame_bytes %d", len(f.Data), maxFrameBytes),
		}
	}
	switch f.Codec {
	case CodecNone:
		want := int(f.Width) * int(f.Height) * 3 / 2
		if len(f.Data) != want {
			return &FrameValidationError{
				Code: ErrorInvalidFrame,
				Err:  fmt.Errorf("protocol: RAW frame payload %d bytes, want %d (%dx%d NV12/I420)", len(f.Data), want, f.Width, f.Height),
			}
		}
		var sum int
		for _, p := range f.Planes {
			sum += int(p.Size)
		}
		if sum != len(f.Data) {
			return &FrameValidationError{
				Code: ErrorInvalidFrame,
				Err:  fmt.Errorf("protocol: RAW frame planes sum %d bytes, data is %d bytes", sum, len(f.Data)),
			}
		}
	case CodecJPEG:
		if len(f.Planes) != 0 {
			return &FrameValidationError{
				Code: ErrorUnsupportedFormat,
				Err:  fmt.Errorf("protocol: JPEG frame must not declare planes"),
			}
		}
	default:
		return &FrameValidationError{
			Code: ErrorUnsupportedFormat,
			Err:  fmt.Errorf("protocol: unknown codec %d", f.Codec),
		}
	}
	return nil
}

// SequenceState tracks the minimal per-connection state needed to enforce
// the handshake-ordering and monotonic-frame_id rules in §4.2.
type SequenceState struct {
	handshakeDone bool
	lastFrameID   uint64
	sawFrame      bool
}

// CheckHandshakeOrder enforces that before Init/InitOk has been observed,
// only Init (from the edge) or InitOk/Error (from the worker) are accepted.
// Call MarkHandshakeDone once the pair completes.
func (s *SequenceState) CheckHandshakeOrder(mt MsgType) error {
	if s.handshakeDone {
		return nil
	}
	switch mt {
	case MsgInit, MsgInitOk, MsgError:
		return nil
	default:
		return fmt.Errorf("protocol: %s received before handshake completed (BAD_SEQUENCE)", mt)
	}
}

func (s *SequenceState) MarkHandshakeDone() {
	s.handshakeDone = true
}

// CheckFrameID enforces strictly increasing frame_id per connection
// (P1/§4.2 rule 4). It also records the id for the next call.
func (s *SequenceState) CheckFrameID(frameID uint64) error {
	if s.sawFrame && frameID <= s.lastFrameID {
		return fmt.Errorf("protocol: frame_id %d is not greater than previous %d (INVALID_FRAME)", frameID, s.lastFrameID)
	}
	s.lastFrameID = frameID
	s.sawFrame = true
	return nil
}
