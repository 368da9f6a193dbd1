package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalUnmarshalFrameRoundTrip(t *testing.T) {
	env := &Envelope{
		ProtocolVersion: CurrentVersion,
		StreamID:        "edge-1700000000-abcd",
		MsgType:         MsgFrame,
		Frame: &Frame{
			FrameID:     7,
			TsMonoNs:    123456,
			TsUtcNs:     987654321,
			SessionID:   "sess-1",
			Width:       640,
			Height:      480,
			PixelFormat: PixelFormatNV12,
			Codec:       CodecNone,
			Planes: []Plane{
				{Stride: 640, Offset: 0, Size: 640 * 480},
				{Stride: 640, Offset: 640 * 480, Size: 640 * 480 / 2},
			},
			Data: bytes.Repeat([]byte{0xAB}, 640*480*3/2),
		},
	}

	body, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.ProtocolVersion != env.ProtocolVersion || got.StreamID != env.StreamID || got.MsgType != env.MsgType {
		t.Fatalf("envelope header mismatch: %+v", got)
	}
	if got.Frame == nil {
		t.Fatal("expected Frame payload")
	}
	if got.Frame.FrameID != 7 || got.Frame.SessionID != "sess-1" {
		t.Fatalf("frame fields mismatch: %+v", got.Frame)
	}
	if len(got.Frame.Planes) != 2 || got.Frame.Planes[1].Offset != 640*480 {
		t.Fatalf("frame planes mismatch: %+v", got.Frame.Planes)
	}
	if !bytes.Equal(got.Frame.Data, env.Frame.Data) {
		t.Fatal("frame data mismatch")
	}
}

func TestMarshalUnmarshalResultWithDetections(t *testing.T) {
	trackID := uint64(9)
	env := &Envelope{
		ProtocolVersion: CurrentVersion,
		StreamID:        "edge-1-a",
		MsgType:         MsgResult,
		Result: &Result{
			FrameID: 3,
			Detections: []Detection{
				{BBoxXYXY: [4]float32{1, 2, 3, 4}, Confidence: 0.91, ClassName: "person", TrackID: &trackID},
				{BBoxXYXY: [4]float32{5, 6, 7, 8}, Confidence: 0.42, ClassName: "car"},
			},
			PreMs: 1.5, InferMs: 12.25, PostMs: 0.75, TotalMs: 14.5,
		},
	}

	body, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Result.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(got.Result.Detections))
	}
	if got.Result.Detections[0].TrackID == nil || *got.Result.Detections[0].TrackID != 9 {
		t.Fatalf("expected track_id 9, got %+v", got.Result.Detections[0].TrackID)
	}
	if got.Result.Detections[1].TrackID != nil {
		t.Fatal("expected second detection to have no track_id")
	}
	if got.Result.InferMs != 12.25 {
		t.Fatalf("infer_ms = %v, want 12.25", got.Result.InferMs)
	}
}

func TestMarshalUnmarshalInitWithCaps(t *testing.T) {
	conf := float32(0.6)
	env := &Envelope{
		ProtocolVersion: CurrentVersion,
		StreamID:        "edge-2-b",
		MsgType:         MsgInit,
		Init: &Init{
			Model: "yolo-v8n",
			Caps: Capabilities{
				AcceptedPixelFormats: []PixelFormat{PixelFormatNV12, PixelFormatI420},
				AcceptedCodecs:       []Codec{CodecNone, CodecJPEG},
				MaxWidth:             1920,
				MaxHeight:            1080,
				MaxInflight:          4,
				DesiredMaxFrameBytes: 3110400,
				PreprocessHints:      &PreprocessHints{Letterbox: true, Layout: "NCHW", Dtype: "float32"},
			},
			ClassesFilter:       []string{"person", "car"},
			ConfidenceThreshold: &conf,
		},
	}

	body, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Init.Model != "yolo-v8n" {
		t.Fatalf("model mismatch: %q", got.Init.Model)
	}
	if len(got.Init.Caps.AcceptedCodecs) != 2 || got.Init.Caps.AcceptedCodecs[0] != CodecNone {
		t.Fatalf("accepted_codecs mismatch: %+v", got.Init.Caps.AcceptedCodecs)
	}
	if got.Init.Caps.PreprocessHints == nil || !got.Init.Caps.PreprocessHints.Letterbox {
		t.Fatalf("preprocess_hints mismatch: %+v", got.Init.Caps.PreprocessHints)
	}
	if got.Init.ConfidenceThreshold == nil || *got.Init.ConfidenceThreshold != 0.6 {
		t.Fatalf("confidence_threshold mismatch: %+v", got.Init.ConfidenceThreshold)
	}
}

func TestMarshalEndEnvelope(t *testing.T) {
	env := &Envelope{ProtocolVersion: CurrentVersion, StreamID: "edge-3-c", MsgType: MsgEnd, End: &End{}}
	body, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.MsgType != MsgEnd || got.End == nil {
		t.Fatalf("expected END envelope, got %+v", got)
	}
}

func TestMarshalRejectsMissingPayload(t *testing.T) {
	env := &Envelope{ProtocolVersion: CurrentVersion, StreamID: "s", MsgType: MsgFrame}
	if _, err := Marshal(env); err == nil {
		t.Fatal("expected error marshaling FRAME envelope with nil Frame")
	}
}

func TestReaderWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	env := &Envelope{
		ProtocolVersion: CurrentVersion,
		StreamID:        "edge-4-d",
		MsgType:         MsgHeartbeat,
		Heartbeat:       &Heartbeat{LastFrameID: 99},
	}
	if err := w.WriteEnvelope(env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	if err := w.WriteEnvelope(env); err != nil {
		t.Fatalf("WriteEnvelope (2nd): %v", err)
	}

	r := NewReader(&buf)
	for i := 0; i < 2; i++ {
		got, err := r.ReadEnvelope()
		if err != nil {
			t.Fatalf("ReadEnvelope %d: %v", i, err)
		}
		if got.Heartbeat == nil || got.Heartbeat.LastFrameID != 99 {
			t.Fatalf("heartbeat mismatch: %+v", got)
		}
	}
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	env := &Envelope{
		ProtocolVersion: CurrentVersion,
		StreamID:        "edge-5-e",
		MsgType:         MsgFrame,
		Frame:           &Frame{FrameID: 1, Width: 2, Height: 2, Codec: CodecJPEG, Data: []byte{1, 2, 3}},
	}
	if err := w.WriteEnvelope(env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	r := NewReaderSize(&buf, 4) // smaller than the encoded body
	if _, err := r.ReadEnvelope(); err == nil {
		t.Fatal("expected oversized-frame rejection")
	}
}

func TestValidateFramePayloadRAW(t *testing.T) {
	f := &Frame{Width: 4, Height: 4, Codec: CodecNone, Data: bytes.Repeat([]byte{0}, 4*4*3/2)}
	f.Planes = []Plane{{Size: uint32(len(f.Data))}}
	if err := ValidateFramePayload(f, 0); err != nil {
		t.Fatalf("expected valid RAW frame, got %v", err)
	}

	bad := &Frame{Width: 4, Height: 4, Codec: CodecNone, Data: []byte{1, 2, 3}}
	err := ValidateFramePayload(bad, 0)
	if err == nil {
		t.Fatal("expected size mismatch error for RAW frame")
	}
	assertFrameValidationCode(t, err, ErrorInvalidFrame)
}

func TestValidateFramePayloadJPEGRejectsPlanes(t *testing.T) {
	f := &Frame{Codec: CodecJPEG, Data: []byte{1, 2, 3}, Planes: []Plane{{Size: 3}}}
	err := ValidateFramePayload(f, 0)
	if err == nil {
		t.Fatal("expected error for JPEG frame with planes")
	}
	assertFrameValidationCode(t, err, ErrorUnsupportedFormat)
}

func TestValidateFramePayloadMaxBytes(t *testing.T) {
	f := &Frame{Codec: CodecJPEG, Data: bytes.Repeat([]byte{1}, 10)}
	err := ValidateFramePayload(f, 5)
	if err == nil {
		t.Fatal("expected max_frame_bytes violation")
	}
	assertFrameValidationCode(t, err, ErrorFrameTooLarge)
}

func TestValidateFramePayloadUnknownCodec(t *testing.T) {
	f := &Frame{Codec: Codec(99), Data: []byte{1}}
	err := ValidateFramePayload(f, 0)
	if err == nil {
		t.Fatal("expected error for unknown codec")
	}
	assertFrameValidationCode(t, err, ErrorUnsupportedFormat)
}

func assertFrameValidationCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	var fe *FrameValidationError
	if !errors.As(err, &fe) {
		t.Fatalf("error %v is not a *FrameValidationError", err)
	}
	if fe.Code != want {
		t.Fatalf("code = %s, want %s", fe.Code, want)
	}
}

func TestSequenceStateHandshakeOrder(t *testing.T) {
	var s SequenceState
	if err := s.CheckHandshakeOrder(MsgFrame); err == nil {
		t.Fatal("expected BAD_SEQUENCE before handshake completes")
	}
	if err := s.CheckHandshakeOrder(MsgInit); err != nil {
		t.Fatalf("Init before handshake should be accepted: %v", err)
	}
	s.MarkHandshakeDone()
	if err := s.CheckHandshakeOrder(MsgFrame); err != nil {
		t.Fatalf("Frame after handshake should be accepted: %v", err)
	}
}

func TestSequenceStateFrameIDMonotonic(t *testing.T) {
	var s SequenceState
	if err := s.CheckFrameID(1); err != nil {
		t.Fatalf("first frame_id should be accepted: %v", err)
	}
	if err := s.CheckFrameID(2); err != nil {
		t.Fatalf("increasing frame_id should be accepted: %v", err)
	}
	if err := s.CheckFrameID(2); err == nil {
		t.Fatal("expected error for duplicate frame_id")
	}
	if err := s.CheckFrameID(1); err == nil {
		t.Fatal("expected error for out-of-order frame_id")
	}
}

func TestCheckPayloadMatchesType(t *testing.T) {
	env := &Envelope{MsgType: MsgFrame, Frame: &Frame{}}
	if err := CheckPayloadMatchesType(env); err != nil {
		t.Fatalf("matching payload should pass: %v", err)
	}

	mismatched := &Envelope{MsgType: MsgFrame}
	if err := CheckPayloadMatchesType(mismatched); err == nil {
		t.Fatal("expected error for missing payload")
	}

	both := &Envelope{MsgType: MsgFrame, Frame: &Frame{}, Heartbeat: &Heartbeat{}}
	if err := CheckPayloadMatchesType(both); err == nil {
		t.Fatal("expected error for extra payload present")
	}
}

func TestCheckVersion(t *testing.T) {
	ok := &Envelope{ProtocolVersion: 1}
	if err := CheckVersion(ok); err != nil {
		t.Fatalf("version 1 should pass: %v", err)
	}
	bad := &Envelope{ProtocolVersion: 2}
	if err := CheckVersion(bad); err == nil {
		t.Fatal("expected VERSION_UNSUPPORTED for version 2")
	}
}
