package workerconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/clearlane/visionpipe/internal/frameproc"
	"github.com/clearlane/visionpipe/internal/modelpool"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

type testModel struct{}

func (testModel) Name() string          { return "test-model" }
func (testModel) InputSize() (int, int) { return 64, 64 }
func (testModel) ClassNames() []string  { return []string{"person"} }
func (testModel) Infer(ctx context.Context, rgb []byte, w, h int) (frameproc.Output, error) {
	return frameproc.Output{Shape: []int{1, 6}, Data: []float32{1, 1, 10, 10, 0.9, 0}}, nil
}

func rawFrame(frameID uint64, sessionID string) *protocol.Frame {
	width, height := 64, 64
	data := make([]byte, width*height+width*height/2)
	for i := range data {
		data[i] = 128
	}
	return &protocol.Frame{
		FrameID:     frameID,
		SessionID:   sessionID,
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: protocol.PixelFormatNV12,
		Codec:       protocol.CodecNone,
		Data:        data,
	}
}

func TestServeHandshakeFrameAndEnd(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	pool := modelpool.New(func(ctx context.Context, name string) (frameproc.Model, error) {
		return testModel{}, nil
	})
	h := New(Options{Pool: pool, SessionBaseDir: t.TempDir(), DeviceID: "dev-1"})

	go h.Serve(context.Background(), serverConn)

	reader := protocol.NewReader(clientConn)
	writer := protocol.NewWriter(clientConn)

	init := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		StreamID:        "stream-1",
		MsgType:         protocol.MsgInit,
		Init: &protocol.Init{
			Model: "test-model",
			Caps: protocol.Capabilities{
				AcceptedCodecs: []protocol.Codec{protocol.CodecNone},
			},
		},
	}
	if err := writer.WriteEnvelope(init); err != nil {
		t.Fatalf("write init: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	env, err := reader.ReadEnvelope()
	if err != nil {
		t.Fatalf("read init_ok: %v", err)
	}
	if env.MsgType != protocol.MsgInitOk {
		t.Fatalf("expected INIT_OK, got %v", env.MsgType)
	}

	frameEnv := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgFrame,
		Frame:           rawFrame(1, "sess-1"),
	}
	if err := writer.WriteEnvelope(frameEnv); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	resultEnv, err := reader.ReadEnvelope()
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if resultEnv.MsgType != protocol.MsgResult || resultEnv.Result.FrameID != 1 {
		t.Fatalf("expected RESULT for frame_id=1, got %+v", resultEnv)
	}
	if len(resultEnv.Result.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(resultEnv.Result.Detections))
	}
	if resultEnv.Result.Detections[0].TrackID == nil {
		t.Error("expected a track_id to be assigned for a session-scoped frame")
	}

	endEnv := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgEnd,
		End:             &protocol.End{},
	}
	if err := writer.WriteEnvelope(endEnv); err != nil {
		t.Fatalf("write end: %v", err)
	}

	// Connection must remain open after End: a further Frame still works.
	secondFrame := &protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgFrame,
		Frame:           rawFrame(2, ""),
	}
	if err := writer.WriteEnvelope(secondFrame); err != nil {
		t.Fatalf("write second frame: %v", err)
	}
	secondResult, err := reader.ReadEnvelope()
	if err != nil {
		t.Fatalf("read second result: %v", err)
	}
	if secondResult.MsgType != protocol.MsgResult || secondResult.Result.FrameID != 2 {
		t.Fatalf("expected RESULT for frame_id=2 after End, got %+v", secondResult)
	}
}

func TestServeRejectsNonMonotonicFrameID(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	pool := modelpool.New(func(ctx context.Context, name string) (frameproc.Model, error) {
		return testModel{}, nil
	})
	h := New(Options{Pool: pool, SessionBaseDir: t.TempDir(), DeviceID: "dev-1"})
	go h.Serve(context.Background(), serverConn)

	reader := protocol.NewReader(clientConn)
	writer := protocol.NewWriter(clientConn)

	writer.WriteEnvelope(&protocol.Envelope{
		ProtocolVersion: protocol.CurrentVersion,
		MsgType:         protocol.MsgInit,
		Init:            &protocol.Init{Model: "test-model"},
	})
	clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := reader.ReadEnvelope(); err != nil {
		t.Fatalf("read init_ok: %v", err)
	}

	writer.WriteEnvelope(&protocol.Envelope{ProtocolVersion: protocol.CurrentVersion, MsgType: protocol.MsgFrame, Frame: rawFrame(5, "")})
	if _, err := reader.ReadEnvelope(); err != nil {
		t.Fatalf("read first result: %v", err)
	}

	writer.WriteEnvelope(&protocol.Envelope{ProtocolVersion: protocol.CurrentVersion, MsgType: protocol.MsgFrame, Frame: rawFrame(3, "")})
	errEnv, err := reader.ReadEnvelope()
	if err != nil {
		t.Fatalf("read error envelope: %v", err)
	}
	if errEnv.MsgType != protocol.MsgError || errEnv.Error.Code != protocol.ErrorInvalidFrame {
		t.Fatalf("expected INVALID_FRAME error for non-monotonic frame_id, got %+v", errEnv)
	}
}
