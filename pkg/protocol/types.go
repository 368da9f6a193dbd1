// Package protocol implements the Protocol v1 wire contract shared by the
// edge agent and the inference worker: a single Envelope message type with
// one payload per msg_type, framed on the wire as a 4-byte big-endian length
// prefix followed by a hand-encoded protobuf-wire-format body.
package protocol

// MsgType enumerates the Envelope's oneof payload kind.
type MsgType int32

const (
	MsgUnspecified MsgType = iota
	MsgInit
	MsgInitOk
	MsgFrame
	MsgResult
	MsgWindowUpdate
	MsgHeartbeat
	MsgError
	MsgEnd
)

func (m MsgType) String() string {
	switch m {
	case MsgInit:
		return "INIT"
	case MsgInitOk:
		return "INIT_OK"
	case MsgFrame:
		return "FRAME"
	case MsgResult:
		return "RESULT"
	case MsgWindowUpdate:
		return "WINDOW_UPDATE"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgError:
		return "ERROR"
	case MsgEnd:
		return "END"
	default:
		return "UNSPECIFIED"
	}
}

// PixelFormat enumerates the raw pixel layouts the protocol understands.
type PixelFormat int32

const (
	PixelFormatUnspecified PixelFormat = iota
	PixelFormatNV12
	PixelFormatI420
)

// Codec enumerates how Frame.Data is encoded.
type Codec int32

const (
	CodecNone Codec = iota // RAW
	CodecJPEG
)

// Policy enumerates the flow-control discipline the worker commits to.
// LATEST_WINS is the only policy this protocol version defines; a worker
// that names anything else is treated as LATEST_WINS with a warning.
type Policy int32

const (
	PolicyLatestWins Policy = iota
)

// ErrorCode enumerates the Error envelope's taxonomy.
type ErrorCode int32

const (
	ErrorUnspecified ErrorCode = iota
	ErrorVersionUnsupported
	ErrorBadMessage
	ErrorBadSequence
	ErrorUnsupportedFormat
	ErrorInvalidFrame
	ErrorFrameTooLarge
	ErrorModelNotReady
	ErrorOOM
	ErrorBackpressureTimeout
	ErrorInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorVersionUnsupported:
		return "VERSION_UNSUPPORTED"
	case ErrorBadMessage:
		return "BAD_MESSAGE"
	case ErrorBadSequence:
		return "BAD_SEQUENCE"
	case ErrorUnsupportedFormat:
		return "UNSUPPORTED_FORMAT"
	case ErrorInvalidFrame:
		return "INVALID_FRAME"
	case ErrorFrameTooLarge:
		return "FRAME_TOO_LARGE"
	case ErrorModelNotReady:
		return "MODEL_NOT_READY"
	case ErrorOOM:
		return "OOM"
	case ErrorBackpressureTimeout:
		return "BACKPRESSURE_TIMEOUT"
	case ErrorInternal:
		return "INTERNAL"
	default:
		return "UNSPECIFIED"
	}
}

// CurrentVersion is the only protocol_version this package accepts.
const CurrentVersion = 1

// DefaultMaxFrameLen is the default cap on a single framed message body,
// applied by Reader when no override is configured.
const DefaultMaxFrameLen = 64 << 20 // 64 MiB

// Envelope is the single wire message type. Exactly one of the payload
// fields is set, matching MsgType.
type Envelope struct {
	ProtocolVersion uint32
	StreamID        string
	MsgType         MsgType

	Init         *Init
	InitOk       *InitOk
	Frame        *Frame
	Result       *Result
	WindowUpdate *WindowUpdate
	Heartbeat    *Heartbeat
	Error        *Error
	End          *End
}

// PreprocessHints carries optional model-input preprocessing preferences.
type PreprocessHints struct {
	Letterbox bool
	Normalize bool
	Layout    string
	Dtype     string
}

// Capabilities is the edge's advertised format/resource envelope.
type Capabilities struct {
	AcceptedPixelFormats []PixelFormat
	AcceptedCodecs       []Codec
	MaxWidth             uint32
	MaxHeight            uint32
	MaxInflight          uint32
	DesiredMaxFrameBytes uint32
	PreprocessHints      *PreprocessHints
}

// Init is the edge's first message on a new connection.
type Init struct {
	Model               string
	Caps                Capabilities
	ClassesFilter       []string
	ConfidenceThreshold *float32
}

// ChosenFormat is the format contract the worker commits to in InitOk.
type ChosenFormat struct {
	PixelFormat    PixelFormat
	Codec          Codec
	Width          uint32
	Height         uint32
	Policy         Policy
	InitialCredits uint32
	ColorSpace     string
	ColorRange     string
}

// InitOk is the worker's handshake response.
type InitOk struct {
	Chosen        ChosenFormat
	MaxFrameBytes uint32
}

// Plane describes one memory region within a RAW Frame's Data buffer.
type Plane struct {
	Stride uint32
	Offset uint32
	Size   uint32
}

// Frame carries one captured image, RAW or JPEG-encoded.
type Frame struct {
	FrameID     uint64
	TsMonoNs    int64
	TsUtcNs     int64
	SessionID   string
	Width       uint32
	Height      uint32
	PixelFormat PixelFormat
	Codec       Codec
	Planes      []Plane
	Data        []byte
}

// Detection is one inference result box.
type Detection struct {
	BBoxXYXY   [4]float32
	Confidence float32
	ClassName  string
	TrackID    *uint64
}

// Result is the worker's reply to a Frame.
type Result struct {
	FrameID    uint64
	Detections []Detection
	PreMs      float32
	InferMs    float32
	PostMs     float32
	TotalMs    float32
}

// WindowUpdate replaces the edge's window_size with an authoritative value.
type WindowUpdate struct {
	NewSize uint32
}

// Heartbeat carries the sender's last-seen frame_id.
type Heartbeat struct {
	LastFrameID uint64
}

// Error reports a protocol or backend failure.
type Error struct {
	Code         ErrorCode
	Message      string
	RetryAfterMs *uint32
}

// End terminates the current session on this connection (not the TCP
// connection itself).
type End struct{}
