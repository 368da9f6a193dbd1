package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers below are a fixed wire contract: do not renumber once any
// Envelope has been persisted or sent across a version boundary.
const (
	fnEnvProtocolVersion protowire.Number = 1
	fnEnvStreamID        protowire.Number = 2
	fnEnvMsgType         protowire.Number = 3
	fnEnvInit            protowire.Number = 10
	fnEnvInitOk          protowire.Number = 11
	fnEnvFrame           protowire.Number = 12
	fnEnvResult          protowire.Number = 13
	fnEnvWindowUpdate    protowire.Number = 14
	fnEnvHeartbeat       protowire.Number = 15
	fnEnvError           protowire.Number = 16
	fnEnvEnd             protowire.Number = 17

	fnCapsPixelFormats   protowire.Number = 1
	fnCapsCodecs         protowire.Number = 2
	fnCapsMaxWidth       protowire.Number = 3
	fnCapsMaxHeight      protowire.Number = 4
	fnCapsMaxInflight    protowire.Number = 5
	fnCapsMaxFrameBytes  protowire.Number = 6
	fnCapsPreprocessHint protowire.Number = 7

	fnHintLetterbox protowire.Number = 1
	fnHintNormalize protowire.Number = 2
	fnHintLayout    protowire.Number = 3
	fnHintDtype     protowire.Number = 4

	fnInitModel               protowire.Number = 1
	fnInitCaps                protowire.Number = 2
	fnInitClassesFilter       protowire.Number = 3
	fnInitConfidenceThreshold protowire.Number = 4

	fnChosenPixelFormat    protowire.Number = 1
	fnChosenCodec          protowire.Number = 2
	fnChosenWidth          protowire.Number = 3
	fnChosenHeight         protowire.Number = 4
	fnChosenPolicy         protowire.Number = 5
	fnChosenInitialCredits protowire.Number = 6
	fnChosenColorSpace     protowire.Number = 7
	fnChosenColorRange     protowire.Number = 8

	fnInitOkChosen        protowire.Number = 1
	fnInitOkMaxFrameBytes protowire.Number = 2

	fnPlaneStride protowire.Number = 1
	fnPlaneOffset protowire.Number = 2
	fnPlaneSize   protowire.Number = 3

	fnFrameID          protowire.Number = 1
	fnFrameTsMonoNs    protowire.Number = 2
	fnFrameTsUtcNs     protowire.Number = 3
	fnFrameSessionID   protowire.Number = 4
	fnFrameWidth       protowire.Number = 5
	fnFrameHeight      protowire.Number = 6
	fnFramePixelFormat protowire.Number = 7
	fnFrameCodec       protowire.Number = 8
	fnFramePlanes      protowire.Number = 9
	fnFrameData        protowire.Number = 10

	fnResultFrameID protowire.Number = 1
	fnResultDets    protowire.Number = 2
	fnResultPreMs   protowire.Number = 3
	fnResultInferMs protowire.Number = 4
	fnResultPostMs  protowire.Number = 5
	fnResultTotalMs protowire.Number = 6

	fnDetBBox       protowire.Number = 1
	fnDetConfidence protowire.Number = 2
	fnDetClassName  protowire.Number = 3
	fnDetTrackID    protowire.Number = 4

	fnWindowNewSize protowire.Number = 1

	fnHeartbeatLastFrameID protowire.Number = 1

	fnErrorCode         protowire.Number = 1
	fnErrorMessage      protowire.Number = 2
	fnErrorRetryAfterMs protowire.Number = 3
)

// Marshal encodes an Envelope to its wire-format body (no length prefix).
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("protocol: cannot marshal nil envelope")
	}
	var b []byte
	b = protowire.AppendTag(b, fnEnvProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ProtocolVersion))
	b = protowire.AppendTag(b, fnEnvStreamID, protowire.BytesType)
	b = protowire.AppendString(b, e.StreamID)
	b = protowire.AppendTag(b, fnEnvMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.MsgType))

	switch e.MsgType {
	case MsgInit:
		if e.Init == nil {
			return nil, fmt.Errorf("protocol: INIT envelope missing Init payload")
		}
		b = appendMessage(b, fnEnvInit, marshalInit(e.Init))
	case MsgInitOk:
		if e.InitOk == nil {
			return nil, fmt.Errorf("protocol: INIT_OK envelope missing InitOk payload")
		}
		b = appendMessage(b, fnEnvInitOk, marshalInitOk(e.InitOk))
	case MsgFrame:
		if e.Frame == nil {
			return nil, fmt.Errorf("protocol: FRAME envelope missing Frame payload")
		}
		b = appendMessage(b, fnEnvFrame, marshalFrame(e.Frame))
	case MsgResult:
		if e.Result == nil {
			return nil, fmt.Errorf("protocol: RESULT envelope missing Result payload")
		}
		b = appendMessage(b, fnEnvResult, marshalResult(e.Result))
	case MsgWindowUpdate:
		if e.WindowUpdate == nil {
			return nil, fmt.Errorf("protocol: WINDOW_UPDATE envelope missing WindowUpdate payload")
		}
		b = appendMessage(b, fnEnvWindowUpdate, marshalWindowUpdate(e.WindowUpdate))
	case MsgHeartbeat:
		if e.Heartbeat == nil {
			return nil, fmt.Errorf("protocol: HEARTBEAT envelope missing Heartbeat payload")
		}
		b = appendMessage(b, fnEnvHeartbeat, marshalHeartbeat(e.Heartbeat))
	case MsgError:
		if e.Error == nil {
			return nil, fmt.Errorf("protocol: ERROR envelope missing Error payload")
		}
		b = appendMessage(b, fnEnvError, marshalError(e.Error))
	case MsgEnd:
		b = appendMessage(b, fnEnvEnd, nil)
	default:
		return nil, fmt.Errorf("protocol: unknown msg_type %d", e.MsgType)
	}
	return b, nil
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func marshalPreprocessHints(h *PreprocessHints) []byte {
	if h == nil {
		return nil
	}
	var b []byte
	if h.Letterbox {
		b = protowire.AppendTag(b, fnHintLetterbox, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if h.Normalize {
		b = protowire.AppendTag(b, fnHintNormalize, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if h.Layout != "" {
		b = protowire.AppendTag(b, fnHintLayout, protowire.BytesType)
		b = protowire.AppendString(b, h.Layout)
	}
	if h.Dtype != "" {
		b = protowire.AppendTag(b, fnHintDtype, protowire.BytesType)
		b = protowire.AppendString(b, h.Dtype)
	}
	return b
}

func marshalCapabilities(c Capabilities) []byte {
	var b []byte
	for _, pf := range c.AcceptedPixelFormats {
		b = protowire.AppendTag(b, fnCapsPixelFormats, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(pf))
	}
	for _, cd := range c.AcceptedCodecs {
		b = protowire.AppendTag(b, fnCapsCodecs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(cd))
	}
	b = protowire.AppendTag(b, fnCapsMaxWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.MaxWidth))
	b = protowire.AppendTag(b, fnCapsMaxHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.MaxHeight))
	b = protowire.AppendTag(b, fnCapsMaxInflight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.MaxInflight))
	b = protowire.AppendTag(b, fnCapsMaxFrameBytes, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.DesiredMaxFrameBytes))
	if hints := marshalPreprocessHints(c.PreprocessHints); hints != nil {
		b = appendMessage(b, fnCapsPreprocessHint, hints)
	}
	return b
}

func marshalInit(i *Init) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnInitModel, protowire.BytesType)
	b = protowire.AppendString(b, i.Model)
	b = appendMessage(b, fnInitCaps, marshalCapabilities(i.Caps))
	for _, c := range i.ClassesFilter {
		b = protowire.AppendTag(b, fnInitClassesFilter, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	if i.ConfidenceThreshold != nil {
		b = protowire.AppendTag(b, fnInitConfidenceThreshold, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(*i.ConfidenceThreshold))
	}
	return b
}

func marshalChosenFormat(c ChosenFormat) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnChosenPixelFormat, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.PixelFormat))
	b = protowire.AppendTag(b, fnChosenCodec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Codec))
	b = protowire.AppendTag(b, fnChosenWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Width))
	b = protowire.AppendTag(b, fnChosenHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Height))
	b = protowire.AppendTag(b, fnChosenPolicy, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Policy))
	b = protowire.AppendTag(b, fnChosenInitialCredits, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.InitialCredits))
	b = protowire.AppendTag(b, fnChosenColorSpace, protowire.BytesType)
	b = protowire.AppendString(b, c.ColorSpace)
	b = protowire.AppendTag(b, fnChosenColorRange, protowire.BytesType)
	b = protowire.AppendString(b, c.ColorRange)
	return b
}

func marshalInitOk(i *InitOk) []byte {
	var b []byte
	b = appendMessage(b, fnInitOkChosen, marshalChosenFormat(i.Chosen))
	b = protowire.AppendTag(b, fnInitOkMaxFrameBytes, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(i.MaxFrameBytes))
	return b
}

func marshalPlane(p Plane) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnPlaneStride, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Stride))
	b = protowire.AppendTag(b, fnPlaneOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Offset))
	b = protowire.AppendTag(b, fnPlaneSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Size))
	return b
}

func marshalFrame(f *Frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnFrameID, protowire.VarintType)
	b = protowire.AppendVarint(b, f.FrameID)
	b = protowire.AppendTag(b, fnFrameTsMonoNs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.TsMonoNs))
	b = protowire.AppendTag(b, fnFrameTsUtcNs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.TsUtcNs))
	b = protowire.AppendTag(b, fnFrameSessionID, protowire.BytesType)
	b = protowire.AppendString(b, f.SessionID)
	b = protowire.AppendTag(b, fnFrameWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Width))
	b = protowire.AppendTag(b, fnFrameHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Height))
	b = protowire.AppendTag(b, fnFramePixelFormat, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.PixelFormat))
	b = protowire.AppendTag(b, fnFrameCodec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Codec))
	for _, p := range f.Planes {
		b = appendMessage(b, fnFramePlanes, marshalPlane(p))
	}
	b = protowire.AppendTag(b, fnFrameData, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Data)
	return b
}

func marshalDetection(d Detection) []byte {
	var b []byte
	for _, v := range d.BBoxXYXY {
		b = protowire.AppendTag(b, fnDetBBox, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fnDetConfidence, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(d.Confidence))
	b = protowire.AppendTag(b, fnDetClassName, protowire.BytesType)
	b = protowire.AppendString(b, d.ClassName)
	if d.TrackID != nil {
		b = protowire.AppendTag(b, fnDetTrackID, protowire.VarintType)
		b = protowire.AppendVarint(b, *d.TrackID)
	}
	return b
}

func marshalResult(r *Result) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnResultFrameID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.FrameID)
	for _, d := range r.Detections {
		b = appendMessage(b, fnResultDets, marshalDetection(d))
	}
	b = protowire.AppendTag(b, fnResultPreMs, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(r.PreMs))
	b = protowire.AppendTag(b, fnResultInferMs, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(r.InferMs))
	b = protowire.AppendTag(b, fnResultPostMs, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(r.PostMs))
	b = protowire.AppendTag(b, fnResultTotalMs, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(r.TotalMs))
	return b
}

func marshalWindowUpdate(w *WindowUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnWindowNewSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(w.NewSize))
	return b
}

func marshalHeartbeat(h *Heartbeat) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnHeartbeatLastFrameID, protowire.VarintType)
	b = protowire.AppendVarint(b, h.LastFrameID)
	return b
}

func marshalError(e *Error) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnErrorCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Code))
	b = protowire.AppendTag(b, fnErrorMessage, protowire.BytesType)
	b = protowire.AppendString(b, e.Message)
	if e.RetryAfterMs != nil {
		b = protowire.AppendTag(b, fnErrorRetryAfterMs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*e.RetryAfterMs))
	}
	return b
}

// Unmarshal decodes a wire-format body (no length prefix) into an Envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	e := &Envelope{}
	var sawType bool
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnEnvProtocolVersion:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad protocol_version")
			}
			e.ProtocolVersion = uint32(v)
			b = b[m:]
		case fnEnvStreamID:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad stream_id")
			}
			e.StreamID = s
			b = b[m:]
		case fnEnvMsgType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad msg_type")
			}
			e.MsgType = MsgType(v)
			sawType = true
			b = b[m:]
		case fnEnvInit:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init payload")
			}
			init, err := unmarshalInit(body)
			if err != nil {
				return nil, err
			}
			e.Init = init
			b = b[m:]
		case fnEnvInitOk:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init_ok payload")
			}
			v, err := unmarshalInitOk(body)
			if err != nil {
				return nil, err
			}
			e.InitOk = v
			b = b[m:]
		case fnEnvFrame:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame payload")
			}
			v, err := unmarshalFrame(body)
			if err != nil {
				return nil, err
			}
			e.Frame = v
			b = b[m:]
		case fnEnvResult:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result payload")
			}
			v, err := unmarshalResult(body)
			if err != nil {
				return nil, err
			}
			e.Result = v
			b = b[m:]
		case fnEnvWindowUpdate:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad window_update payload")
			}
			v, err := unmarshalWindowUpdate(body)
			if err != nil {
				return nil, err
			}
			e.WindowUpdate = v
			b = b[m:]
		case fnEnvHeartbeat:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad heartbeat payload")
			}
			v, err := unmarshalHeartbeat(body)
			if err != nil {
				return nil, err
			}
			e.Heartbeat = v
			b = b[m:]
		case fnEnvError:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad error payload")
			}
			v, err := unmarshalError(body)
			if err != nil {
				return nil, err
			}
			e.Error = v
			b = b[m:]
		case fnEnvEnd:
			_, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad end payload")
			}
			e.End = &End{}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	if !sawType {
		e.MsgType = MsgUnspecified
	}
	return e, nil
}

func consumeString(b []byte, typ protowire.Type) (string, int) {
	if typ != protowire.BytesType {
		return "", -1
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", n
	}
	return string(v), n
}

func unmarshalPreprocessHints(data []byte) (*PreprocessHints, error) {
	h := &PreprocessHints{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad preprocess_hints tag")
		}
		b = b[n:]
		switch num {
		case fnHintLetterbox:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad letterbox")
			}
			h.Letterbox = v != 0
			b = b[m:]
		case fnHintNormalize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad normalize")
			}
			h.Normalize = v != 0
			b = b[m:]
		case fnHintLayout:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad layout")
			}
			h.Layout = s
			b = b[m:]
		case fnHintDtype:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad dtype")
			}
			h.Dtype = s
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad preprocess_hints field %d", num)
			}
			b = b[m:]
		}
	}
	return h, nil
}

func unmarshalCapabilities(data []byte) (Capabilities, error) {
	var c Capabilities
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, fmt.Errorf("protocol: bad caps tag")
		}
		b = b[n:]
		switch num {
		case fnCapsPixelFormats:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad accepted_pixel_formats")
			}
			c.AcceptedPixelFormats = append(c.AcceptedPixelFormats, PixelFormat(v))
			b = b[m:]
		case fnCapsCodecs:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad accepted_codecs")
			}
			c.AcceptedCodecs = append(c.AcceptedCodecs, Codec(v))
			b = b[m:]
		case fnCapsMaxWidth:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad max_width")
			}
			c.MaxWidth = uint32(v)
			b = b[m:]
		case fnCapsMaxHeight:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad max_height")
			}
			c.MaxHeight = uint32(v)
			b = b[m:]
		case fnCapsMaxInflight:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad max_inflight")
			}
			c.MaxInflight = uint32(v)
			b = b[m:]
		case fnCapsMaxFrameBytes:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad desired_max_frame_bytes")
			}
			c.DesiredMaxFrameBytes = uint32(v)
			b = b[m:]
		case fnCapsPreprocessHint:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad preprocess_hints")
			}
			hints, err := unmarshalPreprocessHints(body)
			if err != nil {
				return c, err
			}
			c.PreprocessHints = hints
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad caps field %d", num)
			}
			b = b[m:]
		}
	}
	return c, nil
}

func unmarshalInit(data []byte) (*Init, error) {
	i := &Init{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad init tag")
		}
		b = b[n:]
		switch num {
		case fnInitModel:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad model")
			}
			i.Model = s
			b = b[m:]
		case fnInitCaps:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad caps")
			}
			caps, err := unmarshalCapabilities(body)
			if err != nil {
				return nil, err
			}
			i.Caps = caps
			b = b[m:]
		case fnInitClassesFilter:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad classes_filter")
			}
			i.ClassesFilter = append(i.ClassesFilter, s)
			b = b[m:]
		case fnInitConfidenceThreshold:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad confidence_threshold")
			}
			f := math.Float32frombits(v)
			i.ConfidenceThreshold = &f
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init field %d", num)
			}
			b = b[m:]
		}
	}
	return i, nil
}

func unmarshalChosenFormat(data []byte) (ChosenFormat, error) {
	var c ChosenFormat
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, fmt.Errorf("protocol: bad chosen tag")
		}
		b = b[n:]
		switch num {
		case fnChosenPixelFormat:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen pixel_format")
			}
			c.PixelFormat = PixelFormat(v)
			b = b[m:]
		case fnChosenCodec:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen codec")
			}
			c.Codec = Codec(v)
			b = b[m:]
		case fnChosenWidth:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen width")
			}
			c.Width = uint32(v)
			b = b[m:]
		case fnChosenHeight:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen height")
			}
			c.Height = uint32(v)
			b = b[m:]
		case fnChosenPolicy:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen policy")
			}
			c.Policy = Policy(v)
			b = b[m:]
		case fnChosenInitialCredits:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen initial_credits")
			}
			c.InitialCredits = uint32(v)
			b = b[m:]
		case fnChosenColorSpace:
			s, m := consumeString(b, typ)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen color_space")
			}
			c.ColorSpace = s
			b = b[m:]
		case fnChosenColorRange:
			s, m := consumeString(b, typ)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen color_range")
			}
			c.ColorRange = s
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return c, fmt.Errorf("protocol: bad chosen field %d", num)
			}
			b = b[m:]
		}
	}
	return c, nil
}

func unmarshalInitOk(data []byte) (*InitOk, error) {
	v := &InitOk{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad init_ok tag")
		}
		b = b[n:]
		switch num {
		case fnInitOkChosen:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init_ok chosen")
			}
			chosen, err := unmarshalChosenFormat(body)
			if err != nil {
				return nil, err
			}
			v.Chosen = chosen
			b = b[m:]
		case fnInitOkMaxFrameBytes:
			n2, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init_ok max_frame_bytes")
			}
			v.MaxFrameBytes = uint32(n2)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad init_ok field %d", num)
			}
			b = b[m:]
		}
	}
	return v, nil
}

func unmarshalPlane(data []byte) (Plane, error) {
	var p Plane
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("protocol: bad plane tag")
		}
		b = b[n:]
		switch num {
		case fnPlaneStride:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return p, fmt.Errorf("protocol: bad plane stride")
			}
			p.Stride = uint32(v)
			b = b[m:]
		case fnPlaneOffset:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return p, fmt.Errorf("protocol: bad plane offset")
			}
			p.Offset = uint32(v)
			b = b[m:]
		case fnPlaneSize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return p, fmt.Errorf("protocol: bad plane size")
			}
			p.Size = uint32(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return p, fmt.Errorf("protocol: bad plane field %d", num)
			}
			b = b[m:]
		}
	}
	return p, nil
}

func unmarshalFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad frame tag")
		}
		b = b[n:]
		switch num {
		case fnFrameID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame_id")
			}
			f.FrameID = v
			b = b[m:]
		case fnFrameTsMonoNs:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad ts_mono_ns")
			}
			f.TsMonoNs = int64(v)
			b = b[m:]
		case fnFrameTsUtcNs:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad ts_utc_ns")
			}
			f.TsUtcNs = int64(v)
			b = b[m:]
		case fnFrameSessionID:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame session_id")
			}
			f.SessionID = s
			b = b[m:]
		case fnFrameWidth:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame width")
			}
			f.Width = uint32(v)
			b = b[m:]
		case fnFrameHeight:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame height")
			}
			f.Height = uint32(v)
			b = b[m:]
		case fnFramePixelFormat:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame pixel_format")
			}
			f.PixelFormat = PixelFormat(v)
			b = b[m:]
		case fnFrameCodec:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame codec")
			}
			f.Codec = Codec(v)
			b = b[m:]
		case fnFramePlanes:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame plane")
			}
			p, err := unmarshalPlane(body)
			if err != nil {
				return nil, err
			}
			f.Planes = append(f.Planes, p)
			b = b[m:]
		case fnFrameData:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame data")
			}
			f.Data = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad frame field %d", num)
			}
			b = b[m:]
		}
	}
	return f, nil
}

func unmarshalDetection(data []byte) (Detection, error) {
	var d Detection
	idx := 0
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, fmt.Errorf("protocol: bad detection tag")
		}
		b = b[n:]
		switch num {
		case fnDetBBox:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return d, fmt.Errorf("protocol: bad detection bbox")
			}
			if idx < 4 {
				d.BBoxXYXY[idx] = math.Float32frombits(v)
				idx++
			}
			b = b[m:]
		case fnDetConfidence:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return d, fmt.Errorf("protocol: bad detection confidence")
			}
			d.Confidence = math.Float32frombits(v)
			b = b[m:]
		case fnDetClassName:
			s, m := consumeString(b, typ)
			if m < 0 {
				return d, fmt.Errorf("protocol: bad detection class_name")
			}
			d.ClassName = s
			b = b[m:]
		case fnDetTrackID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return d, fmt.Errorf("protocol: bad detection track_id")
			}
			d.TrackID = &v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return d, fmt.Errorf("protocol: bad detection field %d", num)
			}
			b = b[m:]
		}
	}
	return d, nil
}

func unmarshalResult(data []byte) (*Result, error) {
	r := &Result{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad result tag")
		}
		b = b[n:]
		switch num {
		case fnResultFrameID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result frame_id")
			}
			r.FrameID = v
			b = b[m:]
		case fnResultDets:
			body, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result detection")
			}
			d, err := unmarshalDetection(body)
			if err != nil {
				return nil, err
			}
			r.Detections = append(r.Detections, d)
			b = b[m:]
		case fnResultPreMs:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result pre_ms")
			}
			r.PreMs = math.Float32frombits(v)
			b = b[m:]
		case fnResultInferMs:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result infer_ms")
			}
			r.InferMs = math.Float32frombits(v)
			b = b[m:]
		case fnResultPostMs:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result post_ms")
			}
			r.PostMs = math.Float32frombits(v)
			b = b[m:]
		case fnResultTotalMs:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result total_ms")
			}
			r.TotalMs = math.Float32frombits(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad result field %d", num)
			}
			b = b[m:]
		}
	}
	return r, nil
}

func unmarshalWindowUpdate(data []byte) (*WindowUpdate, error) {
	w := &WindowUpdate{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad window_update tag")
		}
		b = b[n:]
		switch num {
		case fnWindowNewSize:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad new_size")
			}
			w.NewSize = uint32(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad window_update field %d", num)
			}
			b = b[m:]
		}
	}
	return w, nil
}

func unmarshalHeartbeat(data []byte) (*Heartbeat, error) {
	h := &Heartbeat{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad heartbeat tag")
		}
		b = b[n:]
		switch num {
		case fnHeartbeatLastFrameID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad last_frame_id")
			}
			h.LastFrameID = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad heartbeat field %d", num)
			}
			b = b[m:]
		}
	}
	return h, nil
}

func unmarshalError(data []byte) (*Error, error) {
	e := &Error{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad error tag")
		}
		b = b[n:]
		switch num {
		case fnErrorCode:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad error code")
			}
			e.Code = ErrorCode(v)
			b = b[m:]
		case fnErrorMessage:
			s, m := consumeString(b, typ)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad error message")
			}
			e.Message = s
			b = b[m:]
		case fnErrorRetryAfterMs:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad retry_after_ms")
			}
			v32 := uint32(v)
			e.RetryAfterMs = &v32
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("protocol: bad error field %d", num)
			}
			b = b[m:]
		}
	}
	return e, nil
}
