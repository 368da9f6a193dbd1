package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Reader reads length-prefixed Envelopes from an underlying stream. Reads
// are resumable across short TCP reads: io.ReadFull blocks until the full
// header and body have arrived or the stream errors.
type Reader struct {
	r          io.Reader
	maxFrame   uint32
	headerBuf  [4]byte
}

// NewReader wraps r with the default max frame length (64 MiB).
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxFrameLen)
}

// NewReaderSize wraps r, rejecting any frame whose declared length exceeds maxFrame.
func NewReaderSize(r io.Reader, maxFrame uint32) *Reader {
	return &Reader{r: r, maxFrame: maxFrame}
}

// ReadEnvelope reads one length-prefixed Envelope. It returns io.EOF only
// when the stream is closed cleanly between messages.
func (r *Reader) ReadEnvelope() (*Envelope, error) {
	if _, err := io.ReadFull(r.r, r.headerBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(r.headerBuf[:])
	if length > r.maxFrame {
		return nil, fmt.Errorf("protocol: frame length %d exceeds max %d", length, r.maxFrame)
	}
	if length == 0 {
		return nil, fmt.Errorf("protocol: zero-length frame")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("protocol: read body: %w", err)
	}

	env, err := Unmarshal(body)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Writer writes length-prefixed Envelopes to an underlying stream, one
// prefixed record per WriteEnvelope call. Writes are serialized so
// concurrent callers never interleave a header with another writer's body.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEnvelope marshals and writes env as [4-byte BE length][body].
func (w *Writer) WriteEnvelope(env *Envelope) error {
	body, err := Marshal(env)
	if err != nil {
		return err
	}
	if len(body) > DefaultMaxFrameLen {
		return fmt.Errorf("protocol: outgoing frame %d exceeds max %d", len(body), DefaultMaxFrameLen)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}
