// Package sessionwriter persists one worker-side session's detection
// artifacts: a segmented tracks/ NDJSON stream plus meta.json and
// index.json, both written via write-temp-then-rename so readers never
// observe a partial file (§4.11).
package sessionwriter

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("sessionwriter")

// DefaultSegmentDurationSeconds is the segment window used to bucket
// tracks/seg-NNNN.jsonl files.
const DefaultSegmentDurationSeconds = 60.0

// Object is one tracked detection within an Append call.
type Object struct {
	TrackID   uint64    `json:"track_id"`
	ClassID   int       `json:"cls_id"`
	ClassName string    `json:"cls_name"`
	Confidence float64  `json:"conf"`
	BBoxXYXY  [4]float64 `json:"bbox_xyxy"`
}

type trackLine struct {
	TRelS    float64  `json:"t_rel_s"`
	FrameID  uint64   `json:"frame_id"`
	TsMonoNs int64    `json:"ts_mono_ns"`
	TsUtcNs  int64    `json:"ts_utc_ns"`
	Objects  []Object `json:"objs"`
}

type segment struct {
	Index  int     `json:"i"`
	T0S    float64 `json:"t0_s"`
	T1S    float64 `json:"t1_s"`
	URL    string  `json:"url"`
	Count  int     `json:"count"`
	Closed bool    `json:"closed"`
}

type indexFile struct {
	SegmentDurationS float64   `json:"segment_duration_s"`
	Segments         []segment `json:"segments"`
}

type meta struct {
	SessionID   string   `json:"session_id"`
	DeviceID    string   `json:"device_id"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time,omitempty"`
	FrameCount  int      `json:"frame_count"`
	FPS         float64  `json:"fps"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	ClassCatalog []string `json:"class_catalog"`
}

// Writer owns one session's on-disk artifacts. Append and Close serialize
// on an internal mutex; the worker connection handler also drives each
// writer from a single goroutine per connection (§5).
type Writer struct {
	mu sync.Mutex

	baseDir           string
	sessionID         string
	deviceID          string
	width, height     int
	segmentDurationS  float64

	startMonoNs int64
	startUtcNs  int64
	haveMono    bool

	currentSegIdx int
	segFile       *os.File
	segments      []segment
	classCatalog  map[string]struct{}
	frameCount    int
	lastTRelS     float64
}

// New creates the session directory and its tracks/ subdirectory. The
// first Append call establishes the session's time base. fps is derived
// from frameCount and elapsed session time in rewriteArtifactsLocked
// rather than taken as an input here, since neither the protocol nor the
// worker config ever carries a reliable source fps to pass in.
func New(baseDir, sessionID, deviceID string, width, height int) (*Writer, error) {
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(filepath.Join(dir, "tracks"), 0o755); err != nil {
		return nil, fmt.Errorf("sessionwriter: create session dir: %w", err)
	}
	return &Writer{
		baseDir:          dir,
		sessionID:        sessionID,
		deviceID:         deviceID,
		width:            width,
		height:           height,
		segmentDurationS: DefaultSegmentDurationSeconds,
		currentSegIdx:    -1,
		classCatalog:     make(map[string]struct{}),
	}, nil
}

// Append writes one tracks line for frameID, rotating the segment file if
// the relative time crossed into a new segment window (§4.11, S1).
func (w *Writer) Append(objects []Object, frameID uint64, tsMonoNs, tsUtcNs int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.haveMono {
		w.startMonoNs = tsMonoNs
		w.startUtcNs = tsUtcNs
		w.haveMono = true
	}

	var tRelS float64
	if tsMonoNs != 0 {
		tRelS = float64(tsMonoNs-w.startMonoNs) / 1e9
	} else {
		tRelS = float64(tsUtcNs-w.startUtcNs) / 1e9
	}

	segIdx := int(math.Floor(tRelS / w.segmentDurationS))
	if segIdx != w.currentSegIdx {
		if err := w.rotateSegmentLocked(segIdx, tRelS); err != nil {
			return err
		}
	}

	line := trackLine{
		TRelS:    round4(tRelS),
		FrameID:  frameID,
		TsMonoNs: tsMonoNs,
		TsUtcNs:  tsUtcNs,
		Objects:  normalizeObjects(objects, w.width, w.height),
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("sessionwriter: marshal track line: %w", err)
	}
	if _, err := w.segFile.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("sessionwriter: write track line: %w", err)
	}

	w.frameCount++
	w.lastTRelS = tRelS
	last := len(w.segments) - 1
	w.segments[last].Count++
	w.segments[last].T1S = tRelS
	for _, o := range line.Objects {
		w.classCatalog[o.ClassName] = struct{}{}
	}

	return w.rewriteArtifactsLocked("")
}

func (w *Writer) rotateSegmentLocked(segIdx int, tRelS float64) error {
	if w.segFile != nil {
		if err := w.closeSegmentLocked(); err != nil {
			return err
		}
	}

	name := fmt.Sprintf("seg-%04d.jsonl", segIdx)
	path := filepath.Join(w.baseDir, "tracks", name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sessionwriter: create segment %s: %w", name, err)
	}

	w.segFile = f
	w.currentSegIdx = segIdx
	w.segments = append(w.segments, segment{
		Index: segIdx,
		T0S:   tRelS,
		T1S:   tRelS,
		URL:   filepath.Join("tracks", name),
	})
	return nil
}

func (w *Writer) closeSegmentLocked() error {
	if w.segFile == nil {
		return nil
	}
	if err := w.segFile.Sync(); err != nil {
		w.segFile.Close()
		return fmt.Errorf("sessionwriter: fsync segment: %w", err)
	}
	err := w.segFile.Close()
	w.segFile = nil
	if last := len(w.segments) - 1; last >= 0 {
		w.segments[last].Closed = true
	}
	if err != nil {
		return fmt.Errorf("sessionwriter: close segment: %w", err)
	}
	return nil
}

// Close flushes and closes the current segment and rewrites meta.json and
// index.json a final time with end_time set (W1, S3).
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeSegmentLocked(); err != nil {
		log.Error("close segment failed", "session_id", w.sessionID, "error", err)
	}
	return w.rewriteArtifactsLocked(time.Now().UTC().Format(time.RFC3339Nano))
}

func (w *Writer) rewriteArtifactsLocked(endTime string) error {
	catalog := make([]string, 0, len(w.classCatalog))
	for c := range w.classCatalog {
		catalog = append(catalog, c)
	}

	var fps float64
	if w.lastTRelS > 0 {
		fps = round4(float64(w.frameCount) / w.lastTRelS)
	}

	m := meta{
		SessionID:    w.sessionID,
		DeviceID:     w.deviceID,
		StartTime:    time.Unix(0, w.startUtcNs).UTC().Format(time.RFC3339Nano),
		EndTime:      endTime,
		FrameCount:   w.frameCount,
		FPS:          fps,
		Width:        w.width,
		Height:       w.height,
		ClassCatalog: catalog,
	}
	if err := writeJSONAtomic(filepath.Join(w.baseDir, "meta.json"), m); err != nil {
		return err
	}

	idx := indexFile{
		SegmentDurationS: w.segmentDurationS,
		Segments:         w.segments,
	}
	return writeJSONAtomic(filepath.Join(w.baseDir, "index.json"), idx)
}

// writeJSONAtomic marshals v and writes it via create-temp-then-rename so
// no reader ever observes a partial file (P8, W2).
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sessionwriter: create temp for %s: %w", path, err)
	}
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if _, statErr := os.Stat(tmp.Name()); !os.IsNotExist(statErr) {
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("sessionwriter: encode %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sessionwriter: fsync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionwriter: close temp for %s: %w", path, err)
	}
	closed = true

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("sessionwriter: rename into %s: %w", path, err)
	}
	return nil
}

func normalizeObjects(objects []Object, width, height int) []Object {
	if width <= 0 || height <= 0 {
		return objects
	}
	out := make([]Object, len(objects))
	for i, o := range objects {
		out[i] = o
		out[i].Confidence = round4(o.Confidence)
		out[i].BBoxXYXY = [4]float64{
			o.BBoxXYXY[0] / float64(width),
			o.BBoxXYXY[1] / float64(height),
			o.BBoxXYXY[2] / float64(width),
			o.BBoxXYXY[3] / float64(height),
		}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
