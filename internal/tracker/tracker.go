// Package tracker implements a lightweight IoU-association multi-object
// tracker in the BoT-SORT family: detections are greedily matched to
// existing tracks by bounding-box overlap, unmatched tracks age out after
// a bounded number of misses, and the whole track table is reset between
// sessions so track_ids never leak across session boundaries (P6).
package tracker

import "sync"

// DefaultMaxAge is the number of consecutive missed frames before a track
// is dropped.
const DefaultMaxAge = 30

// DefaultIoUThreshold is the minimum IoU for a detection to be associated
// with an existing track.
const DefaultIoUThreshold = 0.3

// Detection is one per-frame inference output, in the Frame Processor's
// coordinate space.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	BBoxXYXY   [4]float64
}

// Track is a Detection carried forward with an assigned identity.
type Track struct {
	TrackID    uint64
	ClassID    int
	ClassName  string
	Confidence float64
	BBoxXYXY   [4]float64

	age     int // frames since last matched
}

// Tracker maintains live tracks across successive Update calls for one
// session. Reset clears all state; the worker connection handler calls it
// on every new session_id (§4.10).
type Tracker struct {
	mu        sync.Mutex
	maxAge    int
	iouThresh float64
	nextID    uint64
	tracks    []*Track
}

// New constructs a Tracker with default age and IoU thresholds.
func New() *Tracker {
	return &Tracker{maxAge: DefaultMaxAge, iouThresh: DefaultIoUThreshold}
}

// Reset drops all live tracks and restarts track_id allocation from zero.
// Called on the first frame of each new session_id so no track_id ever
// appears in two sessions' artifacts (P6).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 0
}

// Update associates detections with existing tracks by greedy IoU
// matching, ages out unmatched tracks, and returns the current set of
// live tracks (matched and newly created) in detection order.
func (t *Tracker) Update(detections []Detection) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	matchedTrack := make([]bool, len(t.tracks))
	out := make([]Track, 0, len(detections))

	for _, det := range detections {
		bestIdx := -1
		bestIoU := t.iouThresh
		for i, tr := range t.tracks {
			if matchedTrack[i] || tr.ClassID != det.ClassID {
				continue
			}
			iou := iou(tr.BBoxXYXY, det.BBoxXYXY)
			if iou > bestIoU {
				bestIoU = iou
				bestIdx = i
			}
		}

		if bestIdx >= 0 {
			tr := t.tracks[bestIdx]
			tr.BBoxXYXY = det.BBoxXYXY
			tr.Confidence = det.Confidence
			tr.ClassName = det.ClassName
			tr.age = 0
			matchedTrack[bestIdx] = true
			out = append(out, *tr)
			continue
		}

		t.nextID++
		tr := &Track{
			TrackID:    t.nextID,
			ClassID:    det.ClassID,
			ClassName:  det.ClassName,
			Confidence: det.Confidence,
			BBoxXYXY:   det.BBoxXYXY,
		}
		t.tracks = append(t.tracks, tr)
		matchedTrack = append(matchedTrack, true)
		out = append(out, *tr)
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !matchedTrack[i] {
			tr.age++
			if tr.age > t.maxAge {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	return out
}

func iou(a, b [4]float64) float64 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	interW := x2 - x1
	interH := y2 - y1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
