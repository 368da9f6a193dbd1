package frameproc

import "sort"

// Detection is one post-processed, class-filtered inference result.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float32
	BBoxXYXY   [4]float32
}

// DefaultNMSIoUThreshold is the suppression threshold applied to dense
// model outputs that were not already NMS-integrated.
const DefaultNMSIoUThreshold = 0.45

// Postprocess turns a raw Output into named, confidence- and
// classes_filter-filtered detections (§4.10 step 2).
func Postprocess(out Output, classNames []string, classesFilter map[string]bool, confidenceThreshold float32) []Detection {
	var raw []Detection
	if out.isNMSIntegrated() {
		raw = parseNMSIntegrated(out, classNames)
	} else {
		raw = parseDenseWithNMS(out, classNames)
	}

	filtered := raw[:0]
	for _, d := range raw {
		if d.Confidence < confidenceThreshold {
			continue
		}
		if len(classesFilter) > 0 && !classesFilter[d.ClassName] {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered
}

// parseNMSIntegrated reads rows of (x1,y1,x2,y2,conf,cls) from a
// [max_detections, 6] output.
func parseNMSIntegrated(out Output, classNames []string) []Detection {
	if len(out.Shape) != 2 || out.Shape[1] != 6 {
		return nil
	}
	n := out.Shape[0]
	dets := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		row := out.Data[i*6 : i*6+6]
		conf := row[4]
		if conf <= 0 {
			continue
		}
		classID := int(row[5])
		dets = append(dets, Detection{
			ClassID:    classID,
			ClassName:  className(classNames, classID),
			Confidence: conf,
			BBoxXYXY:   [4]float32{row[0], row[1], row[2], row[3]},
		})
	}
	return dets
}

// parseDenseWithNMS reads a [batch, 4+C, N] dense output (batch=1
// assumed), applies per-class confidence thresholding implicitly via the
// argmax class score, then greedy IoU suppression (§4.10 step 2).
func parseDenseWithNMS(out Output, classNames []string) []Detection {
	if len(out.Shape) != 3 {
		return nil
	}
	channels := out.Shape[1]
	n := out.Shape[2]
	numClasses := channels - 4
	if numClasses <= 0 {
		return nil
	}

	candidates := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		cx := out.Data[0*n+i]
		cy := out.Data[1*n+i]
		w := out.Data[2*n+i]
		h := out.Data[3*n+i]

		bestClass := 0
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := out.Data[(4+c)*n+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore <= 0 {
			continue
		}

		candidates = append(candidates, Detection{
			ClassID:    bestClass,
			ClassName:  className(classNames, bestClass),
			Confidence: bestScore,
			BBoxXYXY:   [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
		})
	}

	return nmsSuppress(candidates, DefaultNMSIoUThreshold)
}

func nmsSuppress(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := make([]Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i, d := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, d)
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != d.ClassID {
				continue
			}
			if iouF32(d.BBoxXYXY, dets[j].BBoxXYXY) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iouF32(a, b [4]float32) float32 {
	x1 := maxF32(a[0], b[0])
	y1 := maxF32(a[1], b[1])
	x2 := minF32(a[2], b[2])
	y2 := minF32(a[3], b[3])

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

func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return "unknown"
}
