package frameproc

import (
	"context"
	"fmt"
	"time"

	"github.com/clearlane/visionpipe/pkg/protocol"
)

// Result is the Frame Processor's output for one frame: detections plus a
// latency breakdown, ready to be carried into a protocol.Result (§4.10
// step 5).
type Result struct {
	Detections []Detection
	PreMs      float32
	InferMs    float32
	PostMs     float32
	TotalMs    float32
}

// Process runs the full decode -> infer -> postprocess pipeline for one
// frame's raw payload. It does not touch the tracker or session writer;
// the worker connection handler composes those around Process per §4.10
// steps 3-4, since both are scoped to the connection, not to this
// stateless pipeline call.
func Process(ctx context.Context, model Model, frame *protocol.Frame, classesFilter map[string]bool, confidenceThreshold float32) (Result, error) {
	start := time.Now()

	img, err := Decode(frame)
	if err != nil {
		return Result{}, fmt.Errorf("frameproc: decode: %w", err)
	}
	preMs := time.Since(start)

	inferStart := time.Now()
	out, err := model.Infer(ctx, img.RGB, img.Width, img.Height)
	if err != nil {
		return Result{}, fmt.Errorf("frameproc: infer: %w", err)
	}
	inferMs := time.Since(inferStart)

	postStart := time.Now()
	detections := Postprocess(out, model.ClassNames(), classesFilter, confidenceThreshold)
	postMs := time.Since(postStart)

	total := time.Since(start)
	return Result{
		Detections: detections,
		PreMs:      float32(preMs.Microseconds()) / 1000,
		InferMs:    float32(inferMs.Microseconds()) / 1000,
		PostMs:     float32(postMs.Microseconds()) / 1000,
		TotalMs:    float32(total.Microseconds()) / 1000,
	}, nil
}
