package frameproc

import "context"

// Model is the inference backend the Frame Processor drives. Concrete
// implementations live outside this package (e.g. an ONNX Runtime or
// TensorRT session); frameproc only depends on this interface so the
// pipeline can be exercised against a fake in tests.
type Model interface {
	// Name is the model identifier as resolved from Init.model.
	Name() string
	// InputSize is the model's expected input width/height.
	InputSize() (width, height int)
	// Infer runs the model over an RGB888 buffer of width x height pixels
	// and returns the raw output tensor. The pipeline passes the decoded
	// frame at its own size; it does not resize to InputSize.
	Infer(ctx context.Context, rgb []byte, width, height int) (Output, error)
	// ClassNames maps output class indices to names.
	ClassNames() []string
}

// Output is a raw model output tensor, row-major, as produced by the
// backend. Shape conventions follow §4.10: either
//   - [max_detections, 6] (NMS already applied, (x1,y1,x2,y2,conf,cls)), or
//   - [batch, 4+C, N] (dense, requiring post-NMS here).
type Output struct {
	Shape []int
	Data  []float32
}

// isNMSIntegrated reports whether out's last dimension is 6, per the
// auto-detection rule in §4.10 step 2.
func (o Output) isNMSIntegrated() bool {
	return len(o.Shape) > 0 && o.Shape[len(o.Shape)-1] == 6
}
