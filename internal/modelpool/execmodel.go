package modelpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/clearlane/visionpipe/internal/frameproc"
)

// manifest describes a model directory: the external inference runtime
// binary to invoke per frame, its expected input geometry, and the class
// names its output tensor indexes into. The runtime itself (ONNX Runtime,
// TensorRT, or similar) is outside this repo's scope; manifest.json is the
// seam between this process and that backend.
type manifest struct {
	Runtime     string   `json:"runtime"`
	InputWidth  int      `json:"input_width"`
	InputHeight int      `json:"input_height"`
	ClassNames  []string `json:"class_names"`
}

// execModel is a frameproc.Model that delegates each Infer call to an
// external runtime process, passing the RGB888 buffer on stdin and reading
// a JSON-encoded frameproc.Output from stdout. One process invocation per
// call keeps the seam simple; a higher-throughput backend can replace this
// with a persistent worker process without changing frameproc's interface.
type execModel struct {
	name       string
	runtime    string
	width      int
	height     int
	classNames []string
}

// FileLoader returns a modelpool.Loader that resolves a model name to the
// manifest at <modelDir>/<name>/manifest.json.
func FileLoader(modelDir string) Loader {
	return func(ctx context.Context, name string) (frameproc.Model, error) {
		path := filepath.Join(modelDir, name, "manifest.json")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("modelpool: read manifest %s: %w", path, err)
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("modelpool: parse manifest %s: %w", path, err)
		}
		if m.Runtime == "" {
			return nil, fmt.Errorf("modelpool: manifest %s missing runtime path", path)
		}
		return &execModel{
			name:       name,
			runtime:    m.Runtime,
			width:      m.InputWidth,
			height:     m.InputHeight,
			classNames: m.ClassNames,
		}, nil
	}
}

func (m *execModel) Name() string { return m.name }

func (m *execModel) InputSize() (width, height int) { return m.width, m.height }

func (m *execModel) ClassNames() []string { return m.classNames }

// runtimeOutput is the wire format the external runtime prints to stdout:
// a flat row-major tensor plus its shape, mirroring frameproc.Output.
type runtimeOutput struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (m *execModel) Infer(ctx context.Context, rgb []byte, width, height int) (frameproc.Output, error) {
	cmd := exec.CommandContext(ctx, m.runtime,
		"--width", fmt.Sprint(width),
		"--height", fmt.Sprint(height),
	)
	cmd.Stdin = bytes.NewReader(rgb)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return frameproc.Output{}, fmt.Errorf("modelpool: runtime %s failed: %w (%s)", m.runtime, err, stderr.String())
	}

	var out runtimeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return frameproc.Output{}, fmt.Errorf("modelpool: runtime %s produced invalid output: %w", m.runtime, err)
	}
	return frameproc.Output{Shape: out.Shape, Data: out.Data}, nil
}
