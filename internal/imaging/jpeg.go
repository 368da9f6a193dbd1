// Package imaging holds the small pixel-format conversion helpers shared
// by the feeder (edge → wire encode) and the ingester (edge → store JPEG).
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/clearlane/visionpipe/pkg/protocol"
)

// EncodeNV12ToJPEG converts an NV12 buffer to a JPEG at the given quality.
// This is a luma-only grayscale approximation: the wire contract only
// requires the receiver get a decodable JPEG of the right dimensions under
// degradation, not full chroma fidelity.
func EncodeNV12ToJPEG(data []byte, width, height, quality int) ([]byte, error) {
	ySize := width * height
	if len(data) < ySize {
		return nil, fmt.Errorf("imaging: buffer too small for %dx%d NV12", width, height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:ySize])

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RawPlanes describes the Y/UV plane layout of a tightly packed NV12 buffer
// of the given dimensions.
func RawPlanes(width, height int) []protocol.Plane {
	ySize := uint32(width * height)
	uvSize := ySize / 2
	return []protocol.Plane{
		{Stride: uint32(width), Offset: 0, Size: ySize},
		{Stride: uint32(width), Offset: ySize, Size: uvSize},
	}
}
