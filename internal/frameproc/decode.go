// Package frameproc implements the worker-side per-frame pipeline: decode
// the wire payload to an RGB buffer, run inference, and turn raw model
// output into named, confidence-filtered detections (§4.10).
package frameproc

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/clearlane/visionpipe/pkg/protocol"
)

// DecodedImage is an RGB888 buffer ready for model input.
type DecodedImage struct {
	RGB    []byte
	Width  int
	Height int
}

// Decode turns a wire Frame into an RGB buffer, per its declared codec and
// pixel_format. JPEG frames are decoded with the standard library; RAW
// NV12/I420 frames are converted in-process (§4.10 step 1).
func Decode(f *protocol.Frame) (DecodedImage, error) {
	switch f.Codec {
	case protocol.CodecJPEG:
		return decodeJPEG(f.Data)
	case protocol.CodecNone:
		return decodeRaw(f)
	default:
		return DecodedImage{}, fmt.Errorf("frameproc: unsupported codec %d", f.Codec)
	}
}

func decodeJPEG(data []byte) (DecodedImage, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return DecodedImage{}, fmt.Errorf("frameproc: jpeg decode: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	rgb := make([]byte, width*height*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rgb[i] = byte(r >> 8)
			rgb[i+1] = byte(g >> 8)
			rgb[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return DecodedImage{RGB: rgb, Width: width, Height: height}, nil
}

func decodeRaw(f *protocol.Frame) (DecodedImage, error) {
	width, height := int(f.Width), int(f.Height)
	ySize := width * height
	if len(f.Data) < ySize+ySize/2 {
		return DecodedImage{}, fmt.Errorf("frameproc: raw buffer too small for %dx%d", width, height)
	}

	y := f.Data[:ySize]
	uv := f.Data[ySize : ySize+ySize/2]

	rgb := make([]byte, width*height*3)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			yi := row*width + col
			uvRow := row / 2
			uvCol := col / 2 * 2

			var u, v byte
			switch f.PixelFormat {
			case protocol.PixelFormatI420:
				uPlaneSize := ySize / 4
				uIdx := uvRow*(width/2) + col/2
				u = uv[uIdx]
				v = uv[uPlaneSize+uIdx]
			default: // NV12: interleaved U,V pairs
				base := uvRow*width + uvCol
				if base+1 < len(uv) {
					u, v = uv[base], uv[base+1]
				}
			}

			rgb[yi*3], rgb[yi*3+1], rgb[yi*3+2] = yuvToRGB(y[yi], u, v)
		}
	}
	return DecodedImage{RGB: rgb, Width: width, Height: height}, nil
}

func yuvToRGB(yVal, u, v byte) (byte, byte, byte) {
	c := int(yVal) - 16
	d := int(u) - 128
	e := int(v) - 128

	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8

	return clampByte(r), clampByte(g), clampByte(b)
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
