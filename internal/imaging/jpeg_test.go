package imaging

import "testing"

func TestEncodeNV12ToJPEGProducesNonEmptyOutput(t *testing.T) {
	width, height := 16, 16
	data := make([]byte, width*height+width*height/2)
	for i := range data {
		data[i] = 100
	}
	out, err := EncodeNV12ToJPEG(data, width, height, 80)
	if err != nil {
		t.Fatalf("EncodeNV12ToJPEG: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty JPEG output")
	}
}

func TestEncodeNV12ToJPEGRejectsUndersizedBuffer(t *testing.T) {
	if _, err := EncodeNV12ToJPEG([]byte{1, 2, 3}, 16, 16, 80); err == nil {
		t.Fatal("expected an error for a buffer smaller than width*height")
	}
}

func TestRawPlanesCoversFullBuffer(t *testing.T) {
	planes := RawPlanes(32, 16)
	if len(planes) != 2 {
		t.Fatalf("expected 2 planes, got %d", len(planes))
	}
	total := planes[0].Size + planes[1].Size
	want := uint32(32*16 + 32*16/2)
	if total != want {
		t.Fatalf("planes cover %d bytes, want %d", total, want)
	}
}
