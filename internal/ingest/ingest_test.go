package ingest

import (
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/clearlane/visionpipe/internal/framecache"
)

func rawNV12(width, height int) []byte {
	data := make([]byte, width*height+width*height/2)
	for i := range data {
		data[i] = 128
	}
	return data
}

func TestSubmitSkipsWhenFrameNotCached(t *testing.T) {
	cache := framecache.New(0)
	ing := New("http://unused.invalid", cache, 0)

	trackID := uint64(1)
	err := ing.Submit(context.Background(), Item{
		FrameID:   99,
		SessionID: "sess-1",
		Detections: []Detection{{TrackID: &trackID, ClassName: "person", Confidence: 0.9, BBoxXYXY: [4]float32{0, 0, 1, 1}}},
	})
	if err != nil {
		t.Fatalf("expected cache-miss to be silently skipped, got %v", err)
	}
}

func TestSubmitSkipsWhenSessionEmpty(t *testing.T) {
	cache := framecache.New(0)
	cache.Put(1, framecache.Entry{Data: rawNV12(8, 8), Width: 8, Height: 8})
	ing := New("http://unused.invalid", cache, 0)

	err := ing.Submit(context.Background(), Item{FrameID: 1, SessionID: "", Detections: []Detection{{ClassName: "person"}}})
	if err != nil {
		t.Fatalf("expected empty session_id to be a no-op, got %v", err)
	}
}

func TestSubmitPostsMultipartWithMetaAndFrame(t *testing.T) {
	var calls atomic.Int32
	var gotMeta frameMeta
	var gotFrameLen int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/ingest" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parse content type: %v", err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			switch part.FormName() {
			case "meta":
				json.NewDecoder(part).Decode(&gotMeta)
			case "frame":
				buf := make([]byte, 0, 1024)
				tmp := make([]byte, 512)
				for {
					n, err := part.Read(tmp)
					buf = append(buf, tmp[:n]...)
					if err != nil {
						break
					}
				}
				gotFrameLen = len(buf)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := framecache.New(0)
	cache.Put(7, framecache.Entry{Data: rawNV12(16, 16), Width: 16, Height: 16, TsUtcNs: 1234})
	ing := New(srv.URL, cache, 0)

	trackID := uint64(42)
	err := ing.Submit(context.Background(), Item{
		FrameID:   7,
		SessionID: "sess-1",
		Detections: []Detection{
			{TrackID: &trackID, ClassName: "person", Confidence: 0.81, BBoxXYXY: [4]float32{0.1, 0.2, 0.3, 0.4}},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 POST, got %d", calls.Load())
	}
	if gotMeta.SessionID != "sess-1" || gotMeta.Class != "person" || *gotMeta.TrackID != 42 {
		t.Fatalf("unexpected meta: %+v", gotMeta)
	}
	if gotFrameLen == 0 {
		t.Fatal("expected non-empty JPEG frame part")
	}
}

func TestSubmitTerminalClientErrorDoesNotAbortOtherDetections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cache := framecache.New(0)
	cache.Put(1, framecache.Entry{Data: rawNV12(8, 8), Width: 8, Height: 8})
	ing := New(srv.URL, cache, 0)

	err := ing.Submit(context.Background(), Item{
		FrameID:   1,
		SessionID: "sess-1",
		Detections: []Detection{
			{ClassName: "person"},
			{ClassName: "car"},
		},
	})
	if err == nil {
		t.Fatal("expected an error to be returned for the failing detections")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected both detections to be attempted despite the first failing, got %d calls", calls.Load())
	}
}
