// Package ingest implements the edge-side frame ingester (§4.8): for each
// detection batch that belongs to an active session, it pulls the original
// NV12 buffer back out of the frame cache, re-encodes it as JPEG, and posts
// a multipart upload to the session store's /ingest endpoint.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/clearlane/visionpipe/internal/framecache"
	"github.com/clearlane/visionpipe/internal/httputil"
	"github.com/clearlane/visionpipe/internal/imaging"
	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("ingest")

const jpegQuality = 80

// Detection is one tracked object to be reported for a frame.
type Detection struct {
	TrackID    *uint64
	ClassName  string
	Confidence float32
	BBoxXYXY   [4]float32
}

// Item is one unit of ingest work: a frame's detections, scoped to a
// session, referencing the frame cache by frame_id.
type Item struct {
	FrameID    uint64
	SessionID  string
	Detections []Detection
}

type frameMeta struct {
	SessionID string     `json:"sessionId"`
	TrackID   *uint64    `json:"trackId,omitempty"`
	Class     string     `json:"cls"`
	Conf      float32    `json:"conf"`
	BBox      [4]float32 `json:"bbox"`
	CaptureTs int64      `json:"captureTs"`
	URLFrame  string     `json:"urlFrame"`
}

// Ingester consumes Items, pacing uploads with a token bucket, and posts
// each detection in an Item as one multipart request to the store.
type Ingester struct {
	baseURL string
	http    *http.Client
	cache   *framecache.Cache
	limiter *rate.Limiter
	retry   httputil.RetryConfig
}

// New constructs an Ingester against the store at baseURL, pulling raw
// frame bytes from cache. maxRPS bounds the outbound request rate (0 means
// unlimited).
func New(baseURL string, cache *framecache.Cache, maxRPS float64) *Ingester {
	var limiter *rate.Limiter
	if maxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRPS), 1)
	}
	return &Ingester{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		limiter: limiter,
		retry:   httputil.DefaultIngestRetryConfig(),
	}
}

// Submit processes one Item: for each detection it builds and posts a
// multipart request. A cache miss for the frame silently skips the whole
// item (the frame is gone, nothing to attach). Errors for individual
// detections are logged and do not abort the remaining ones.
func (ing *Ingester) Submit(ctx context.Context, item Item) error {
	if item.SessionID == "" {
		return nil
	}
	entry, ok := ing.cache.Get(item.FrameID)
	if !ok {
		log.Debug("frame not in cache, skipping ingest", "frame_id", item.FrameID)
		return nil
	}

	jpegBytes, err := imaging.EncodeNV12ToJPEG(entry.Data, entry.Width, entry.Height, jpegQuality)
	if err != nil {
		return fmt.Errorf("ingest: encode frame %d: %w", item.FrameID, err)
	}

	var firstErr error
	for _, det := range item.Detections {
		if ing.limiter != nil {
			if err := ing.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		meta := frameMeta{
			SessionID: item.SessionID,
			TrackID:   det.TrackID,
			Class:     det.ClassName,
			Conf:      det.Confidence,
			BBox:      det.BBoxXYXY,
			CaptureTs: entry.TsUtcNs,
			URLFrame:  fmt.Sprintf("frame-%d.jpg", item.FrameID),
		}
		if err := ing.postOne(ctx, meta, jpegBytes); err != nil {
			log.Warn("ingest post failed", "frame_id", item.FrameID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (ing *Ingester) postOne(ctx context.Context, meta frameMeta, jpegBytes []byte) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ingest: marshal meta: %w", err)
	}

	buildBody := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		metaPart, err := w.CreateFormField("meta")
		if err != nil {
			return nil, "", err
		}
		if _, err := metaPart.Write(metaJSON); err != nil {
			return nil, "", err
		}

		framePart, err := w.CreateFormFile("frame", meta.URLFrame)
		if err != nil {
			return nil, "", err
		}
		if _, err := framePart.Write(jpegBytes); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	resp, err := httputil.Do(ctx, ing.http, http.MethodPost, ing.baseURL+"/ingest", buildBody, nil, ing.retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ingest: status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}
