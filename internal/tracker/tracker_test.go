package tracker

import "testing"

func TestUpdateAssignsNewTrackIDs(t *testing.T) {
	tr := New()
	out := tr.Update([]Detection{
		{ClassID: 0, ClassName: "person", BBoxXYXY: [4]float64{0, 0, 10, 10}},
		{ClassID: 1, ClassName: "car", BBoxXYXY: [4]float64{50, 50, 60, 60}},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(out))
	}
	if out[0].TrackID == out[1].TrackID {
		t.Fatal("expected distinct track ids for distinct detections")
	}
}

func TestUpdateReassociatesOverlappingBox(t *testing.T) {
	tr := New()
	first := tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	second := tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{1, 1, 11, 11}}})
	if second[0].TrackID != first[0].TrackID {
		t.Fatalf("expected same track_id across overlapping frames, got %d vs %d", first[0].TrackID, second[0].TrackID)
	}
}

func TestUpdateDoesNotAssociateAcrossClasses(t *testing.T) {
	tr := New()
	first := tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	second := tr.Update([]Detection{{ClassID: 1, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	if second[0].TrackID == first[0].TrackID {
		t.Fatal("expected a new track_id when class differs even with identical box")
	}
}

func TestResetClearsTracksAndIDCounter(t *testing.T) {
	tr := New()
	tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	tr.Reset()
	out := tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	if out[0].TrackID != 1 {
		t.Fatalf("expected track_id to restart at 1 after Reset, got %d", out[0].TrackID)
	}
}

func TestUpdateAgesOutUnmatchedTracks(t *testing.T) {
	tr := New()
	tr.maxAge = 2
	tr.Update([]Detection{{ClassID: 0, BBoxXYXY: [4]float64{0, 0, 10, 10}}})
	tr.Update([]Detection{}) // miss 1
	tr.Update([]Detection{}) // miss 2
	out := tr.Update([]Detection{}) // miss 3, should be dropped
	if len(out) != 0 {
		t.Fatalf("expected track to have aged out, got %v", out)
	}
}

func TestIoUComputation(t *testing.T) {
	cases := []struct {
		a, b [4]float64
		want float64
	}{
		{[4]float64{0, 0, 10, 10}, [4]float64{0, 0, 10, 10}, 1.0},
		{[4]float64{0, 0, 10, 10}, [4]float64{20, 20, 30, 30}, 0.0},
	}
	for _, c := range cases {
		if got := iou(c.a, c.b); got != c.want {
			t.Errorf("iou(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
