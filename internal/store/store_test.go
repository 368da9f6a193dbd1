package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenSessionReturnsAssignedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req openSessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DeviceID != "dev-1" {
			t.Fatalf("expected deviceId dev-1, got %q", req.DeviceID)
		}
		json.NewEncoder(w).Encode(openSessionResponse{SessionID: "sess-123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "dev-1")
	id, err := c.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if id != "sess-123" {
		t.Fatalf("expected sess-123, got %q", id)
	}
}

func TestOpenSessionErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "dev-1")
	if _, err := c.OpenSession(); err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestCloseSessionPostsToCorrectPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "dev-1")
	if err := c.CloseSession("sess-123"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/sessions/sess-123/close") {
		t.Fatalf("expected close path for sess-123, got %q", gotPath)
	}
}
