package publisher

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeFakeBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives a posix shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-publisher.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestTargetURL(t *testing.T) {
	cfg := Config{Host: "media.local", Port: 8554, Path: "cam-1"}
	want := "rtsp://media.local:8554/cam-1"
	if got := cfg.targetURL(); got != want {
		t.Fatalf("targetURL() = %q, want %q", got, want)
	}
}

func TestStartAndStopRunsAndTerminatesChild(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	bin := writeFakeBinary(t, "touch "+marker+" && sleep 30")

	p := New(Config{
		BinaryPath: bin,
		SocketPath: "/tmp/capture.sock",
		Width:      1920,
		Height:     1080,
		FPS:        30,
		Host:       "127.0.0.1",
		Port:       8554,
		Path:       "cam-1",
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected publisher child to have run: %v", err)
	}

	p.Stop()
}
