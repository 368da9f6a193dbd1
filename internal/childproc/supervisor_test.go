package childproc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test drives a posix shell child")
	}
}

func TestStartAndStopKillsChild(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")

	sup := New(Spec{
		Name: "/bin/sh",
		Args: []string{"-c", "touch " + marker + " && sleep 30"},
	})
	if err := sup.Start(context.Background()); err != nil {
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
		t.Fatalf("expected child to have run, marker missing: %v", err)
	}

	sup.Stop()
	// Stop is idempotent.
	sup.Stop()
}

func TestSuperviseLoopRestartsAfterCrash(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	counter := filepath.Join(dir, "count")

	sup := New(Spec{
		Name:               "/bin/sh",
		Args:               []string{"-c", "printf x >> " + counter + "; exit 1"},
		RestartBackoffBase: 20 * time.Millisecond,
		RestartBackoffCap:  40 * time.Millisecond,
	})
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(counter)
		if len(data) >= 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected child to have restarted at least 3 times")
}

func TestOnReadyGatesStart(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	sup := New(Spec{
		Name:              "/bin/sh",
		Args:              []string{"-c", "sleep 0.1 && touch " + readyFile + " && sleep 30"},
		ReadyPollInterval: 10 * time.Millisecond,
		OnReady: func() bool {
			_, err := os.Stat(readyFile)
			return err == nil
		},
	})
	defer sup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(readyFile); err != nil {
		t.Fatalf("expected ready marker to exist once Start returned: %v", err)
	}
}
