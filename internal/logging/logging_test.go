package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("edgeclient")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "server", "tcp://127.0.0.1:9443")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=edgeclient") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "server=tcp://127.0.0.1:9443") {
		t.Fatalf("expected server field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("edgeclient")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestWithStreamAndSessionAttachFields(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithSession(WithStream(L("workerconn"), "edge-123-abc"), "sess-9")
	logger.Info("frame processed")

	out := buf.String()
	if !strings.Contains(out, "streamId=edge-123-abc") {
		t.Fatalf("expected streamId field, got: %s", out)
	}
	if !strings.Contains(out, "sessionId=sess-9") {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
}
