package config

import (
	"fmt"
	"testing"
)

func TestEdgeValidateTieredEmptyWorkerHostIsFatal(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.WorkerHost = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty worker_host should be fatal")
	}
}

func TestEdgeValidateTieredBadWorkerPortIsFatal(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.WorkerPort = 70000
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("out-of-range worker_port should be fatal")
	}
}

func TestEdgeValidateTieredInvalidStoreURLSchemeIsFatal(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.StoreBaseURL = "ftp://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid store_base_url scheme should be fatal")
	}
}

func TestEdgeValidateTieredConfidenceClampingIsWarning(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.ConfidenceThreshold = 1.5
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped confidence_threshold should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for out-of-range confidence_threshold")
	}
	if cfg.ConfidenceThreshold != 0.5 {
		t.Fatalf("ConfidenceThreshold = %v, want 0.5 (clamped)", cfg.ConfidenceThreshold)
	}
}

func TestEdgeValidateTieredMaxInflightClamping(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.MaxInflight = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped max_inflight should be warning: %v", result.Fatals)
	}
	if cfg.MaxInflight != 1 {
		t.Fatalf("MaxInflight = %d, want 1", cfg.MaxInflight)
	}

	cfg.MaxInflight = 9999
	result = cfg.ValidateTiered()
	if cfg.MaxInflight != 64 {
		t.Fatalf("MaxInflight = %d, want 64", cfg.MaxInflight)
	}
}

func TestEdgeValidateTieredFPSClamping(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.FPSIdle = -1
	cfg.FPSActive = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning: %v", result.Fatals)
	}
	if cfg.FPSIdle != 1 {
		t.Fatalf("FPSIdle = %v, want 1", cfg.FPSIdle)
	}
	if cfg.FPSActive != cfg.FPSIdle {
		t.Fatalf("FPSActive = %v, want %v", cfg.FPSActive, cfg.FPSIdle)
	}
}

func TestEdgeValidateTieredFrameCacheTTLClamping(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.FrameCacheTTLMs = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped frame_cache_ttl_ms should be warning: %v", result.Fatals)
	}
	if cfg.FrameCacheTTLMs != 2000 {
		t.Fatalf("FrameCacheTTLMs = %d, want 2000", cfg.FrameCacheTTLMs)
	}
}

func TestEdgeValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestEdgeValidConfigHasNoErrors(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.StoreBaseURL = "https://store.example.com"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestWorkerValidateTieredBadPortIsFatal(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.ListenPort = 0
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("listen_port 0 should be fatal")
	}
}

func TestWorkerValidateTieredEmptyModelDirIsFatal(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.ModelDir = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty model_dir should be fatal")
	}
}

func TestWorkerValidateTieredMaxConnectionsClamping(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.MaxConnections = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped max_connections should be warning: %v", result.Fatals)
	}
	if cfg.MaxConnections != 1 {
		t.Fatalf("MaxConnections = %d, want 1", cfg.MaxConnections)
	}
}

func TestWorkerValidConfigHasNoErrors(t *testing.T) {
	cfg := DefaultWorkerConfig()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := DefaultEdgeConfig()
	cfg.StoreBaseURL = "ftp://bad"  // fatal
	cfg.LogLevel = "verbose"        // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}
