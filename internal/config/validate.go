package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidationResult separates fatal misconfiguration (which blocks startup)
// from warnings (which are logged and auto-corrected in place).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the edge config for invalid values. Values that
// would panic downstream (e.g. a zero window size) are clamped in place
// and reported as warnings; values that make startup meaningless (an
// unreachable worker, a malformed store URL) are fatal.
func (c *EdgeConfig) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.WorkerHost == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("worker_host must not be empty"))
	}
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("worker_port %d is out of range", c.WorkerPort))
	}

	if c.StoreBaseURL != "" {
		u, err := url.Parse(c.StoreBaseURL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("store_base_url %q is not a valid URL: %w", c.StoreBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.Fatals = append(r.Fatals, fmt.Errorf("store_base_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("confidence_threshold %v out of [0,1], clamping to 0.5", c.ConfidenceThreshold))
		c.ConfidenceThreshold = 0.5
	}

	if c.MaxInflight < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_inflight %d is below minimum 1, clamping", c.MaxInflight))
		c.MaxInflight = 1
	} else if c.MaxInflight > 64 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_inflight %d exceeds maximum 64, clamping", c.MaxInflight))
		c.MaxInflight = 64
	}

	if c.FPSIdle <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps_idle %v is non-positive, clamping to 1", c.FPSIdle))
		c.FPSIdle = 1
	}
	if c.FPSActive <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps_active %v is non-positive, clamping to fps_idle", c.FPSActive))
		c.FPSActive = c.FPSIdle
	}

	if c.DwellMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("dwell_ms %d is negative, clamping to 0", c.DwellMs))
		c.DwellMs = 0
	}
	if c.SilenceMs < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("silence_ms %d is below minimum 1, clamping", c.SilenceMs))
		c.SilenceMs = 1
	}
	if c.PostrollMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("postroll_ms %d is negative, clamping to 0", c.PostrollMs))
		c.PostrollMs = 0
	}

	if c.FrameCacheTTLMs < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_cache_ttl_ms %d is below minimum 1, clamping to 2000", c.FrameCacheTTLMs))
		c.FrameCacheTTLMs = 2000
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

// ValidateTiered checks the worker config for invalid values, following the
// same fatal/warning split as EdgeConfig.ValidateTiered.
func (c *WorkerConfig) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_port %d is out of range", c.ListenPort))
	}
	if c.ModelDir == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("model_dir must not be empty"))
	}
	if c.SessionDataDir == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("session_data_dir must not be empty"))
	}

	if c.MaxConnections < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_connections %d is below minimum 1, clamping", c.MaxConnections))
		c.MaxConnections = 1
	} else if c.MaxConnections > 4096 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_connections %d exceeds maximum 4096, clamping", c.MaxConnections))
		c.MaxConnections = 4096
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}
