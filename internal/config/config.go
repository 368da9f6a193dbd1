package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/clearlane/visionpipe/internal/logging"
)

// EdgeConfig is the typed, read-once configuration for the edge-agent binary.
// Field groups follow the option set enumerated in the wire/control-plane
// contract: Source, Inference, FSM, Store, Publisher, Cache, Log.
type EdgeConfig struct {
	// Identity.
	DeviceID string `mapstructure:"device_id"`

	// Source: the shared-memory frame feed produced by the capture child.
	SourceURI         string `mapstructure:"source_uri"`
	SourceWidth       int    `mapstructure:"source_width"`
	SourceHeight      int    `mapstructure:"source_height"`
	SourceFPSHub      int    `mapstructure:"source_fps_hub"`
	SourceSocketPath  string `mapstructure:"source_socket_path"`
	SourceShmSizeMB   int    `mapstructure:"source_shm_size_mb"`
	CaptureBinaryPath string `mapstructure:"capture_binary_path"`

	// Inference: how the edge talks to the worker and what it asks for.
	WorkerHost          string   `mapstructure:"worker_host"`
	WorkerPort          int      `mapstructure:"worker_port"`
	ModelName           string   `mapstructure:"model_name"`
	InferWidth          int      `mapstructure:"infer_width"`
	InferHeight         int      `mapstructure:"infer_height"`
	MaxInflight         int      `mapstructure:"max_inflight"`
	ClassesFilter       []string `mapstructure:"classes_filter"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	FPSIdle             float64  `mapstructure:"fps_idle"`
	FPSActive           float64  `mapstructure:"fps_active"`

	// FSM: orchestrator dwell/silence/post-roll timers (milliseconds).
	DwellMs    int `mapstructure:"dwell_ms"`
	SilenceMs  int `mapstructure:"silence_ms"`
	PostrollMs int `mapstructure:"postroll_ms"`

	// Store: the HTTP session store the orchestrator and ingester talk to.
	StoreBaseURL string `mapstructure:"store_base_url"`

	// Publisher: the RTSP-push child's target stream identity.
	PublisherHost       string `mapstructure:"publisher_host"`
	PublisherPort       int    `mapstructure:"publisher_port"`
	PublisherPath       string `mapstructure:"publisher_path"`
	PublisherBinaryPath string `mapstructure:"publisher_binary_path"`

	// Cache: the frame cache used to reattach image bytes to late results.
	FrameCacheTTLMs int `mapstructure:"frame_cache_ttl_ms"`

	// Ingest: rate limit applied to outbound /ingest uploads (0 = unlimited).
	IngestMaxRPS float64 `mapstructure:"ingest_max_rps"`

	// Logging.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Auxiliary listeners.
	MetricsAddr string `mapstructure:"metrics_addr"`
	HealthAddr  string `mapstructure:"health_addr"`
}

// WorkerConfig is the typed, read-once configuration for the infer-worker binary.
type WorkerConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`

	ModelDir       string `mapstructure:"model_dir"`
	SessionDataDir string `mapstructure:"session_data_dir"`
	MaxConnections int    `mapstructure:"max_connections"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	HealthAddr  string `mapstructure:"health_addr"`
}

func DefaultEdgeConfig() *EdgeConfig {
	return &EdgeConfig{
		SourceWidth:       1920,
		SourceHeight:      1080,
		SourceFPSHub:      30,
		SourceSocketPath:  "/run/visionpipe/capture.sock",
		SourceShmSizeMB:   64,
		CaptureBinaryPath: "visionpipe-capture",

		WorkerHost:          "127.0.0.1",
		WorkerPort:          9443,
		ModelName:           "default",
		InferWidth:          640,
		InferHeight:         640,
		MaxInflight:         4,
		ConfidenceThreshold: 0.5,
		FPSIdle:             1,
		FPSActive:           10,

		DwellMs:    500,
		SilenceMs:  3000,
		PostrollMs: 2000,

		PublisherPort:       8554,
		PublisherBinaryPath: "visionpipe-publish",
		FrameCacheTTLMs:     2000,
		IngestMaxRPS:        10,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		MetricsAddr: ":9100",
		HealthAddr:  ":9101",
	}
}

func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		ListenHost:     "0.0.0.0",
		ListenPort:     9443,
		ModelDir:       "/var/lib/visionpipe/models",
		SessionDataDir: "/var/lib/visionpipe/sessions",
		MaxConnections: 64,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		MetricsAddr: ":9102",
		HealthAddr:  ":9103",
	}
}

func LoadEdge(cfgFile string) (*EdgeConfig, error) {
	cfg := DefaultEdgeConfig()
	v := newViper(cfgFile, "edge-agent", "EDGE")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	logger := logging.L("config")
	for _, err := range result.Warnings {
		logger.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			logger.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}
	return cfg, nil
}

func LoadWorker(cfgFile string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	v := newViper(cfgFile, "infer-worker", "WORKER")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	logger := logging.L("config")
	for _, err := range result.Warnings {
		logger.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			logger.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}
	return cfg, nil
}

func newViper(cfgFile, defaultName, envPrefix string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(defaultName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	return v
}

// GetDataDir returns the platform-specific base data directory.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "VisionPipe", "data")
	case "darwin":
		return "/Library/Application Support/VisionPipe/data"
	default:
		return "/var/lib/visionpipe"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "VisionPipe")
	case "darwin":
		return "/Library/Application Support/VisionPipe"
	default:
		return "/etc/visionpipe"
	}
}
