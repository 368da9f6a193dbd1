package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearlane/visionpipe/internal/capture"
	"github.com/clearlane/visionpipe/internal/config"
	"github.com/clearlane/visionpipe/internal/edgeclient"
	"github.com/clearlane/visionpipe/internal/feeder"
	"github.com/clearlane/visionpipe/internal/framesource"
	"github.com/clearlane/visionpipe/internal/ingest"
	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/obsserver"
	"github.com/clearlane/visionpipe/internal/orchestrator"
	"github.com/clearlane/visionpipe/internal/publisher"
	"github.com/clearlane/visionpipe/internal/store"
	"github.com/clearlane/visionpipe/internal/workerpool"
	"github.com/clearlane/visionpipe/pkg/protocol"
)

var (
	version = "0.1.0"
	cfgFile string
)

const (
	ingestPoolWorkers   = 4
	ingestPoolQueueSize = 256
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "edge-agent",
	Short: "VisionPipe Edge Agent",
	Long:  `VisionPipe Edge Agent - video capture, frame feeding, recording orchestration, and ingestion.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the edge agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edge-agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/visionpipe/edge-agent.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.LoadEdge().
func initLogging(cfg *config.EdgeConfig) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter("edge-agent", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// relevantFilter decides whether a Result's detections make the orchestrator
// consider this frame "activity", per the class/confidence gate the FSM
// itself does not compute.
func relevantFilter(cfg *config.EdgeConfig) func(*protocol.Result) bool {
	classes := make(map[string]bool, len(cfg.ClassesFilter))
	for _, c := range cfg.ClassesFilter {
		classes[c] = true
	}
	threshold := float32(cfg.ConfidenceThreshold)
	return func(r *protocol.Result) bool {
		for _, d := range r.Detections {
			if len(classes) > 0 && !classes[d.ClassName] {
				continue
			}
			if d.Confidence >= threshold {
				return true
			}
		}
		return false
	}
}

func runAgent() {
	cfg, err := config.LoadEdge(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting edge agent", "version", version, "deviceId", cfg.DeviceID)

	frameCacheTTL := time.Duration(cfg.FrameCacheTTLMs) * time.Millisecond

	fd := feeder.New(feeder.Config{
		ModelName:           cfg.ModelName,
		Width:               cfg.InferWidth,
		Height:              cfg.InferHeight,
		MaxInflight:         cfg.MaxInflight,
		ClassesFilter:       cfg.ClassesFilter,
		ConfidenceThreshold: float32Ptr(float32(cfg.ConfidenceThreshold)),
	}, frameCacheTTL)

	client := edgeclient.New(cfg.WorkerHost, cfg.WorkerPort, fd)

	pub := publisher.New(publisher.Config{
		BinaryPath: cfg.PublisherBinaryPath,
		SocketPath: cfg.SourceSocketPath,
		Width:      cfg.SourceWidth,
		Height:     cfg.SourceHeight,
		FPS:        cfg.SourceFPSHub,
		Host:       cfg.PublisherHost,
		Port:       cfg.PublisherPort,
		Path:       cfg.PublisherPath,
	})

	sessionStore := store.New(cfg.StoreBaseURL, cfg.DeviceID)
	ingester := ingest.New(cfg.StoreBaseURL, fd.Cache(), cfg.IngestMaxRPS)
	ingestPool := workerpool.New(ingestPoolWorkers, ingestPoolQueueSize)

	adapter := orchestrator.NewAdapter(orchestrator.Timers{
		DwellMs:    cfg.DwellMs,
		SilenceMs:  cfg.SilenceMs,
		PostrollMs: cfg.PostrollMs,
	}, pub, sessionStore, fd, client)

	isRelevant := relevantFilter(cfg)

	capt := capture.New(capture.Config{
		BinaryPath: cfg.CaptureBinaryPath,
		SourceURI:  cfg.SourceURI,
		SocketPath: cfg.SourceSocketPath,
		Width:      cfg.SourceWidth,
		Height:     cfg.SourceHeight,
		FPS:        cfg.SourceFPSHub,
		ShmSizeMB:  cfg.SourceShmSizeMB,
	})

	reader := framesource.New(framesource.Config{
		SocketPath:  cfg.SourceSocketPath,
		Width:       cfg.SourceWidth,
		Height:      cfg.SourceHeight,
		PixelFormat: protocol.PixelFormatNV12,
		FPSIdle:     cfg.FPSIdle,
		FPSActive:   cfg.FPSActive,
	}, func(buf framesource.CaptureBuffer) {
		fd.OnCapture(feeder.CaptureBuffer{
			Data:        buf.Data,
			Width:       buf.Width,
			Height:      buf.Height,
			PixelFormat: buf.PixelFormat,
			TsMonoNs:    buf.TsMonoNs,
			TsUtcNs:     buf.TsUtcNs,
		})
	})
	adapter.SetOnFPSMode(reader.SetActive)

	client.SetOnResult(func(r *protocol.Result) {
		adapter.Dispatch(orchestrator.Event{Kind: orchestrator.EventDetection, Relevant: isRelevant(r)})

		sessionID, ok := fd.SessionIDForFrame(r.FrameID)
		if !ok || sessionID == "" || len(r.Detections) == 0 {
			return
		}
		item := ingest.Item{FrameID: r.FrameID, SessionID: sessionID}
		for _, d := range r.Detections {
			item.Detections = append(item.Detections, ingest.Detection{
				ClassName:  d.ClassName,
				Confidence: d.Confidence,
				BBoxXYXY:   d.BBoxXYXY,
				TrackID:    d.TrackID,
			})
		}
		submitted := ingestPool.Submit(func() {
			if err := ingester.Submit(context.Background(), item); err != nil {
				log.Warn("ingest submit failed", "error", err, "frameId", r.FrameID)
			}
		})
		if !submitted {
			log.Warn("ingest pool saturated, dropping submission", "frameId", r.FrameID)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := capt.Start(ctx); err != nil {
		log.Error("capture start failed", "error", err)
	}

	readerCtx, readerCancel := context.WithCancel(ctx)
	go reader.Run(readerCtx)

	fd.Start()
	client.Start()
	adapter.Start()

	obs := obsserver.Start(cfg.MetricsAddr, cfg.HealthAddr, func() error { return nil })

	log.Info("edge agent is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down edge agent")

	// Shutdown sequence per the lifecycle contract: close any active
	// session, stop the feeder, close the TCP client, then the publisher
	// and capture children in that order.
	adapter.Shutdown()
	adapter.Stop()

	fd.Stop()
	fd.Destroy()

	ingestPool.StopAccepting()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	ingestPool.Drain(drainCtx)
	drainCancel()

	readerCancel()
	reader.Stop()

	client.Stop()

	pub.Stop()
	capt.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), obsserver.ShutdownTimeout)
	defer shutdownCancel()
	obs.Stop(shutdownCtx)

	log.Info("edge agent stopped")
}

func float32Ptr(v float32) *float32 { return &v }
