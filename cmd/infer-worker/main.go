package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearlane/visionpipe/internal/config"
	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/modelpool"
	"github.com/clearlane/visionpipe/internal/obsserver"
	"github.com/clearlane/visionpipe/internal/workerconn"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "infer-worker",
	Short: "VisionPipe Inference Worker",
	Long:  `VisionPipe Inference Worker - model loading, decode/infer/track/persist per connection.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the inference worker",
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("infer-worker v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/visionpipe/infer-worker.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.LoadWorker().
func initLogging(cfg *config.WorkerConfig) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter("infer-worker", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
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

func runWorker() {
	cfg, err := config.LoadWorker(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting inference worker", "version", version)

	pool := modelpool.New(modelpool.FileLoader(cfg.ModelDir))
	handler := workerconn.New(workerconn.Options{
		Pool:           pool,
		SessionBaseDir: cfg.SessionDataDir,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}
	log.Info("listening", "addr", addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connSemaphore := make(chan struct{}, maxInt(cfg.MaxConnections, 1))

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.Warn("accept failed", "error", err)
					continue
				}
			}
			connSemaphore <- struct{}{}
			go func() {
				defer func() { <-connSemaphore }()
				handler.Serve(ctx, conn)
			}()
		}
	}()

	obs := obsserver.Start(cfg.MetricsAddr, cfg.HealthAddr, func() error { return nil })

	log.Info("inference worker is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down inference worker")

	// Stop accepting new connections; in-flight connections finish their
	// current frame and close their session writers via Serve's own
	// cleanup path as ctx cancellation propagates.
	_ = listener.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	obs.Stop(shutdownCtx)

	log.Info("inference worker stopped")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
