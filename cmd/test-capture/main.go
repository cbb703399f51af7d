package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/logging"
)

// Version information
const version = "v0.1.0"

// pollInterval stands in for the display refresh of a real viewer.
const pollInterval = 16 * time.Millisecond

var errMaxFrames = errors.New("maximum frames reached")

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "YAML configuration file (flags override it)")
	streamURL := flag.String("url", "", "MJPEG stream URL (required unless set in --config)")
	sourceStream := flag.String("source", "camera", "Source stream identifier")
	outputDir := flag.String("output", "", "Directory to save captured frames (optional)")
	outputFormat := flag.String("format", "png", "Output format: png, jpeg")
	jpegQuality := flag.Int("jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	scale := flag.Float64("scale", 1.0, "Scale factor applied to saved frames (0.1-1.0)")
	maxFrames := flag.Int("max-frames", 0, "Maximum frames to capture (0 = unlimited)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	stallTimeout := flag.Duration("stall-timeout", 5*time.Second, "End a session with no decodable frame for this long")
	livenessTimeout := flag.Duration("liveness-timeout", 10*time.Second, "Restart ingestion when no frame was seen for this long")
	skipWarmup := flag.Bool("skip-warmup", false, "Skip FPS stability warmup")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text, json")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("test-capture %s\n", version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Flags given explicitly win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Camera.URL = *streamURL
		case "source":
			cfg.Camera.SourceStream = *sourceStream
		case "stall-timeout":
			cfg.Capture.StallTimeout = *stallTimeout
		case "liveness-timeout":
			cfg.Capture.LivenessTimeout = *livenessTimeout
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	// Validate required flags
	if cfg.Camera.URL == "" {
		fmt.Fprintf(os.Stderr, "Error: --url flag (or camera.url in --config) is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  test-capture --url http://192.168.0.101:4747/video\n")
		fmt.Fprintf(os.Stderr, "  test-capture --url http://192.168.0.101:4747/video --output ./frames --scale 0.5\n")
		fmt.Fprintf(os.Stderr, "  test-capture --config capture.yaml\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if *outputFormat != "png" && *outputFormat != "jpeg" {
		log.Fatalf("Invalid output format: %s (must be png or jpeg)", *outputFormat)
	}
	if *scale < 0.1 || *scale > 1.0 {
		log.Fatalf("Invalid scale: %.2f (must be 0.1-1.0)", *scale)
	}
	if *statsInterval <= 0 {
		log.Fatalf("Invalid stats interval: %d (must be > 0)", *statsInterval)
	}

	saver := frameSaver{
		dir:         *outputDir,
		format:      *outputFormat,
		jpegQuality: *jpegQuality,
		scale:       *scale,
	}
	if saver.enabled() {
		if err := os.MkdirAll(saver.dir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		slog.Info("Frame saving enabled",
			"directory", saver.dir,
			"format", saver.format,
			"scale", saver.scale,
		)
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║            MJPEG Capture Test - Orion Module             ║\n")
	fmt.Printf("║                      Version %s                        ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Stream URL:    %s\n", cfg.Camera.URL)
	fmt.Printf("  Source Stream: %s\n", cfg.Camera.SourceStream)
	if saver.enabled() {
		fmt.Printf("  Output Dir:    %s\n", saver.dir)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	if *maxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", *maxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	fmt.Printf("\n")

	stream, err := mjpegcapture.NewMJPEGStream(cfg.StreamConfig())
	if err != nil {
		log.Fatalf("Failed to create MJPEG stream: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := stream.Start(ctx); err != nil {
		log.Fatalf("Failed to start stream: %v", err)
	}
	slog.Info("Stream started, waiting for frames")

	if !*skipWarmup {
		fmt.Printf("Running warmup (5 seconds) to measure stream stability...\n")
		warmupStats, err := stream.Warmup(ctx, 5*time.Second)
		switch {
		case warmupStats != nil:
			printWarmup(warmupStats)
		case err != nil:
			slog.Warn("Warmup failed, continuing anyway", "error", err)
		}
	}

	fmt.Printf("Starting frame capture...\n")
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	startTime := time.Now()
	var framesSeen, framesSaved, saveErrors int

	g, gctx := errgroup.WithContext(ctx)

	// Stats reporter
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				printStats(stream.Stats(), time.Since(startTime))
			}
		}
	})

	// Consumer poll loop
	g.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		waiting := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}

			frame, ok := stream.TryLatest()
			if !ok {
				if !stream.Connected() && !waiting {
					fmt.Printf("[%s] Waiting for camera stream...\n", time.Now().Format("15:04:05"))
					waiting = true
				}
				continue
			}
			waiting = false
			framesSeen++

			fmt.Printf("[%s] Frame #%-6d | Seq: %-8d | %dx%d | Timestamp: %s\n",
				time.Now().Format("15:04:05"),
				framesSeen,
				frame.Seq,
				frame.Width,
				frame.Height,
				frame.Timestamp.Format("15:04:05.000"),
			)

			if saver.enabled() {
				if err := saver.save(frame); err != nil {
					slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
					saveErrors++
				} else {
					framesSaved++
				}
			}

			if *maxFrames > 0 && framesSeen >= *maxFrames {
				fmt.Printf("\nReached maximum frames (%d), stopping...\n", *maxFrames)
				return errMaxFrames
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errMaxFrames) {
		slog.Error("Capture loop failed", "error", err)
	}

	slog.Info("Stopping stream...")
	if err := stream.Stop(); err != nil {
		slog.Error("Error stopping stream", "error", err)
	}

	finalStats := stream.Stats()
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", time.Since(startTime).Round(time.Second))
	fmt.Printf("  Frames Decoded:     %d frames\n", finalStats.FrameCount)
	fmt.Printf("  Frames Displayed:   %d frames\n", framesSeen)
	if saver.enabled() {
		fmt.Printf("  Frames Saved:       %d frames\n", framesSaved)
		fmt.Printf("  Save Errors:        %d\n", saveErrors)
	}
	fmt.Printf("  Average FPS:        %.2f fps\n", finalStats.FPSReal)
	fmt.Printf("  Bytes Read:         %.2f MB\n", float64(finalStats.BytesRead)/1024/1024)
	fmt.Printf("  Sessions:           %d\n", finalStats.Sessions)
	fmt.Printf("  Reconnection Count: %d\n", finalStats.Reconnects)
	fmt.Printf("  Watchdog Restarts:  %d\n", finalStats.Restarts)
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")

	slog.Info("Test capture completed")
}

func printWarmup(w *mjpegcapture.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", w.FramesReceived)
	fmt.Printf("│ Duration:           %6.1f seconds\n", w.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", w.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", w.FPSStdDev)
	fmt.Printf("│ FPS Range:          %6.1f - %.1f fps\n", w.FPSMin, w.FPSMax)
	fmt.Printf("│ Jitter Mean:        %6.3f s\n", w.JitterMean)
	fmt.Printf("│ Jitter Max:         %6.3f s\n", w.JitterMax)
	fmt.Printf("│ Stable:             %6v\n", w.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	if !w.IsStable {
		fmt.Printf("\n⚠️  WARNING: Stream is unstable (high FPS variance or jitter)\n")
	}
	fmt.Printf("\n")
}

func printStats(stats mjpegcapture.StreamStats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Stream Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ State:              %s\n", stats.State)
	fmt.Printf("│ Frames Decoded:     %6d frames\n", stats.FrameCount)
	if stats.FramesDropped > 0 {
		fmt.Printf("│ Coalesced Drops:    %6d frames (%.1f%%)\n", stats.FramesDropped, stats.DropRate)
	}
	fmt.Printf("│ Decode Errors:      %6d\n", stats.DecodeErrors)
	fmt.Printf("│ Buffer Overflows:   %6d\n", stats.BufferOverflows)
	fmt.Printf("│ Real FPS:           %6.2f fps\n", stats.FPSReal)
	fmt.Printf("│ Frame Age:          %6d ms\n", stats.LatencyMS)
	fmt.Printf("│ Bytes Read:         %6.2f MB\n", float64(stats.BytesRead)/1024/1024)
	fmt.Printf("│ Reconnects:         %6d (next backoff %v)\n", stats.Reconnects, stats.Backoff)
	fmt.Printf("│ Watchdog Restarts:  %6d\n", stats.Restarts)
	fmt.Printf("│ Connected:          %6v\n", stats.IsConnected)
	totalErrors := stats.ErrorsNetwork + stats.ErrorsHTTP + stats.ErrorsAuth + stats.ErrorsStall + stats.ErrorsUnknown
	if totalErrors > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Error Telemetry\n")
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Network Errors:     %6d\n", stats.ErrorsNetwork)
		fmt.Printf("│ HTTP Errors:        %6d\n", stats.ErrorsHTTP)
		fmt.Printf("│ Auth Errors:        %6d\n", stats.ErrorsAuth)
		fmt.Printf("│ Stalls:             %6d\n", stats.ErrorsStall)
		fmt.Printf("│ Unknown Errors:     %6d\n", stats.ErrorsUnknown)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}
