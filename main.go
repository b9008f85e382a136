package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sitewatch/sitewatch/internal/alertgate"
	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/batch"
	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/internal/detector"
	"github.com/sitewatch/sitewatch/internal/evidence"
	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/notify"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/registry"
	"github.com/sitewatch/sitewatch/internal/store"
	"github.com/sitewatch/sitewatch/internal/stream"
	"github.com/sitewatch/sitewatch/internal/video"
	"github.com/sitewatch/sitewatch/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting SiteWatch",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	// Create main context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the database
	dbPath := filepath.Join(cfg.Monitor.DataDir, "db", "sitewatch.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Error("Failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cameras := registry.New(db)
	alertStore := alerts.NewStore(db)

	// Notification fan-out
	hub := notify.NewHub(log.Named("notify"))
	broadcasters := []alerts.Broadcaster{hub}
	if cfg.Monitor.Notify.Kafka.Enabled {
		producer, err := notify.NewKafkaProducer(
			cfg.Monitor.Notify.Kafka.Brokers,
			cfg.Monitor.Notify.Kafka.Topic,
			log.Named("kafka"),
		)
		if err != nil {
			log.Error("Failed to connect kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		broadcasters = append(broadcasters, producer)
	}
	cameraLocation := func(ctx context.Context, cameraID string) (string, error) {
		camera, err := cameras.Get(ctx, cameraID)
		if err != nil {
			return "", err
		}
		return camera.Location, nil
	}
	publisher := alerts.NewPublisher(alertStore, broadcasters, cameraLocation, log.Named("alerts"))

	// Evidence snapshots
	var evidenceWriter evidence.Writer
	if cfg.Monitor.Evidence.S3.Endpoint != "" {
		evidenceWriter, err = evidence.NewS3Writer(ctx, evidence.S3Config{
			Endpoint:  cfg.Monitor.Evidence.S3.Endpoint,
			AccessKey: cfg.Monitor.Evidence.S3.AccessKey,
			SecretKey: cfg.Monitor.Evidence.S3.SecretKey,
			Bucket:    cfg.Monitor.Evidence.S3.Bucket,
			UseSSL:    cfg.Monitor.Evidence.S3.UseSSL,
		}, log.Named("evidence"))
	} else {
		evidenceWriter, err = evidence.NewDiskWriter(cfg.Monitor.Evidence.Dir, log.Named("evidence"))
	}
	if err != nil {
		log.Error("Failed to initialize evidence storage", "error", err)
		os.Exit(1)
	}

	// Detection and analysis
	detectorClient := detector.NewClient(detector.ClientConfig{
		ServiceURL:          cfg.Monitor.Detector.ServiceURL,
		Timeout:             cfg.Monitor.Detector.Timeout,
		ConfidenceThreshold: cfg.Monitor.Detector.ConfidenceThreshold,
	}, log.Named("detector"))
	detect := detectorClient.WithRetry(cfg.Monitor.Detector.MaxRetries, cfg.Monitor.Detector.RetryDelay)

	violationAnalyzer := analyzer.New(analyzer.Config{
		PPEDistancePx:       cfg.Monitor.Rules.PPEDistancePx,
		ProximityDistancePx: cfg.Monitor.Rules.ProximityDistancePx,
		ExitBlockDistancePx: cfg.Monitor.Rules.ExitBlockDistancePx,
	}, log.Named("analyzer"))

	// Live streams share one cooldown gate; batch jobs get their own per job.
	liveGate := alertgate.New(cfg.Monitor.Alerts.CooldownWindow, log.Named("alertgate"))
	go liveGate.Run(ctx, cfg.Monitor.Alerts.SweepInterval)

	liveProcessor := pipeline.New(
		detect,
		violationAnalyzer,
		liveGate,
		evidenceWriter,
		publisher,
		log.Named("pipeline"),
	)
	active := pipeline.NewActiveSet()

	ffmpeg, err := video.NewFFmpeg(cfg.Monitor.Evidence.JPEGQuality, log.Named("video"))
	if err != nil {
		log.Error("Failed to locate ffmpeg", "error", err)
		os.Exit(1)
	}

	openLive := func(ctx context.Context, camera *registry.Camera) (video.Source, error) {
		return video.OpenLive(ctx, ffmpeg, video.LiveConfig{
			URL:          camera.StreamURL,
			CameraID:     camera.ID,
			OpenAttempts: cfg.Monitor.Video.OpenAttempts,
			RetryDelay:   cfg.Monitor.Video.ReadRetryDelay,
		}, log.Named("video"))
	}
	supervisor := stream.NewSupervisor(stream.Config{
		FrameStride:     cfg.Monitor.Video.LiveFrameStride,
		TargetRate:      cfg.Monitor.Video.TargetRate,
		ReadRetryDelay:  cfg.Monitor.Video.ReadRetryDelay,
		MaxReadFailures: cfg.Monitor.Video.MaxReadFailures,
		Touch:           cameras.SetLastSeen,
	}, liveProcessor, active, openLive, log.Named("stream"))

	openFile := func(ctx context.Context, cameraID, filePath string) (batch.FileSource, error) {
		return video.OpenFile(ctx, ffmpeg, filePath, cameraID, cfg.Monitor.Batch.FrameStride, log.Named("video"))
	}
	jobProcessor := func(gate *alertgate.Gate) *pipeline.Processor {
		return pipeline.New(
			detect,
			violationAnalyzer,
			gate,
			evidenceWriter,
			publisher,
			log.Named("pipeline"),
		)
	}
	runner := batch.NewRunner(batch.Config{
		Deadline:       cfg.Monitor.Batch.Deadline,
		CooldownWindow: cfg.Monitor.Alerts.CooldownWindow,
		JobRetention:   cfg.Monitor.Batch.JobRetention,
	}, jobProcessor, active, openFile, log.Named("batch"))
	go runner.Run(ctx, cfg.Monitor.Batch.SweepInterval)

	// Alert retention
	go retentionLoop(ctx, alertStore, cfg.Monitor.Alerts.RetentionDays, log)

	// HTTP API
	server := web.NewServer(cfg.Monitor.Web, cameras, supervisor, runner, alertStore, hub, log.Named("web"))
	server.SetVersion(version)
	if err := server.Start(ctx); err != nil {
		log.Error("Failed to start web server", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping web server", "error", err)
	}

	supervisor.StopAll(shutdownCtx)
	cancel()

	log.Info("Shutdown complete")
}

// retentionLoop deletes alerts older than the configured retention once a day.
func retentionLoop(ctx context.Context, store *alerts.Store, retentionDays int, log *logger.Logger) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			deleted, err := store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Error("Alert retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("Deleted expired alerts", "count", deleted, "cutoff", cutoff)
			}
		}
	}
}
