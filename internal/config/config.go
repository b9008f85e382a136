package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration. Values come from a YAML file,
// with environment variables taking priority over file values.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// MonitorConfig groups the safety-monitor subsystems.
type MonitorConfig struct {
	DataDir  string         `yaml:"data_dir" env:"SITEWATCH_DATA_DIR"`
	Detector DetectorConfig `yaml:"detector"`
	Video    VideoConfig    `yaml:"video"`
	Rules    RulesConfig    `yaml:"rules"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Notify   NotifyConfig   `yaml:"notify"`
	Batch    BatchConfig    `yaml:"batch"`
	Web      WebConfig      `yaml:"web"`
}

// DetectorConfig configures the inference service client.
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url" env:"SITEWATCH_DETECTOR_URL"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
}

// VideoConfig configures frame acquisition and pacing.
type VideoConfig struct {
	FrameWidth      int           `yaml:"frame_width"`
	FrameHeight     int           `yaml:"frame_height"`
	LiveFrameStride int           `yaml:"live_frame_stride"` // forward every Nth frame
	TargetRate      float64       `yaml:"target_rate"`       // processed frames per second, live
	ReadRetryDelay  time.Duration `yaml:"read_retry_delay"`
	MaxReadFailures int           `yaml:"max_read_failures"` // consecutive failures before Error
	OpenAttempts    int           `yaml:"open_attempts"`
}

// RulesConfig holds the violation-rule pixel thresholds.
type RulesConfig struct {
	PPEDistancePx       float64 `yaml:"ppe_distance_px"`
	ProximityDistancePx float64 `yaml:"proximity_distance_px"`
	ExitBlockDistancePx float64 `yaml:"exit_block_distance_px"`
}

// AlertsConfig configures alert dedup and retention.
type AlertsConfig struct {
	CooldownWindow time.Duration `yaml:"cooldown_window"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	RetentionDays  int           `yaml:"retention_days"`
}

// EvidenceConfig configures snapshot storage.
type EvidenceConfig struct {
	Dir         string `yaml:"dir" env:"SITEWATCH_EVIDENCE_DIR"`
	JPEGQuality int    `yaml:"jpeg_quality"`

	// Optional S3-compatible sink. When Endpoint is set, snapshots go to the
	// bucket instead of local disk.
	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible object-store credentials.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"SITEWATCH_S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"SITEWATCH_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SITEWATCH_S3_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"SITEWATCH_S3_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NotifyConfig configures alert fan-out transports.
type NotifyConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the optional Kafka alert producer.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"SITEWATCH_KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"SITEWATCH_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"SITEWATCH_KAFKA_TOPIC"`
}

// BatchConfig configures the batch job runner.
type BatchConfig struct {
	Deadline      time.Duration `yaml:"deadline"`
	FrameStride   int           `yaml:"frame_stride"` // 0 = derive from fps
	JobRetention  time.Duration `yaml:"job_retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// WebConfig configures the HTTP API server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" env:"SITEWATCH_WEB_HOST"`
	Port    int    `yaml:"port" env:"SITEWATCH_WEB_PORT"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"SITEWATCH_LOG_LEVEL"`
	Format string `yaml:"format" env:"SITEWATCH_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Environment variables win over file values.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfigPath() string {
	paths := []string{
		"./config/config.yaml",
		"./config.yaml",
		"/etc/sitewatch/config.yaml",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[0]
}

// setDefaults fills zero values with working defaults.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Monitor.DataDir == "" {
		c.Monitor.DataDir = "./data"
	}

	if c.Monitor.Detector.ServiceURL == "" {
		c.Monitor.Detector.ServiceURL = "http://localhost:8080"
	}
	if c.Monitor.Detector.Timeout == 0 {
		c.Monitor.Detector.Timeout = 30 * time.Second
	}
	if c.Monitor.Detector.ConfidenceThreshold == 0 {
		c.Monitor.Detector.ConfidenceThreshold = 0.5
	}
	if c.Monitor.Detector.MaxRetries == 0 {
		c.Monitor.Detector.MaxRetries = 2
	}
	if c.Monitor.Detector.RetryDelay == 0 {
		c.Monitor.Detector.RetryDelay = 500 * time.Millisecond
	}

	if c.Monitor.Video.FrameWidth == 0 {
		c.Monitor.Video.FrameWidth = 640
	}
	if c.Monitor.Video.FrameHeight == 0 {
		c.Monitor.Video.FrameHeight = 480
	}
	if c.Monitor.Video.LiveFrameStride == 0 {
		c.Monitor.Video.LiveFrameStride = 3
	}
	if c.Monitor.Video.TargetRate == 0 {
		c.Monitor.Video.TargetRate = 10
	}
	if c.Monitor.Video.ReadRetryDelay == 0 {
		c.Monitor.Video.ReadRetryDelay = 100 * time.Millisecond
	}
	if c.Monitor.Video.MaxReadFailures == 0 {
		c.Monitor.Video.MaxReadFailures = 10
	}
	if c.Monitor.Video.OpenAttempts == 0 {
		c.Monitor.Video.OpenAttempts = 3
	}

	if c.Monitor.Rules.PPEDistancePx == 0 {
		c.Monitor.Rules.PPEDistancePx = 100
	}
	if c.Monitor.Rules.ProximityDistancePx == 0 {
		c.Monitor.Rules.ProximityDistancePx = 150
	}
	if c.Monitor.Rules.ExitBlockDistancePx == 0 {
		c.Monitor.Rules.ExitBlockDistancePx = 80
	}

	if c.Monitor.Alerts.CooldownWindow == 0 {
		c.Monitor.Alerts.CooldownWindow = 30 * time.Second
	}
	if c.Monitor.Alerts.SweepInterval == 0 {
		c.Monitor.Alerts.SweepInterval = time.Minute
	}
	if c.Monitor.Alerts.RetentionDays == 0 {
		c.Monitor.Alerts.RetentionDays = 30
	}

	if c.Monitor.Evidence.Dir == "" {
		c.Monitor.Evidence.Dir = filepath.Join(c.Monitor.DataDir, "alerts")
	}
	if c.Monitor.Evidence.JPEGQuality == 0 {
		c.Monitor.Evidence.JPEGQuality = 85
	}

	if c.Monitor.Notify.Kafka.Topic == "" {
		c.Monitor.Notify.Kafka.Topic = "sitewatch.alerts"
	}

	if c.Monitor.Batch.Deadline == 0 {
		c.Monitor.Batch.Deadline = 10 * time.Minute
	}
	if c.Monitor.Batch.JobRetention == 0 {
		c.Monitor.Batch.JobRetention = time.Hour
	}
	if c.Monitor.Batch.SweepInterval == 0 {
		c.Monitor.Batch.SweepInterval = 5 * time.Minute
	}

	if c.Monitor.Web.Host == "" {
		c.Monitor.Web.Host = "0.0.0.0"
	}
	if c.Monitor.Web.Port == 0 {
		c.Monitor.Web.Port = 8090
	}
}
