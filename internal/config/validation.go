package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values that would break at runtime.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.Monitor.Detector.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("detector.service_url %q is not a valid URL", c.Monitor.Detector.ServiceURL))
	}
	if t := c.Monitor.Detector.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("detector.confidence_threshold %v must be in [0, 1]", t))
	}

	if c.Monitor.Video.LiveFrameStride < 1 {
		errs = append(errs, "video.live_frame_stride must be at least 1")
	}
	if c.Monitor.Video.TargetRate <= 0 {
		errs = append(errs, "video.target_rate must be positive")
	}

	if c.Monitor.Rules.PPEDistancePx <= 0 {
		errs = append(errs, "rules.ppe_distance_px must be positive")
	}
	if c.Monitor.Rules.ProximityDistancePx <= 0 {
		errs = append(errs, "rules.proximity_distance_px must be positive")
	}
	if c.Monitor.Rules.ExitBlockDistancePx <= 0 {
		errs = append(errs, "rules.exit_block_distance_px must be positive")
	}

	if c.Monitor.Alerts.CooldownWindow < 0 {
		errs = append(errs, "alerts.cooldown_window must not be negative")
	}

	if q := c.Monitor.Evidence.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Sprintf("evidence.jpeg_quality %d must be in [1, 100]", q))
	}
	if s3 := c.Monitor.Evidence.S3; s3.Endpoint != "" {
		if s3.Bucket == "" {
			errs = append(errs, "evidence.s3.bucket is required when an S3 endpoint is set")
		}
		if s3.AccessKey == "" || s3.SecretKey == "" {
			errs = append(errs, "evidence.s3 credentials are required when an S3 endpoint is set")
		}
	}

	if k := c.Monitor.Notify.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, "notify.kafka.brokers is required when kafka is enabled")
		}
		if k.Topic == "" {
			errs = append(errs, "notify.kafka.topic is required when kafka is enabled")
		}
	}

	if c.Monitor.Batch.Deadline <= 0 {
		errs = append(errs, "batch.deadline must be positive")
	}

	if p := c.Monitor.Web.Port; p < 1 || p > 65535 {
		errs = append(errs, fmt.Sprintf("web.port %d must be in [1, 65535]", p))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
