package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// inferenceRequest is the wire format sent to the inference service.
type inferenceRequest struct {
	Image               string   `json:"image"` // Base64-encoded JPEG
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	EnabledClasses      []string `json:"enabled_classes,omitempty"`
}

type wireBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
}

type inferenceResponse struct {
	BoundingBoxes   []wireBox `json:"bounding_boxes"`
	InferenceTimeMs float64   `json:"inference_time_ms"`
	FrameShape      []int     `json:"frame_shape"` // [height, width]
}

// ClientConfig contains configuration for the inference client.
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	EnabledClasses      []string
}

// Client is an HTTP client for the object-detection inference service.
type Client struct {
	serviceURL     string
	httpClient     *http.Client
	logger         *logger.Logger
	confidence     float64
	enabledClasses []string
}

var _ Detector = (*Client)(nil)

// NewClient creates a new inference service client.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		serviceURL:     config.ServiceURL,
		httpClient:     &http.Client{Timeout: config.Timeout},
		logger:         log,
		confidence:     config.ConfidenceThreshold,
		enabledClasses: config.EnabledClasses,
	}
}

// Detect runs inference on a single JPEG frame.
func (c *Client) Detect(ctx context.Context, jpeg []byte) (*Result, error) {
	req := inferenceRequest{
		Image: base64.StdEncoding.EncodeToString(jpeg),
	}
	if c.confidence > 0 {
		req.ConfidenceThreshold = &c.confidence
	}
	if len(c.enabledClasses) > 0 {
		req.EnabledClasses = c.enabledClasses
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var wire inferenceResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &Result{
		Detections:    make([]Detection, 0, len(wire.BoundingBoxes)),
		InferenceTime: time.Duration(wire.InferenceTimeMs * float64(time.Millisecond)),
	}
	if len(wire.FrameShape) == 2 {
		result.FrameHeight = wire.FrameShape[0]
		result.FrameWidth = wire.FrameShape[1]
	}
	for _, box := range wire.BoundingBoxes {
		result.Detections = append(result.Detections, Detection{
			Class:      ClassFromName(box.ClassName),
			RawLabel:   box.ClassName,
			Confidence: box.Confidence,
			Box:        BoundingBox{X1: box.X1, Y1: box.Y1, X2: box.X2, Y2: box.Y2},
		})
	}

	c.logger.Debug(
		"Inference completed",
		"detection_count", len(result.Detections),
		"inference_time_ms", wire.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}

// DetectWithRetry runs inference, retrying transient failures.
func (c *Client) DetectWithRetry(
	ctx context.Context,
	jpeg []byte,
	maxRetries int,
	retryDelay time.Duration,
) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		result, err := c.Detect(ctx, jpeg)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.logger.Warn(
			"Inference attempt failed",
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, fmt.Errorf("inference failed after %d retries: %w", maxRetries, lastErr)
}

// WithRetry wraps the client so every Detect call retries transient
// failures before reporting an error.
func (c *Client) WithRetry(maxRetries int, retryDelay time.Duration) Detector {
	return &retryingDetector{client: c, maxRetries: maxRetries, retryDelay: retryDelay}
}

type retryingDetector struct {
	client     *Client
	maxRetries int
	retryDelay time.Duration
}

func (r *retryingDetector) Detect(ctx context.Context, jpeg []byte) (*Result, error) {
	return r.client.DetectWithRetry(ctx, jpeg, r.maxRetries, r.retryDelay)
}

// HealthCheck checks whether the inference service is ready.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}

	return nil
}
