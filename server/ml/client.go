package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/cache"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

// Client talks to the external model service that provides object detection
// and feature embedding. Both calls are opaque to the engine: the service
// receives a pixel buffer and returns candidates or a fixed-length vector.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
	embedCache cache.Cache
	stopCh     chan struct{}
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

type frameRequest struct {
	ImageData []byte `json:"image_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type detectResponse struct {
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	Box   wireBox `json:"box"`
	Score float64 `json:"score"`
	Class string  `json:"class"`
}

type wireBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// DefaultClientConfig fills unset knobs when a zero config is passed in.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewClient builds a collaborator client. embedCache may be nil to disable
// embedding memoization.
func NewClient(baseURL string, cfg ClientConfig, embedCache cache.Cache, logger *zap.Logger) *Client {
	defaults := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	config := &cfg

	client := &Client{
		baseURL:    baseURL,
		logger:     logger,
		config:     config,
		embedCache: embedCache,
		stopCh:     make(chan struct{}),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	if err := client.HealthCheck(); err != nil {
		logger.Warn("model service not available at startup", zap.Error(err))
	}
	go client.startHealthChecker()

	return client
}

// Detect runs the external object detector on a frame, returning candidate
// detections in original-frame coordinates.
func (c *Client) Detect(ctx context.Context, frame *source.Frame) ([]models.Candidate, error) {
	var resp detectResponse
	if err := c.post(ctx, "/detect", &frameRequest{
		ImageData: frame.Pix,
		Width:     frame.Width,
		Height:    frame.Height,
	}, &resp); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		candidates = append(candidates, models.Candidate{
			Box: models.BoundingBox{
				X:      d.Box.X,
				Y:      d.Box.Y,
				Width:  d.Box.Width,
				Height: d.Box.Height,
			},
			Score: d.Score,
			Class: d.Class,
		})
	}
	return candidates, nil
}

// Embed returns the feature embedding of a patch. Embeddings are
// deterministic per input, so results are memoized by patch hash when a
// cache is configured.
func (c *Client) Embed(ctx context.Context, patch *source.Frame) ([]float64, error) {
	var key string
	if c.embedCache != nil {
		key = cache.GenerateKey(patch.Pix)
		if cached, err := c.embedCache.Get(ctx, key); err == nil {
			if embedding, ok := cached.([]float64); ok {
				return embedding, nil
			}
		}
	}

	var resp embedResponse
	if err := c.post(ctx, "/embed", &frameRequest{
		ImageData: patch.Pix,
		Width:     patch.Width,
		Height:    patch.Height,
	}, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("embed: service returned empty embedding")
	}

	if c.embedCache != nil {
		if err := c.embedCache.Set(ctx, key, resp.Embedding); err != nil {
			c.logger.Warn("failed to cache embedding", zap.Error(err))
		}
	}
	return resp.Embedding, nil
}

// post sends a JSON request with retry and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	requestData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying model service request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = c.execute(ctx, path, requestData, out); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("model service request failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

func (c *Client) execute(ctx context.Context, path string, body []byte, out any) error {
	url := c.baseURL + path
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "critter-cv/1.0")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return fmt.Errorf("model service error (status %d): %s", response.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) HealthCheck() error {
	response, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy (status %d)", response.StatusCode)
	}
	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.logger.Error("model service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("model service health check passed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the background health checker.
func (c *Client) Close() {
	close(c.stopCh)
}
