package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/critter-cv/critter-cv/server/models"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Vision   VisionConfig   `json:"vision"`
	Source   SourceConfig   `json:"source"`
	Detector DetectorConfig `json:"detector"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

// VisionConfig points at the external detection/embedding service used by
// the continuity and trained-knn strategies.
type VisionConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	EmbedCacheSize      int           `json:"embed_cache_size"`
	EmbedCacheTTL       time.Duration `json:"embed_cache_ttl"`
}

// SourceConfig points at the frame-source service that decodes video and
// serves frames by timestamp.
type SourceConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// DetectorConfig holds the per-strategy defaults applied when a session
// request leaves a knob unset.
type DetectorConfig struct {
	BrightnessThreshold float64 `json:"brightness_threshold"`
	MinPixelCount       int     `json:"min_pixel_count"`
	DiffThreshold       float64 `json:"diff_threshold"`
	MinBlobArea         float64 `json:"min_blob_area"`
	MaxBlobArea         float64 `json:"max_blob_area"`
	MedianSamples       int     `json:"median_samples"`
	Confidence          float64 `json:"confidence"`
	MaxJumpDistance     float64 `json:"max_jump_distance"`
	LostFrameTolerance  int     `json:"lost_frame_tolerance"`
	WindowSize          int     `json:"window_size"`
	SearchRadius        int     `json:"search_radius"`
	KNNConfidence       float64 `json:"knn_confidence"`
	MinSamples          int     `json:"min_samples"`
	KNNNeighbors        int     `json:"knn_neighbors"`
	ProcessingWidth     int     `json:"processing_width"`
	SampleEveryNthFrame int     `json:"sample_every_nth_frame"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

func LoadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Vision: VisionConfig{
			BaseURL:             getEnv("VISION_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("VISION_TIMEOUT", 30*time.Second),
			MaxRetries:          getEnvAsInt("VISION_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("VISION_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("VISION_HEALTH_CHECK_INTERVAL", 30*time.Second),
			EmbedCacheSize:      getEnvAsInt("VISION_EMBED_CACHE_SIZE", 2048),
			EmbedCacheTTL:       getEnvAsDuration("VISION_EMBED_CACHE_TTL", 10*time.Minute),
		},
		Source: SourceConfig{
			BaseURL: getEnv("FRAME_SOURCE_BASE_URL", "http://localhost:5001"),
			Timeout: getEnvAsDuration("FRAME_SOURCE_TIMEOUT", 30*time.Second),
		},
		Detector: DetectorConfig{
			BrightnessThreshold: getEnvAsFloat("DETECT_BRIGHTNESS_THRESHOLD", 200),
			MinPixelCount:       getEnvAsInt("DETECT_MIN_PIXEL_COUNT", 5),
			DiffThreshold:       getEnvAsFloat("DETECT_DIFF_THRESHOLD", 30),
			MinBlobArea:         getEnvAsFloat("DETECT_MIN_BLOB_AREA", 100),
			MaxBlobArea:         getEnvAsFloat("DETECT_MAX_BLOB_AREA", 5000),
			MedianSamples:       getEnvAsInt("DETECT_MEDIAN_SAMPLES", 15),
			Confidence:          getEnvAsFloat("DETECT_CONFIDENCE", 0.5),
			MaxJumpDistance:     getEnvAsFloat("DETECT_MAX_JUMP_DISTANCE", 100),
			LostFrameTolerance:  getEnvAsInt("DETECT_LOST_FRAME_TOLERANCE", 5),
			WindowSize:          getEnvAsInt("DETECT_WINDOW_SIZE", 64),
			SearchRadius:        getEnvAsInt("DETECT_SEARCH_RADIUS", 96),
			KNNConfidence:       getEnvAsFloat("DETECT_KNN_CONFIDENCE", 0.6),
			MinSamples:          getEnvAsInt("DETECT_MIN_SAMPLES", 3),
			KNNNeighbors:        getEnvAsInt("DETECT_KNN_NEIGHBORS", 3),
			ProcessingWidth:     getEnvAsInt("DETECT_PROCESSING_WIDTH", 640),
			SampleEveryNthFrame: getEnvAsInt("DETECT_SAMPLE_EVERY_NTH_FRAME", 1),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	return config
}

// DetectorDefaults converts the configured defaults into the request-level
// detector config handlers start from.
func (c *Config) DetectorDefaults() models.DetectorConfig {
	return models.DetectorConfig{
		BrightnessThreshold: c.Detector.BrightnessThreshold,
		MinPixelCount:       c.Detector.MinPixelCount,
		DiffThreshold:       c.Detector.DiffThreshold,
		MinBlobArea:         c.Detector.MinBlobArea,
		MaxBlobArea:         c.Detector.MaxBlobArea,
		Confidence:          c.Detector.Confidence,
		MaxJumpDistance:     c.Detector.MaxJumpDistance,
		LostFrameTolerance:  c.Detector.LostFrameTolerance,
		WindowSize:          c.Detector.WindowSize,
		SearchRadius:        c.Detector.SearchRadius,
		KNNConfidence:       c.Detector.KNNConfidence,
		MinSamples:          c.Detector.MinSamples,
		KNNNeighbors:        c.Detector.KNNNeighbors,
		ProcessingWidth:     c.Detector.ProcessingWidth,
		SampleEveryNthFrame: c.Detector.SampleEveryNthFrame,
	}
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Vision.BaseURL == "" {
		errors = append(errors, "vision service base URL is required")
	}

	if c.Source.BaseURL == "" {
		errors = append(errors, "frame source base URL is required")
	}

	if c.Detector.MinBlobArea > c.Detector.MaxBlobArea {
		errors = append(errors, "min blob area must not exceed max blob area")
	}

	if c.Detector.ProcessingWidth < 1 {
		errors = append(errors, "processing width must be positive")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
