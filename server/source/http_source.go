package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPSource reads frames from an external frame service that decodes video
// server-side and serves raw RGBA buffers by timestamp.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	duration float64
	fps      float64
	width    int
	height   int

	mu       sync.Mutex
	position float64
}

type clipInfo struct {
	Duration float64 `json:"duration"`
	FPS      float64 `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

type wireFrame struct {
	ImageData []byte `json:"image_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// NewHTTPSource fetches clip metadata from the frame service and returns a
// seekable source over it.
func NewHTTPSource(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPSource, error) {
	s := &HTTPSource{
		baseURL: baseURL,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}

	var info clipInfo
	if err := s.getJSON(context.Background(), "/info", &info); err != nil {
		return nil, fmt.Errorf("frame source info: %w", err)
	}
	if info.FPS <= 0 || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("frame source reported invalid clip metadata: %+v", info)
	}

	s.duration = info.Duration
	s.fps = info.FPS
	s.width = info.Width
	s.height = info.Height

	logger.Info("frame source ready",
		zap.Float64("duration", s.duration),
		zap.Float64("fps", s.fps),
		zap.Int("width", s.width),
		zap.Int("height", s.height))
	return s, nil
}

// SeekTo fetches the frame nearest to the given timestamp and records it as
// the current position.
func (s *HTTPSource) SeekTo(ctx context.Context, seconds float64) (*Frame, error) {
	if seconds < 0 || seconds > s.duration {
		return nil, fmt.Errorf("seek target %.3fs outside clip [0, %.3f]", seconds, s.duration)
	}

	var wf wireFrame
	path := "/frame?t=" + url.QueryEscape(strconv.FormatFloat(seconds, 'f', -1, 64))
	if err := s.getJSON(ctx, path, &wf); err != nil {
		return nil, fmt.Errorf("frame at %.3fs: %w", seconds, err)
	}
	if wf.Width != s.width || wf.Height != s.height {
		return nil, fmt.Errorf("frame resolution %dx%d does not match clip %dx%d",
			wf.Width, wf.Height, s.width, s.height)
	}
	if len(wf.ImageData) != wf.Width*wf.Height*4 {
		return nil, fmt.Errorf("frame payload is %d bytes, want %d", len(wf.ImageData), wf.Width*wf.Height*4)
	}

	s.mu.Lock()
	s.position = seconds
	s.mu.Unlock()

	return &Frame{Pix: wf.ImageData, Width: wf.Width, Height: wf.Height}, nil
}

func (s *HTTPSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *HTTPSource) Duration() float64 { return s.duration }

func (s *HTTPSource) FPS() float64 { return s.fps }

func (s *HTTPSource) Resolution() (int, int) { return s.width, s.height }

func (s *HTTPSource) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("frame service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
