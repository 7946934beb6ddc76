package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/analytics"
	"github.com/critter-cv/critter-cv/server/config"
	"github.com/critter-cv/critter-cv/server/detect"
	"github.com/critter-cv/critter-cv/server/metrics"
	"github.com/critter-cv/critter-cv/server/ml"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/session"
	"github.com/critter-cv/critter-cv/server/source"
)

// SourceFactory builds a frame source for a new session. Injected so tests
// can run against in-memory sources.
type SourceFactory func() (source.Source, error)

// TrackingHandler owns the REST surface: session lifecycle, per-strategy
// preparation (background capture, classifier training, user locks), zones
// and calibration.
type TrackingHandler struct {
	cfg       *config.Config
	manager   *session.Manager
	vision    *ml.Client
	metrics   *metrics.Metrics
	newSource SourceFactory
	logger    *zap.Logger

	mu          sync.RWMutex
	zones       map[string]models.Zone
	calibration *analytics.Calibration
}

func NewTrackingHandler(cfg *config.Config, manager *session.Manager, vision *ml.Client, m *metrics.Metrics, newSource SourceFactory, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		cfg:       cfg,
		manager:   manager,
		vision:    vision,
		metrics:   m,
		newSource: newSource,
		logger:    logger,
		zones:     make(map[string]models.Zone),
	}
}

// RegisterRoutes mounts every endpoint under the given group.
func (h *TrackingHandler) RegisterRoutes(api *gin.RouterGroup) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.POST("/:id/start", h.StartSession)
		sessions.POST("/:id/cancel", h.CancelSession)
		sessions.POST("/:id/reset", h.ResetSession)
		sessions.GET("/:id/results", h.GetResults)
		sessions.GET("/:id/summary", h.GetSummary)
		sessions.POST("/:id/background/snapshot", h.CaptureSnapshot)
		sessions.POST("/:id/background/median", h.CaptureMedian)
		sessions.POST("/:id/training/samples", h.AddTrainingSample)
		sessions.POST("/:id/lock", h.LockBox)
		sessions.DELETE("/:id/lock", h.ClearLock)
		sessions.GET("/:id/zones/metrics", h.GetZoneMetrics)
	}

	zones := api.Group("/zones")
	{
		zones.POST("", h.CreateZone)
		zones.GET("", h.ListZones)
		zones.PUT("/:id", h.UpdateZone)
		zones.DELETE("/:id", h.DeleteZone)
	}

	api.PUT("/calibration", h.SetCalibration)
	api.GET("/calibration", h.GetCalibration)
}

type createSessionRequest struct {
	Detector models.DetectorKind   `json:"detector" binding:"required"`
	Config   models.DetectorConfig `json:"config"`
}

type sessionView struct {
	ID          string              `json:"id"`
	Detector    models.DetectorKind `json:"detector"`
	State       models.SessionState `json:"state"`
	Progress    float64             `json:"progress"`
	ResultCount int                 `json:"result_count"`
	Error       string              `json:"error,omitempty"`
}

func (h *TrackingHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg := h.applyDefaults(req.Config)
	detector, err := h.buildDetector(req.Detector, cfg)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_detector", err.Error())
		return
	}

	src, err := h.newSource()
	if err != nil {
		h.logger.Error("frame source unavailable", zap.Error(err))
		respondError(c, http.StatusBadGateway, "source_unavailable", "frame source is not reachable")
		return
	}

	s := session.New(src, detector, cfg, h.metrics, h.logger)
	h.manager.Add(s)

	h.logger.Info("session created",
		zap.String("session_id", s.ID()),
		zap.String("detector", string(req.Detector)))
	c.JSON(http.StatusCreated, okResponse(viewOf(s)))
}

func (h *TrackingHandler) buildDetector(kind models.DetectorKind, cfg models.DetectorConfig) (detect.Detector, error) {
	switch kind {
	case models.DetectorIntensity:
		return detect.NewIntensity(cfg), nil
	case models.DetectorBackground:
		return detect.NewBackgroundSubtraction(cfg, h.logger), nil
	case models.DetectorContinuity:
		return detect.NewContinuity(cfg, h.vision, h.logger), nil
	case models.DetectorTrainedKNN:
		return detect.NewTrainedKNN(cfg, h.vision, h.logger), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", kind)
	}
}

// applyDefaults fills unset numeric knobs from the configured defaults.
// Zero is never a meaningful value for these fields, so zero means unset.
func (h *TrackingHandler) applyDefaults(cfg models.DetectorConfig) models.DetectorConfig {
	defaults := h.cfg.DetectorDefaults()
	if cfg.BrightnessThreshold <= 0 {
		cfg.BrightnessThreshold = defaults.BrightnessThreshold
	}
	if cfg.MinPixelCount <= 0 {
		cfg.MinPixelCount = defaults.MinPixelCount
	}
	if cfg.DiffThreshold <= 0 {
		cfg.DiffThreshold = defaults.DiffThreshold
	}
	if cfg.MinBlobArea <= 0 {
		cfg.MinBlobArea = defaults.MinBlobArea
	}
	if cfg.MaxBlobArea <= 0 {
		cfg.MaxBlobArea = defaults.MaxBlobArea
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = defaults.Confidence
	}
	if cfg.TrackStrategy == "" {
		cfg.TrackStrategy = models.StrategyNearestToPrevious
	}
	if cfg.MaxJumpDistance <= 0 {
		cfg.MaxJumpDistance = defaults.MaxJumpDistance
	}
	if cfg.LostFrameTolerance <= 0 {
		cfg.LostFrameTolerance = defaults.LostFrameTolerance
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaults.WindowSize
	}
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = defaults.SearchRadius
	}
	if cfg.KNNConfidence <= 0 {
		cfg.KNNConfidence = defaults.KNNConfidence
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaults.MinSamples
	}
	if cfg.KNNNeighbors <= 0 {
		cfg.KNNNeighbors = defaults.KNNNeighbors
	}
	if cfg.ProcessingWidth <= 0 {
		cfg.ProcessingWidth = defaults.ProcessingWidth
	}
	if cfg.SampleEveryNthFrame <= 0 {
		cfg.SampleEveryNthFrame = defaults.SampleEveryNthFrame
	}
	return cfg
}

func (h *TrackingHandler) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	c.JSON(http.StatusOK, okResponse(views))
}

func (h *TrackingHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, okResponse(viewOf(s)))
}

func (h *TrackingHandler) DeleteSession(c *gin.Context) {
	if err := h.manager.Delete(c.Param("id")); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			respondError(c, http.StatusNotFound, "session_not_found", "no such session")
		case errors.Is(err, session.ErrRunning):
			respondError(c, http.StatusConflict, "session_running", "cancel the run before deleting the session")
		default:
			respondError(c, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, okResponse(nil))
}

func (h *TrackingHandler) StartSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	// The run outlives this request, so it cannot inherit the request
	// context.
	if err := s.Start(context.Background()); err != nil {
		switch {
		case errors.Is(err, session.ErrNotIdle):
			respondError(c, http.StatusConflict, "session_not_idle", err.Error())
		default:
			respondError(c, http.StatusPreconditionFailed, "detector_not_ready", err.Error())
		}
		return
	}
	c.JSON(http.StatusAccepted, okResponse(viewOf(s)))
}

func (h *TrackingHandler) CancelSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Cancel()
	c.JSON(http.StatusAccepted, okResponse(viewOf(s)))
}

func (h *TrackingHandler) ResetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		respondError(c, http.StatusConflict, "session_running", err.Error())
		return
	}
	c.JSON(http.StatusOK, okResponse(viewOf(s)))
}

func (h *TrackingHandler) GetResults(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, okResponse(s.Results()))
}

func (h *TrackingHandler) GetSummary(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.mu.RLock()
	cal := h.calibration
	h.mu.RUnlock()
	c.JSON(http.StatusOK, okResponse(analytics.Summarize(s.Results(), cal)))
}

type snapshotRequest struct {
	Timestamp float64 `json:"timestamp"`
}

func (h *TrackingHandler) CaptureSnapshot(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if rejectWhileRunning(c, s, "capturing a background") {
		return
	}
	bg, ok := s.Detector().(*detect.BackgroundSubtraction)
	if !ok {
		respondError(c, http.StatusBadRequest, "wrong_detector", "session is not using background subtraction")
		return
	}

	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	frame, err := s.Source().SeekTo(c.Request.Context(), req.Timestamp)
	if err != nil {
		respondError(c, http.StatusBadGateway, "source_error", err.Error())
		return
	}
	bg.CaptureSnapshot(frame)
	c.JSON(http.StatusOK, okResponse(gin.H{"background_captured": true}))
}

type medianRequest struct {
	Samples int `json:"samples"`
}

func (h *TrackingHandler) CaptureMedian(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if rejectWhileRunning(c, s, "capturing a background") {
		return
	}
	bg, ok := s.Detector().(*detect.BackgroundSubtraction)
	if !ok {
		respondError(c, http.StatusBadRequest, "wrong_detector", "session is not using background subtraction")
		return
	}

	// The body is optional; an absent one means default sampling.
	var req medianRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	samples := req.Samples
	if samples <= 0 {
		samples = h.cfg.Detector.MedianSamples
	}

	if err := bg.CaptureTemporalMedian(c.Request.Context(), s.Source(), samples); err != nil {
		respondError(c, http.StatusBadGateway, "source_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, okResponse(gin.H{
		"background_captured": true,
		"samples":             samples,
	}))
}

type trainingSampleRequest struct {
	Timestamp float64 `json:"timestamp"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Label     string  `json:"label" binding:"required"`
}

func (h *TrackingHandler) AddTrainingSample(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if rejectWhileRunning(c, s, "adding training samples") {
		return
	}
	knn, ok := s.Detector().(*detect.TrainedKNN)
	if !ok {
		respondError(c, http.StatusBadRequest, "wrong_detector", "session is not using the trained detector")
		return
	}

	var req trainingSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	frame, err := s.Source().SeekTo(c.Request.Context(), req.Timestamp)
	if err != nil {
		respondError(c, http.StatusBadGateway, "source_error", err.Error())
		return
	}
	if err := knn.Train(c.Request.Context(), frame, req.X, req.Y, req.Label); err != nil {
		respondError(c, http.StatusBadRequest, "training_failed", err.Error())
		return
	}

	target, background := knn.SampleCounts()
	c.JSON(http.StatusOK, okResponse(gin.H{
		"target_samples":     target,
		"background_samples": background,
		"ready":              knn.Ready() == nil,
	}))
}

type lockRequest struct {
	Box models.BoundingBox `json:"box" binding:"required"`
}

func (h *TrackingHandler) LockBox(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cont, ok := s.Detector().(*detect.Continuity)
	if !ok {
		respondError(c, http.StatusBadRequest, "wrong_detector", "session is not using continuity tracking")
		return
	}

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cont.Lock(req.Box)
	c.JSON(http.StatusOK, okResponse(gin.H{"locked": true, "box": req.Box}))
}

func (h *TrackingHandler) ClearLock(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cont, ok := s.Detector().(*detect.Continuity)
	if !ok {
		respondError(c, http.StatusBadRequest, "wrong_detector", "session is not using continuity tracking")
		return
	}
	cont.ClearLock()
	c.JSON(http.StatusOK, okResponse(gin.H{"locked": false}))
}

func (h *TrackingHandler) GetZoneMetrics(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.mu.RLock()
	zones := make([]models.Zone, 0, len(h.zones))
	for _, z := range h.zones {
		zones = append(zones, z)
	}
	h.mu.RUnlock()

	c.JSON(http.StatusOK, okResponse(analytics.AllZoneMetrics(zones, s.Results(), s.Source().FPS())))
}

type zoneRequest struct {
	Name   string             `json:"name" binding:"required"`
	Color  string             `json:"color"`
	Shape  models.ZoneShape   `json:"shape" binding:"required"`
	Bounds models.BoundingBox `json:"bounds" binding:"required"`
}

func (r *zoneRequest) validate() error {
	if r.Shape != models.ZoneRectangle && r.Shape != models.ZoneCircle {
		return fmt.Errorf("unknown zone shape %q", r.Shape)
	}
	if r.Bounds.Width <= 0 || r.Bounds.Height <= 0 {
		return errors.New("zone bounds must have positive width and height")
	}
	return nil
}

func (h *TrackingHandler) CreateZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_zone", err.Error())
		return
	}

	zone := models.Zone{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Color:  req.Color,
		Shape:  req.Shape,
		Bounds: req.Bounds,
	}
	h.mu.Lock()
	h.zones[zone.ID] = zone
	h.mu.Unlock()

	c.JSON(http.StatusCreated, okResponse(zone))
}

func (h *TrackingHandler) ListZones(c *gin.Context) {
	h.mu.RLock()
	zones := make([]models.Zone, 0, len(h.zones))
	for _, z := range h.zones {
		zones = append(zones, z)
	}
	h.mu.RUnlock()
	c.JSON(http.StatusOK, okResponse(zones))
}

func (h *TrackingHandler) UpdateZone(c *gin.Context) {
	id := c.Param("id")
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_zone", err.Error())
		return
	}

	h.mu.Lock()
	_, exists := h.zones[id]
	if exists {
		h.zones[id] = models.Zone{
			ID:     id,
			Name:   req.Name,
			Color:  req.Color,
			Shape:  req.Shape,
			Bounds: req.Bounds,
		}
	}
	zone := h.zones[id]
	h.mu.Unlock()

	if !exists {
		respondError(c, http.StatusNotFound, "zone_not_found", "no such zone")
		return
	}
	c.JSON(http.StatusOK, okResponse(zone))
}

func (h *TrackingHandler) DeleteZone(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	_, exists := h.zones[id]
	delete(h.zones, id)
	h.mu.Unlock()

	if !exists {
		respondError(c, http.StatusNotFound, "zone_not_found", "no such zone")
		return
	}
	c.JSON(http.StatusOK, okResponse(nil))
}

func (h *TrackingHandler) SetCalibration(c *gin.Context) {
	var line models.CalibrationLine
	if err := c.ShouldBindJSON(&line); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cal, err := analytics.NewCalibration(line)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_calibration", err.Error())
		return
	}

	h.mu.Lock()
	h.calibration = cal
	h.mu.Unlock()

	c.JSON(http.StatusOK, okResponse(gin.H{
		"pixels_per_unit": cal.PixelsPerUnit(),
		"unit":            cal.Unit(),
	}))
}

func (h *TrackingHandler) GetCalibration(c *gin.Context) {
	h.mu.RLock()
	cal := h.calibration
	h.mu.RUnlock()

	if !cal.Calibrated() {
		c.JSON(http.StatusOK, okResponse(gin.H{"calibrated": false}))
		return
	}
	c.JSON(http.StatusOK, okResponse(gin.H{
		"calibrated":      true,
		"line":            cal.Line(),
		"pixels_per_unit": cal.PixelsPerUnit(),
		"unit":            cal.Unit(),
	}))
}

// rejectWhileRunning refuses detector mutation while the run loop is reading
// the same detector state. User locks are exempt; the continuity detector
// synchronizes those itself.
func rejectWhileRunning(c *gin.Context, s *session.Session, action string) bool {
	if s.State() != models.StateRunning {
		return false
	}
	respondError(c, http.StatusConflict, "session_running", "stop the run before "+action)
	return true
}

// session resolves the :id path parameter, writing the 404 itself.
func (h *TrackingHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "session_not_found", "no such session")
		return nil, false
	}
	return s, true
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{
		ID:          s.ID(),
		Detector:    s.Detector().Kind(),
		State:       s.State(),
		Progress:    s.Progress(),
		ResultCount: len(s.Results()),
	}
	if err := s.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func okResponse(data any) models.APIResponse {
	return models.APIResponse{
		Success: true,
		Data:    data,
		Meta:    &models.Meta{Timestamp: time.Now().UTC(), Version: "v1"},
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.APIResponse{
		Error: &models.APIError{Code: code, Message: message},
		Meta:  &models.Meta{Timestamp: time.Now().UTC(), Version: "v1"},
	})
}
