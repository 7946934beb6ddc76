package models

import "time"

// Point is a subject location in original-video pixel coordinates, stamped
// with the video timestamp (seconds) it was observed at.
type Point struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
}

// BoundingBox is an axis-aligned box with a top-left origin, in
// original-video pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box midpoint.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the box area, never negative.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// FrameResult is the committed outcome of one processed frame. A nil
// Position means "no detection this frame"; it is not an error. Results are
// appended in strictly increasing FrameNumber order and never revised.
type FrameResult struct {
	FrameNumber       int          `json:"frame_number"`
	Timestamp         float64      `json:"timestamp"`
	Position          *Point       `json:"position"`
	PixelCount        int          `json:"pixel_count"`
	BrightnessAverage float64      `json:"brightness_average"`
	DetectionBox      *BoundingBox `json:"detection_box,omitempty"`
	DetectedClass     string       `json:"detected_class,omitempty"`
	DetectionScore    *float64     `json:"detection_score,omitempty"`
}

// Candidate is one externally supplied detection for a frame.
type Candidate struct {
	Box   BoundingBox `json:"box"`
	Score float64     `json:"score"`
	Class string      `json:"class"`
}

// TrackStrategy selects how the continuity detector picks among qualifying
// candidates when no user lock is active.
type TrackStrategy string

const (
	StrategyNearestToPrevious TrackStrategy = "nearest_to_previous"
	StrategyHighestScore      TrackStrategy = "highest_score"
	StrategyLargest           TrackStrategy = "largest"
)

// DetectorKind names one of the interchangeable detection strategies.
type DetectorKind string

const (
	DetectorIntensity  DetectorKind = "intensity"
	DetectorBackground DetectorKind = "background_subtraction"
	DetectorContinuity DetectorKind = "continuity"
	DetectorTrainedKNN DetectorKind = "trained_knn"
)

// DetectorConfig carries every strategy-specific threshold. It is supplied
// once per session and immutable during a run; each detector reads only the
// fields it cares about.
type DetectorConfig struct {
	// Intensity.
	BrightnessThreshold float64 `json:"brightness_threshold"`
	MinPixelCount       int     `json:"min_pixel_count"`

	// Background subtraction.
	DiffThreshold   float64 `json:"diff_threshold"`
	MinBlobArea     float64 `json:"min_blob_area"`
	MaxBlobArea     float64 `json:"max_blob_area"`
	ErosionEnabled  bool    `json:"erosion_enabled"`
	InvertThreshold bool    `json:"invert_threshold"`

	// Continuity.
	Confidence         float64       `json:"confidence"`
	TargetClass        string        `json:"target_class"`
	TrackStrategy      TrackStrategy `json:"track_strategy"`
	MaxJumpDistance    float64       `json:"max_jump_distance"`
	LostFrameTolerance int           `json:"lost_frame_tolerance"`

	// Trained nearest-neighbor.
	WindowSize      int     `json:"window_size"`
	SearchRadius    int     `json:"search_radius"`
	KNNConfidence   float64 `json:"knn_confidence"`
	MinSamples      int     `json:"min_samples"`
	KNNNeighbors    int     `json:"knn_neighbors"`
	ProcessingWidth int     `json:"processing_width"`

	// Session.
	SampleEveryNthFrame int `json:"sample_every_nth_frame"`
}

// ZoneShape is the geometry kind of a user-defined zone.
type ZoneShape string

const (
	ZoneRectangle ZoneShape = "rectangle"
	ZoneCircle    ZoneShape = "circle"
)

// Zone is a caller-owned region of interest. Circles are encoded with the
// bounding square: radius is Width/2 around the center.
type Zone struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Color  string      `json:"color"`
	Shape  ZoneShape   `json:"shape"`
	Bounds BoundingBox `json:"bounds"`
}

// ZoneMetrics is a per-zone aggregate recomputed from a finished result
// sequence. It has no lifecycle beyond "last computed".
type ZoneMetrics struct {
	ZoneID     string   `json:"zone_id"`
	ZoneName   string   `json:"zone_name"`
	TimeInZone float64  `json:"time_in_zone_seconds"`
	EntryCount int      `json:"entry_count"`
	ExitCount  int      `json:"exit_count"`
	FirstEntry *float64 `json:"first_entry,omitempty"`
	LastExit   *float64 `json:"last_exit,omitempty"`
}

// CalibrationLine maps a user-drawn pixel segment to a declared real-world
// length. PixelsPerUnit is recomputed whenever an endpoint or the real
// length changes.
type CalibrationLine struct {
	Start      Point   `json:"start"`
	End        Point   `json:"end"`
	RealLength float64 `json:"real_length"`
	Unit       string  `json:"unit"`
}

// SessionState is the lifecycle state of a tracking run.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateRunning   SessionState = "running"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
	StateFailed    SessionState = "failed"
)

// RunSummary is derived, read-only statistics over a finished result
// sequence.
type RunSummary struct {
	TotalFrames    int     `json:"total_frames"`
	DetectedFrames int     `json:"detected_frames"`
	DetectionRate  float64 `json:"detection_rate"`
	TotalDistance  float64 `json:"total_distance"`
	MeanSpeed      float64 `json:"mean_speed"`
	MaxSpeed       float64 `json:"max_speed"`
	DistanceUnit   string  `json:"distance_unit"`
	Calibrated     bool    `json:"calibrated"`
}

// APIError is the error payload shape shared by all handlers.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the envelope returned by the REST surface.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// Meta carries response bookkeeping.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
