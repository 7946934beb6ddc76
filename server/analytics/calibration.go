package analytics

import (
	"errors"

	"github.com/critter-cv/critter-cv/server/geometry"
	"github.com/critter-cv/critter-cv/server/models"
)

// ErrBadCalibration means the reference line cannot yield a positive scale.
var ErrBadCalibration = errors.New("analytics: calibration needs a positive real length and a non-degenerate line")

// Calibration converts pixel measurements to real-world units using a
// user-drawn reference line. The zero value is uncalibrated and passes
// pixel values through unchanged.
type Calibration struct {
	line          models.CalibrationLine
	pixelsPerUnit float64
}

// NewCalibration derives the pixel scale from a reference line. The line
// must span a positive pixel distance and declare a positive real length.
func NewCalibration(line models.CalibrationLine) (*Calibration, error) {
	pixelLength := geometry.Distance(line.Start, line.End)
	if line.RealLength <= 0 || pixelLength <= 0 {
		return nil, ErrBadCalibration
	}
	return &Calibration{
		line:          line,
		pixelsPerUnit: pixelLength / line.RealLength,
	}, nil
}

func (c *Calibration) Calibrated() bool {
	return c != nil && c.pixelsPerUnit > 0
}

// PixelsPerUnit returns the derived scale, or 0 when uncalibrated.
func (c *Calibration) PixelsPerUnit() float64 {
	if c == nil {
		return 0
	}
	return c.pixelsPerUnit
}

// Unit returns the declared unit name, or "px" when uncalibrated.
func (c *Calibration) Unit() string {
	if !c.Calibrated() {
		return "px"
	}
	return c.line.Unit
}

// Length converts a pixel distance to real units. Uncalibrated, the pixel
// value is returned unchanged.
func (c *Calibration) Length(pixels float64) float64 {
	if !c.Calibrated() {
		return pixels
	}
	return pixels / c.pixelsPerUnit
}

// Pixels converts a real-unit distance back to pixels, the inverse of
// Length. Uncalibrated, the value is returned unchanged.
func (c *Calibration) Pixels(units float64) float64 {
	if !c.Calibrated() {
		return units
	}
	return units * c.pixelsPerUnit
}

// Area converts a pixel area to squared real units.
func (c *Calibration) Area(pixels float64) float64 {
	if !c.Calibrated() {
		return pixels
	}
	return pixels / (c.pixelsPerUnit * c.pixelsPerUnit)
}

// Line returns the reference line the scale was derived from.
func (c *Calibration) Line() models.CalibrationLine {
	if c == nil {
		return models.CalibrationLine{}
	}
	return c.line
}
