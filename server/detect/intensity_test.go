package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critter-cv/critter-cv/server/models"
)

func TestIntensityDetector(t *testing.T) {
	t.Parallel()

	cfg := models.DetectorConfig{BrightnessThreshold: 200, MinPixelCount: 4}

	t.Run("centroid of bright pixels", func(t *testing.T) {
		frame := fillFrame(20, 20, 10, 10, 10)
		paintRect(frame, 5, 7, 4, 4, 255, 255, 255)

		d := NewIntensity(cfg)
		result, err := d.Process(context.Background(), frame, 3, 0.1)
		require.NoError(t, err)

		require.NotNil(t, result.Position)
		assert.InDelta(t, 6.5, result.Position.X, 1e-9)
		assert.InDelta(t, 8.5, result.Position.Y, 1e-9)
		assert.Equal(t, 16, result.PixelCount)
		assert.Equal(t, 3, result.FrameNumber)
		assert.Equal(t, 0.1, result.Timestamp)
		assert.Greater(t, result.BrightnessAverage, 10.0)
	})

	t.Run("below minimum pixel count reports null", func(t *testing.T) {
		frame := fillFrame(20, 20, 10, 10, 10)
		paintRect(frame, 5, 5, 1, 2, 255, 255, 255)

		d := NewIntensity(cfg)
		result, err := d.Process(context.Background(), frame, 0, 0)
		require.NoError(t, err)

		assert.Nil(t, result.Position)
		assert.Zero(t, result.PixelCount)
	})

	t.Run("dark frame reports null", func(t *testing.T) {
		frame := fillFrame(20, 20, 10, 10, 10)

		d := NewIntensity(cfg)
		result, err := d.Process(context.Background(), frame, 0, 0)
		require.NoError(t, err)

		assert.Nil(t, result.Position)
	})

	t.Run("always ready", func(t *testing.T) {
		assert.NoError(t, NewIntensity(cfg).Ready())
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewIntensity(cfg).Process(ctx, fillFrame(4, 4, 0, 0, 0), 0, 0)
		assert.Error(t, err)
	})
}
