package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/detect"
	"github.com/critter-cv/critter-cv/server/metrics"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

func brightFrames(n int) []*source.Frame {
	frames := make([]*source.Frame, n)
	for i := range frames {
		f := source.NewFrame(16, 16)
		for y := 4; y < 8; y++ {
			for x := 4; x < 8; x++ {
				f.SetRGB(x, y, 255, 255, 255)
			}
		}
		frames[i] = f
	}
	return frames
}

func intensityConfig() models.DetectorConfig {
	return models.DetectorConfig{
		BrightnessThreshold: 200,
		MinPixelCount:       1,
		SampleEveryNthFrame: 1,
	}
}

func newTestSession(t *testing.T, src source.Source, cfg models.DetectorConfig) *Session {
	t.Helper()
	return New(src, detect.NewIntensity(cfg), cfg, metrics.New(), zap.NewNop())
}

// slowSource throttles seeks so cancellation can land mid-run.
type slowSource struct {
	*source.StaticSource
	delay time.Duration
}

func (s *slowSource) SeekTo(ctx context.Context, seconds float64) (*source.Frame, error) {
	time.Sleep(s.delay)
	return s.StaticSource.SeekTo(ctx, seconds)
}

// brokenSource fails every seek after the first n.
type brokenSource struct {
	*source.StaticSource
	failAfter int
	calls     int
}

func (s *brokenSource) SeekTo(ctx context.Context, seconds float64) (*source.Frame, error) {
	s.calls++
	if s.calls > s.failAfter {
		return nil, errors.New("decoder crashed")
	}
	return s.StaticSource.SeekTo(ctx, seconds)
}

func TestSessionCompletes(t *testing.T) {
	t.Parallel()

	src := source.NewStaticSource(brightFrames(20), 10)
	s := newTestSession(t, src, intensityConfig())

	assert.Equal(t, models.StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, models.StateCompleted, s.State())
	assert.Equal(t, 100.0, s.Progress())
	assert.NoError(t, s.Err())

	results := s.Results()
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, i, r.FrameNumber)
		require.NotNilf(t, r.Position, "frame %d", i)
	}
}

func TestSessionFrameStride(t *testing.T) {
	t.Parallel()

	cfg := intensityConfig()
	cfg.SampleEveryNthFrame = 5
	src := source.NewStaticSource(brightFrames(20), 10)
	s := newTestSession(t, src, cfg)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	results := s.Results()
	require.Len(t, results, 4)
	assert.Equal(t, 0, results[0].FrameNumber)
	assert.Equal(t, 15, results[3].FrameNumber)
}

func TestSessionCancelRetainsPartialResults(t *testing.T) {
	t.Parallel()

	src := &slowSource{StaticSource: source.NewStaticSource(brightFrames(200), 10), delay: time.Millisecond}
	s := newTestSession(t, src, intensityConfig())

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(s.Results()) > 0
	}, 5*time.Second, time.Millisecond)

	s.Cancel()
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, models.StateCancelled, s.State())
	got := len(s.Results())
	assert.Greater(t, got, 0)
	assert.Less(t, got, 200)
}

func TestSessionFailureSurfacesCause(t *testing.T) {
	t.Parallel()

	src := &brokenSource{StaticSource: source.NewStaticSource(brightFrames(20), 10), failAfter: 5}
	s := newTestSession(t, src, intensityConfig())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, models.StateFailed, s.State())
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "decoder crashed")
	assert.Len(t, s.Results(), 5)
}

func TestSessionRequiresResetBetweenRuns(t *testing.T) {
	t.Parallel()

	src := source.NewStaticSource(brightFrames(5), 10)
	s := newTestSession(t, src, intensityConfig())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))
	require.Equal(t, models.StateCompleted, s.State())

	assert.ErrorIs(t, s.Start(context.Background()), ErrNotIdle)

	require.NoError(t, s.Reset())
	assert.Equal(t, models.StateIdle, s.State())
	assert.Empty(t, s.Results())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, models.StateCompleted, s.State())
}

func TestSessionResetWhileRunningFails(t *testing.T) {
	t.Parallel()

	src := &slowSource{StaticSource: source.NewStaticSource(brightFrames(200), 10), delay: time.Millisecond}
	s := newTestSession(t, src, intensityConfig())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Reset(), ErrRunning)

	s.Cancel()
	require.NoError(t, s.Wait(context.Background()))
}

func TestSessionStartValidatesDetector(t *testing.T) {
	t.Parallel()

	src := source.NewStaticSource(brightFrames(5), 10)
	cfg := models.DetectorConfig{DiffThreshold: 30, MinBlobArea: 4, MaxBlobArea: 400}
	s := New(src, detect.NewBackgroundSubtraction(cfg, zap.NewNop()), cfg, metrics.New(), zap.NewNop())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, detect.ErrNoBackground)
	assert.Equal(t, models.StateIdle, s.State())
}

func TestSessionProgressUpdates(t *testing.T) {
	t.Parallel()

	src := source.NewStaticSource(brightFrames(20), 10)
	s := newTestSession(t, src, intensityConfig())

	var mu sync.Mutex
	var updates []Update
	unsubscribe := s.Subscribe(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)

	last := updates[len(updates)-1]
	assert.Equal(t, models.StateCompleted, last.State)
	assert.Equal(t, 100.0, last.Progress)

	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Progress, updates[i-1].Progress)
	}
}

func TestManager(t *testing.T) {
	t.Parallel()

	m := NewManager()
	src := source.NewStaticSource(brightFrames(5), 10)
	s := newTestSession(t, src, intensityConfig())

	_, err := m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	m.Add(s)
	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Delete(s.ID()))
	assert.ErrorIs(t, m.Delete(s.ID()), ErrNotFound)
}

func TestManagerRefusesDeletingRunningSession(t *testing.T) {
	t.Parallel()

	m := NewManager()
	src := &slowSource{StaticSource: source.NewStaticSource(brightFrames(200), 10), delay: time.Millisecond}
	s := newTestSession(t, src, intensityConfig())
	m.Add(s)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, m.Delete(s.ID()), ErrRunning)

	s.Cancel()
	require.NoError(t, s.Wait(context.Background()))
	assert.NoError(t, m.Delete(s.ID()))
}
