package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/detect"
	"github.com/critter-cv/critter-cv/server/metrics"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/session"
	"github.com/critter-cv/critter-cv/server/source"
)

func TestProgressStream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	frames := make([]*source.Frame, 10)
	for i := range frames {
		f := source.NewFrame(8, 8)
		f.SetRGB(4, 4, 255, 255, 255)
		frames[i] = f
	}
	cfg := models.DetectorConfig{BrightnessThreshold: 200, MinPixelCount: 1, SampleEveryNthFrame: 1}
	s := session.New(source.NewStaticSource(frames, 10), detect.NewIntensity(cfg), cfg, metrics.New(), zap.NewNop())

	manager := session.NewManager()
	manager.Add(s)

	router := gin.New()
	router.GET("/ws/sessions/:id", NewProgressHandler(manager, zap.NewNop()).Stream)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/" + s.ID()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// The first message reports the current state.
	var first session.Update
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, s.ID(), first.SessionID)
	assert.Equal(t, models.StateIdle, first.State)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	// Updates stream until the terminal one.
	var last session.Update
	for {
		var u session.Update
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		require.NoError(t, conn.ReadJSON(&u))
		last = u
		if u.State != models.StateRunning {
			break
		}
	}
	assert.Equal(t, models.StateCompleted, last.State)
	assert.Equal(t, 100.0, last.Progress)
}

func TestProgressStreamUnknownSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws/sessions/:id", NewProgressHandler(session.NewManager(), zap.NewNop()).Stream)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/ghost"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
