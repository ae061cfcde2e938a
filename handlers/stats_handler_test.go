package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/agent"
	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubDecisionService struct{}

func (stubDecisionService) DecideWithVision(_ context.Context, _, _, _, _ string) (string, error) {
	return `{
	  "visual_observation": "Link stands in an empty room",
	  "threat_assessment": "none",
	  "strategic_goal": "Explore north",
	  "immediate_tactic": "Walk toward the door",
	  "controller_output": {"buttons": ["UP"], "duration_ms": 200, "hold": false},
	  "confidence": 0.9
	}`, nil
}

func (stubDecisionService) Analyze(_ context.Context, _ string) (string, error) {
	return `{"cause_of_failure": "x", "mistake": "x", "lesson": "x", "context": "x"}`, nil
}

func newStatsTestSession(t *testing.T) *GameSession {
	t.Helper()

	cfg := agent.DefaultConfig()
	cfg.MemoryFile = ""
	cfg.ThoughtLogFile = ""
	agentInstance, err := agent.NewAgent(stubDecisionService{}, cfg, zap.NewNop())
	require.NoError(t, err)

	session := &GameSession{
		ID:           "stats-test-session",
		Logger:       zap.NewNop(),
		Agent:        agentInstance,
		IsActive:     true,
		StartTime:    time.Now(),
		LastActivity: time.Now(),
	}
	session.snapshotStats()
	return session
}

func TestHandleStatsReportsActiveSessions(t *testing.T) {
	session := newStatsTestSession(t)
	registerSession(session)
	defer unregisterSession(session.ID)

	rec := httptest.NewRecorder()
	HandleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ActiveSessions int                   `json:"active_sessions"`
		Sessions       []models.SessionStats `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.ActiveSessions)
	assert.Equal(t, session.ID, body.Sessions[0].SessionID)
	assert.Zero(t, body.Sessions[0].Agent.TotalDecisions)
}

func TestHandleStatsRejectsNonGet(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleStats(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// The stats endpoint reads session snapshots while the session loop is
// mid-decision; readers must only ever see the cached snapshot, never live
// agent state.
func TestStatsEndpointSafeDuringDecisionLoop(t *testing.T) {
	session := newStatsTestSession(t)
	registerSession(session)
	defer unregisterSession(session.ID)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rec := httptest.NewRecorder()
				HandleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
				_ = session.CurrentStats()
			}
		}()
	}

	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 25; i++ {
		session.Agent.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
		session.snapshotStats()
	}

	close(done)
	wg.Wait()

	assert.Equal(t, 25, session.CurrentStats().Agent.TotalDecisions)
}

func TestHandleHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}
