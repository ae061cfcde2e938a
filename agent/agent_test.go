package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDecisionService struct {
	responses []string
	errs      []error
	calls     int

	lastSystem string
	lastPrompt string
	panicNext  bool
}

func (f *fakeDecisionService) DecideWithVision(_ context.Context, _, _, system, prompt string) (string, error) {
	if f.panicNext {
		panic("service blew up")
	}
	f.lastSystem = system
	f.lastPrompt = prompt

	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeDecisionService) Analyze(_ context.Context, _ string) (string, error) {
	return lessonJSON, nil
}

func (f *fakeDecisionService) Model() string {
	return "fake-vision-model"
}

// timeoutError satisfies net.Error the way an HTTP client timeout does.
type timeoutError struct{}

func (timeoutError) Error() string   { return "request timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func decisionJSON(confidence float64) string {
	return fmt.Sprintf(`{
	  "visual_observation": "Link stands in an empty room",
	  "threat_assessment": "none",
	  "strategic_goal": "Explore north",
	  "immediate_tactic": "Walk toward the door",
	  "controller_output": {"buttons": ["UP"], "duration_ms": 200, "hold": false},
	  "confidence": %.2f
	}`, confidence)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemoryFile = ""
	cfg.ThoughtLogFile = ""
	return cfg
}

func newTestAgent(t *testing.T, svc DecisionService) *PixelsToActionsAgent {
	t.Helper()
	a, err := NewAgent(svc, testConfig(), zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestNewAgentRequiresService(t *testing.T) {
	_, err := NewAgent(nil, testConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestDecideActionHappyPath(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	decision := a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.Equal(t, "Walk toward the door", decision.ImmediateTactic)
	assert.Equal(t, []string{"UP"}, decision.ControllerOutput.Buttons)
	assert.InDelta(t, 0.8, decision.Confidence, 1e-9)

	stats := a.Statistics()
	assert.Equal(t, 1, stats.TotalDecisions)
	assert.Equal(t, "fake-vision-model", stats.Model)
	assert.Zero(t, stats.ConsecutiveLowConfidence)
	assert.Zero(t, stats.TimeoutCount)
}

func TestDecideActionUnparseableResponse(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{"I refuse to answer in JSON."}}
	a := newTestAgent(t, svc)

	decision := a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.Equal(t, "Failed to parse response", decision.VisualObservation)
	assert.Equal(t, []string{"START"}, decision.ControllerOutput.Buttons)
	assert.Zero(t, decision.Confidence)
	assert.Equal(t, 1, a.Statistics().ConsecutiveLowConfidence)
}

func TestTimeoutReusesLastConfidentDecision(t *testing.T) {
	svc := &fakeDecisionService{
		responses: []string{decisionJSON(0.8), ""},
		errs:      []error{nil, timeoutError{}},
	}
	a := newTestAgent(t, svc)
	frame := solidFrame(16, 16, green)

	first := a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	second := a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})

	assert.Equal(t, first, second)
	assert.Equal(t, 1, a.Statistics().TimeoutCount)
}

func TestTimeoutAfterShakyDecisionFallsBack(t *testing.T) {
	svc := &fakeDecisionService{
		responses: []string{decisionJSON(0.55), ""},
		errs:      []error{nil, timeoutError{}},
	}
	a := newTestAgent(t, svc)
	frame := solidFrame(16, 16, green)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	decision := a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})

	assert.Equal(t, "Error occurred, pausing for safety", decision.VisualObservation)
	assert.Equal(t, []string{"START"}, decision.ControllerOutput.Buttons)
	assert.Zero(t, decision.Confidence)
}

func TestNonTimeoutErrorFallsBack(t *testing.T) {
	svc := &fakeDecisionService{
		responses: []string{decisionJSON(0.9), ""},
		errs:      []error{nil, errors.New("502 bad gateway")},
	}
	a := newTestAgent(t, svc)
	frame := solidFrame(16, 16, green)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	decision := a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})

	// Only timeouts earn decision reuse; other errors always fall back.
	assert.Equal(t, "Error occurred, pausing for safety", decision.VisualObservation)
	assert.Zero(t, a.Statistics().TimeoutCount)
}

func TestInvalidDecisionReplacedWithFallback(t *testing.T) {
	bad := `{
	  "visual_observation": "x",
	  "controller_output": {"buttons": ["JUMP"], "duration_ms": 200},
	  "confidence": 0.9
	}`
	svc := &fakeDecisionService{responses: []string{bad}}
	a := newTestAgent(t, svc)

	decision := a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.Equal(t, "Error occurred, pausing for safety", decision.VisualObservation)
	assert.Equal(t, []string{"START"}, decision.ControllerOutput.Buttons)
}

func TestCriticalHealthInjectsSurvivalDirective(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	a.DecideAction(context.Background(), solidFrame(16, 16, green), 1, 6, models.FrameMetadata{})

	// One heart triggers the survival directive, but 1/6 is ~17% so the
	// status line stays in the low bucket.
	assert.Contains(t, svc.lastPrompt, "CRITICAL HEALTH WARNING")
	assert.Contains(t, svc.lastPrompt, "Low: 1/6 hearts")
	assert.Contains(t, svc.lastSystem, "The Legend of Zelda")
}

func TestCriticalHealthBucketAtTenPercent(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	a.DecideAction(context.Background(), solidFrame(16, 16, green), 1, 10, models.FrameMetadata{})

	assert.Contains(t, svc.lastPrompt, "CRITICAL HEALTH WARNING")
	assert.Contains(t, svc.lastPrompt, "CRITICAL: 1/10 hearts")
}

func TestHealthyFrameOmitsSurvivalDirective(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.NotContains(t, svc.lastPrompt, "CRITICAL HEALTH WARNING")
	assert.Contains(t, svc.lastPrompt, "Good: 5/6 hearts")
}

func TestLowConfidenceCounter(t *testing.T) {
	svc := &fakeDecisionService{
		responses: []string{decisionJSON(0.2), decisionJSON(0.3), decisionJSON(0.9)},
	}
	a := newTestAgent(t, svc)
	frame := solidFrame(16, 16, green)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	assert.Equal(t, 1, a.Statistics().ConsecutiveLowConfidence)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	assert.Equal(t, 2, a.Statistics().ConsecutiveLowConfidence)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	assert.Zero(t, a.Statistics().ConsecutiveLowConfidence)
}

func TestPanicInServiceYieldsFallback(t *testing.T) {
	svc := &fakeDecisionService{panicNext: true}
	a := newTestAgent(t, svc)

	decision := a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.Equal(t, "Error occurred, pausing for safety", decision.VisualObservation)
	assert.Equal(t, []string{"START"}, decision.ControllerOutput.Buttons)
}

func TestResetSessionClearsStateKeepsLessons(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.2)}}
	a := newTestAgent(t, svc)
	frame := solidFrame(16, 16, green)

	a.DecideAction(context.Background(), frame, 5, 6, models.FrameMetadata{})
	a.critic.AddLesson(newTestLesson("Keep distance from archers", "combat", 0.8))

	a.ResetSession()

	stats := a.Statistics()
	assert.Zero(t, stats.ConsecutiveLowConfidence)
	assert.Zero(t, stats.Buffer.CurrentFrames)
	assert.Zero(t, stats.Memory.ShortTermSize)
	assert.Equal(t, 1, stats.Memory.LessonsInMemory)
	assert.Nil(t, a.lastDecision)
}

func TestOnDeathDetectedRecordsLesson(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	a.DecideAction(context.Background(), solidFrame(16, 16, green), 1, 6, models.FrameMetadata{})
	a.OnDeathDetected(context.Background(), "Killed by Moblin in dungeon")

	stats := a.Statistics()
	assert.Equal(t, 1, stats.Memory.TotalFailures)
	assert.Equal(t, 1, stats.Memory.TotalLessons)
}

func TestSetObjectiveFlowsIntoPrompt(t *testing.T) {
	svc := &fakeDecisionService{responses: []string{decisionJSON(0.8)}}
	a := newTestAgent(t, svc)

	a.SetObjective("Find the dungeon entrance")
	a.DecideAction(context.Background(), solidFrame(16, 16, green), 5, 6, models.FrameMetadata{})

	assert.Contains(t, svc.lastPrompt, "Find the dungeon entrance")
	assert.Equal(t, "Find the dungeon entrance", a.Statistics().CurrentObjective)
}

func TestHealthBuckets(t *testing.T) {
	assert.Contains(t, formatHealthStatus(0, 10), "CRITICAL")
	assert.Contains(t, formatHealthStatus(1, 10), "CRITICAL")
	assert.Contains(t, formatHealthStatus(3, 10), "Low")
	assert.Contains(t, formatHealthStatus(6, 10), "Moderate")
	assert.Contains(t, formatHealthStatus(9, 10), "Good")
	assert.Equal(t, "Unknown", formatHealthStatus(-1, 10))
	assert.Equal(t, "4 hearts", formatHealthStatus(4, 0))
}

func TestIsCriticalHealth(t *testing.T) {
	assert.True(t, isCriticalHealth(1, 6))
	assert.True(t, isCriticalHealth(2, 10))
	assert.False(t, isCriticalHealth(3, 10))
	assert.False(t, isCriticalHealth(-1, 10))
	assert.False(t, isCriticalHealth(5, 0))
}
