package agent

import (
	"testing"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validDecisionJSON = `{
  "visual_observation": "Link faces a Moblin two tiles north",
  "threat_assessment": "medium",
  "threat_details": "Moblin advancing",
  "strategic_goal": "Clear the room",
  "immediate_tactic": "Attack while retreating",
  "controller_output": {"buttons": ["UP", "A"], "duration_ms": 300, "hold": false},
  "confidence": 0.8
}`

func TestParseResponseToleratesWrapping(t *testing.T) {
	cases := map[string]string{
		"raw json":   validDecisionJSON,
		"code fence": "```json\n" + validDecisionJSON + "\n```",
		"bare fence": "```\n" + validDecisionJSON + "\n```",
		"prose":      "Here is my decision:\n\n" + validDecisionJSON + "\n\nGood luck!",
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			decision := ParseResponse(input, zap.NewNop())

			assert.Equal(t, "Link faces a Moblin two tiles north", decision.VisualObservation)
			assert.Equal(t, models.ThreatMedium, decision.ThreatAssessment)
			assert.Equal(t, "Clear the room", decision.StrategicGoal)
			assert.Equal(t, []string{"UP", "A"}, decision.ControllerOutput.Buttons)
			assert.Equal(t, 300, decision.ControllerOutput.DurationMS)
			assert.False(t, decision.ControllerOutput.Hold)
			assert.InDelta(t, 0.8, decision.Confidence, 1e-9)
		})
	}
}

func TestParseResponseUnknownThreatDefaultsToNone(t *testing.T) {
	input := `{"visual_observation": "x", "threat_assessment": "apocalyptic",
		"controller_output": {"buttons": ["A"], "duration_ms": 100}}`

	decision := ParseResponse(input, zap.NewNop())
	assert.Equal(t, models.ThreatNone, decision.ThreatAssessment)
	assert.Equal(t, []string{"A"}, decision.ControllerOutput.Buttons)
}

func TestParseResponseMissingDurationDefaults(t *testing.T) {
	input := `{"visual_observation": "x", "controller_output": {"buttons": ["B"]}}`

	decision := ParseResponse(input, zap.NewNop())
	assert.Equal(t, models.DefaultDurationMS, decision.ControllerOutput.DurationMS)
}

func TestParseResponseGarbageYieldsFallback(t *testing.T) {
	for _, input := range []string{
		"I cannot decide right now.",
		"",
		`{"visual_observation": "truncated`,
		"{not json at all]",
	} {
		decision := ParseResponse(input, zap.NewNop())

		assert.Equal(t, "Failed to parse response", decision.VisualObservation, "input: %q", input)
		assert.Equal(t, []string{"START"}, decision.ControllerOutput.Buttons)
		assert.Equal(t, 100, decision.ControllerOutput.DurationMS)
		assert.Zero(t, decision.Confidence)
	}
}

func TestParseResponseKeepsReasoningTrace(t *testing.T) {
	input := "Thinking out loud first.\n" + validDecisionJSON
	decision := ParseResponse(input, zap.NewNop())
	assert.Equal(t, input, decision.ReasoningTrace)
}

func TestValidateRejectsContractViolations(t *testing.T) {
	valid := ParseResponse(validDecisionJSON, zap.NewNop())
	require.True(t, Validate(valid, zap.NewNop()))

	cases := map[string]func(d *models.ActionDecision){
		"unknown button": func(d *models.ActionDecision) {
			d.ControllerOutput.Buttons = []string{"JUMP"}
		},
		"duration too short": func(d *models.ActionDecision) {
			d.ControllerOutput.DurationMS = 10
		},
		"duration too long": func(d *models.ActionDecision) {
			d.ControllerOutput.DurationMS = 5000
		},
		"negative confidence": func(d *models.ActionDecision) {
			d.Confidence = -0.1
		},
		"confidence above one": func(d *models.ActionDecision) {
			d.Confidence = 1.5
		},
	}

	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			decision := ParseResponse(validDecisionJSON, zap.NewNop())
			corrupt(&decision)
			assert.False(t, Validate(decision, zap.NewNop()))
		})
	}
}

func TestFallbackDecisionIsAlwaysValid(t *testing.T) {
	fallback := FallbackDecision("whatever the service said")
	assert.True(t, Validate(fallback, zap.NewNop()))
	assert.Equal(t, []string{"START"}, fallback.ControllerOutput.Buttons)
	assert.Zero(t, fallback.Confidence)
}

func TestFallbackDecisionTruncatesTrace(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	fallback := FallbackDecision(string(long))
	assert.Len(t, fallback.ReasoningTrace, 500)
}
