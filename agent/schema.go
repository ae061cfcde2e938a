package agent

import (
	"encoding/json"
	"regexp"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// decisionSchema is the authoritative structural contract shared with the
// decision service. It is embedded in the outgoing prompt and drives the
// validator, so the two can never drift apart.
const decisionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["visual_observation", "controller_output"],
  "properties": {
    "visual_observation": {
      "type": "string",
      "description": "Detailed description of what you see in the game frames (enemies, player position, items, environment)"
    },
    "threat_assessment": {
      "type": "string",
      "enum": ["none", "low", "medium", "high", "critical"],
      "description": "Current threat level based on enemy positions and player health"
    },
    "threat_details": {
      "type": "string",
      "description": "Specific details about threats (enemy types, distances, attack patterns)"
    },
    "strategic_goal": {
      "type": "string",
      "description": "High-level objective (e.g., 'Reach dungeon entrance', 'Defeat enemies in room')"
    },
    "immediate_tactic": {
      "type": "string",
      "description": "Short-term tactic to achieve goal (e.g., 'Dodge projectile', 'Circle enemy')"
    },
    "controller_output": {
      "type": "object",
      "required": ["buttons"],
      "properties": {
        "buttons": {
          "type": "array",
          "items": {
            "type": "string",
            "enum": ["UP", "DOWN", "LEFT", "RIGHT", "A", "B", "X", "Y", "L", "R", "START", "SELECT"]
          },
          "description": "Buttons to press (e.g., ['RIGHT', 'A'] for attack while moving)"
        },
        "duration_ms": {
          "type": "integer",
          "minimum": 50,
          "maximum": 2000,
          "description": "How long to hold the buttons in milliseconds"
        },
        "hold": {
          "type": "boolean",
          "description": "Whether to hold buttons (true) or tap (false)"
        }
      }
    },
    "confidence": {
      "type": "number",
      "minimum": 0.0,
      "maximum": 1.0,
      "description": "Confidence in this decision (0.0-1.0)"
    }
  }
}`

var compiledDecisionSchema = gojsonschema.NewStringLoader(decisionSchema)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// JSONSchema returns the schema string shared with the decision service.
func JSONSchema() string {
	return decisionSchema
}

// untrustedDecision mirrors the wire shape with pointers so missing fields
// can be defaulted explicitly instead of silently zeroed.
type untrustedDecision struct {
	VisualObservation string  `json:"visual_observation"`
	ThreatAssessment  string  `json:"threat_assessment"`
	ThreatDetails     string  `json:"threat_details"`
	StrategicGoal     string  `json:"strategic_goal"`
	ImmediateTactic   string  `json:"immediate_tactic"`
	ControllerOutput  *struct {
		Buttons    []string `json:"buttons"`
		DurationMS *int     `json:"duration_ms"`
		Hold       bool     `json:"hold"`
	} `json:"controller_output"`
	Confidence float64 `json:"confidence"`
}

// ParseResponse extracts an ActionDecision from the free-form text the
// decision service returned. It tolerates markdown code fences, prose
// around the JSON object, and missing optional fields. On any failure it
// returns the safe fallback decision; callers always get a usable result.
func ParseResponse(responseText string, logger *zap.Logger) models.ActionDecision {
	if logger == nil {
		logger = zap.L()
	}

	raw, ok := extractJSON(responseText)
	if !ok {
		logger.Warn("No JSON object found in decision response",
			zap.String("response_head", head(responseText, 200)))
		return FallbackDecision(responseText)
	}

	var u untrustedDecision
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		logger.Warn("Decision JSON parsing failed",
			zap.Error(err),
			zap.String("response_head", head(responseText, 200)))
		return FallbackDecision(responseText)
	}

	threat, known := models.ParseThreatLevel(u.ThreatAssessment)
	if !known && u.ThreatAssessment != "" {
		logger.Warn("Unknown threat level, defaulting to none",
			zap.String("threat", u.ThreatAssessment))
	}

	out := models.ControllerOutput{DurationMS: models.DefaultDurationMS}
	if u.ControllerOutput != nil {
		out.Buttons = u.ControllerOutput.Buttons
		out.Hold = u.ControllerOutput.Hold
		if u.ControllerOutput.DurationMS != nil {
			out.DurationMS = *u.ControllerOutput.DurationMS
		}
	}
	if out.Buttons == nil {
		out.Buttons = []string{}
	}

	decision := models.ActionDecision{
		VisualObservation: u.VisualObservation,
		ThreatAssessment:  threat,
		ThreatDetails:     u.ThreatDetails,
		StrategicGoal:     u.StrategicGoal,
		ImmediateTactic:   u.ImmediateTactic,
		ControllerOutput:  out,
		Confidence:        u.Confidence,
		ReasoningTrace:    responseText,
	}

	logger.Debug("Parsed decision", zap.Strings("buttons", decision.ControllerOutput.Buttons))
	return decision
}

// extractJSON strips code fences if present and locates the first balanced
// JSON object span in the text.
func extractJSON(text string) (string, bool) {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	m := jsonObjectRe.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// Validate enforces the decision contract: every button in the fixed
// vocabulary, duration within bounds, confidence within [0,1], and the
// document shape matching the published schema.
func Validate(decision models.ActionDecision, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.L()
	}

	for _, button := range decision.ControllerOutput.Buttons {
		if !models.IsValidButton(button) {
			logger.Warn("Invalid button in decision", zap.String("button", button))
			return false
		}
	}

	d := decision.ControllerOutput.DurationMS
	if d < models.MinDurationMS || d > models.MaxDurationMS {
		logger.Warn("Invalid duration in decision", zap.Int("duration_ms", d))
		return false
	}

	if decision.Confidence < 0.0 || decision.Confidence > 1.0 {
		logger.Warn("Invalid confidence in decision", zap.Float64("confidence", decision.Confidence))
		return false
	}

	doc, err := json.Marshal(decision)
	if err != nil {
		logger.Warn("Failed to marshal decision for schema validation", zap.Error(err))
		return false
	}
	result, err := gojsonschema.Validate(compiledDecisionSchema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		logger.Warn("Schema validation error", zap.Error(err))
		return false
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			logger.Warn("Decision failed schema validation", zap.String("violation", desc.String()))
		}
		return false
	}

	return true
}

// FallbackDecision is the fixed, always-valid, minimal-risk decision used
// whenever parsing, validation, or the service call fails: open the pause
// menu with zero confidence. The original response is kept (truncated) as
// the reasoning trace for auditing.
func FallbackDecision(responseText string) models.ActionDecision {
	return models.ActionDecision{
		VisualObservation: "Failed to parse response",
		ThreatAssessment:  models.ThreatNone,
		StrategicGoal:     "Pause and recover",
		ImmediateTactic:   "Open menu to pause game",
		ControllerOutput: models.ControllerOutput{
			Buttons:    []string{"START"},
			DurationMS: 100,
			Hold:       false,
		},
		Confidence:     0.0,
		ReasoningTrace: head(responseText, 500),
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
