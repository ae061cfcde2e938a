package models

// ThreatLevel is the agent's assessment of immediate danger in the scene.
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "none"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// ParseThreatLevel maps a raw string onto the known threat levels.
// The second return value reports whether the input was recognized.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	switch ThreatLevel(s) {
	case ThreatNone, ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical:
		return ThreatLevel(s), true
	}
	return ThreatNone, false
}

// GameButtons is the fixed controller vocabulary the decision service may use.
var GameButtons = []string{
	"UP", "DOWN", "LEFT", "RIGHT",
	"A", "B", "X", "Y", "L", "R",
	"START", "SELECT",
}

// IsValidButton reports whether a button identifier belongs to the vocabulary.
func IsValidButton(button string) bool {
	for _, b := range GameButtons {
		if b == button {
			return true
		}
	}
	return false
}

const (
	// MinDurationMS and MaxDurationMS bound how long buttons may be held.
	MinDurationMS = 50
	MaxDurationMS = 2000

	// DefaultDurationMS is used when the decision service omits a duration.
	DefaultDurationMS = 200
)

// ControllerOutput is the low-level action sent back to the game loop.
type ControllerOutput struct {
	Buttons    []string `json:"buttons"`
	DurationMS int      `json:"duration_ms"`
	Hold       bool     `json:"hold"`
}

// ActionDecision is the full hierarchical decision returned by the engine:
// observation -> threat -> strategy -> tactic -> controller output.
type ActionDecision struct {
	VisualObservation string           `json:"visual_observation"`
	ThreatAssessment  ThreatLevel      `json:"threat_assessment"`
	ThreatDetails     string           `json:"threat_details"`
	StrategicGoal     string           `json:"strategic_goal"`
	ImmediateTactic   string           `json:"immediate_tactic"`
	ControllerOutput  ControllerOutput `json:"controller_output"`
	Confidence        float64          `json:"confidence"`

	// ReasoningTrace keeps the verbatim service response for auditing.
	ReasoningTrace string `json:"reasoning_trace,omitempty"`
}

// FrameMetadata is caller-supplied context attached to a decision cycle.
type FrameMetadata struct {
	Location      string `json:"location,omitempty"`
	InDungeon     bool   `json:"in_dungeon,omitempty"`
	EnemiesNearby bool   `json:"enemies_nearby,omitempty"`
}
