package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"go.uber.org/zap"
)

// ThoughtLog is an append-only human-readable transcript of every decision
// cycle. It is write-only: nothing in the engine reads it back; it exists
// purely for operator debugging.
type ThoughtLog struct {
	path   string
	logger *zap.Logger
}

// NewThoughtLog returns a logger appending to path. An empty path disables
// logging entirely.
func NewThoughtLog(path string, logger *zap.Logger) *ThoughtLog {
	if logger == nil {
		logger = zap.L()
	}
	return &ThoughtLog{path: path, logger: logger}
}

// Record appends one decision cycle to the transcript. Write failures are
// logged and swallowed; the transcript must never disturb gameplay.
func (tl *ThoughtLog) Record(decisionNumber int, decision models.ActionDecision, elapsed time.Duration) {
	if tl.path == "" {
		return
	}

	if dir := filepath.Dir(tl.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			tl.logger.Error("Failed to create thought log directory", zap.Error(err))
			return
		}
	}

	f, err := os.OpenFile(tl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		tl.logger.Error("Failed to open thought log", zap.Error(err))
		return
	}
	defer f.Close()

	divider := strings.Repeat("=", 80)
	entry := fmt.Sprintf(`
%s
Decision #%d - %s
Time: %.3fs
%s
OBSERVATION: %s
THREAT: %s - %s
STRATEGY: %s
TACTIC: %s
ACTION: %v (%dms)
CONFIDENCE: %.2f

`,
		divider,
		decisionNumber, time.Now().Format(time.RFC3339),
		elapsed.Seconds(),
		divider,
		decision.VisualObservation,
		strings.ToUpper(string(decision.ThreatAssessment)), decision.ThreatDetails,
		decision.StrategicGoal,
		decision.ImmediateTactic,
		decision.ControllerOutput.Buttons, decision.ControllerOutput.DurationMS,
		decision.Confidence)

	if _, err := f.WriteString(entry); err != nil {
		tl.logger.Error("Failed to write thought log entry", zap.Error(err))
	}
}
