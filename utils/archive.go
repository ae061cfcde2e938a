package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/pinecone-io/go-pinecone/pinecone"
)

const embeddingModel = "text-embedding-ada-002"

// BuildDecisionSummary renders one decision as a short textual summary.
// Only derived text is ever archived; raw frames are never persisted.
func BuildDecisionSummary(decision models.ActionDecision) string {
	return fmt.Sprintf("Observation: %s | Threat: %s (%s) | Goal: %s | Tactic: %s | Action: %v for %dms | Confidence: %.2f",
		decision.VisualObservation,
		decision.ThreatAssessment, decision.ThreatDetails,
		decision.StrategicGoal,
		decision.ImmediateTactic,
		decision.ControllerOutput.Buttons, decision.ControllerOutput.DurationMS,
		decision.Confidence)
}

// ArchiveDecision embeds a decision summary and upserts it into the
// session's namespace for later operator tooling and retrospectives.
func ArchiveDecision(ctx context.Context, index *pinecone.IndexConnection, sessionID string, decisionNumber int, decision models.ActionDecision) error {
	if index == nil {
		return nil
	}

	summary := BuildDecisionSummary(decision)

	embedding, err := VectorizePrompt(embeddingModel, ctx, summary)
	if err != nil {
		return fmt.Errorf("failed to create embedding: %w", err)
	}

	vectorID := fmt.Sprintf("%s-decision-%d", sessionID, decisionNumber)
	metadata := map[string]interface{}{
		"text":       summary,
		"session_id": sessionID,
		"decision":   decisionNumber,
		"threat":     string(decision.ThreatAssessment),
		"confidence": decision.Confidence,
		"timestamp":  time.Now().Unix(),
		"type":       "decision_summary",
	}

	return UpsertToPinecone(ctx, index, vectorID, embedding, metadata)
}

// SearchDecisionHistory finds archived decision summaries similar to the
// query text.
func SearchDecisionHistory(ctx context.Context, index *pinecone.IndexConnection, query string, topK int) ([]string, error) {
	if index == nil {
		return nil, nil
	}

	embedding, err := VectorizePrompt(embeddingModel, ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	return QueryPinecone(ctx, index, embedding, topK)
}
