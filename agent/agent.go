package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"strings"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/PixelPilot-Labs/pixelpilot-go-agent/utils"
	"go.uber.org/zap"
)

// DecisionService is the external vision service that turns a filmstrip
// plus a structured prompt into free-form text containing a JSON decision.
type DecisionService interface {
	AnalysisService
	DecideWithVision(ctx context.Context, imageBase64, mediaType, system, prompt string) (string, error)
}

// Config controls one agent instance.
type Config struct {
	BufferSize        int
	Orientation       string
	EnableCritic      bool
	MemoryFile        string
	ThoughtLogFile    string
	ShortTermSize     int
	RequestTimeout    time.Duration
	MaxLessons        int
	MinLessonScore    float64 // minimum lesson confidence for retrieval
	LowConfidence     float64 // below this, the low-confidence counter grows
	ReuseConfidence   float64 // above this, a timeout reuses the last decision
	FramesPerAnalysis int
}

// DefaultConfig returns the configuration the agent ships with.
func DefaultConfig() Config {
	return Config{
		BufferSize:        3,
		Orientation:       OrientationHorizontal,
		EnableCritic:      true,
		MemoryFile:        "data/knowledge_base/lessons.json",
		ThoughtLogFile:    "logs/agent_thought_process.log",
		ShortTermSize:     100,
		RequestTimeout:    60 * time.Second,
		MaxLessons:        3,
		MinLessonScore:    0.5,
		LowConfidence:     0.5,
		ReuseConfidence:   0.6,
		FramesPerAnalysis: 10,
	}
}

// PixelsToActionsAgent maps visual inputs directly to controller actions:
// it buffers frames into a filmstrip, injects lessons learned from past
// failures, calls the decision service, validates the result, and records
// history for later failure analysis. It is built for a single-threaded
// cooperative caller driving one decision cycle at a time.
type PixelsToActionsAgent struct {
	svc    DecisionService
	cfg    Config
	buffer *TemporalBuffer
	critic *MemoryCritic
	trace  *utils.ThoughtLog
	logger *zap.Logger

	lastDecision             *models.ActionDecision
	currentObjective         string
	consecutiveLowConfidence int
	totalDecisions           int
	timeoutCount             int
	decisionTimes            []time.Duration
	model                    string
}

// NewAgent wires up the agent. svc must not be nil.
func NewAgent(svc DecisionService, cfg Config, logger *zap.Logger) (*PixelsToActionsAgent, error) {
	if svc == nil {
		return nil, fmt.Errorf("decision service is required")
	}
	if logger == nil {
		logger = zap.L()
	}

	var analysisSvc AnalysisService
	if cfg.EnableCritic {
		analysisSvc = svc
	}

	a := &PixelsToActionsAgent{
		svc:    svc,
		cfg:    cfg,
		buffer: NewTemporalBuffer(cfg.BufferSize, cfg.Orientation, logger),
		critic: NewMemoryCritic(analysisSvc, cfg.MemoryFile, cfg.ShortTermSize, logger),
		trace:  utils.NewThoughtLog(cfg.ThoughtLogFile, logger),
		logger: logger,
	}
	if named, ok := svc.(interface{ Model() string }); ok {
		a.model = named.Model()
	}

	logger.Info("Pixels-to-actions agent initialized",
		zap.Bool("critic_enabled", cfg.EnableCritic),
		zap.Int("buffer_size", cfg.BufferSize))
	return a, nil
}

// DecideAction runs one full decision cycle. It never returns an error:
// every failure mode degrades to either the previous decision (timeouts
// after a confident decision) or the fixed safe fallback. Pass health < 0
// or maxHealth <= 0 when the HUD values are unknown.
func (a *PixelsToActionsAgent) DecideAction(ctx context.Context, frame image.Image, health, maxHealth int, meta models.FrameMetadata) (decision models.ActionDecision) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Unexpected panic in decision cycle", zap.Any("panic", r))
			decision = a.safeFallback()
		}
	}()

	a.buffer.AddFrame(frame)

	isCritical := isCriticalHealth(health, maxHealth)
	healthStatus := formatHealthStatus(health, maxHealth)
	retrievalKey := buildContextString(healthStatus, meta)

	lessons := a.critic.RelevantLessons(retrievalKey, a.cfg.MaxLessons, a.cfg.MinLessonScore)
	lessonTexts := make([]string, 0, len(lessons))
	for _, lesson := range lessons {
		lessonTexts = append(lessonTexts, lesson.LessonText)
	}

	previousTactic := ""
	if a.lastDecision != nil {
		previousTactic = a.lastDecision.ImmediateTactic
	}

	decision, err := a.callVisionDecision(ctx, previousTactic, lessonTexts, healthStatus, isCritical)
	if err != nil {
		return a.recoverFromServiceError(err)
	}

	if !Validate(decision, a.logger) {
		a.logger.Warn("Invalid action generated, using fallback")
		decision = a.safeFallback()
	}

	if decision.Confidence < a.cfg.LowConfidence {
		a.consecutiveLowConfidence++
		a.logger.Warn("Low confidence decision",
			zap.Float64("confidence", decision.Confidence),
			zap.Int("consecutive", a.consecutiveLowConfidence))
	} else {
		a.consecutiveLowConfidence = 0
	}

	a.critic.AddFrameAction(frame, decision.ImmediateTactic, health, string(decision.ThreatAssessment))

	a.lastDecision = &decision
	a.totalDecisions++

	elapsed := time.Since(start)
	a.decisionTimes = append(a.decisionTimes, elapsed)
	a.trace.Record(a.totalDecisions, decision, elapsed)

	a.logger.Info("Decision made",
		zap.Int("number", a.totalDecisions),
		zap.String("tactic", decision.ImmediateTactic),
		zap.Float64("confidence", decision.Confidence))

	return decision
}

func (a *PixelsToActionsAgent) callVisionDecision(ctx context.Context, previousTactic string, lessons []string, healthStatus string, isCritical bool) (models.ActionDecision, error) {
	filmstrip, err := a.buffer.FilmstripBase64("PNG")
	if err != nil {
		a.logger.Error("Failed to create filmstrip", zap.Error(err))
		return models.ActionDecision{}, fmt.Errorf("filmstrip unavailable: %w", err)
	}

	prompt := FormatDecisionRequest(previousTactic, lessons, a.currentObjective, healthStatus, isCritical)

	if a.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
	}

	response, err := a.svc.DecideWithVision(ctx, filmstrip, "image/png", SystemPrompt(), prompt)
	if err != nil {
		return models.ActionDecision{}, err
	}

	a.timeoutCount = 0
	return ParseResponse(response, a.logger), nil
}

// recoverFromServiceError applies the tiered fallback: a timeout reuses the
// previous decision when it was confident enough (continuity over churn);
// everything else yields the safe fallback.
func (a *PixelsToActionsAgent) recoverFromServiceError(err error) models.ActionDecision {
	if isTimeout(err) {
		a.timeoutCount++
		if a.lastDecision != nil && a.lastDecision.Confidence > a.cfg.ReuseConfidence {
			a.logger.Warn("Request timed out, repeating last confident decision", zap.Error(err))
			return *a.lastDecision
		}
		a.logger.Warn("Request timed out, using safe fallback", zap.Error(err))
		return a.safeFallback()
	}

	a.logger.Error("Decision service error, using safe fallback", zap.Error(err))
	return a.safeFallback()
}

func (a *PixelsToActionsAgent) safeFallback() models.ActionDecision {
	fb := FallbackDecision("")
	fb.VisualObservation = "Error occurred, pausing for safety"
	fb.StrategicGoal = "Pause and recover from error"
	return fb
}

// OnDeathDetected triggers best-effort failure analysis over the recent
// history. Never returns an error; analysis problems only affect whether a
// lesson gets recorded.
func (a *PixelsToActionsAgent) OnDeathDetected(ctx context.Context, deathContext string) {
	a.logger.Warn("Death detected, triggering critic analysis")

	lesson := a.critic.AnalyzeFailure(ctx, "death", deathContext, a.cfg.FramesPerAnalysis)
	if lesson != nil {
		a.logger.Info("Lesson learned", zap.String("lesson", lesson.LessonText))
	} else {
		a.logger.Warn("No lesson generated from death")
	}
}

// SetObjective sets the high-level goal injected into every prompt.
func (a *PixelsToActionsAgent) SetObjective(objective string) {
	a.currentObjective = objective
	a.logger.Info("Objective set", zap.String("objective", objective))
}

// ResetSession clears per-session state while keeping learned lessons.
func (a *PixelsToActionsAgent) ResetSession() {
	a.buffer.Clear()
	a.critic.ClearShortTerm()
	a.lastDecision = nil
	a.consecutiveLowConfidence = 0
	a.logger.Info("Session reset, lessons preserved")
}

// Statistics returns the telemetry surface for callers and dashboards.
func (a *PixelsToActionsAgent) Statistics() models.AgentStatistics {
	recent := a.decisionTimes
	if len(recent) > 100 {
		recent = recent[len(recent)-100:]
	}
	avgMS := 0.0
	if len(recent) > 0 {
		var total time.Duration
		for _, d := range recent {
			total += d
		}
		avgMS = float64(total.Milliseconds()) / float64(len(recent))
	}

	return models.AgentStatistics{
		Model:                    a.model,
		TotalDecisions:           a.totalDecisions,
		AvgDecisionTimeMS:        avgMS,
		TimeoutCount:             a.timeoutCount,
		ConsecutiveLowConfidence: a.consecutiveLowConfidence,
		CurrentObjective:         a.currentObjective,
		Buffer:                   a.buffer.Info(),
		Memory:                   a.critic.Statistics(),
	}
}

// ExportLessons writes the learned lessons in human-readable form.
func (a *PixelsToActionsAgent) ExportLessons(outputFile string) error {
	return a.critic.ExportLessons(outputFile)
}

// Close flushes the lesson store.
func (a *PixelsToActionsAgent) Close() error {
	a.logger.Info("Shutting down agent")
	return a.critic.SaveLessons()
}

// isCriticalHealth mirrors the HUD threshold: one heart left, or at most
// 20% of maximum.
func isCriticalHealth(health, maxHealth int) bool {
	if health < 0 || maxHealth <= 0 {
		return false
	}
	return health <= 1 || float64(health) <= float64(maxHealth)*0.2
}

// formatHealthStatus buckets health by percentage: <=10% critical,
// <=30% low, <=60% moderate, otherwise good.
func formatHealthStatus(health, maxHealth int) string {
	if health < 0 {
		return "Unknown"
	}
	if maxHealth <= 0 {
		return fmt.Sprintf("%d hearts", health)
	}

	pct := float64(health) / float64(maxHealth) * 100
	switch {
	case pct <= 10:
		return fmt.Sprintf("CRITICAL: %d/%d hearts (%.0f%%)", health, maxHealth, pct)
	case pct <= 30:
		return fmt.Sprintf("Low: %d/%d hearts (%.0f%%)", health, maxHealth, pct)
	case pct <= 60:
		return fmt.Sprintf("Moderate: %d/%d hearts (%.0f%%)", health, maxHealth, pct)
	default:
		return fmt.Sprintf("Good: %d/%d hearts (%.0f%%)", health, maxHealth, pct)
	}
}

// buildContextString forms the lesson retrieval key from health and
// caller-supplied metadata.
func buildContextString(healthStatus string, meta models.FrameMetadata) string {
	parts := []string{healthStatus}
	if meta.Location != "" {
		parts = append(parts, meta.Location)
	}
	if meta.InDungeon {
		parts = append(parts, "dungeon")
	}
	if meta.EnemiesNearby {
		parts = append(parts, "combat")
	}
	return strings.Join(parts, " ")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
