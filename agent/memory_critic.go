package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"go.uber.org/zap"
)

// AnalysisService issues text-only analysis requests to the decision
// service. It is the seam the critic uses for failure analysis.
type AnalysisService interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// initialLessonConfidence is assigned to every freshly generated lesson.
const initialLessonConfidence = 0.8

// MemoryCritic is the self-improvement loop: it keeps a rolling history of
// recent frame/action pairs, turns failures into lessons via the analysis
// service, persists the lessons, and retrieves the relevant ones for
// context injection on later decisions.
type MemoryCritic struct {
	svc           AnalysisService
	memoryFile    string
	shortTermSize int
	shortTerm     []models.FrameActionPair
	lessons       []*models.Lesson
	totalFailures int
	totalLessons  int
	enabled       bool
	logger        *zap.Logger
}

// NewMemoryCritic loads any existing lessons from memoryFile and returns a
// critic. An unreadable or corrupt file degrades to an empty lesson set so
// agent startup never fails on persistence problems. A nil service
// disables failure analysis; retrieval and history still work.
func NewMemoryCritic(svc AnalysisService, memoryFile string, shortTermSize int, logger *zap.Logger) *MemoryCritic {
	if shortTermSize < 1 {
		shortTermSize = 100
	}
	if logger == nil {
		logger = zap.L()
	}

	mc := &MemoryCritic{
		svc:           svc,
		memoryFile:    memoryFile,
		shortTermSize: shortTermSize,
		enabled:       svc != nil,
		logger:        logger,
	}
	mc.loadLessons()

	logger.Info("Memory critic initialized",
		zap.Int("lessons_loaded", len(mc.lessons)),
		zap.Bool("critic_enabled", mc.enabled))
	return mc
}

// AddFrameAction appends one decision cycle to short-term memory. The
// frame may be nil; pass health < 0 when unknown.
func (mc *MemoryCritic) AddFrameAction(frame image.Image, actionDescription string, health int, threatLevel string) {
	pair := models.FrameActionPair{
		Frame:             frame,
		ActionDescription: actionDescription,
		Timestamp:         time.Now(),
		Health:            health,
		ThreatLevel:       threatLevel,
	}
	if len(mc.shortTerm) == mc.shortTermSize {
		copy(mc.shortTerm, mc.shortTerm[1:])
		mc.shortTerm[len(mc.shortTerm)-1] = pair
	} else {
		mc.shortTerm = append(mc.shortTerm, pair)
	}
}

// AnalyzeFailure converts the recent history into a lesson via the
// analysis service and persists it. Analysis is best-effort: every failure
// path logs and returns nil, never an error into the caller's control flow.
func (mc *MemoryCritic) AnalyzeFailure(ctx context.Context, failureType, failureContext string, framesToAnalyze int) *models.Lesson {
	if !mc.enabled {
		mc.logger.Info("Critic disabled, skipping failure analysis")
		return nil
	}
	if len(mc.shortTerm) == 0 {
		mc.logger.Warn("No short-term memory to analyze")
		return nil
	}

	mc.totalFailures++
	mc.logger.Info("Analyzing failure",
		zap.String("failure_type", failureType),
		zap.Int("frames_to_analyze", framesToAnalyze))

	history := mc.shortTerm
	if framesToAnalyze > 0 && len(history) > framesToAnalyze {
		history = history[len(history)-framesToAnalyze:]
	}

	prompt := FormatFailureAnalysisRequest(failureType, failureContext, formatHistory(history))

	response, err := mc.svc.Analyze(ctx, prompt)
	if err != nil {
		mc.logger.Error("Failure analysis call failed", zap.Error(err))
		return nil
	}

	defaultContext := failureContext
	if defaultContext == "" {
		defaultContext = failureType
	}
	lesson := parseLessonResponse(response, defaultContext, mc.logger)
	if lesson == nil {
		mc.logger.Warn("Failed to generate lesson from analysis")
		return nil
	}

	mc.AddLesson(lesson)
	mc.logger.Info("Generated lesson", zap.String("lesson", lesson.LessonText))
	return lesson
}

// formatHistory renders history entries as a readable transcript for the
// analysis prompt.
func formatHistory(history []models.FrameActionPair) string {
	lines := make([]string, 0, len(history))
	for i, pair := range history {
		healthStr := "HP:?"
		if pair.Health >= 0 {
			healthStr = fmt.Sprintf("HP:%d", pair.Health)
		}
		threatStr := ""
		if pair.ThreatLevel != "" {
			threatStr = fmt.Sprintf(" Threat:%s", pair.ThreatLevel)
		}
		lines = append(lines, fmt.Sprintf("%d. %s [%s%s]", i+1, pair.ActionDescription, healthStr, threatStr))
	}
	return strings.Join(lines, "\n")
}

// parseLessonResponse extracts the three-field lesson JSON with the same
// tolerant approach used for decisions.
func parseLessonResponse(response, defaultContext string, logger *zap.Logger) *models.Lesson {
	raw, ok := extractJSON(response)
	if !ok {
		logger.Warn("No JSON found in lesson response")
		return nil
	}

	var data struct {
		CauseOfFailure string `json:"cause_of_failure"`
		Mistake        string `json:"mistake"`
		Lesson         string `json:"lesson"`
		Context        string `json:"context"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		logger.Error("Failed to parse lesson JSON", zap.Error(err))
		return nil
	}

	cause := data.CauseOfFailure
	if cause == "" {
		cause = "Unknown"
	}
	lessonContext := data.Context
	if lessonContext == "" {
		lessonContext = defaultContext
	}

	return &models.Lesson{
		LessonText:     data.Lesson,
		Context:        lessonContext,
		CauseOfFailure: cause,
		Timestamp:      time.Now(),
		Confidence:     initialLessonConfidence,
	}
}

// AddLesson appends a lesson to long-term memory and flushes the store.
func (mc *MemoryCritic) AddLesson(lesson *models.Lesson) {
	mc.lessons = append(mc.lessons, lesson)
	mc.totalLessons++
	if err := mc.SaveLessons(); err != nil {
		mc.logger.Error("Failed to save lessons", zap.Error(err))
	}
	mc.logger.Info("Added lesson to memory", zap.String("lesson", head(lesson.LessonText, 50)))
}

// RelevantLessons scores stored lessons against the context string and
// returns the top maxLessons by descending score. Scoring is keyword
// based: +2.0 for a substring match between contexts in either direction,
// +0.1 per shared token, the sum scaled by lesson confidence and divided
// by (1 + 0.1 * times referenced) so over-cited lessons fade.
//
// Retrieval is deliberately not side-effect free: each returned lesson's
// reference count is incremented, which feeds the fatigue penalty above.
func (mc *MemoryCritic) RelevantLessons(context string, maxLessons int, minConfidence float64) []*models.Lesson {
	if len(mc.lessons) == 0 {
		return nil
	}

	contextLower := strings.ToLower(context)
	contextWords := tokenSet(contextLower)

	type scored struct {
		score  float64
		lesson *models.Lesson
	}
	var candidates []scored

	for _, lesson := range mc.lessons {
		if lesson.Confidence < minConfidence {
			continue
		}

		score := 0.0
		// An empty lesson context is a substring of everything and always
		// earns the bonus.
		lessonContext := strings.ToLower(lesson.Context)
		if strings.Contains(contextLower, lessonContext) || strings.Contains(lessonContext, contextLower) {
			score += 2.0
		}

		overlap := 0
		for word := range tokenSet(strings.ToLower(lesson.LessonText)) {
			if _, ok := contextWords[word]; ok {
				overlap++
			}
		}
		score += float64(overlap) * 0.1

		score *= lesson.Confidence
		score /= 1 + float64(lesson.TimesReferenced)*0.1

		candidates = append(candidates, scored{score: score, lesson: lesson})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if maxLessons > 0 && len(candidates) > maxLessons {
		candidates = candidates[:maxLessons]
	}

	relevant := make([]*models.Lesson, 0, len(candidates))
	for _, c := range candidates {
		c.lesson.TimesReferenced++
		relevant = append(relevant, c.lesson)
	}

	mc.logger.Debug("Retrieved relevant lessons",
		zap.Int("count", len(relevant)),
		zap.String("context", head(context, 50)))
	return relevant
}

// FormatLessonsForContext renders lessons for injection into the prompt.
func FormatLessonsForContext(lessons []*models.Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	lines := []string{"**LESSONS LEARNED** (from past failures):"}
	for i, lesson := range lessons {
		lines = append(lines, fmt.Sprintf("%d. %s [Context: %s]", i+1, lesson.LessonText, lesson.Context))
	}
	return strings.Join(lines, "\n")
}

// SaveLessons rewrites the whole lesson file. Lesson counts stay small, so
// whole-file rewrites are cheaper than maintaining an incremental log.
func (mc *MemoryCritic) SaveLessons() error {
	if mc.memoryFile == "" {
		return nil
	}

	if dir := filepath.Dir(mc.memoryFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create lesson directory: %w", err)
		}
	}

	doc := models.LessonFile{
		Lessons: make([]models.Lesson, 0, len(mc.lessons)),
		Metadata: models.LessonFileMetadata{
			TotalFailures: mc.totalFailures,
			TotalLessons:  mc.totalLessons,
			LastUpdated:   time.Now(),
		},
	}
	for _, lesson := range mc.lessons {
		doc.Lessons = append(doc.Lessons, *lesson)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lessons: %w", err)
	}
	if err := os.WriteFile(mc.memoryFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write lesson file: %w", err)
	}

	mc.logger.Debug("Saved lessons", zap.Int("count", len(mc.lessons)), zap.String("file", mc.memoryFile))
	return nil
}

// untrustedLesson tolerates missing fields in older or hand-edited files.
type untrustedLesson struct {
	LessonText      string     `json:"lesson_text"`
	Context         string     `json:"context"`
	CauseOfFailure  string     `json:"cause_of_failure"`
	Timestamp       *time.Time `json:"timestamp"`
	Confidence      *float64   `json:"confidence"`
	TimesReferenced int        `json:"times_referenced"`
}

func (mc *MemoryCritic) loadLessons() {
	if mc.memoryFile == "" {
		return
	}

	data, err := os.ReadFile(mc.memoryFile)
	if err != nil {
		if os.IsNotExist(err) {
			mc.logger.Info("No existing lesson file", zap.String("file", mc.memoryFile))
		} else {
			mc.logger.Error("Failed to read lesson file, starting empty", zap.Error(err))
		}
		return
	}

	var doc struct {
		Lessons  []untrustedLesson `json:"lessons"`
		Metadata struct {
			TotalFailures int `json:"total_failures"`
			TotalLessons  int `json:"total_lessons"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		mc.logger.Error("Failed to parse lesson file, starting empty", zap.Error(err))
		return
	}

	for _, u := range doc.Lessons {
		lesson := &models.Lesson{
			LessonText:      u.LessonText,
			Context:         u.Context,
			CauseOfFailure:  u.CauseOfFailure,
			Confidence:      1.0,
			TimesReferenced: u.TimesReferenced,
			Timestamp:       time.Now(),
		}
		if u.Confidence != nil {
			lesson.Confidence = *u.Confidence
		}
		if u.Timestamp != nil {
			lesson.Timestamp = *u.Timestamp
		}
		mc.lessons = append(mc.lessons, lesson)
	}

	mc.totalFailures = doc.Metadata.TotalFailures
	mc.totalLessons = doc.Metadata.TotalLessons
	if mc.totalLessons == 0 {
		mc.totalLessons = len(mc.lessons)
	}

	mc.logger.Info("Loaded lessons from storage", zap.Int("count", len(mc.lessons)))
}

// ClearShortTerm empties the rolling history. Lessons are untouched.
func (mc *MemoryCritic) ClearShortTerm() {
	mc.shortTerm = mc.shortTerm[:0]
	mc.logger.Debug("Cleared short-term memory")
}

// Statistics returns the memory counters for the statistics surface.
func (mc *MemoryCritic) Statistics() models.MemoryStatistics {
	return models.MemoryStatistics{
		TotalFailures:   mc.totalFailures,
		TotalLessons:    mc.totalLessons,
		LessonsInMemory: len(mc.lessons),
		ShortTermSize:   len(mc.shortTerm),
		CriticEnabled:   mc.enabled,
	}
}

// ExportLessons writes a human-readable dump of all lessons.
func (mc *MemoryCritic) ExportLessons(outputFile string) error {
	var b strings.Builder
	for _, lesson := range mc.lessons {
		fmt.Fprintf(&b, "[%s] %s\n", lesson.Timestamp.Format("2006-01-02 15:04"), lesson.Context)
		fmt.Fprintf(&b, "  %s\n", lesson.LessonText)
		fmt.Fprintf(&b, "  Cause: %s\n", lesson.CauseOfFailure)
		fmt.Fprintf(&b, "  Confidence: %.2f | References: %d\n\n", lesson.Confidence, lesson.TimesReferenced)
	}
	if err := os.WriteFile(outputFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to export lessons: %w", err)
	}
	mc.logger.Info("Exported lessons", zap.Int("count", len(mc.lessons)), zap.String("file", outputFile))
	return nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		set[word] = struct{}{}
	}
	return set
}
