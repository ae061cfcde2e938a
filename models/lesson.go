package models

import (
	"image"
	"time"
)

// Lesson is a short piece of advice derived from analyzing a failure.
// Lessons persist across sessions; TimesReferenced only grows.
type Lesson struct {
	LessonText      string    `json:"lesson_text"`
	Context         string    `json:"context"`
	CauseOfFailure  string    `json:"cause_of_failure"`
	Timestamp       time.Time `json:"timestamp"`
	Confidence      float64   `json:"confidence"`
	TimesReferenced int       `json:"times_referenced"`
}

// FrameActionPair records one decision cycle in short-term memory.
// The frame may be nil when dropped to save memory; only the textual
// fields feed failure analysis.
type FrameActionPair struct {
	Frame             image.Image `json:"-"`
	ActionDescription string      `json:"action_description"`
	Timestamp         time.Time   `json:"timestamp"`
	Health            int         `json:"health"`
	ThreatLevel       string      `json:"threat_level"`
}

// LessonFile is the on-disk layout of the persistent lesson store.
// The whole document is rewritten on every save.
type LessonFile struct {
	Lessons  []Lesson           `json:"lessons"`
	Metadata LessonFileMetadata `json:"metadata"`
}

// LessonFileMetadata carries summary counters alongside the lessons.
type LessonFileMetadata struct {
	TotalFailures int       `json:"total_failures"`
	TotalLessons  int       `json:"total_lessons"`
	LastUpdated   time.Time `json:"last_updated"`
}
