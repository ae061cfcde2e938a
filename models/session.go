package models

import (
	"time"
)

// FrameRequest is the payload of a "frame" websocket message: one game
// screenshot plus the HUD state the capture layer already extracted.
type FrameRequest struct {
	Image         string `json:"image"` // base64-encoded raster
	Health        int    `json:"health"`
	MaxHealth     int    `json:"max_health"`
	Location      string `json:"location,omitempty"`
	InDungeon     bool   `json:"in_dungeon,omitempty"`
	EnemiesNearby bool   `json:"enemies_nearby,omitempty"`
}

// BufferInfo describes the temporal buffer's current occupancy.
type BufferInfo struct {
	BufferSize    int    `json:"buffer_size"`
	CurrentFrames int    `json:"current_frames"`
	TotalFrames   int    `json:"total_frames_processed"`
	Orientation   string `json:"orientation"`
	Ready         bool   `json:"is_ready"`
}

// MemoryStatistics summarizes the memory/critic subsystem.
type MemoryStatistics struct {
	TotalFailures   int  `json:"total_failures"`
	TotalLessons    int  `json:"total_lessons"`
	LessonsInMemory int  `json:"lessons_in_memory"`
	ShortTermSize   int  `json:"short_term_buffer_size"`
	CriticEnabled   bool `json:"critic_enabled"`
}

// AgentStatistics is the telemetry surface exposed to callers and dashboards.
type AgentStatistics struct {
	Model                    string           `json:"model"`
	TotalDecisions           int              `json:"total_decisions"`
	AvgDecisionTimeMS        float64          `json:"avg_decision_time_ms"`
	TimeoutCount             int              `json:"api_timeout_count"`
	ConsecutiveLowConfidence int              `json:"consecutive_low_confidence"`
	CurrentObjective         string           `json:"current_objective"`
	Buffer                   BufferInfo       `json:"temporal_buffer"`
	Memory                   MemoryStatistics `json:"memory"`
}

// SessionStats is the per-session snapshot published for external dashboards.
type SessionStats struct {
	SessionID    string          `json:"session_id"`
	StartTime    time.Time       `json:"start_time"`
	LastActivity time.Time       `json:"last_activity"`
	Agent        AgentStatistics `json:"agent"`
}
