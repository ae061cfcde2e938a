package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"go.uber.org/zap"
)

var (
	sessionsMu sync.RWMutex
	sessions   = make(map[string]*GameSession)
)

func registerSession(session *GameSession) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	sessions[session.ID] = session
}

func unregisterSession(id string) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	delete(sessions, id)
}

// ActiveSessionCount reports how many game sessions are currently connected.
func ActiveSessionCount() int {
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	return len(sessions)
}

// HandleStats returns a snapshot of every active session's agent statistics.
func HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Sessions refresh their snapshot from the loop goroutine; serving the
	// cache avoids touching live agent state from here.
	sessionsMu.RLock()
	snapshots := make([]models.SessionStats, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.CurrentStats())
	}
	sessionsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"active_sessions": len(snapshots),
		"sessions":        snapshots,
		"timestamp":       time.Now(),
	}); err != nil {
		zap.L().Error("Failed to encode stats response", zap.Error(err))
	}
}

// HandleHealthCheck reports process liveness.
func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "healthy",
		"active_sessions": ActiveSessionCount(),
		"timestamp":       time.Now(),
	})
}
