package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/agent"
	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"github.com/PixelPilot-Labs/pixelpilot-go-agent/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pinecone-io/go-pinecone/pinecone"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// GameSession owns one connected game loop: its websocket, its agent, and
// its telemetry. One decision cycle is in flight at a time; the caller
// awaits each decision before sending the next frame.
type GameSession struct {
	ID          string
	Connection  *websocket.Conn
	RedisClient *redis.Client
	Logger      *zap.Logger
	Agent       *agent.PixelsToActionsAgent
	PineconeIdx *pinecone.IndexConnection

	IsActive     bool
	StartTime    time.Time
	LastActivity time.Time

	// Agent state is only touched from the session loop goroutine. The
	// cached snapshot is what concurrent readers (the stats endpoint) get.
	statsMu   sync.RWMutex
	lastStats models.SessionStats
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

// WebSocketMessage is the wire envelope for both directions.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewGameSession wires a session with its own agent instance.
func NewGameSession(id string, conn *websocket.Conn, redisClient *redis.Client, svc agent.DecisionService) (*GameSession, error) {
	logger := zap.L().With(zap.String("session_id", id))

	cfg := agent.DefaultConfig()
	if lessonsFile := os.Getenv("LESSONS_FILE"); lessonsFile != "" {
		cfg.MemoryFile = lessonsFile
	}
	if thoughtLog := os.Getenv("THOUGHT_LOG"); thoughtLog != "" {
		cfg.ThoughtLogFile = thoughtLog
	}

	agentInstance, err := agent.NewAgent(svc, cfg, logger)
	if err != nil {
		return nil, err
	}

	// The archive is optional; run without it when unconfigured.
	pineconeIdx, err := utils.GetPineconeIndex(&id)
	if err != nil {
		logger.Warn("Failed to initialize Pinecone connection", zap.Error(err))
	}

	session := &GameSession{
		ID:           id,
		Connection:   conn,
		RedisClient:  redisClient,
		Logger:       logger,
		Agent:        agentInstance,
		PineconeIdx:  pineconeIdx,
		IsActive:     true,
		StartTime:    time.Now(),
		LastActivity: time.Now(),
	}
	session.snapshotStats()
	return session, nil
}

// HandleGameSession upgrades the connection and runs the session loop
// until the client stops or disconnects.
func HandleGameSession(w http.ResponseWriter, r *http.Request, redisClient *redis.Client) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	session, err := NewGameSession(sessionID, conn, redisClient, utils.NewAnthropicClient())
	if err != nil {
		zap.L().Error("Failed to create game session", zap.Error(err))
		return
	}
	session.Logger.Info("New game session started")

	registerSession(session)
	defer unregisterSession(session.ID)

	session.listenWebsocketMessages()

	session.Logger.Info("Game session ended")
	session.Stop()
}

func (session *GameSession) listenWebsocketMessages() {
	for {
		var msg WebSocketMessage
		err := session.Connection.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				session.Logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		session.LastActivity = time.Now()

		switch msg.Type {
		case "frame":
			session.handleFrameMessage(msg.Data)
		case "set_objective":
			session.handleSetObjective(msg.Data)
		case "death":
			session.handleDeathMessage(msg.Data)
		case "reset":
			session.Agent.ResetSession()
			session.snapshotStats()
			session.sendWebSocketMessage("reset_confirmation", nil)
		case "stats":
			session.sendWebSocketMessage("stats", session.snapshotStats().Agent)
		case "ping":
			session.sendWebSocketMessage("pong", nil)
		case "stop":
			session.Logger.Info("Received stop command from client")
			session.sendWebSocketMessage("stop_confirmation", map[string]interface{}{
				"session_id": session.ID,
				"message":    "Session stopped successfully",
			})
			return
		default:
			session.Logger.Warn("Unknown message type", zap.String("type", msg.Type))
		}
	}
}

// handleFrameMessage runs one full decision cycle and replies with the
// validated decision. The agent never errors, so the client always gets a
// decision back for every frame.
func (session *GameSession) handleFrameMessage(data json.RawMessage) {
	var req models.FrameRequest
	if err := json.Unmarshal(data, &req); err != nil {
		session.Logger.Error("Invalid frame message", zap.Error(err))
		session.sendWebSocketMessage("error", map[string]interface{}{"message": "invalid frame payload"})
		return
	}

	imgBytes, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		session.Logger.Error("Failed to decode frame image", zap.Error(err))
		session.sendWebSocketMessage("error", map[string]interface{}{"message": "invalid frame encoding"})
		return
	}

	frame, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		session.Logger.Error("Failed to decode frame raster", zap.Error(err))
		session.sendWebSocketMessage("error", map[string]interface{}{"message": "unsupported frame format"})
		return
	}

	meta := models.FrameMetadata{
		Location:      req.Location,
		InDungeon:     req.InDungeon,
		EnemiesNearby: req.EnemiesNearby,
	}

	decision := session.Agent.DecideAction(context.Background(), frame, req.Health, req.MaxHealth, meta)
	session.sendWebSocketMessage("decision", decision)

	snapshot := session.snapshotStats()
	go session.publishStats(snapshot)
	if session.PineconeIdx != nil {
		go session.archiveDecision(snapshot.Agent.TotalDecisions, decision)
	}
}

func (session *GameSession) handleSetObjective(data json.RawMessage) {
	var payload struct {
		Objective string `json:"objective"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Objective == "" {
		session.Logger.Error("Invalid set_objective message")
		return
	}
	session.Agent.SetObjective(payload.Objective)
	session.snapshotStats()
	session.sendWebSocketMessage("objective_updated", map[string]interface{}{"objective": payload.Objective})
}

func (session *GameSession) handleDeathMessage(data json.RawMessage) {
	var payload struct {
		Context string `json:"context"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			session.Logger.Warn("Unreadable death context, analyzing without it")
		}
	}

	// Analysis is slow, but the game just ended and the loop is
	// single-flight: no frames arrive until the caller resets, and agent
	// state stays confined to this goroutine.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	session.Agent.OnDeathDetected(ctx, payload.Context)
	session.snapshotStats()
}

// snapshotStats refreshes the cached snapshot from the agent. Must only be
// called from the session loop goroutine, which owns all agent state.
func (session *GameSession) snapshotStats() models.SessionStats {
	snapshot := models.SessionStats{
		SessionID:    session.ID,
		StartTime:    session.StartTime,
		LastActivity: session.LastActivity,
		Agent:        session.Agent.Statistics(),
	}
	session.statsMu.Lock()
	session.lastStats = snapshot
	session.statsMu.Unlock()
	return snapshot
}

// CurrentStats returns the last cached snapshot. Safe from any goroutine.
func (session *GameSession) CurrentStats() models.SessionStats {
	session.statsMu.RLock()
	defer session.statsMu.RUnlock()
	return session.lastStats
}

// publishStats writes the session snapshot for external dashboards.
func (session *GameSession) publishStats(snapshot models.SessionStats) {
	if session.RedisClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		session.Logger.Error("Failed to marshal session stats", zap.Error(err))
		return
	}

	key := "pixelpilot:session:" + session.ID
	if err := session.RedisClient.Set(ctx, key, payload, time.Hour).Err(); err != nil {
		session.Logger.Error("Failed to publish session stats", zap.Error(err))
	}
}

func (session *GameSession) archiveDecision(decisionNumber int, decision models.ActionDecision) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := utils.ArchiveDecision(ctx, session.PineconeIdx, session.ID, decisionNumber, decision); err != nil {
		session.Logger.Error("Failed to archive decision summary", zap.Error(err))
	}
}

func (session *GameSession) sendWebSocketMessage(msgType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		session.Logger.Error("Failed to marshal websocket payload", zap.Error(err), zap.String("type", msgType))
		return
	}

	msg := WebSocketMessage{
		Type:      msgType,
		Data:      payload,
		Timestamp: time.Now(),
	}
	if err := session.Connection.WriteJSON(msg); err != nil {
		session.Logger.Error("Failed to send websocket message", zap.Error(err), zap.String("type", msgType))
	}
}

// Stop flushes the agent's lesson store and closes the connection.
func (session *GameSession) Stop() {
	session.Logger.Info("Stopping session")
	session.IsActive = false

	if err := session.Agent.Close(); err != nil {
		session.Logger.Error("Failed to flush agent state", zap.Error(err))
	}
	if session.Connection != nil {
		session.Connection.Close()
	}
}
