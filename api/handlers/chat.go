package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/malbeclabs/salesdesk/agent/pkg/engine"
	"github.com/malbeclabs/salesdesk/api/metrics"
)

// ChatRequest is the incoming request for a chat message.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"` // Omitted on the first turn; a new conversation is started
	Debug     bool   `json:"debug,omitempty"`      // Include the executed SQL in the response
}

// ChatMeta carries measurement and entity context for a turn.
type ChatMeta struct {
	LatencyMS   int64    `json:"latency_ms"`
	EntityType  string   `json:"entity_type,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ChatResponse is the engine's answer returned to the UI.
type ChatResponse struct {
	SessionID    string   `json:"session_id"`
	Mode         string   `json:"mode"`
	Answer       string   `json:"answer"`
	UsedQuestion string   `json:"used_question,omitempty"` // The question actually answered, after follow-up rewriting
	SQL          string   `json:"sql,omitempty"`           // Populated only when debug is set
	Meta         ChatMeta `json:"meta"`
	Error        string   `json:"error,omitempty"`
}

// ChatHandler serves the conversational endpoint over a shared engine.
type ChatHandler struct {
	log    *slog.Logger
	engine *engine.Engine
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(log *slog.Logger, eng *engine.Engine) *ChatHandler {
	return &ChatHandler{log: log, engine: eng}
}

// Chat handles one conversational turn.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := h.engine.Process(r.Context(), engine.TurnRequest{
		ConversationID: req.SessionID,
		Message:        req.Message,
		Debug:          req.Debug,
	})
	if err != nil {
		h.log.Error("chat turn failed", "session_id", req.SessionID, "error", SanitizeError(err))
		metrics.RecordChatTurn("error", time.Since(start))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ChatResponse{
			SessionID: req.SessionID,
			Error:     "Chat processing failed. Please try again.",
		})
		return
	}
	metrics.RecordChatTurn(string(result.Mode), time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ChatResponse{
		SessionID:    result.ConversationID,
		Mode:         string(result.Mode),
		Answer:       result.Answer,
		UsedQuestion: result.UsedQuestion,
		SQL:          result.SQL,
		Meta: ChatMeta{
			LatencyMS:   result.Meta.LatencyMS,
			EntityType:  result.Meta.EntityType,
			Entities:    result.Meta.Entities,
			Metric:      result.Meta.Metric,
			Suggestions: result.Meta.Suggestions,
		},
	})
}
