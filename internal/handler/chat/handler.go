package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/model/chat"
	"github.com/securag/securag/internal/service/pipeline"
	"github.com/securag/securag/pkg/utils"
)

// Engine 是处理器依赖的流水线能力。
type Engine interface {
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)
	History(ctx context.Context, sessionID string) ([]chat.Turn, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	engine   Engine
	provider string
	logger   *zap.Logger
}

// New 创建聊天处理器，provider 会原样出现在响应的 mode 字段。
func New(engine Engine, provider string, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		provider: provider,
		logger:   logger.Named("chat_handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/sessions/{sessionID}/history", h.handleHistory)
	r.Delete("/sessions/{sessionID}", h.handleReset)
}

type chatRequest struct {
	Query     string `json:"query" validate:"required,max=8000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// ChatResponse 是 POST /api/chat 的响应体。
type ChatResponse struct {
	Status    string   `json:"status"`
	Answer    string   `json:"answer"`
	Mode      string   `json:"mode"`
	SessionID string   `json:"session_id"`
	Blocked   bool     `json:"blocked"`
	Degraded  bool     `json:"degraded,omitempty"`
	Route     string   `json:"route,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

// NewChatResponse 把流水线结果转换为响应体，SSE 与 WebSocket 复用。
func NewChatResponse(reply pipeline.Reply, provider string) ChatResponse {
	status := "success"
	switch {
	case reply.Blocked:
		status = "blocked"
	case reply.Degraded:
		status = "degraded"
	}
	return ChatResponse{
		Status:    status,
		Answer:    reply.Answer,
		Mode:      provider,
		SessionID: reply.SessionID,
		Blocked:   reply.Blocked,
		Degraded:  reply.Degraded,
		Route:     string(reply.Route),
		Sources:   reply.Sources,
	}
}

// handleChat 处理一次对话。缺少 session_id 时生成新的会话键并在响应中返回。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload.SessionID == "" {
		payload.SessionID = uuid.NewString()
	}

	reply, err := h.engine.Chat(r.Context(), pipeline.ChatRequest{
		SessionID: payload.SessionID,
		Query:     payload.Query,
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	_ = utils.RespondJSON(w, http.StatusOK, NewChatResponse(reply, h.provider))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	turns, err := h.engine.History(r.Context(), sessionID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}

	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		_ = utils.RespondError(w, http.StatusBadRequest, "query is required")
	case errors.Is(err, pipeline.ErrSessionRequired):
		_ = utils.RespondError(w, http.StatusBadRequest, "session_id is required")
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		_ = utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
