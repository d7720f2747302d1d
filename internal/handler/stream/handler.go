package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chathandler "github.com/securag/securag/internal/handler/chat"
	"github.com/securag/securag/internal/service/pipeline"
	"github.com/securag/securag/pkg/utils"
)

// Engine 是流式接口依赖的流水线能力。
type Engine interface {
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)
}

// Handler manages streaming pipeline responses via Server-Sent Events
type Handler struct {
	engine   Engine
	provider string
	logger   *zap.Logger
}

// New creates a new stream handler
func New(engine Engine, provider string, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, provider: provider, logger: logger.Named("stream")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleStream 以 SSE 推送状态迁移、增量文本与最终结果。
// 事件顺序：start → state* → token* → end，调用方误用时以 error 结束。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	if message == "" {
		_ = utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		_ = utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	send := func(event string, payload any) {
		if err := sse.Event(event, payload); err != nil {
			h.logger.Debug("sse write failed", zap.String("event", event), zap.Error(err))
		}
	}

	send("start", StreamResponse{Event: "start", SessionID: sessionID})

	reply, err := h.engine.Chat(r.Context(), pipeline.ChatRequest{
		SessionID: sessionID,
		Query:     message,
		Observer: func(s pipeline.State) {
			send("state", StreamResponse{Event: "state", SessionID: sessionID, Content: string(s)})
		},
		OnToken: func(delta string) {
			send("token", StreamResponse{Event: "token", SessionID: sessionID, Content: delta})
		},
	})
	if err != nil {
		msg := "internal error"
		if errors.Is(err, pipeline.ErrEmptyQuery) || errors.Is(err, pipeline.ErrSessionRequired) {
			msg = err.Error()
		} else {
			h.logger.Error("stream request failed", zap.Error(err))
		}
		send("error", StreamResponse{Event: "error", SessionID: sessionID, Error: msg, Finished: true})
		return
	}

	send("end", chathandler.NewChatResponse(reply, h.provider))
}
