package knowledge

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/service/pipeline"
	"github.com/securag/securag/pkg/utils"
)

// Engine 是知识库相关的流水线能力。
type Engine interface {
	AddDocument(ctx context.Context, text string) (string, error)
	Ingest(ctx context.Context, document string) ([]string, error)
	KnowledgeCount(ctx context.Context) (int, error)
}

// Handler 处理文档入库与统计。
type Handler struct {
	engine Engine
	logger *zap.Logger
}

func New(engine Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger.Named("knowledge_handler")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.handleAddDocument)
	r.Get("/stats", h.handleStats)
}

type documentRequest struct {
	Text string `json:"text" validate:"required,max=200000"`
	// Split 为 true 时按空行切分为多个片段。
	Split bool `json:"split"`
}

func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var payload documentRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		ids []string
		err error
	)
	if payload.Split {
		ids, err = h.engine.Ingest(r.Context(), payload.Text)
	} else {
		var id string
		if id, err = h.engine.AddDocument(r.Context(), payload.Text); err == nil {
			ids = []string{id}
		}
	}

	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyDocument) {
			_ = utils.RespondError(w, http.StatusBadRequest, "document is empty after sanitization")
			return
		}
		h.logger.Error("failed to add document", zap.Error(err))
		_ = utils.RespondError(w, http.StatusBadGateway, "knowledge store unavailable")
		return
	}

	_ = utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"status": "stored",
		"ids":    ids,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.KnowledgeCount(r.Context())
	if err != nil {
		h.logger.Error("failed to count knowledge", zap.Error(err))
		_ = utils.RespondError(w, http.StatusBadGateway, "knowledge store unavailable")
		return
	}

	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{"knowledge_count": count})
}
