package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chathandler "github.com/securag/securag/internal/handler/chat"
	"github.com/securag/securag/internal/service/pipeline"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Engine 是 WebSocket 对话依赖的流水线能力。
type Engine interface {
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// Handler WebSocket对话处理器，一个连接绑定一个会话。
type Handler struct {
	engine      Engine
	provider    string
	upgrader    websocket.Upgrader
	readTimeout time.Duration
	logger      *zap.Logger
}

// New 创建WebSocket处理器。allowOrigin 为空时接受任意来源。
func New(engine Engine, provider string, allowOrigin func(origin string) bool, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		provider: provider,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin(origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: readTimeout,
		logger:      logger.Named("websocket"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connection struct {
	conn      *websocket.Conn
	sessionID string
	logger    *zap.Logger
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, sessionID: sessionID, logger: h.logger.With(zap.String("session_id", sessionID))}
	c.logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go c.pingLoop(ctx, h.readTimeout*9/10)

	c.send("connected", map[string]any{"mode": h.provider})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
		} else {
			h.handleMessage(ctx, c, &msg)
		}

		// 生成可能比读超时更久，处理完后重新计时
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			c.sendError("invalid text payload")
			return
		}
		h.handleText(ctx, c, text.Text)
	case "reset":
		if err := h.engine.ResetSession(ctx, c.sessionID); err != nil {
			c.logger.Error("reset failed", zap.Error(err))
			c.sendError("reset failed")
			return
		}
		c.send("reset", nil)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

// handleText 运行流水线，增量文本以 delta 推送，最终结果以 reply 推送。
func (h *Handler) handleText(ctx context.Context, c *connection, text string) {
	reply, err := h.engine.Chat(ctx, pipeline.ChatRequest{
		SessionID: c.sessionID,
		Query:     text,
		Observer: func(s pipeline.State) {
			c.send("state", map[string]any{"state": s})
		},
		OnToken: func(delta string) {
			c.send("delta", map[string]any{"text": delta})
		},
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			c.sendError("text is required")
			return
		}
		c.logger.Error("chat failed", zap.Error(err))
		c.sendError("internal error")
		return
	}

	c.send("reply", chathandler.NewChatResponse(reply, h.provider))
}

func (c *connection) send(kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (c *connection) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息。WriteControl 可以与其他写操作并发调用。
func (c *connection) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
