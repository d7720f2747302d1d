package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/config"
	"github.com/securag/securag/internal/handler/chat"
	"github.com/securag/securag/internal/handler/knowledge"
	"github.com/securag/securag/internal/handler/socket"
	"github.com/securag/securag/internal/handler/stream"
	"github.com/securag/securag/internal/middleware"
	"github.com/securag/securag/pkg/utils"
)

// Engine 汇总各个处理器依赖的流水线能力。
type Engine interface {
	chat.Engine
	knowledge.Engine
}

// RouterOptions 描述路由依赖。
type RouterOptions struct {
	Engine   Engine
	Provider string
	Server   config.ServerConfig
	// Gatherer 非空时挂载 /metrics。
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to the pipeline engine.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(opts.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	chatHandler := chat.New(opts.Engine, opts.Provider, logger)
	knowledgeHandler := knowledge.New(opts.Engine, logger)
	streamHandler := stream.New(opts.Engine, opts.Provider, logger)
	socketHandler := socket.New(opts.Engine, opts.Provider, middleware.OriginAllowed(opts.Server.AllowedOrigins), logger)

	r.Route("/api", func(api chi.Router) {
		if opts.Server.RateLimitRPS > 0 {
			limiter := middleware.NewRateLimiter(opts.Server.RateLimitRPS, opts.Server.RateLimitBurst, 10*time.Minute)
			api.Use(limiter.Middleware)
		}

		chatHandler.RegisterRoutes(api)
		knowledgeHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		socketHandler.RegisterRoutes(api)
	})

	return r
}
