package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mediabot/internal/middleware"
)

// WebhookPath はTelegramのWebhookを受け付けるパス。
const WebhookPath = "/telegram/webhook"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	HealthChecker HealthChecker
	// Metrics はPrometheusのスクレイプ用ハンドラー。nilの場合は/metricsを公開しない。
	Metrics http.Handler
	// Webhook はTelegramの更新を受け付けるハンドラー。ポーリングモードではnil。
	Webhook     http.Handler
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// NewRouter はHTTPエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → RateLimit（Webhookのみ）
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Logger)
	r.Get("/health", healthHandler.Health)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	if deps.Webhook != nil {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware(middleware.RemoteHost))
			}
			r.Method(http.MethodPost, WebhookPath, deps.Webhook)
		})
	}

	return r
}
