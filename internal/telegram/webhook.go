package telegram

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/mediabot/internal/middleware"
	"github.com/hitoshi/mediabot/internal/model"
)

// SecretTokenHeader はsetWebhookで登録したシークレットが送られてくるヘッダー。
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBytes は受け付ける更新ボディの上限。
const maxUpdateBytes = 1 << 20

// WebhookHandler はTelegramからのWebhook呼び出しを受け付けるhttp.Handler。
type WebhookHandler struct {
	secret  string
	handler UpdateHandler
	decoder *tgbotapi.BotAPI // HandleUpdateはリクエストのデコードのみを行う
	logger  *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
// secretが空の場合はすべてのリクエストを拒否する。
func NewWebhookHandler(secret string, handler UpdateHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:  secret,
		handler: handler,
		decoder: &tgbotapi.BotAPI{},
		logger:  logger,
	}
}

// ServeHTTP は更新をデコードしてハンドラに渡し、200を返す。
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		h.logger.Warn("Webhookのシークレットが一致しません",
			slog.String("remote_addr", r.RemoteAddr),
		)
		middleware.WriteUnauthorized(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpdateBytes)
	u, err := h.decoder.HandleUpdate(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.BotError{
			Code:     model.ErrCodeInvalidArgument,
			Message:  "更新データを解析できません。",
			Category: "validation",
		})
		return
	}

	h.handler.HandleUpdate(r.Context(), *u)
	w.WriteHeader(http.StatusOK)
}
