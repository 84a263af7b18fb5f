// Package telegram はtelegram-bot-apiをラップしたBot APIクライアントと、
// ロングポーリング・Webhookによる更新受信を提供する。
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxDeleteBatch はdeleteMessagesで一度に削除できる最大件数。
const maxDeleteBatch = 100

// Client はTelegram Bot APIのクライアント。
// すべての呼び出しはレートリミッターを通過してから送信される。
type Client struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient はClientを生成する。生成時にgetMeでトークンを検証する。
// ratePerSecが0以下の場合は送信レートを制限しない。
// ロングポーリングを使う場合、httpClientのTimeoutはポーリングのタイムアウトより長くすること。
func NewClient(httpClient tgbotapi.HTTPClient, apiURL, token string, ratePerSec float64, logger *slog.Logger) (*Client, error) {
	endpoint := strings.TrimRight(apiURL, "/") + "/bot%s/%s"
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}

	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = max(int(ratePerSec), 1)
	}

	logger.Info("Telegram Bot APIに接続しました",
		slog.String("bot_username", api.Self.UserName),
	)
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Username はボット自身のユーザー名を返す。
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// call はレート制限を待ってからfnを実行する。
// telegram-bot-apiはcontextを受け取らないため、ctxが先に終わった場合は結果を待たずに戻る。
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", method, err)
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram %s: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram %s: %w", method, ctx.Err())
	}
}

// send はHTML形式のメッセージを送信し、送信されたメッセージIDを返す。
// replyToが0の場合は返信にしない。markupがnilの場合はキーボードを付けない。
func (c *Client) send(ctx context.Context, chatID int64, replyTo int, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = ParseModeHTML
	msg.ReplyToMessageID = replyTo
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	var sent tgbotapi.Message
	err := c.call(ctx, "sendMessage", func() error {
		var err error
		sent, err = c.api.Send(msg)
		return err
	})
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendHTML はHTML形式のテキストを送信し、送信されたメッセージIDを返す。
func (c *Client) SendHTML(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	return c.send(ctx, chatID, replyTo, text, nil)
}

// SendConfirmation は「はい」「いいえ」ボタン付きのメッセージを送信する。
func (c *Client) SendConfirmation(ctx context.Context, chatID int64, replyTo int, text, yesData, noData string) (int, error) {
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("はい", yesData),
		tgbotapi.NewInlineKeyboardButtonData("いいえ", noData),
	))
	return c.send(ctx, chatID, replyTo, text, &markup)
}

// SendButton はボタンを1つ付けたメッセージを送信する。
func (c *Client) SendButton(ctx context.Context, chatID int64, replyTo int, text, buttonText, data string) (int, error) {
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(buttonText, data),
	))
	return c.send(ctx, chatID, replyTo, text, &markup)
}

// AnswerCallback はコールバッククエリに応答する。textが空の場合は通知を表示しない。
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", func() error {
		_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

// DeleteMessages は同一チャットの複数メッセージを削除する。
// 100件を超える場合は分割して送信し、失敗したバッチのエラーをまとめて返す。
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error {
	var errs []error
	for start := 0; start < len(messageIDs); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(messageIDs))

		params := tgbotapi.Params{}
		params.AddNonZero64("chat_id", chatID)
		if err := params.AddInterface("message_ids", messageIDs[start:end]); err != nil {
			errs = append(errs, err)
			continue
		}

		err := c.call(ctx, "deleteMessages", func() error {
			_, err := c.api.MakeRequest("deleteMessages", params)
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetMyCommands はコマンドメニューを設定する。scopeがnilの場合はデフォルトの範囲に設定する。
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand, scope *BotCommandScope) error {
	cfg := tgbotapi.SetMyCommandsConfig{Commands: commands, Scope: scope}
	return c.call(ctx, "setMyCommands", func() error {
		_, err := c.api.Request(cfg)
		return err
	})
}

// WebhookOptions はsetWebhookの設定。
type WebhookOptions struct {
	URL            string
	SecretToken    string
	AllowedUpdates []string
	// Attempts は登録失敗時の試行回数。0の場合は3回。
	Attempts uint
	Delay    time.Duration
}

// SetWebhook はWebhookを登録する。起動直後の一時的な失敗に備えてバックオフ付きで再試行する。
func (c *Client) SetWebhook(ctx context.Context, opts WebhookOptions) error {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = time.Second
	}

	params := tgbotapi.Params{"url": opts.URL}
	params.AddNonEmpty("secret_token", opts.SecretToken)
	if err := params.AddInterface("allowed_updates", opts.AllowedUpdates); err != nil {
		return fmt.Errorf("failed to encode allowed_updates: %w", err)
	}

	return retry.Do(
		func() error {
			return c.call(ctx, "setWebhook", func() error {
				_, err := c.api.MakeRequest("setWebhook", params)
				return err
			})
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Webhookの登録に失敗しました。再試行します",
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// DeleteWebhook はWebhookを解除する。ロングポーリングに切り替える前に呼ぶ。
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", func() error {
		_, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
		return err
	})
}

// GetUpdates はoffset以降の更新をロングポーリングで取得する。
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSec int, allowedUpdates []string) ([]Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeoutSec
	cfg.AllowedUpdates = allowedUpdates

	var updates []Update
	err := c.call(ctx, "getUpdates", func() error {
		var err error
		updates, err = c.api.GetUpdates(cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}
