package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/hitoshi/mediabot/internal/model"
	"github.com/hitoshi/mediabot/internal/telegram"
)

// Handler はコマンドを処理する。返したエラーはチャットへの返信に変換される。
type Handler func(ctx context.Context, req *Request) error

// Middleware はHandlerを包んで前処理を加える。
// 続行する場合はnextを呼び、打ち切る場合は呼ばずに返る。
type Middleware func(next Handler) Handler

// Chain はmwsを先頭が最も外側になるようにhへ適用する。
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover はハンドラ内のpanicを回復し、ログに記録してエラーとして返す。
func (b *Bot) Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					b.logger.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("command", req.Command),
						slog.Int64("chat_id", req.ChatID),
						slog.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic in /%s: %v", req.Command, rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Cleanup は処理後、受信したコマンドメッセージを削除キューに積む。
// 確認待ちで保留されたコマンドは確認の解決時に積まれるため、ここでは積まない。
func (b *Bot) Cleanup() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if !req.awaitingConfirmation {
				b.enqueue(req.ChatID, req.MessageID)
			}
			return err
		}
	}
}

// RateLimit はチャットごとの受信レートを制限する。超過分は返信せずに破棄する。
func (b *Bot) RateLimit() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if b.limiter != nil && !b.limiter.Allow(strconv.FormatInt(req.ChatID, 10)) {
				b.logger.Warn("チャットのレート制限を超えました",
					slog.Int64("chat_id", req.ChatID),
					slog.String("command", req.Command),
				)
				return nil
			}
			return next(ctx, req)
		}
	}
}

// PrivateChatOnly はグループでのコマンドを無視する。
func (b *Bot) PrivateChatOnly() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if req.ChatType == telegram.ChatTypeGroup || req.ChatType == telegram.ChatTypeSupergroup {
				b.logger.Debug("グループでのコマンドを無視しました",
					slog.Int64("chat_id", req.ChatID),
					slog.String("command", req.Command),
				)
				return nil
			}
			return next(ctx, req)
		}
	}
}

// AdminRequired は管理者以外の実行を拒否する。
func (b *Bot) AdminRequired() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if !b.cfg.IsAdmin(req.UserID) {
				b.logger.Warn("管理者以外がコマンドを実行しようとしました",
					slog.Int64("user_id", req.UserID),
					slog.String("command", req.Command),
				)
				return model.NewPermissionDeniedError()
			}
			return next(ctx, req)
		}
	}
}

// InviteSystemEnabled は招待システムが停止中の場合に実行を拒否する。
func (b *Bot) InviteSystemEnabled() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if !b.runtime.InviteSystemEnabled() {
				return model.NewInviteSystemOffError()
			}
			return next(ctx, req)
		}
	}
}

// Validate は確認を求める前に引数を検証する。
func Validate(check func(req *Request) error) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if err := check(req); err != nil {
				return err
			}
			return next(ctx, req)
		}
	}
}

// Confirmation はコマンドを保留して「はい/いいえ」の確認を求める。
// 「はい」が押されると、確認マネージャーに登録したExecutorがnextを実行する。
func (b *Bot) Confirmation(prompt string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			req.awaitingConfirmation = true
			if err := b.confirm.Request(ctx, prompt, req.command()); err != nil {
				req.awaitingConfirmation = false
				return err
			}
			return nil
		}
	}
}
