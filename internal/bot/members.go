package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/mediabot/internal/account"
	"github.com/hitoshi/mediabot/internal/model"
)

const (
	memberPageSize      = 30
	maxExpiringDays     = 365
	blockServerPrefix   = "block_server_user_"
	unblockServerPrefix = "unblock_server_user_"
)

func (b *Bot) registerUserAdminCommands() {
	b.handle("get_expired_users", "期限切れのユーザーを表示", true, b.expiredUsersCommand)
	b.handle("get_expiring_users", "まもなく期限切れになるユーザーを表示", true, b.expiringUsersCommand)
	b.handle("blocked_users", "ブロック中のユーザーを表示", true, b.blockedUsersCommand)
	b.handle("block_user", "ユーザーをブロック", true, b.blockUserCommand, Validate(validateTarget))
	b.handle("unblock_user", "ユーザーのブロックを解除", true, b.unblockUserCommand, Validate(validateTarget))

	b.handleConfirmed("clean_expired_users", "期限切れユーザーを今すぐ無効化",
		"期限切れのユーザーを無効化しますか？", validateNoArgs, b.cleanExpiredUsersCommand)
	b.handleConfirmed("toggle_expired_user_clean", "期限切れユーザーの自動処理の有効/無効を切り替え",
		"期限切れユーザーの自動処理の状態を変更しますか？", validateNoArgs, b.toggleExpiredUserCleanCommand)

	b.handleCallbackPrefix(blockServerPrefix, b.serverUserCallback(true))
	b.handleCallbackPrefix(unblockServerPrefix, b.serverUserCallback(false))
}

func validateTarget(req *Request) error {
	if len(req.Args) != 1 {
		return model.NewInvalidArgumentError("/" + req.Command + " TelegramIDまたはユーザー名")
	}
	return nil
}

func (b *Bot) expiredUsersCommand(ctx context.Context, req *Request) error {
	users, err := b.accounts.ListExpired(ctx)
	if err != nil {
		return err
	}
	return b.replyUsers(ctx, req, "期限切れのユーザー", "期限切れのユーザーはいません。", users)
}

func (b *Bot) expiringUsersCommand(ctx context.Context, req *Request) error {
	days, ok := parsePositive(arg(req, 0), b.cfg.ExpiringNoticeDays, maxExpiringDays)
	if !ok || len(req.Args) > 1 {
		return model.NewInvalidArgumentError(fmt.Sprintf("/get_expiring_users [日数(1〜%d)]", maxExpiringDays))
	}
	users, err := b.accounts.ListExpiring(ctx, days)
	if err != nil {
		return err
	}
	return b.replyUsers(ctx, req, fmt.Sprintf("%d日以内に期限切れになるユーザー", days),
		fmt.Sprintf("%d日以内に期限切れになるユーザーはいません。", days), users)
}

func (b *Bot) blockedUsersCommand(ctx context.Context, req *Request) error {
	users, err := b.accounts.ListBlocked(ctx)
	if err != nil {
		return err
	}
	return b.replyUsers(ctx, req, "ブロック中のユーザー", "ブロック中のユーザーはいません。", users)
}

// replyUsers はユーザー一覧をページに分けて返信する。
func (b *Bot) replyUsers(ctx context.Context, req *Request, title, empty string, users []*model.User) error {
	if len(users) == 0 {
		return b.reply(ctx, req, empty)
	}
	pages := Paginate(users, memberPageSize)
	for i, page := range pages {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s (%d/%d)\n", title, i+1, len(pages))
		for _, u := range page {
			fmt.Fprintf(&sb, "<code>%d</code> %s [%s] 期限: %s\n",
				u.TelegramID, b.escape(u.Username), u.Status, formatUserExpire(u))
		}
		if err := b.reply(ctx, req, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func formatUserExpire(u *model.User) string {
	if u.ExpireAt == nil {
		return "無期限"
	}
	return u.ExpireAt.Format(timeLayout)
}

func (b *Bot) cleanExpiredUsersCommand(ctx context.Context, req *Request) error {
	result, err := b.accounts.ExpireUsers(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("期限切れユーザーを手動で処理しました",
		slog.Int("expired_count", len(result.Expired)),
		slog.Int("reactivated_count", len(result.Reactivated)),
		slog.Int("failed_count", result.Failed),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, formatExpiryResult(result))
}

func formatExpiryResult(r account.ExpiryResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "無効化: %d件\n再有効化: %d件\n失敗: %d件", len(r.Expired), len(r.Reactivated), r.Failed)
	for _, u := range r.Expired {
		fmt.Fprintf(&sb, "\n- <code>%d</code> を無効化", u.TelegramID)
	}
	return sb.String()
}

func (b *Bot) toggleExpiredUserCleanCommand(ctx context.Context, req *Request) error {
	enabled := !b.runtime.ExpiredUserCleanEnabled()
	var err error
	if enabled {
		err = b.expirer.Start()
	} else {
		err = b.expirer.Stop()
	}
	if err != nil {
		return err
	}
	b.runtime.SetExpiredUserCleanEnabled(enabled)

	b.logger.Info("期限切れユーザーの自動処理の状態を変更しました",
		slog.Bool("enabled", enabled),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, "期限切れユーザーの自動処理を"+onOff(enabled)+"にしました。")
}

func (b *Bot) blockUserCommand(ctx context.Context, req *Request) error {
	user, err := b.accounts.Block(ctx, req.Args[0])
	if err != nil {
		return err
	}
	b.logger.Info("ユーザーをブロックしました",
		slog.Int64("telegram_id", user.TelegramID),
		slog.Int64("admin_id", req.UserID),
	)
	return b.replyWithButton(ctx, req,
		fmt.Sprintf("ユーザー <code>%s</code> (%d) をブロックしました。", b.escape(user.Username), user.TelegramID),
		"メディアサーバーのアカウントも無効化", blockServerPrefix+strconv.FormatInt(user.TelegramID, 10))
}

func (b *Bot) unblockUserCommand(ctx context.Context, req *Request) error {
	user, err := b.accounts.Unblock(ctx, req.Args[0])
	if err != nil {
		return err
	}
	b.logger.Info("ユーザーのブロックを解除しました",
		slog.Int64("telegram_id", user.TelegramID),
		slog.Int64("admin_id", req.UserID),
	)
	return b.replyWithButton(ctx, req,
		fmt.Sprintf("ユーザー <code>%s</code> (%d) のブロックを解除しました。", b.escape(user.Username), user.TelegramID),
		"メディアサーバーのアカウントも有効化", unblockServerPrefix+strconv.FormatInt(user.TelegramID, 10))
}

// serverUserCallback はブロック操作のボタンからメディアサーバーのアカウントを無効化または有効化する。
func (b *Bot) serverUserCallback(disabled bool) Handler {
	return func(ctx context.Context, req *Request) error {
		target, err := strconv.ParseInt(arg(req, 0), 10, 64)
		if err != nil {
			return model.NewInvalidArgumentError(req.Command)
		}
		user, err := b.accounts.SetServerUserDisabled(ctx, target, disabled)
		if err != nil {
			return err
		}

		verb := "有効化"
		if disabled {
			verb = "無効化"
		}
		b.logger.Info("ボタンからメディアサーバーのアカウントを"+verb+"しました",
			slog.Int64("telegram_id", target),
			slog.Int64("admin_id", req.UserID),
		)
		return b.reply(ctx, req, fmt.Sprintf("ユーザー <code>%s</code> (%d) のメディアサーバーアカウントを%sしました。",
			b.escape(user.Username), target, verb))
	}
}
