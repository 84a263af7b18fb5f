package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/mediabot/internal/invitecode"
	"github.com/hitoshi/mediabot/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

func (b *Bot) registerUserCommands() {
	b.handle("start", "使い方を表示", false, b.startCommand)
	b.handle("register", "招待コードで登録", false, b.registerCommand, b.InviteSystemEnabled())
	b.handle("use_renew_code", "延長コードを使用", false, b.useRenewCodeCommand)
	b.handle("info", "アカウント情報を表示", false, b.infoCommand)
}

func (b *Bot) startCommand(ctx context.Context, req *Request) error {
	var sb strings.Builder
	sb.WriteString("ようこそ！利用できるコマンド:\n")
	for _, r := range b.sortedRoutes() {
		if r.admin && !b.cfg.IsAdmin(req.UserID) {
			continue
		}
		fmt.Fprintf(&sb, "/%s - %s\n", r.name, r.description)
	}
	return b.reply(ctx, req, sb.String())
}

func (b *Bot) registerCommand(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return model.NewInvalidArgumentError("/register ユーザー名 招待コード")
	}
	username, code := req.Args[0], req.Args[1]

	reg, err := b.accounts.Register(ctx, req.UserID, username, code)
	if err != nil {
		return redeemError(err, model.CodeTypeRegister)
	}

	return b.reply(ctx, req, fmt.Sprintf(
		"登録が完了しました。\nユーザー名: <code>%s</code>\nパスワード: <code>%s</code>\nログイン後にパスワードを変更してください。",
		b.escape(reg.User.Username), b.escape(reg.Password),
	))
}

func (b *Bot) useRenewCodeCommand(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return model.NewInvalidArgumentError("/use_renew_code 延長コード")
	}

	user, err := b.accounts.Renew(ctx, req.UserID, req.Args[0])
	if err != nil {
		return redeemError(err, model.CodeTypeRenew)
	}

	return b.reply(ctx, req, fmt.Sprintf("有効期限を延長しました。\n新しい有効期限: %s", user.ExpireAt.Format(timeLayout)))
}

func (b *Bot) infoCommand(ctx context.Context, req *Request) error {
	user, err := b.accounts.Info(ctx, req.UserID)
	if err != nil {
		return err
	}

	expire := "無期限"
	if user.ExpireAt != nil {
		expire = user.ExpireAt.Format(timeLayout)
	}
	return b.reply(ctx, req, fmt.Sprintf(
		"ユーザー名: <code>%s</code>\nスコア: %d\n状態: %s\n有効期限: %s\n登録日時: %s",
		b.escape(user.Username), user.Score, user.Status, expire, user.CreatedAt.Format(timeLayout),
	))
}

// redeemError はコード使用時のエラーをユーザー向けのエラーに変換する。
func redeemError(err error, want model.CodeType) error {
	switch {
	case errors.Is(err, invitecode.ErrCodeNotFound):
		return model.NewInviteNotFoundError()
	case errors.Is(err, invitecode.ErrCodeExpired):
		return model.NewInviteExpiredError()
	case errors.Is(err, invitecode.ErrCodeAlreadyUsed):
		return model.NewInviteUsedError()
	case errors.Is(err, invitecode.ErrCodeWrongType):
		return model.NewInviteWrongTypeError(want)
	}
	return err
}

// formatExpire はコードの有効期限を表示用に整形する。
func formatExpire(c *model.InviteCode) string {
	return c.ExpireTime().In(time.Local).Format(timeLayout)
}
