package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/mediabot/internal/model"
)

// 一覧表示の1メッセージあたりの件数
const (
	allCodesPageSize    = 20
	unusedCodesPageSize = 50
	maxGenerateCount    = 100
	defaultRenewDays    = 30
)

func (b *Bot) registerAdminCommands() {
	b.handle("generate_code", "招待コードを発行", true, b.generateCodeCommand)
	b.handle("generate_renew_code", "延長コードを発行", true, b.generateRenewCodeCommand)
	b.handle("invite", "すべてのコードを表示", true, b.listAllCodesCommand)
	b.handle("unused_invite_codes", "未使用の招待コードを表示", true, b.unusedCodesCommand(model.CodeTypeRegister))
	b.handle("unused_renew_codes", "未使用の延長コードを表示", true, b.unusedCodesCommand(model.CodeTypeRenew))
	b.handle("toggle_invite_code_system", "招待システムの有効/無効を切り替え", true, b.toggleInviteSystemCommand)
	b.handle("stats", "統計情報を表示", true, b.statsCommand)

	b.handleConfirmed("toggle_clean_msg_system", "メッセージ自動削除の有効/無効を切り替え",
		"メッセージ自動削除の状態を変更しますか？", validateNoArgs, b.toggleCleanMsgCommand)
	b.handleConfirmed("set_score", "ユーザーのスコアを設定",
		"スコアを設定しますか？", validateSetScore, b.setScoreCommand)
	b.handleConfirmed("set_price", "招待コードの価格を設定",
		"招待コードの価格を設定しますか？", validateSetPrice, b.setPriceCommand)
	b.handleConfirmed("delete_server_user", "メディアサーバーのユーザーを削除",
		"ユーザーを削除しますか？この操作は元に戻せません。", validateDeleteUser, b.deleteServerUserCommand)
}

// parsePositive は1以上limit以下の整数を解析する。空文字の場合はdefを返す。
func parsePositive(s string, def, limit int) (int, bool) {
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > limit {
		return 0, false
	}
	return n, true
}

func arg(req *Request, i int) string {
	if i < len(req.Args) {
		return req.Args[i]
	}
	return ""
}

func (b *Bot) generateCodeCommand(ctx context.Context, req *Request) error {
	count, ok := parsePositive(arg(req, 0), 1, maxGenerateCount)
	if !ok || len(req.Args) > 1 {
		return model.NewInvalidArgumentError(fmt.Sprintf("/generate_code [数量(1〜%d)]", maxGenerateCount))
	}
	return b.generate(ctx, req, model.CodeTypeRegister, b.cfg.InviteCodeExpireDays, count)
}

func (b *Bot) generateRenewCodeCommand(ctx context.Context, req *Request) error {
	days, okDays := parsePositive(arg(req, 0), defaultRenewDays, 3650)
	count, okCount := parsePositive(arg(req, 1), 1, maxGenerateCount)
	if !okDays || !okCount || len(req.Args) > 2 {
		return model.NewInvalidArgumentError(fmt.Sprintf("/generate_renew_code [日数] [数量(1〜%d)]", maxGenerateCount))
	}
	return b.generate(ctx, req, model.CodeTypeRenew, days, count)
}

func (b *Bot) generate(ctx context.Context, req *Request, codeType model.CodeType, days, count int) error {
	codes, err := b.codes.GenerateBatch(ctx, req.UserID, days, codeType, count)
	if err != nil {
		return err
	}

	label := "招待コード"
	if codeType == model.CodeTypeRenew {
		label = "延長コード"
	}
	lines := make([]string, 0, len(codes))
	for _, c := range codes {
		lines = append(lines, "<code>"+c.Code+"</code>")
	}
	return b.reply(ctx, req, fmt.Sprintf("%sを%d件発行しました（%d日間有効、タップでコピー）:\n%s",
		label, len(codes), days, strings.Join(lines, "\n")))
}

func (b *Bot) listAllCodesCommand(ctx context.Context, req *Request) error {
	codes, err := b.codes.ListAll(ctx, model.CodeFilter{})
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return b.reply(ctx, req, "コードはまだありません。")
	}

	pages := Paginate(codes, allCodesPageSize)
	for i, page := range pages {
		var sb strings.Builder
		fmt.Fprintf(&sb, "コード一覧 (%d/%d)\n", i+1, len(pages))
		for _, c := range page {
			used := "未使用"
			if c.IsUsed {
				used = "使用済み"
			}
			fmt.Fprintf(&sb, "<code>%s</code> [%s] %s 作成: %s 期限: %s 作成者: %d\n",
				c.Code, c.CodeType, used, c.CreateTime.Format(timeLayout), formatExpire(c), c.CreateUserID)
		}
		if err := b.reply(ctx, req, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) unusedCodesCommand(codeType model.CodeType) Handler {
	return func(ctx context.Context, req *Request) error {
		unused := false
		codes, err := b.codes.ListAll(ctx, model.CodeFilter{CodeType: &codeType, IsUsed: &unused})
		if err != nil {
			return err
		}
		if len(codes) == 0 {
			return b.reply(ctx, req, "未使用のコードはありません。")
		}

		pages := Paginate(codes, unusedCodesPageSize)
		for i, page := range pages {
			var sb strings.Builder
			fmt.Fprintf(&sb, "未使用のコード (%d/%d)\n", i+1, len(pages))
			for _, c := range page {
				fmt.Fprintf(&sb, "<code>%s</code>: %s\n", c.Code, formatExpire(c))
			}
			if err := b.reply(ctx, req, sb.String()); err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *Bot) toggleInviteSystemCommand(ctx context.Context, req *Request) error {
	enabled := b.runtime.ToggleInviteSystem()
	b.logger.Info("招待システムの状態を変更しました",
		slog.Bool("enabled", enabled),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, "招待システムを"+onOff(enabled)+"にしました。")
}

func (b *Bot) toggleCleanMsgCommand(ctx context.Context, req *Request) error {
	enabled := !b.runtime.MessageCleanerEnabled()
	var err error
	if enabled {
		err = b.cleaner.Start()
	} else {
		err = b.cleaner.Stop()
	}
	if err != nil {
		return err
	}
	b.runtime.SetMessageCleanerEnabled(enabled)

	b.logger.Info("メッセージ自動削除の状態を変更しました",
		slog.Bool("enabled", enabled),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, "メッセージ自動削除を"+onOff(enabled)+"にしました。")
}

func validateNoArgs(req *Request) error {
	if len(req.Args) != 0 {
		return model.NewInvalidArgumentError("/" + req.Command)
	}
	return nil
}

func validateSetScore(req *Request) error {
	if len(req.Args) != 2 {
		return model.NewInvalidArgumentError("/set_score TelegramID スコア")
	}
	if _, err := strconv.ParseInt(req.Args[0], 10, 64); err != nil {
		return model.NewInvalidArgumentError("/set_score TelegramID スコア")
	}
	if _, err := strconv.Atoi(req.Args[1]); err != nil {
		return model.NewInvalidArgumentError("/set_score TelegramID スコア")
	}
	return nil
}

func (b *Bot) setScoreCommand(ctx context.Context, req *Request) error {
	if err := validateSetScore(req); err != nil {
		return err
	}
	target, _ := strconv.ParseInt(req.Args[0], 10, 64)
	score, _ := strconv.Atoi(req.Args[1])

	if err := b.accounts.SetScore(ctx, target, score); err != nil {
		return err
	}
	b.logger.Info("スコアを設定しました",
		slog.Int64("telegram_id", target),
		slog.Int("score", score),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, fmt.Sprintf("ユーザー %d のスコアを %d に設定しました。", target, score))
}

func validateSetPrice(req *Request) error {
	if len(req.Args) != 1 {
		return model.NewInvalidArgumentError("/set_price 価格")
	}
	if n, err := strconv.Atoi(req.Args[0]); err != nil || n < 0 {
		return model.NewInvalidArgumentError("/set_price 価格（0以上の整数）")
	}
	return nil
}

func (b *Bot) setPriceCommand(ctx context.Context, req *Request) error {
	if err := validateSetPrice(req); err != nil {
		return err
	}
	price, _ := strconv.Atoi(req.Args[0])
	b.runtime.SetInviteCodePrice(price)

	b.logger.Info("招待コードの価格を変更しました",
		slog.Int("price", price),
		slog.Int64("admin_id", req.UserID),
	)
	return b.reply(ctx, req, fmt.Sprintf("招待コードの価格を %d に設定しました。", price))
}

func validateDeleteUser(req *Request) error {
	if len(req.Args) != 1 {
		return model.NewInvalidArgumentError("/delete_server_user TelegramID")
	}
	if _, err := strconv.ParseInt(req.Args[0], 10, 64); err != nil {
		return model.NewInvalidArgumentError("/delete_server_user TelegramID")
	}
	return nil
}

func (b *Bot) deleteServerUserCommand(ctx context.Context, req *Request) error {
	if err := validateDeleteUser(req); err != nil {
		return err
	}
	target, _ := strconv.ParseInt(req.Args[0], 10, 64)

	user, err := b.accounts.DeleteServerUser(ctx, target)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("ユーザー <code>%s</code> (%d) を削除しました。", b.escape(user.Username), target))
}

func (b *Bot) statsCommand(ctx context.Context, req *Request) error {
	stats, err := b.accounts.Stats(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("統計情報\n")
	fmt.Fprintf(&sb, "登録ユーザー数: %d\n", stats.LocalUsers)
	fmt.Fprintf(&sb, "メディアサーバーのユーザー数: %d\n", stats.ServerUsers)
	sb.WriteString("-------\n")
	fmt.Fprintf(&sb, "招待システム: %s\n", onOff(b.runtime.InviteSystemEnabled()))
	fmt.Fprintf(&sb, "メッセージ自動削除: %s\n", onOff(b.runtime.MessageCleanerEnabled()))
	fmt.Fprintf(&sb, "期限切れユーザーの自動処理: %s\n", onOff(b.runtime.ExpiredUserCleanEnabled()))
	fmt.Fprintf(&sb, "招待コードの価格: %d\n", b.runtime.InviteCodePrice())
	fmt.Fprintf(&sb, "確認待ち: %d\n", b.confirm.Len())
	if b.queue != nil {
		fmt.Fprintf(&sb, "削除待ちメッセージ: %d\n", b.queue.Len())
	}
	return b.reply(ctx, req, sb.String())
}

func onOff(enabled bool) string {
	if enabled {
		return "有効"
	}
	return "無効"
}
