// Package bot はTelegramのコマンドを受け取り、ガードを通したうえで各サービスを呼び出す。
package bot

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/hitoshi/mediabot/internal/account"
	"github.com/hitoshi/mediabot/internal/config"
	"github.com/hitoshi/mediabot/internal/confirm"
	"github.com/hitoshi/mediabot/internal/model"
	"github.com/hitoshi/mediabot/internal/security"
	"github.com/hitoshi/mediabot/internal/telegram"
)

// Messenger はチャットへの送信を行うインターフェース。
type Messenger interface {
	SendHTML(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	SendButton(ctx context.Context, chatID int64, replyTo int, text, buttonText, data string) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// CommandPublisher はコマンドメニューを設定するインターフェース。
type CommandPublisher interface {
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand, scope *telegram.BotCommandScope) error
}

// CodeService は招待コードの発行と一覧のインターフェース。
type CodeService interface {
	GenerateBatch(ctx context.Context, createUserID int64, expireDays int, codeType model.CodeType, count int) ([]*model.InviteCode, error)
	ListAll(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error)
}

// AccountService はアカウント操作のインターフェース。
type AccountService interface {
	Register(ctx context.Context, telegramID int64, username, code string) (*account.Registration, error)
	Renew(ctx context.Context, telegramID int64, code string) (*model.User, error)
	Info(ctx context.Context, telegramID int64) (*model.User, error)
	SetScore(ctx context.Context, telegramID int64, score int) error
	DeleteServerUser(ctx context.Context, telegramID int64) (*model.User, error)
	Stats(ctx context.Context) (account.Stats, error)

	ListExpired(ctx context.Context) ([]*model.User, error)
	ListExpiring(ctx context.Context, days int) ([]*model.User, error)
	ExpireUsers(ctx context.Context) (account.ExpiryResult, error)
	Block(ctx context.Context, target string) (*model.User, error)
	Unblock(ctx context.Context, target string) (*model.User, error)
	SetServerUserDisabled(ctx context.Context, telegramID int64, disabled bool) (*model.User, error)
	ListBlocked(ctx context.Context) ([]*model.User, error)
}

// CleanerControl は定期ジョブの開始と停止のインターフェース。
type CleanerControl interface {
	Start() error
	Stop() error
}

// Enqueuer はメッセージを遅延削除キューに積むインターフェース。
type Enqueuer interface {
	EnqueueDefault(targetID int64, actionID int)
	Len() int
}

// ChatLimiter はチャットごとのレート制限のインターフェース。
type ChatLimiter interface {
	Allow(key string) bool
}

// Deps はBotの依存関係。
type Deps struct {
	Config    *config.Config
	Runtime   *config.Runtime
	Messenger Messenger
	Codes     CodeService
	Accounts  AccountService
	Confirm   *confirm.Manager
	Queue     Enqueuer
	Cleaner   CleanerControl
	Expirer   CleanerControl
	Limiter   ChatLimiter
	Logger    *slog.Logger
}

type route struct {
	name        string
	description string
	admin       bool
	handler     Handler
}

type callbackRoute struct {
	prefix  string
	handler Handler
}

// Bot はコマンドのルーティングとガードの適用を行う。
type Bot struct {
	cfg       *config.Config
	runtime   *config.Runtime
	messenger Messenger
	codes     CodeService
	accounts  AccountService
	confirm   *confirm.Manager
	queue     Enqueuer
	cleaner   CleanerControl
	expirer   CleanerControl
	limiter   ChatLimiter
	logger    *slog.Logger
	sanitizer security.Sanitizer

	routes    map[string]*route
	callbacks []callbackRoute
}

// New はBotを生成し、すべてのコマンドを登録する。
func New(deps Deps) *Bot {
	b := &Bot{
		cfg:       deps.Config,
		runtime:   deps.Runtime,
		messenger: deps.Messenger,
		codes:     deps.Codes,
		accounts:  deps.Accounts,
		confirm:   deps.Confirm,
		queue:     deps.Queue,
		cleaner:   deps.Cleaner,
		expirer:   deps.Expirer,
		limiter:   deps.Limiter,
		logger:    deps.Logger,
		sanitizer: security.NewTelegramSanitizer(),
		routes:    make(map[string]*route),
	}
	b.registerUserCommands()
	b.registerAdminCommands()
	b.registerUserAdminCommands()
	return b
}

// handle はコマンドを登録する。共通のガードの後にmwsを適用する。
// 確認が必要なコマンドは、確認後に実行するハンドラを確認マネージャーにも登録する。
func (b *Bot) handle(name, description string, admin bool, h Handler, mws ...Middleware) {
	chain := []Middleware{b.Recover(), b.PrivateChatOnly(), b.Cleanup(), b.RateLimit()}
	if admin {
		chain = append(chain, b.AdminRequired())
	}
	chain = append(chain, mws...)

	b.routes[name] = &route{
		name:        name,
		description: description,
		admin:       admin,
		handler:     Chain(h, chain...),
	}
}

// handleConfirmed は確認が必要なコマンドを登録する。
// validateは確認を求める前に実行され、確認後はhのみが実行される。
func (b *Bot) handleConfirmed(name, description, prompt string, validate func(*Request) error, h Handler) {
	b.handle(name, description, true, h, Validate(validate), b.Confirmation(prompt))

	replay := Chain(h, b.Recover())
	b.confirm.Register(name, func(ctx context.Context, cmd confirm.Command) error {
		req := requestFromCommand(cmd)
		err := replay(ctx, req)
		if err != nil {
			b.replyError(ctx, req, err)
		}
		return err
	})
}

// handleCallbackPrefix はprefixで始まるボタンのコールバックを登録する。
// ボタンは管理者向けのメッセージにのみ付けるため、常に管理者権限を要求する。
func (b *Bot) handleCallbackPrefix(prefix string, h Handler) {
	b.callbacks = append(b.callbacks, callbackRoute{
		prefix:  prefix,
		handler: Chain(h, b.Recover(), b.PrivateChatOnly(), b.RateLimit(), b.AdminRequired()),
	})
}

// HandleUpdate はTelegramの更新を1件処理する。
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	req := requestFromMessage(msg)
	if req == nil {
		return
	}
	r, ok := b.routes[req.Command]
	if !ok {
		b.logger.Debug("未登録のコマンドを無視しました",
			slog.String("command", req.Command),
			slog.Int64("chat_id", req.ChatID),
		)
		return
	}

	if err := r.handler(ctx, req); err != nil {
		b.replyError(ctx, req, err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	if !strings.HasPrefix(cq.Data, confirm.TokenPrefix) {
		if err := b.messenger.AnswerCallback(ctx, cq.ID, ""); err != nil {
			b.logger.Warn("コールバックへの応答に失敗しました", slog.String("error", err.Error()))
		}
		b.dispatchCallback(ctx, cq)
		return
	}

	cb := confirm.Callback{
		ID:   cq.ID,
		Data: cq.Data,
	}
	if cq.From != nil {
		cb.UserID = cq.From.ID
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		cb.ChatID = cq.Message.Chat.ID
		cb.MessageID = cq.Message.MessageID
	}

	outcome, err := b.confirm.Resolve(ctx, cb)
	if err != nil {
		b.logger.Warn("確認応答の処理でエラーが発生しました",
			slog.String("outcome", string(outcome)),
			slog.Int64("user_id", cb.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// dispatchCallback は登録済みのプレフィックスに一致するボタンのハンドラを実行する。
func (b *Bot) dispatchCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	i := slices.IndexFunc(b.callbacks, func(c callbackRoute) bool {
		return strings.HasPrefix(cq.Data, c.prefix)
	})
	if i < 0 {
		return
	}
	route := b.callbacks[i]
	req := requestFromCallback(cq, route.prefix)
	if req == nil {
		return
	}
	if err := route.handler(ctx, req); err != nil {
		b.replyError(ctx, req, err)
	}
}

// PublishCommands はコマンドメニューを設定する。
// 全員には一般コマンドを、管理者のチャットには管理者コマンドを含めた一覧を表示する。
func (b *Bot) PublishCommands(ctx context.Context, publisher CommandPublisher) error {
	var userCmds, allCmds []telegram.BotCommand
	for _, r := range b.sortedRoutes() {
		cmd := telegram.BotCommand{Command: r.name, Description: r.description}
		allCmds = append(allCmds, cmd)
		if !r.admin {
			userCmds = append(userCmds, cmd)
		}
	}

	if err := publisher.SetMyCommands(ctx, userCmds, nil); err != nil {
		return err
	}
	for _, id := range b.cfg.AdminIDs {
		if err := publisher.SetMyCommands(ctx, allCmds, telegram.NewChatScope(id)); err != nil {
			b.logger.Warn("管理者のコマンドメニュー設定に失敗しました",
				slog.Int64("admin_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (b *Bot) sortedRoutes() []*route {
	routes := make([]*route, 0, len(b.routes))
	for _, r := range b.routes {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].admin != routes[j].admin {
			return !routes[i].admin
		}
		return routes[i].name < routes[j].name
	})
	return routes
}

// reply はHTML形式で返信し、自動削除が有効なら返信も削除キューに積む。
// Telegramが解釈できないタグは送信前に取り除く。
func (b *Bot) reply(ctx context.Context, req *Request, text string) error {
	id, err := b.messenger.SendHTML(ctx, req.ChatID, req.MessageID, b.sanitizer.Sanitize(text))
	if err != nil {
		return err
	}
	b.enqueue(req.ChatID, id)
	return nil
}

// replyWithButton はボタン付きで返信する。返信は削除キューに積む。
func (b *Bot) replyWithButton(ctx context.Context, req *Request, text, buttonText, data string) error {
	id, err := b.messenger.SendButton(ctx, req.ChatID, req.MessageID, b.sanitizer.Sanitize(text), buttonText, data)
	if err != nil {
		return err
	}
	b.enqueue(req.ChatID, id)
	return nil
}

// replyError はエラーをユーザー向けの文面に変換して返信する。
func (b *Bot) replyError(ctx context.Context, req *Request, err error) {
	botErr := b.toBotError(req, err)
	if sendErr := b.reply(ctx, req, html.EscapeString(botErr.Reply())); sendErr != nil {
		b.logger.Error("エラーの返信に失敗しました",
			slog.Int64("chat_id", req.ChatID),
			slog.String("error", sendErr.Error()),
		)
	}
}

// toBotError はハンドラのエラーをBotErrorに変換する。想定外のエラーはログに記録する。
func (b *Bot) toBotError(req *Request, err error) *model.BotError {
	var botErr *model.BotError
	switch {
	case errors.As(err, &botErr):
		return botErr
	case errors.Is(err, account.ErrAlreadyRegistered):
		return model.NewUserExistsError()
	case errors.Is(err, account.ErrInvalidUsername):
		return model.NewInvalidArgumentError("ユーザー名は英数字と_で3〜32文字にしてください")
	case errors.Is(err, account.ErrUsernameTaken):
		return model.NewUsernameTakenError()
	case errors.Is(err, account.ErrUserNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, account.ErrNoServerAccount):
		return model.NewNoServerAccountError()
	case errors.Is(err, account.ErrUserBlocked):
		return model.NewUserBlockedError()
	case errors.Is(err, account.ErrServerUnavailable):
		b.logger.Error("メディアサーバーの呼び出しに失敗しました",
			slog.String("command", req.Command),
			slog.String("error", err.Error()),
		)
		return model.NewServerUnavailableError("時間をおいて再度お試しください")
	}

	b.logger.Error("コマンドの処理に失敗しました",
		slog.String("command", req.Command),
		slog.Int64("chat_id", req.ChatID),
		slog.String("error", err.Error()),
	)
	return model.NewInternalError()
}

func (b *Bot) enqueue(chatID int64, messageID int) {
	if b.queue == nil || messageID == 0 || !b.runtime.MessageCleanerEnabled() {
		return
	}
	b.queue.EnqueueDefault(chatID, messageID)
}

// escape はユーザー入力からタグを取り除き、HTMLとして安全な文字列にする。
func (b *Bot) escape(s string) string {
	return b.sanitizer.StripTags(s)
}
