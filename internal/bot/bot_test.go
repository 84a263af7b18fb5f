package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mediabot/internal/account"
	"github.com/hitoshi/mediabot/internal/config"
	"github.com/hitoshi/mediabot/internal/confirm"
	"github.com/hitoshi/mediabot/internal/invitecode"
	"github.com/hitoshi/mediabot/internal/model"
	"github.com/hitoshi/mediabot/internal/telegram"
)

// --- モック ---

type sentMessage struct {
	chatID  int64
	replyTo int
	text    string
	id      int
}

type sentButton struct {
	chatID  int64
	replyTo int
	text    string
	label   string
	data    string
	id      int
}

type sentPrompt struct {
	chatID  int64
	replyTo int
	text    string
	yes, no string
	id      int
}

type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int
	messages []sentMessage
	prompts  []sentPrompt
	buttons  []sentButton
	answers  []string
	commands map[string][]telegram.BotCommand
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000, commands: make(map[string][]telegram.BotCommand)}
}

func (m *fakeMessenger) SendHTML(_ context.Context, chatID int64, replyTo int, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages = append(m.messages, sentMessage{chatID: chatID, replyTo: replyTo, text: text, id: m.nextID})
	return m.nextID, nil
}

func (m *fakeMessenger) SendConfirmation(_ context.Context, chatID int64, replyTo int, text, yes, no string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.prompts = append(m.prompts, sentPrompt{chatID: chatID, replyTo: replyTo, text: text, yes: yes, no: no, id: m.nextID})
	return m.nextID, nil
}

func (m *fakeMessenger) SendButton(_ context.Context, chatID int64, replyTo int, text, label, data string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.buttons = append(m.buttons, sentButton{chatID: chatID, replyTo: replyTo, text: text, label: label, data: data, id: m.nextID})
	return m.nextID, nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, id)
	return nil
}

func (m *fakeMessenger) SetMyCommands(_ context.Context, cmds []telegram.BotCommand, scope *telegram.BotCommandScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "default"
	if scope != nil {
		key = fmt.Sprintf("%s:%d", scope.Type, scope.ChatID)
	}
	m.commands[key] = cmds
	return nil
}

func (m *fakeMessenger) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1].text
}

type queued struct {
	chatID int64
	msgID  int
}

type fakeQueue struct {
	mu    sync.Mutex
	items []queued
}

func (q *fakeQueue) EnqueueDefault(chatID int64, msgID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queued{chatID, msgID})
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fakeQueue) ids() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.msgID)
	}
	return out
}

type fakeCodes struct {
	generateFn func(ctx context.Context, createUserID int64, days int, codeType model.CodeType, count int) ([]*model.InviteCode, error)
	listFn     func(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error)
}

func (f *fakeCodes) GenerateBatch(ctx context.Context, createUserID int64, days int, codeType model.CodeType, count int) ([]*model.InviteCode, error) {
	return f.generateFn(ctx, createUserID, days, codeType, count)
}

func (f *fakeCodes) ListAll(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error) {
	return f.listFn(ctx, filter)
}

type fakeAccounts struct {
	registerFn func(ctx context.Context, telegramID int64, username, code string) (*account.Registration, error)
	renewFn    func(ctx context.Context, telegramID int64, code string) (*model.User, error)
	infoFn     func(ctx context.Context, telegramID int64) (*model.User, error)
	setScoreFn func(ctx context.Context, telegramID int64, score int) error
	deleteFn   func(ctx context.Context, telegramID int64) (*model.User, error)
	statsFn    func(ctx context.Context) (account.Stats, error)

	listExpiredFn  func(ctx context.Context) ([]*model.User, error)
	listExpiringFn func(ctx context.Context, days int) ([]*model.User, error)
	expireFn       func(ctx context.Context) (account.ExpiryResult, error)
	blockFn        func(ctx context.Context, target string) (*model.User, error)
	unblockFn      func(ctx context.Context, target string) (*model.User, error)
	serverFn       func(ctx context.Context, telegramID int64, disabled bool) (*model.User, error)
	listBlockedFn  func(ctx context.Context) ([]*model.User, error)
}

func (f *fakeAccounts) Register(ctx context.Context, id int64, username, code string) (*account.Registration, error) {
	return f.registerFn(ctx, id, username, code)
}

func (f *fakeAccounts) Renew(ctx context.Context, id int64, code string) (*model.User, error) {
	return f.renewFn(ctx, id, code)
}

func (f *fakeAccounts) Info(ctx context.Context, id int64) (*model.User, error) {
	return f.infoFn(ctx, id)
}

func (f *fakeAccounts) SetScore(ctx context.Context, id int64, score int) error {
	return f.setScoreFn(ctx, id, score)
}

func (f *fakeAccounts) DeleteServerUser(ctx context.Context, id int64) (*model.User, error) {
	return f.deleteFn(ctx, id)
}

func (f *fakeAccounts) Stats(ctx context.Context) (account.Stats, error) {
	return f.statsFn(ctx)
}

func (f *fakeAccounts) ListExpired(ctx context.Context) ([]*model.User, error) {
	return f.listExpiredFn(ctx)
}

func (f *fakeAccounts) ListExpiring(ctx context.Context, days int) ([]*model.User, error) {
	return f.listExpiringFn(ctx, days)
}

func (f *fakeAccounts) ExpireUsers(ctx context.Context) (account.ExpiryResult, error) {
	return f.expireFn(ctx)
}

func (f *fakeAccounts) Block(ctx context.Context, target string) (*model.User, error) {
	return f.blockFn(ctx, target)
}

func (f *fakeAccounts) Unblock(ctx context.Context, target string) (*model.User, error) {
	return f.unblockFn(ctx, target)
}

func (f *fakeAccounts) SetServerUserDisabled(ctx context.Context, id int64, disabled bool) (*model.User, error) {
	return f.serverFn(ctx, id, disabled)
}

func (f *fakeAccounts) ListBlocked(ctx context.Context) ([]*model.User, error) {
	return f.listBlockedFn(ctx)
}

type fakeCleaner struct {
	starts, stops int
}

func (c *fakeCleaner) Start() error { c.starts++; return nil }
func (c *fakeCleaner) Stop() error  { c.stops++; return nil }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

const (
	adminID = int64(1)
	userID  = int64(42)
)

type testEnv struct {
	bot       *Bot
	messenger *fakeMessenger
	queue     *fakeQueue
	runtime   *config.Runtime
	codes     *fakeCodes
	accounts  *fakeAccounts
	cleaner   *fakeCleaner
	expirer   *fakeCleaner
	confirm   *confirm.Manager
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		AdminIDs:                []int64{adminID},
		InviteCodeExpireDays:    7,
		InviteCodeSystemEnabled: true,
		EnableMessageCleaner:    true,
		InviteCodePrice:         100,
		ExpiringNoticeDays:      3,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		messenger: newFakeMessenger(),
		queue:     &fakeQueue{},
		runtime:   config.NewRuntime(cfg),
		codes:     &fakeCodes{},
		accounts:  &fakeAccounts{},
		cleaner:   &fakeCleaner{},
		expirer:   &fakeCleaner{},
	}
	env.confirm = confirm.NewManager(env.messenger, confirm.Options{
		Enqueuer:       env.queue,
		CleanupEnabled: env.runtime.MessageCleanerEnabled,
	}, logger, nil)
	t.Cleanup(env.confirm.Close)

	deps := Deps{
		Config:    cfg,
		Runtime:   env.runtime,
		Messenger: env.messenger,
		Codes:     env.codes,
		Accounts:  env.accounts,
		Confirm:   env.confirm,
		Queue:     env.queue,
		Cleaner:   env.cleaner,
		Expirer:   env.expirer,
		Logger:    logger,
	}
	for _, m := range mutate {
		m(&deps)
	}
	env.bot = New(deps)
	return env
}

func message(chatID, fromID int64, msgID int, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		MessageID: msgID,
		From:      &telegram.User{ID: fromID},
		Chat:      &telegram.Chat{ID: chatID, Type: telegram.ChatTypePrivate},
		Text:      text,
	}}
}

func callback(chatID, fromID int64, promptID int, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      fmt.Sprintf("cb-%d", promptID),
		From:    &telegram.User{ID: fromID},
		Message: &telegram.Message{MessageID: promptID, Chat: &telegram.Chat{ID: chatID, Type: telegram.ChatTypePrivate}},
		Data:    data,
	}}
}

// --- テスト ---

func TestHandleUpdate_IgnoresNonCommandsAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.bot.HandleUpdate(ctx, message(userID, userID, 1, "hello"))
	env.bot.HandleUpdate(ctx, message(userID, userID, 2, "/unknown"))

	assert.Empty(t, env.messenger.messages)
	assert.Empty(t, env.queue.items)
}

func TestRegister_Success_EnqueuesCommandAndReply(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.registerFn = func(_ context.Context, id int64, username, code string) (*account.Registration, error) {
		assert.Equal(t, userID, id)
		assert.Equal(t, "alice", username)
		assert.Equal(t, "AbC12345", code)
		return &account.Registration{User: &model.User{Username: username}, Password: "pw123"}, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/register@MediaBot alice AbC12345"))

	require.Len(t, env.messenger.messages, 1)
	reply := env.messenger.messages[0]
	assert.Equal(t, 10, reply.replyTo)
	assert.Contains(t, reply.text, "<code>alice</code>")
	assert.Contains(t, reply.text, "<code>pw123</code>")
	assert.ElementsMatch(t, []int{10, reply.id}, env.queue.ids())
}

func TestRegister_CleanerDisabled_DoesNotEnqueue(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.SetMessageCleanerEnabled(false)
	env.accounts.registerFn = func(context.Context, int64, string, string) (*account.Registration, error) {
		return &account.Registration{User: &model.User{Username: "alice"}, Password: "pw"}, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/register alice CODE"))

	assert.Len(t, env.messenger.messages, 1)
	assert.Empty(t, env.queue.items)
}

func TestRegister_InviteSystemOff(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.ToggleInviteSystem()
	env.accounts.registerFn = func(context.Context, int64, string, string) (*account.Registration, error) {
		t.Fatal("Register must not be called while the invite system is off")
		return nil, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/register alice CODE"))

	assert.Contains(t, env.messenger.lastText(), model.NewInviteSystemOffError().Message)
}

func TestRegister_MapsRedemptionErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{invitecode.ErrCodeNotFound, model.NewInviteNotFoundError().Message},
		{invitecode.ErrCodeExpired, model.NewInviteExpiredError().Message},
		{invitecode.ErrCodeAlreadyUsed, model.NewInviteUsedError().Message},
		{invitecode.ErrCodeWrongType, model.NewInviteWrongTypeError(model.CodeTypeRegister).Message},
		{account.ErrUsernameTaken, model.NewUsernameTakenError().Message},
		{account.ErrAlreadyRegistered, model.NewUserExistsError().Message},
		{fmt.Errorf("wrapped: %w", account.ErrServerUnavailable), "メディアサーバーとの通信に失敗しました"},
		{errors.New("db is down"), model.NewInternalError().Message},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t)
			env.accounts.registerFn = func(context.Context, int64, string, string) (*account.Registration, error) {
				return nil, tt.err
			}

			env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/register alice CODE"))

			assert.Contains(t, env.messenger.lastText(), tt.want)
		})
	}
}

func TestRegister_WrongArgCount(t *testing.T) {
	env := newTestEnv(t)

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/register alice"))

	text := env.messenger.lastText()
	assert.Contains(t, text, "引数が正しくありません")
	assert.Contains(t, text, "/register ユーザー名 招待コード")
}

func TestPrivateChatOnly_IgnoresGroups(t *testing.T) {
	env := newTestEnv(t)
	u := message(-100, userID, 10, "/info")
	u.Message.Chat.Type = telegram.ChatTypeSupergroup

	env.bot.HandleUpdate(context.Background(), u)

	assert.Empty(t, env.messenger.messages)
}

func TestAdminRequired_RejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.codes.generateFn = func(context.Context, int64, int, model.CodeType, int) ([]*model.InviteCode, error) {
		t.Fatal("GenerateBatch must not be called for non-admins")
		return nil, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/generate_code 3"))

	assert.Contains(t, env.messenger.lastText(), model.NewPermissionDeniedError().Message)
}

func TestRateLimit_DropsSilently(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Limiter = denyAll{} })
	env.accounts.infoFn = func(context.Context, int64) (*model.User, error) {
		t.Fatal("Info must not be called when rate limited")
		return nil, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/info"))

	assert.Empty(t, env.messenger.messages)
}

func TestRecover_ReplacesPanicWithInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.infoFn = func(context.Context, int64) (*model.User, error) {
		panic("nil map")
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/info"))

	assert.Contains(t, env.messenger.lastText(), model.NewInternalError().Message)
}

func TestGenerateCode_ParsesCount(t *testing.T) {
	env := newTestEnv(t)
	env.codes.generateFn = func(_ context.Context, createUserID int64, days int, codeType model.CodeType, count int) ([]*model.InviteCode, error) {
		assert.Equal(t, adminID, createUserID)
		assert.Equal(t, 7, days)
		assert.Equal(t, model.CodeTypeRegister, codeType)
		codes := make([]*model.InviteCode, count)
		for i := range codes {
			codes[i] = &model.InviteCode{Code: fmt.Sprintf("CODE%d", i)}
		}
		return codes, nil
	}

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/generate_code 3"))

	text := env.messenger.lastText()
	assert.Contains(t, text, "3件")
	assert.Contains(t, text, "<code>CODE2</code>")
}

func TestGenerateRenewCode_DefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	var gotDays, gotCount int
	env.codes.generateFn = func(_ context.Context, _ int64, days int, codeType model.CodeType, count int) ([]*model.InviteCode, error) {
		assert.Equal(t, model.CodeTypeRenew, codeType)
		gotDays, gotCount = days, count
		return []*model.InviteCode{{Code: "R"}}, nil
	}

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/generate_renew_code"))
	assert.Equal(t, defaultRenewDays, gotDays)
	assert.Equal(t, 1, gotCount)

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 11, "/generate_renew_code 0 5"))
	assert.Contains(t, env.messenger.lastText(), "引数が正しくありません")
}

func TestUnusedCodes_Paginates(t *testing.T) {
	env := newTestEnv(t)
	env.codes.listFn = func(_ context.Context, filter model.CodeFilter) ([]*model.InviteCode, error) {
		require.NotNil(t, filter.CodeType)
		require.NotNil(t, filter.IsUsed)
		assert.Equal(t, model.CodeTypeRenew, *filter.CodeType)
		assert.False(t, *filter.IsUsed)
		codes := make([]*model.InviteCode, 120)
		for i := range codes {
			codes[i] = &model.InviteCode{Code: fmt.Sprintf("C%03d", i), CreateTime: time.Now(), ExpireDays: 1}
		}
		return codes, nil
	}

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/unused_renew_codes"))

	require.Len(t, env.messenger.messages, 3)
	assert.Contains(t, env.messenger.messages[0].text, "(1/3)")
	assert.Contains(t, env.messenger.messages[2].text, "C119")
}

func TestToggleInviteSystem(t *testing.T) {
	env := newTestEnv(t)

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/toggle_invite_code_system"))

	assert.False(t, env.runtime.InviteSystemEnabled())
	assert.Contains(t, env.messenger.lastText(), "無効")
}

func TestSetPrice_RequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/set_price 250"))

	require.Len(t, env.messenger.prompts, 1)
	assert.Equal(t, 100, env.runtime.InviteCodePrice(), "price must not change before confirmation")
	assert.Empty(t, env.queue.items, "pending command message must not be enqueued yet")

	prompt := env.messenger.prompts[0]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, prompt.id, prompt.yes))

	assert.Equal(t, 250, env.runtime.InviteCodePrice())
	assert.Contains(t, env.messenger.lastText(), "250")
	reply := env.messenger.messages[len(env.messenger.messages)-1]
	assert.ElementsMatch(t, []int{prompt.id, 10, reply.id}, env.queue.ids())
}

func TestSetPrice_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/set_price 250"))
	prompt := env.messenger.prompts[0]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, prompt.id, prompt.no))

	assert.Equal(t, 100, env.runtime.InviteCodePrice())
	assert.Empty(t, env.messenger.messages)
	assert.Equal(t, 0, env.confirm.Len())
}

func TestSetPrice_InvalidArgsRejectedBeforePrompt(t *testing.T) {
	env := newTestEnv(t)

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/set_price abc"))

	assert.Empty(t, env.messenger.prompts)
	assert.Contains(t, env.messenger.lastText(), "/set_price")
}

func TestConfirmation_NewerRequestOverridesOlder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/set_price 1"))
	env.bot.HandleUpdate(ctx, message(adminID, adminID, 11, "/set_price 2"))
	require.Len(t, env.messenger.prompts, 2)
	first, second := env.messenger.prompts[0], env.messenger.prompts[1]

	env.bot.HandleUpdate(ctx, callback(adminID, adminID, first.id, first.yes))
	assert.Equal(t, 100, env.runtime.InviteCodePrice(), "stale prompt must not run")

	env.bot.HandleUpdate(ctx, callback(adminID, adminID, second.id, second.yes))
	assert.Equal(t, 2, env.runtime.InviteCodePrice())
}

func TestSetScore_ConfirmedErrorIsReplied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accounts.setScoreFn = func(_ context.Context, id int64, score int) error {
		assert.Equal(t, int64(77), id)
		assert.Equal(t, 500, score)
		return account.ErrUserNotFound
	}

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/set_score 77 500"))
	prompt := env.messenger.prompts[0]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, prompt.id, prompt.yes))

	assert.Contains(t, env.messenger.lastText(), model.NewUserNotFoundError().Message)
}

func TestToggleCleanMsgSystem_StopsAndStartsCleaner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/toggle_clean_msg_system"))
	p := env.messenger.prompts[0]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, p.id, p.yes))

	assert.False(t, env.runtime.MessageCleanerEnabled())
	assert.Equal(t, 1, env.cleaner.stops)

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 11, "/toggle_clean_msg_system"))
	p = env.messenger.prompts[1]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, p.id, p.yes))

	assert.True(t, env.runtime.MessageCleanerEnabled())
	assert.Equal(t, 1, env.cleaner.starts)
}

func TestDeleteServerUser_Confirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accounts.deleteFn = func(_ context.Context, id int64) (*model.User, error) {
		return &model.User{TelegramID: id, Username: "<b>bob</b>"}, nil
	}

	env.bot.HandleUpdate(ctx, message(adminID, adminID, 10, "/delete_server_user 77"))
	p := env.messenger.prompts[0]
	env.bot.HandleUpdate(ctx, callback(adminID, adminID, p.id, p.yes))

	text := env.messenger.lastText()
	assert.Contains(t, text, "<code>bob</code>")
	assert.NotContains(t, text, "<b>")
}

func TestCallback_NonConfirmDataIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	env.bot.HandleUpdate(context.Background(), callback(adminID, adminID, 5, "page_2"))

	assert.Equal(t, []string{"cb-5"}, env.messenger.answers)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.statsFn = func(context.Context) (account.Stats, error) {
		return account.Stats{LocalUsers: 3, ServerUsers: 9}, nil
	}

	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 10, "/stats"))

	text := env.messenger.lastText()
	assert.Contains(t, text, "登録ユーザー数: 3")
	assert.Contains(t, text, "メディアサーバーのユーザー数: 9")
	assert.Contains(t, text, "招待コードの価格: 100")
}

func TestInfo_ShowsUnlimitedExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.infoFn = func(context.Context, int64) (*model.User, error) {
		return &model.User{Username: "alice", Score: 5, Status: model.UserStatusActive}, nil
	}

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/info"))

	text := env.messenger.lastText()
	assert.Contains(t, text, "無期限")
	assert.Contains(t, text, "スコア: 5")
}

func TestPublishCommands(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.bot.PublishCommands(context.Background(), env.messenger))

	names := func(cmds []telegram.BotCommand) []string {
		out := make([]string, len(cmds))
		for i, c := range cmds {
			out[i] = c.Command
		}
		return out
	}
	userCmds := names(env.messenger.commands["default"])
	adminCmds := names(env.messenger.commands[fmt.Sprintf("chat:%d", adminID)])

	assert.Equal(t, []string{"info", "register", "start", "use_renew_code"}, userCmds)
	assert.Contains(t, adminCmds, "set_score")
	assert.Equal(t, userCmds, adminCmds[:len(userCmds)], "user commands are listed first")
}

func TestStart_HidesAdminCommandsFromUsers(t *testing.T) {
	env := newTestEnv(t)

	env.bot.HandleUpdate(context.Background(), message(userID, userID, 10, "/start"))
	userText := env.messenger.lastText()
	env.bot.HandleUpdate(context.Background(), message(adminID, adminID, 11, "/start"))
	adminText := env.messenger.lastText()

	assert.NotContains(t, userText, "/set_score")
	assert.True(t, strings.Contains(adminText, "/set_score"))
}
