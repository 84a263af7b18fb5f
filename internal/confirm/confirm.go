// Package confirm は破壊的な管理者コマンドの実行前に「はい/いいえ」の確認を挟む。
// 確認待ちのコマンドは会話（チャットID）ごとに1件だけ保持され、
// 新しい確認要求は同じ会話の古い要求を上書きする。
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/hitoshi/mediabot/internal/metrics"
)

const (
	// TokenPrefix は確認ボタンのコールバックデータの共通接頭辞。
	TokenPrefix = "confirm_"
	yesPrefix   = TokenPrefix + "yes_"
	noPrefix    = TokenPrefix + "no_"
)

var (
	// ErrInvalidToken はコールバックデータが確認トークンの形式でない場合に返される。
	ErrInvalidToken = errors.New("invalid confirmation token")
	// ErrUnknownCommand は確認されたコマンドに対応するExecutorが登録されていない場合に返される。
	ErrUnknownCommand = errors.New("no executor registered for command")
)

// Outcome は確認応答の処理結果。
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeStale は対応する確認待ちが存在しないか、古いプロンプトへの応答だったことを表す。
	OutcomeStale   Outcome = "stale"
	OutcomeInvalid Outcome = "invalid"
)

// Command は確認後に再実行されるコマンド。
// クロージャではなく値として保持するため、内容を検査できる。
type Command struct {
	Name      string
	Args      []string
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
}

// Executor は確認されたコマンドを実行する関数。
type Executor func(ctx context.Context, cmd Command) error

// Callback は確認ボタン押下の通知。
type Callback struct {
	ID        string
	ChatID    int64
	UserID    int64
	MessageID int
	Data      string
}

// Prompter は確認プロンプトの送信とボタン応答を行うインターフェース。
type Prompter interface {
	// SendConfirmation ははい/いいえボタン付きのメッセージを送信し、そのメッセージIDを返す。
	SendConfirmation(ctx context.Context, chatID int64, replyTo int, text, yesData, noData string) (int, error)
	// AnswerCallback はボタン押下に応答する。
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Enqueuer は処理済みメッセージを遅延削除キューに積むインターフェース。
type Enqueuer interface {
	EnqueueDefault(targetID int64, actionID int)
}

type pending struct {
	cmd   Command
	nonce string
}

// Options はManagerの設定。
type Options struct {
	// TTL は確認待ちの保持期間。0の場合は期限なし。
	TTL time.Duration
	// Enqueuer が設定され CleanupEnabled がtrueを返す場合、
	// 解決済みの確認に関するメッセージを遅延削除キューに積む。
	Enqueuer       Enqueuer
	CleanupEnabled func() bool
}

// Manager は確認待ちコマンドの表と、コマンド名からExecutorへの対応を保持する。
type Manager struct {
	prompter Prompter
	opts     Options
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	cache *ttlcache.Cache[int64, *pending]

	// resolveMu は「取得して削除」を1回の操作にする
	resolveMu sync.Mutex

	execMu    sync.RWMutex
	executors map[string]Executor
}

// NewManager はManagerを生成し、期限切れエントリの掃除を開始する。
// 不要になったらCloseを呼ぶこと。
func NewManager(prompter Prompter, opts Options, logger *slog.Logger, mc metrics.MetricsCollector) *Manager {
	if mc == nil {
		mc = metrics.Noop{}
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[int64, *pending](opts.TTL),
		ttlcache.WithDisableTouchOnHit[int64, *pending](),
	)
	go cache.Start()

	return &Manager{
		prompter:  prompter,
		opts:      opts,
		logger:    logger,
		metrics:   mc,
		cache:     cache,
		executors: make(map[string]Executor),
	}
}

// Close は期限切れエントリの掃除を停止する。
func (m *Manager) Close() {
	m.cache.Stop()
}

// Register はコマンド名に対応するExecutorを登録する。
func (m *Manager) Register(name string, exec Executor) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	m.executors[name] = exec
}

// Request は確認待ちを登録し、はい/いいえのプロンプトを送信する。
// 同じ会話に確認待ちがあれば上書きする。応答を待たずに返る。
func (m *Manager) Request(ctx context.Context, prompt string, cmd Command) error {
	nonce := uuid.NewString()[:8]
	p := &pending{cmd: cmd, nonce: nonce}

	m.resolveMu.Lock()
	m.cache.Set(cmd.ChatID, p, ttlcache.DefaultTTL)
	m.resolveMu.Unlock()

	yes, no := Tokens(cmd.ChatID, nonce)
	if _, err := m.prompter.SendConfirmation(ctx, cmd.ChatID, cmd.MessageID, prompt, yes, no); err != nil {
		m.resolveMu.Lock()
		if item := m.cache.Get(cmd.ChatID); item != nil && item.Value() == p {
			m.cache.Delete(cmd.ChatID)
		}
		m.resolveMu.Unlock()
		return fmt.Errorf("failed to send confirmation prompt: %w", err)
	}

	m.logger.Info("確認待ちを登録しました",
		slog.Int64("chat_id", cmd.ChatID),
		slog.Int64("user_id", cmd.UserID),
		slog.String("command", cmd.Name),
	)
	return nil
}

// Resolve は確認ボタンの応答を処理する。
// 「はい」なら保持していたコマンドを実行し、「いいえ」なら破棄する。どちらの場合も確認待ちは削除される。
// 確認待ちが無い場合や古いプロンプトへの応答は何もしない（OutcomeStale）。
// コールバックには常に応答する。
func (m *Manager) Resolve(ctx context.Context, cb Callback) (Outcome, error) {
	confirmed, key, nonce, err := ParseToken(cb.Data)
	if err != nil {
		m.answer(ctx, cb.ID, "不正な操作です。")
		m.metrics.RecordConfirmation(string(OutcomeInvalid))
		return OutcomeInvalid, err
	}

	p := m.take(key, nonce)
	m.enqueueCleanup(cb.ChatID, cb.MessageID)

	if p == nil {
		m.answer(ctx, cb.ID, "この確認は無効になっています。")
		m.metrics.RecordConfirmation(string(OutcomeStale))
		m.logger.Info("無効な確認応答を無視しました",
			slog.Int64("chat_id", key),
			slog.Int64("user_id", cb.UserID),
		)
		return OutcomeStale, nil
	}
	m.enqueueCleanup(p.cmd.ChatID, p.cmd.MessageID)

	if !confirmed {
		m.answer(ctx, cb.ID, "キャンセルしました。")
		m.metrics.RecordConfirmation(string(OutcomeCancelled))
		m.logger.Info("確認待ちのコマンドがキャンセルされました",
			slog.Int64("chat_id", key),
			slog.String("command", p.cmd.Name),
		)
		return OutcomeCancelled, nil
	}

	m.answer(ctx, cb.ID, "実行します。")
	m.metrics.RecordConfirmation(string(OutcomeConfirmed))

	m.execMu.RLock()
	exec, ok := m.executors[p.cmd.Name]
	m.execMu.RUnlock()
	if !ok {
		return OutcomeConfirmed, fmt.Errorf("%w: %s", ErrUnknownCommand, p.cmd.Name)
	}

	m.logger.Info("確認されたコマンドを実行します",
		slog.Int64("chat_id", key),
		slog.String("command", p.cmd.Name),
	)
	if err := exec(ctx, p.cmd); err != nil {
		return OutcomeConfirmed, fmt.Errorf("confirmed command %s failed: %w", p.cmd.Name, err)
	}
	return OutcomeConfirmed, nil
}

// Pending は会話の確認待ちコマンドを返す。
func (m *Manager) Pending(chatID int64) (Command, bool) {
	item := m.cache.Get(chatID)
	if item == nil {
		return Command{}, false
	}
	return item.Value().cmd, true
}

// Len は確認待ちの件数を返す。
func (m *Manager) Len() int {
	return m.cache.Len()
}

// take はnonceが一致する確認待ちを取り出して削除する。一致しなければnilを返す。
func (m *Manager) take(key int64, nonce string) *pending {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	item := m.cache.Get(key)
	if item == nil || item.Value().nonce != nonce {
		return nil
	}
	m.cache.Delete(key)
	return item.Value()
}

func (m *Manager) answer(ctx context.Context, callbackID, text string) {
	if err := m.prompter.AnswerCallback(ctx, callbackID, text); err != nil {
		m.logger.Warn("コールバックへの応答に失敗しました",
			slog.String("callback_id", callbackID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) enqueueCleanup(chatID int64, messageID int) {
	if m.opts.Enqueuer == nil || messageID == 0 {
		return
	}
	if m.opts.CleanupEnabled != nil && !m.opts.CleanupEnabled() {
		return
	}
	m.opts.Enqueuer.EnqueueDefault(chatID, messageID)
}

// Tokens は会話キーとnonceから「はい」「いいえ」のコールバックデータを組み立てる。
func Tokens(key int64, nonce string) (yes, no string) {
	suffix := strconv.FormatInt(key, 10) + ":" + nonce
	return yesPrefix + suffix, noPrefix + suffix
}

// ParseToken はコールバックデータを解析する。
func ParseToken(data string) (confirmed bool, key int64, nonce string, err error) {
	var rest string
	switch {
	case strings.HasPrefix(data, yesPrefix):
		confirmed, rest = true, strings.TrimPrefix(data, yesPrefix)
	case strings.HasPrefix(data, noPrefix):
		confirmed, rest = false, strings.TrimPrefix(data, noPrefix)
	default:
		return false, 0, "", fmt.Errorf("%w: %q", ErrInvalidToken, data)
	}

	keyPart, nonce, ok := strings.Cut(rest, ":")
	if !ok || nonce == "" {
		return false, 0, "", fmt.Errorf("%w: %q", ErrInvalidToken, data)
	}
	key, err = strconv.ParseInt(keyPart, 10, 64)
	if err != nil {
		return false, 0, "", fmt.Errorf("%w: %q", ErrInvalidToken, data)
	}
	return confirmed, key, nonce, nil
}
