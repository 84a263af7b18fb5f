package config

import "sync"

// Runtime は管理者コマンドで実行中に切り替わる設定を保持する。
// 永続化はせず、再起動時はConfigの値に戻る。
type Runtime struct {
	mu                   sync.RWMutex
	inviteSystemEnabled  bool
	messageCleanerEnable bool
	expiredCleanEnable   bool
	inviteCodePrice      int
}

// NewRuntime はConfigの値を初期値とするRuntimeを生成する。
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{
		inviteSystemEnabled:  cfg.InviteCodeSystemEnabled,
		messageCleanerEnable: cfg.EnableMessageCleaner,
		expiredCleanEnable:   cfg.EnableExpiredUserClean,
		inviteCodePrice:      cfg.InviteCodePrice,
	}
}

// InviteSystemEnabled は招待コードによる登録が有効かを返す。
func (r *Runtime) InviteSystemEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inviteSystemEnabled
}

// ToggleInviteSystem は招待システムの有効/無効を反転し、変更後の値を返す。
func (r *Runtime) ToggleInviteSystem() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inviteSystemEnabled = !r.inviteSystemEnabled
	return r.inviteSystemEnabled
}

// MessageCleanerEnabled はメッセージ自動削除が有効かを返す。
func (r *Runtime) MessageCleanerEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messageCleanerEnable
}

// SetMessageCleanerEnabled はメッセージ自動削除の有効/無効を設定する。
func (r *Runtime) SetMessageCleanerEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageCleanerEnable = enabled
}

// ExpiredUserCleanEnabled は期限切れユーザーの自動処理が有効かを返す。
func (r *Runtime) ExpiredUserCleanEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiredCleanEnable
}

// SetExpiredUserCleanEnabled は期限切れユーザーの自動処理の有効/無効を設定する。
func (r *Runtime) SetExpiredUserCleanEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiredCleanEnable = enabled
}

// InviteCodePrice は招待コードのポイント価格を返す。
func (r *Runtime) InviteCodePrice() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inviteCodePrice
}

// SetInviteCodePrice は招待コードのポイント価格を設定する。
func (r *Runtime) SetInviteCodePrice(price int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inviteCodePrice = price
}
