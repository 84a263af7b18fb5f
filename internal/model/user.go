// Package model はドメインモデルを定義する。
package model

import "time"

// UserStatus はローカルユーザーの状態を表す。
type UserStatus string

const (
	// UserStatusActive は通常状態。
	UserStatusActive UserStatus = "active"
	// UserStatusBlocked は管理者によりブロックされた状態。
	UserStatusBlocked UserStatus = "blocked"
	// UserStatusWhitelist は自動クリーンアップの対象外。
	UserStatusWhitelist UserStatus = "whitelist"
	// UserStatusExpired は有効期限切れでメディアサーバーのアカウントを無効化した状態。
	UserStatusExpired UserStatus = "expired"
)

// User はTelegramアカウントとメディアサーバーアカウントの紐付けを表す。
type User struct {
	ID            string
	TelegramID    int64
	Username      string
	ServiceUserID string // メディアサーバー側のユーザーID。未作成の場合は空
	InviteCode    string // 登録に使用した招待コード
	Score         int
	Status        UserStatus
	ExpireAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsExpired は有効期限がnowより前かを返す。期限が未設定の場合は無期限としてfalse。
func (u *User) IsExpired(now time.Time) bool {
	return u.ExpireAt != nil && u.ExpireAt.Before(now)
}

// UserFilter はユーザー一覧取得時の絞り込み条件。
// nilのフィールドは条件に含めない。
type UserFilter struct {
	Status          *UserStatus
	ExpireBefore    *time.Time // expire_at < ExpireBefore
	ExpireNotBefore *time.Time // expire_at >= ExpireNotBefore
}
