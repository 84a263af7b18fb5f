package model

import "time"

// CodeType は招待コードの種別を表す。
type CodeType string

const (
	// CodeTypeRegister はアカウント新規登録用のコード。
	CodeTypeRegister CodeType = "register"
	// CodeTypeRenew はアカウント有効期限の延長用のコード。
	CodeTypeRenew CodeType = "renew"
)

// Valid は定義済みの種別かどうかを返す。
func (t CodeType) Valid() bool {
	return t == CodeTypeRegister || t == CodeTypeRenew
}

// InviteCode は一度だけ使用できる招待コード（登録用・延長用）を表す。
// IsUsed は false から true へ一度だけ遷移する。
// UseUserID と UseTime は IsUsed が true の場合にのみ設定される。
type InviteCode struct {
	ID           string
	Code         string
	CodeType     CodeType
	CreateUserID int64
	CreateTime   time.Time
	ExpireDays   int
	IsUsed       bool
	UseUserID    *int64
	UseTime      *time.Time
}

// ExpireTime はコードの有効期限（CreateTime + ExpireDays日）を返す。
func (c *InviteCode) ExpireTime() time.Time {
	return c.CreateTime.AddDate(0, 0, c.ExpireDays)
}

// IsExpired は指定時刻の時点で有効期限を過ぎているかを返す。
func (c *InviteCode) IsExpired(now time.Time) bool {
	return c.ExpireTime().Before(now)
}

// CodeFilter は招待コード一覧取得時の絞り込み条件。
// nilのフィールドは条件に含めない。
type CodeFilter struct {
	CodeType *CodeType
	IsUsed   *bool
}
