// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/mediabot/internal/model"
)

// ErrDuplicateCode はコード文字列がUNIQUE制約に違反した場合に返される。
var ErrDuplicateCode = errors.New("invite code already exists")

// ErrDuplicateUser はTelegram IDまたはユーザー名が既に登録済みの場合に返される。
var ErrDuplicateUser = errors.New("user already exists")

// InviteCodeRepository は招待コードの永続化インターフェース。
type InviteCodeRepository interface {
	// Create は招待コードを作成する。
	// コード文字列が重複する場合はErrDuplicateCodeを返す。
	Create(ctx context.Context, code *model.InviteCode) error

	// FindByCode はコード文字列で招待コードを検索する（大文字小文字を区別する）。
	// 見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.InviteCode, error)

	// List は条件に一致する招待コードを作成日時の昇順で返す。
	List(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error)

	// MarkUsed は未使用のコードを使用済みに遷移させる。
	// is_used=false の行を条件付きで更新し、更新できた場合のみtrueを返す。
	// 既に使用済みの場合は (false, nil) を返す。
	MarkUsed(ctx context.Context, id string, useUserID int64, useTime time.Time) (bool, error)
}

// UserRepository はローカルユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByTelegramID はTelegram IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。重複する場合はErrDuplicateUserを返す。
	Create(ctx context.Context, user *model.User) error

	// ExtendExpireAt は有効期限をdays日延長し、延長後の期限を返す。
	// 現在の期限がnowより後ならそこから、過去または未設定ならnowから延長する。
	// 読み取りと書き込みを1文で行うため、同時に延長しても延長分は失われない。
	ExtendExpireAt(ctx context.Context, telegramID int64, days int, now time.Time) (time.Time, error)

	// UpdateStatus はユーザーの状態を更新する。
	UpdateStatus(ctx context.Context, telegramID int64, status model.UserStatus) error

	// List は条件に一致するユーザーを有効期限の昇順で返す。期限未設定のユーザーは末尾になる。
	List(ctx context.Context, filter model.UserFilter) ([]*model.User, error)

	// UpdateScore はスコアを更新する。
	UpdateScore(ctx context.Context, telegramID int64, score int) error

	// DeleteByTelegramID は指定Telegram IDのユーザーを削除する。
	DeleteByTelegramID(ctx context.Context, telegramID int64) error

	// Count は登録ユーザー数を返す。
	Count(ctx context.Context) (int, error)
}
