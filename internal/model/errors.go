// Package model はドメインモデルを定義する。
package model

import "fmt"

// BotError はボットがユーザーに返す統一エラーフォーマットを表す。
// チャットに表示するメッセージと対処方法を含む。
type BotError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, code, server, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Reply はチャットに返信する文面を返す。
func (e *BotError) Reply() string {
	if e.Action == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Action
}

// 定義済みエラーコード
const (
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeInviteNotFound    = "INVITE_NOT_FOUND"
	ErrCodeInviteExpired     = "INVITE_EXPIRED"
	ErrCodeInviteUsed        = "INVITE_USED"
	ErrCodeInviteWrongType   = "INVITE_WRONG_TYPE"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeUserExists        = "USER_EXISTS"
	ErrCodeServerUnavailable = "SERVER_UNAVAILABLE"
	ErrCodeInviteSystemOff   = "INVITE_SYSTEM_OFF"
	ErrCodeUsernameTaken     = "USERNAME_TAKEN"
	ErrCodeNoServerAccount   = "NO_SERVER_ACCOUNT"
	ErrCodeUserBlocked       = "USER_BLOCKED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewInvalidArgumentError は引数エラーを生成する。
func NewInvalidArgumentError(usage string) *BotError {
	return &BotError{
		Code:     ErrCodeInvalidArgument,
		Message:  "引数が正しくありません。",
		Category: "validation",
		Action:   "使い方: " + usage,
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
func NewPermissionDeniedError() *BotError {
	return &BotError{
		Code:     ErrCodePermissionDenied,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
	}
}

// NewInviteNotFoundError は招待コード未検出エラーを生成する。
func NewInviteNotFoundError() *BotError {
	return &BotError{
		Code:     ErrCodeInviteNotFound,
		Message:  "招待コードが見つかりません。",
		Category: "code",
		Action:   "コードを確認して再度入力してください。",
	}
}

// NewInviteExpiredError は招待コード期限切れエラーを生成する。
func NewInviteExpiredError() *BotError {
	return &BotError{
		Code:     ErrCodeInviteExpired,
		Message:  "招待コードの有効期限が切れています。",
		Category: "code",
		Action:   "管理者に新しいコードを発行してもらってください。",
	}
}

// NewInviteUsedError は使用済み招待コードエラーを生成する。
func NewInviteUsedError() *BotError {
	return &BotError{
		Code:     ErrCodeInviteUsed,
		Message:  "この招待コードは既に使用されています。",
		Category: "code",
	}
}

// NewInviteWrongTypeError はコード種別不一致エラーを生成する。
func NewInviteWrongTypeError(want CodeType) *BotError {
	return &BotError{
		Code:     ErrCodeInviteWrongType,
		Message:  fmt.Sprintf("このコードは %s 用ではありません。", want),
		Category: "code",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *BotError {
	return &BotError{
		Code:     ErrCodeUserNotFound,
		Message:  "アカウント情報が見つかりません。",
		Category: "auth",
		Action:   "/register で登録してください。",
	}
}

// NewUserExistsError は登録済みユーザーの再登録エラーを生成する。
func NewUserExistsError() *BotError {
	return &BotError{
		Code:     ErrCodeUserExists,
		Message:  "既に登録済みです。",
		Category: "auth",
	}
}

// NewServerUnavailableError はメディアサーバー呼び出し失敗エラーを生成する。
func NewServerUnavailableError(reason string) *BotError {
	return &BotError{
		Code:     ErrCodeServerUnavailable,
		Message:  fmt.Sprintf("メディアサーバーとの通信に失敗しました: %s", reason),
		Category: "server",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInviteSystemOffError は招待システム停止中のエラーを生成する。
func NewInviteSystemOffError() *BotError {
	return &BotError{
		Code:     ErrCodeInviteSystemOff,
		Message:  "現在、招待コードによる登録は受け付けていません。",
		Category: "system",
	}
}

// NewUsernameTakenError はユーザー名が使用済みの場合のエラーを生成する。
func NewUsernameTakenError() *BotError {
	return &BotError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使われています。",
		Category: "validation",
		Action:   "別のユーザー名で再度お試しください。",
	}
}

// NewNoServerAccountError はメディアサーバーのアカウントが紐付いていない場合のエラーを生成する。
func NewNoServerAccountError() *BotError {
	return &BotError{
		Code:     ErrCodeNoServerAccount,
		Message:  "このユーザーにはメディアサーバーのアカウントがありません。",
		Category: "validation",
	}
}

// NewUserBlockedError はブロック中のユーザーの操作を拒否するエラーを生成する。
func NewUserBlockedError() *BotError {
	return &BotError{
		Code:     ErrCodeUserBlocked,
		Message:  "このアカウントは停止されています。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewInternalError は想定外のエラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *BotError {
	return &BotError{
		Code:     ErrCodeInternal,
		Message:  "処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
