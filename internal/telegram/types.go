package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Bot APIの型はtelegram-bot-apiの定義をそのまま使う。
type (
	Update          = tgbotapi.Update
	Message         = tgbotapi.Message
	User            = tgbotapi.User
	Chat            = tgbotapi.Chat
	CallbackQuery   = tgbotapi.CallbackQuery
	BotCommand      = tgbotapi.BotCommand
	BotCommandScope = tgbotapi.BotCommandScope

	// APIError はBot APIが ok=false を返した場合のエラー。
	// RetryAfterはレート制限時に待つべき秒数。
	APIError = tgbotapi.Error
)

// Chat の種別
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// ParseModeHTML はHTML形式のメッセージを表す。
const ParseModeHTML = tgbotapi.ModeHTML

// NewChatScope は指定チャットだけに適用するコマンドメニューの範囲を返す。
func NewChatScope(chatID int64) *BotCommandScope {
	return &BotCommandScope{Type: "chat", ChatID: chatID}
}
