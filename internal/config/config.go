package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MaxInviteCodeLength はinvite_codes.codeカラムに収まるコードの最大長。
const MaxInviteCodeLength = 64

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 実行中に切り替わる値は Runtime が保持する。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Telegram
	TelegramBotToken  string   `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL    string   `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	AdminIDs          []int64  `env:"ADMIN_IDS" envSeparator:","`
	WebhookURL        string   `env:"WEBHOOK_URL"`
	WebhookSecret     string   `env:"WEBHOOK_SECRET"`
	TelegramRateLimit float64  `env:"TELEGRAM_RATE_LIMIT" envDefault:"25"`
	ChatRateLimit     int      `env:"CHAT_RATE_LIMIT" envDefault:"30"`
	PollTimeout       int      `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"30"`
	AllowedUpdates    []string `env:"TELEGRAM_ALLOWED_UPDATES" envSeparator:"," envDefault:"message,callback_query"`

	// Emby
	EmbyAPIURL     string        `env:"EMBY_API_URL"`
	EmbyAPIKey     string        `env:"EMBY_API_KEY"`
	EmbyUsername   string        `env:"EMBY_USERNAME"`
	EmbyPassword   string        `env:"EMBY_PASSWORD"`
	EmbyCopyFromID string        `env:"EMBY_COPY_FROM_ID"`
	EmbyMaxRetries int           `env:"EMBY_MAX_RETRIES" envDefault:"3"`
	EmbyTimeout    time.Duration `env:"EMBY_TIMEOUT" envDefault:"15s"`

	// Invite code
	InviteCodeLength        int  `env:"INVITE_CODE_LENGTH" envDefault:"8"`
	InviteCodeExpireDays    int  `env:"INVITE_CODE_EXPIRE_DAYS" envDefault:"7"`
	InviteCodePrice         int  `env:"INVITE_CODE_PRICE" envDefault:"100"`
	InviteCodeSystemEnabled bool `env:"INVITE_CODE_SYSTEM_ENABLED" envDefault:"true"`

	// Message cleaner
	EnableMessageCleaner bool          `env:"ENABLE_MESSAGE_CLEANER" envDefault:"true"`
	MessageCleanDelay    time.Duration `env:"MESSAGE_CLEAN_DELAY" envDefault:"60s"`
	MessageCleanInterval time.Duration `env:"MESSAGE_CLEAN_INTERVAL" envDefault:"10s"`

	// Expired users
	EnableExpiredUserClean   bool          `env:"ENABLE_EXPIRED_USER_CLEAN" envDefault:"false"`
	ExpiredUserCleanInterval time.Duration `env:"EXPIRED_USER_CLEAN_INTERVAL" envDefault:"1h"`
	ExpiringNoticeDays       int           `env:"EXPIRING_NOTICE_DAYS" envDefault:"3"`

	// Confirmation
	ConfirmTTL time.Duration `env:"CONFIRM_TTL" envDefault:"0s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数名をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Required fields
	var missing []string

	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.EmbyAPIURL == "" {
		missing = append(missing, "EMBY_API_URL")
	}
	if len(cfg.AdminIDs) == 0 {
		missing = append(missing, "ADMIN_IDS")
	}
	// APIキーかユーザー名/パスワードのどちらかが必要
	if cfg.EmbyAPIKey == "" && (cfg.EmbyUsername == "" || cfg.EmbyPassword == "") {
		missing = append(missing, "EMBY_API_KEY or EMBY_USERNAME/EMBY_PASSWORD")
	}
	// Webhookは公開エンドポイントになるため、シークレットでの検証を必須とする
	if cfg.UseWebhook() && cfg.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.EmbyAPIURL = strings.TrimRight(cfg.EmbyAPIURL, "/")

	// 範囲外の値はデフォルトに戻す
	if cfg.InviteCodeLength <= 0 {
		cfg.InviteCodeLength = 8
	}
	if cfg.InviteCodeLength > MaxInviteCodeLength {
		cfg.InviteCodeLength = MaxInviteCodeLength
	}
	if cfg.InviteCodeExpireDays <= 0 {
		cfg.InviteCodeExpireDays = 7
	}
	if cfg.EmbyMaxRetries <= 0 {
		cfg.EmbyMaxRetries = 3
	}
	if cfg.MessageCleanInterval <= 0 {
		cfg.MessageCleanInterval = 10 * time.Second
	}
	if cfg.MessageCleanDelay < 0 {
		cfg.MessageCleanDelay = 0
	}
	if cfg.ExpiredUserCleanInterval <= 0 {
		cfg.ExpiredUserCleanInterval = time.Hour
	}
	if cfg.ExpiringNoticeDays <= 0 {
		cfg.ExpiringNoticeDays = 3
	}

	return cfg, nil
}

// UseWebhook はWebhookモードで起動するかを返す。
// WEBHOOK_URLが未設定の場合はロングポーリングで起動する。
func (c *Config) UseWebhook() bool {
	return c.WebhookURL != ""
}

// IsAdmin は指定TelegramユーザーIDが管理者かを返す。
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}
