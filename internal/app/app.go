package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mediabot/internal/account"
	"github.com/hitoshi/mediabot/internal/bot"
	"github.com/hitoshi/mediabot/internal/config"
	"github.com/hitoshi/mediabot/internal/confirm"
	"github.com/hitoshi/mediabot/internal/database"
	"github.com/hitoshi/mediabot/internal/emby"
	"github.com/hitoshi/mediabot/internal/handler"
	"github.com/hitoshi/mediabot/internal/invitecode"
	"github.com/hitoshi/mediabot/internal/logger"
	"github.com/hitoshi/mediabot/internal/metrics"
	"github.com/hitoshi/mediabot/internal/middleware"
	"github.com/hitoshi/mediabot/internal/repository"
	"github.com/hitoshi/mediabot/internal/scheduler"
	"github.com/hitoshi/mediabot/internal/telegram"
	"github.com/hitoshi/mediabot/internal/worker/cleanup"
	"github.com/hitoshi/mediabot/internal/worker/expiry"
)

// webhookRatePerMinute はWebhookエンドポイントの送信元ホストごとの上限。
const webhookRatePerMinute = 1800

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, logger.Options{Level: os.Getenv("LOG_LEVEL")})

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ファイル出力が指定されていればロガーを組み直す
	if cfg.LogFile != "" {
		log = logger.SetupDefault(w, logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("webhook", cfg.UseWebhook()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	}
}

// runServe はボットとHTTPサーバーを起動する。
// DB接続を開き、全依存関係をワイヤリングし、Webhookまたはロングポーリングで更新を受け付ける。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.WaitReady(ctx, db, database.DefaultWaitOptions, log); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	codeRepo := repository.NewPostgresInviteCodeRepo(db)

	// 4. 外部APIクライアントの初期化
	embyClient, err := emby.New(ctx, emby.Config{
		BaseURL:    cfg.EmbyAPIURL,
		APIKey:     cfg.EmbyAPIKey,
		Username:   cfg.EmbyUsername,
		Password:   cfg.EmbyPassword,
		MaxRetries: cfg.EmbyMaxRetries,
	}, &http.Client{Timeout: cfg.EmbyTimeout}, log, mc)
	if err != nil {
		return fmt.Errorf("failed to connect to emby: %w", err)
	}

	// getUpdatesのロングポーリングより長いタイムアウトにする
	tgHTTP := &http.Client{Timeout: time.Duration(cfg.PollTimeout)*time.Second + 10*time.Second}
	tg, err := telegram.NewClient(tgHTTP, cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramRateLimit, log)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}

	// 5. 定期ジョブとメッセージ自動削除
	runtime := config.NewRuntime(cfg)
	sched := scheduler.New(log, mc)
	queue := cleanup.NewQueue(cfg.MessageCleanDelay)
	cleaner := cleanup.NewCleaner(queue, tg, sched, cfg.MessageCleanInterval, log, mc)
	if runtime.MessageCleanerEnabled() {
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("failed to start message cleaner: %w", err)
		}
	}

	// 6. ドメインサービスの初期化
	confirmMgr := confirm.NewManager(tg, confirm.Options{
		TTL:            cfg.ConfirmTTL,
		Enqueuer:       queue,
		CleanupEnabled: runtime.MessageCleanerEnabled,
	}, log, mc)
	defer confirmMgr.Close()

	codeService := invitecode.NewService(codeRepo, invitecode.Options{
		CodeLength:        cfg.InviteCodeLength,
		DefaultExpireDays: cfg.InviteCodeExpireDays,
	}, log, mc)
	accountService := account.NewService(userRepo, codeService, embyClient, cfg.EmbyCopyFromID, log)

	expirer := expiry.NewExpirer(accountService, sched, cfg.ExpiredUserCleanInterval, log)
	if runtime.ExpiredUserCleanEnabled() {
		if err := expirer.Start(); err != nil {
			return fmt.Errorf("failed to start expired user clean: %w", err)
		}
	}
	sched.Start(ctx)

	chatLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.ChatRateLimit))
	defer chatLimiter.Stop()

	// 7. ボットの構築
	b := bot.New(bot.Deps{
		Config:    cfg,
		Runtime:   runtime,
		Messenger: tg,
		Codes:     codeService,
		Accounts:  accountService,
		Confirm:   confirmMgr,
		Queue:     queue,
		Cleaner:   cleaner,
		Expirer:   expirer,
		Limiter:   chatLimiter,
		Logger:    log,
	})
	if err := b.PublishCommands(ctx, tg); err != nil {
		log.Warn("コマンドメニューの設定に失敗しました", slog.String("error", err.Error()))
	}

	// 8. 更新の受信方法の選択
	var webhook http.Handler
	var webhookLimiter *middleware.RateLimiter
	if cfg.UseWebhook() {
		webhook = telegram.NewWebhookHandler(cfg.WebhookSecret, b, log)
		webhookLimiter = middleware.NewRateLimiter(middleware.PerMinute(webhookRatePerMinute))
		defer webhookLimiter.Stop()

		if err := tg.SetWebhook(ctx, telegram.WebhookOptions{
			URL:            cfg.WebhookURL,
			SecretToken:    cfg.WebhookSecret,
			AllowedUpdates: cfg.AllowedUpdates,
		}); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}
		log.Info("Webhookを登録しました", slog.String("url", cfg.WebhookURL))
	} else if err := tg.DeleteWebhook(ctx, false); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	// 9. HTTPサーバーの起動
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: db,
		Metrics:       metrics.Handler(registry),
		Webhook:       webhook,
		RateLimiter:   webhookLimiter,
		Logger:        log,
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server listen error: %w", err)
		}
	}()

	if !cfg.UseWebhook() {
		poller := telegram.NewPoller(tg, b, telegram.PollerConfig{
			Timeout:        cfg.PollTimeout,
			AllowedUpdates: cfg.AllowedUpdates,
		}, log)
		go func() {
			log.Info("ロングポーリングを開始しました")
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("poller stopped: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case runErr = <-errCh:
		log.Error("shutting down after error", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("スケジューラの停止を待てませんでした", slog.String("error", err.Error()))
	}

	log.Info("stopped gracefully")
	return runErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
