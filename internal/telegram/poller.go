package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// UpdateHandler は受信した更新を処理する。
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}

// UpdateHandlerFunc は関数をUpdateHandlerとして扱うアダプタ。
type UpdateHandlerFunc func(ctx context.Context, u Update)

// HandleUpdate はf(ctx, u)を呼ぶ。
func (f UpdateHandlerFunc) HandleUpdate(ctx context.Context, u Update) { f(ctx, u) }

type updatesGetter interface {
	GetUpdates(ctx context.Context, offset, timeoutSec int, allowedUpdates []string) ([]Update, error)
}

// PollerConfig はロングポーリングの設定。
type PollerConfig struct {
	Timeout        int // getUpdatesのtimeout（秒）
	AllowedUpdates []string
	Concurrency    int           // 1回の取得分を並行処理する最大数
	ErrorBackoff   time.Duration // 取得失敗時の待機時間
}

// Poller はgetUpdatesをループで呼び出し、更新をハンドラに渡す。
type Poller struct {
	client  updatesGetter
	handler UpdateHandler
	config  PollerConfig
	logger  *slog.Logger
}

// NewPoller はPollerを生成する。
func NewPoller(client updatesGetter, handler UpdateHandler, config PollerConfig, logger *slog.Logger) *Poller {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 3 * time.Second
	}
	return &Poller{
		client:  client,
		handler: handler,
		config:  config,
		logger:  logger,
	}
}

// Run はctxがキャンセルされるまで更新の取得と処理を繰り返す。
// 取得した更新は並行に処理し、すべて終わってから次のoffsetで取得する。
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("ロングポーリングを開始します",
		slog.Int("timeout_sec", p.config.Timeout),
	)

	offset := 0
	for {
		if ctx.Err() != nil {
			p.logger.Info("ロングポーリングを停止しました")
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.config.Timeout, p.config.AllowedUpdates)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("更新の取得に失敗しました",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
			case <-time.After(p.config.ErrorBackoff):
			}
			continue
		}

		if len(updates) == 0 {
			continue
		}

		wp := pool.New().WithMaxGoroutines(p.config.Concurrency)
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			wp.Go(func() {
				p.handler.HandleUpdate(ctx, u)
			})
		}
		wp.Wait()
	}
}
