package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hitoshi/mediabot/internal/metrics"
	"github.com/hitoshi/mediabot/internal/scheduler"
)

// JobName はメッセージ削除ジョブのスケジューラ上の名前。
const JobName = "clean_message"

// maxConcurrentDeletes は同時に削除APIを呼び出すチャット数の上限。
const maxConcurrentDeletes = 4

// MessageDeleter はチャットのメッセージをまとめて削除するインターフェース。
type MessageDeleter interface {
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int) error
}

// JobRegistry はCleanerが登録先とするスケジューラのインターフェース。
type JobRegistry interface {
	AddJob(name string, interval time.Duration, fn scheduler.JobFunc) error
	RemoveJob(name string) error
	Has(name string) bool
}

// Cleaner は削除キューを定期的に処理するジョブ。
type Cleaner struct {
	queue    *Queue
	deleter  MessageDeleter
	registry JobRegistry
	interval time.Duration
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewCleaner はCleanerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewCleaner(queue *Queue, deleter MessageDeleter, registry JobRegistry, interval time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Cleaner {
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Cleaner{
		queue:    queue,
		deleter:  deleter,
		registry: registry,
		interval: interval,
		logger:   logger,
		metrics:  mc,
	}
}

// Start はジョブをスケジューラに登録する。登録済みの場合は何もしない。
func (c *Cleaner) Start() error {
	err := c.registry.AddJob(JobName, c.interval, c.Run)
	if err != nil && !errors.Is(err, scheduler.ErrJobExists) {
		return fmt.Errorf("start message cleaner: %w", err)
	}
	return nil
}

// Stop はジョブをスケジューラから削除する。未登録の場合は何もしない。
// キューに残っているエントリは保持され、再開後に処理される。
func (c *Cleaner) Stop() error {
	err := c.registry.RemoveJob(JobName)
	if err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		return fmt.Errorf("stop message cleaner: %w", err)
	}
	return nil
}

// Enabled はジョブがスケジューラに登録されているかを返す。
func (c *Cleaner) Enabled() bool {
	return c.registry.Has(JobName)
}

// Run は期限到来済みのエントリを取り出し、チャットごとに削除を依頼する。
// 削除はキューのロック外で行い、失敗したエントリは再投入しない。
// あるチャットの失敗は他のチャットの削除を妨げない。
func (c *Cleaner) Run(ctx context.Context) error {
	due := c.queue.DrainDue()
	c.metrics.SetCleanupQueueSize(c.queue.Len())
	if len(due) == 0 {
		return nil
	}

	results := pool.NewWithResults[int]().WithMaxGoroutines(maxConcurrentDeletes)
	for chatID, messageIDs := range due {
		results.Go(func() int {
			if err := c.deleter.DeleteMessages(ctx, chatID, messageIDs); err != nil {
				c.logger.Warn("メッセージの削除に失敗しました",
					slog.Int64("chat_id", chatID),
					slog.Any("message_ids", messageIDs),
					slog.String("error", err.Error()),
				)
				c.metrics.RecordCleanup(0, len(messageIDs))
				return 0
			}
			c.metrics.RecordCleanup(len(messageIDs), 0)
			return len(messageIDs)
		})
	}

	deleted := 0
	for _, n := range results.Wait() {
		deleted += n
	}

	c.logger.Debug("メッセージ削除ジョブが完了しました",
		slog.Int("chat_count", len(due)),
		slog.Int("deleted_count", deleted),
	)
	return nil
}
