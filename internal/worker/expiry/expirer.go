// Package expiry は期限切れユーザーを定期的に無効化するジョブを提供する。
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mediabot/internal/account"
	"github.com/hitoshi/mediabot/internal/scheduler"
)

// JobName は期限切れ処理ジョブのスケジューラ上の名前。
const JobName = "clean_expired_users"

// UserExpirer は期限切れユーザーの無効化を行うインターフェース。
type UserExpirer interface {
	ExpireUsers(ctx context.Context) (account.ExpiryResult, error)
}

// JobRegistry はExpirerが登録先とするスケジューラのインターフェース。
type JobRegistry interface {
	AddJob(name string, interval time.Duration, fn scheduler.JobFunc) error
	RemoveJob(name string) error
	Has(name string) bool
}

// Expirer は期限切れ処理を定期的に実行するジョブ。
type Expirer struct {
	users    UserExpirer
	registry JobRegistry
	interval time.Duration
	logger   *slog.Logger
}

// NewExpirer はExpirerを生成する。
func NewExpirer(users UserExpirer, registry JobRegistry, interval time.Duration, logger *slog.Logger) *Expirer {
	return &Expirer{
		users:    users,
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start はジョブをスケジューラに登録する。登録済みの場合は何もしない。
func (e *Expirer) Start() error {
	err := e.registry.AddJob(JobName, e.interval, e.Run)
	if err != nil && !errors.Is(err, scheduler.ErrJobExists) {
		return fmt.Errorf("start expired user clean: %w", err)
	}
	return nil
}

// Stop はジョブをスケジューラから削除する。未登録の場合は何もしない。
func (e *Expirer) Stop() error {
	err := e.registry.RemoveJob(JobName)
	if err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		return fmt.Errorf("stop expired user clean: %w", err)
	}
	return nil
}

// Enabled はジョブがスケジューラに登録されているかを返す。
func (e *Expirer) Enabled() bool {
	return e.registry.Has(JobName)
}

// Run は期限切れ処理を1回実行する。
func (e *Expirer) Run(ctx context.Context) error {
	result, err := e.users.ExpireUsers(ctx)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		e.logger.Warn("一部のユーザーの期限切れ処理に失敗しました",
			slog.Int("failed_count", result.Failed),
		)
	}
	return nil
}
