// Package scheduler は名前付きの定期ジョブを管理する。
// ジョブごとに1つのgoroutineとティッカーを持ち、同一ジョブの実行は重ならない。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/hitoshi/mediabot/internal/metrics"
)

var (
	// ErrJobExists は同名のジョブが既に登録されている場合に返される。
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound は指定名のジョブが登録されていない場合に返される。
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidInterval は実行間隔が0以下の場合に返される。
	ErrInvalidInterval = errors.New("interval must be positive")
)

// JobFunc は定期実行される処理。
// エラーやpanicはログに記録され、ジョブは登録されたまま次回も実行される。
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	cancel   context.CancelFunc
	done     chan struct{} // 実行中のgoroutineが終了すると閉じられる
}

// Scheduler はプロセス全体で共有する定期ジョブのレジストリ。
type Scheduler struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu      sync.Mutex
	jobs    map[string]*job
	retired map[string]chan struct{} // 削除済みで終了待ちのジョブ
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New はSchedulerを生成する。mcがnilの場合はメトリクスを記録しない。
func New(logger *slog.Logger, mc metrics.MetricsCollector) *Scheduler {
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Scheduler{
		logger:  logger,
		metrics: mc,
		jobs:    make(map[string]*job),
		retired: make(map[string]chan struct{}),
	}
}

// AddJob はジョブを登録する。
// 同名のジョブが存在する場合は既存のジョブを変更せずErrJobExistsを返す。
// Start後に追加されたジョブは即座にスケジュールされる。
// 同名のジョブを削除した直後に追加した場合、削除前の実行が終わるまで新しいジョブは開始しない。
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("add job %q: %w", name, ErrInvalidInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		s.logger.Warn("同名のジョブが既に登録されています",
			slog.String("job", name),
		)
		return fmt.Errorf("add job %q: %w", name, ErrJobExists)
	}

	j := &job{name: name, interval: interval, fn: fn}
	s.jobs[name] = j
	if s.started {
		s.launch(j)
	}

	s.logger.Info("ジョブを登録しました",
		slog.String("job", name),
		slog.Duration("interval", interval),
	)
	return nil
}

// RemoveJob はジョブを停止して登録を解除する。
// 実行中の処理はコンテキストのキャンセルで通知され、完了は待たない。
// 終了前に同名のジョブが追加された場合は、そのジョブが終了を待つ。
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		s.logger.Warn("削除対象のジョブが見つかりません",
			slog.String("job", name),
		)
		return fmt.Errorf("remove job %q: %w", name, ErrJobNotFound)
	}

	delete(s.jobs, name)
	if j.cancel != nil {
		j.cancel()
	}
	if j.done != nil {
		s.retired[name] = j.done
	}

	s.logger.Info("ジョブを削除しました", slog.String("job", name))
	return nil
}

// Has は指定名のジョブが登録されているかを返す。
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Jobs は登録済みジョブ名を昇順で返す。
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start は登録済みのジョブをすべて開始する。二重に呼んでも何もしない。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, j := range s.jobs {
		s.launch(j)
	}

	s.logger.Info("スケジューラを開始しました", slog.Int("job_count", len(s.jobs)))
}

// Stop はすべてのジョブを停止し、実行中の処理の終了を待つ。
// ctxの期限までに終了しない場合はctxのエラーを返す。
// ジョブの登録は保持され、再度Startすると再開する。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	for _, j := range s.jobs {
		j.cancel = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("スケジューラを停止しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// launch はジョブのgoroutineを起動する。s.muを保持した状態で呼ぶこと。
// 同名の削除済みジョブが終了していなければ、その終了を待ってからループに入る。
func (s *Scheduler) launch(j *job) {
	jctx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	prev := s.retired[j.name]
	delete(s.retired, j.name)

	s.wg.Add(1)
	go func(done chan struct{}) {
		defer s.wg.Done()
		defer close(done)

		if prev != nil {
			select {
			case <-prev:
			case <-jctx.Done():
				<-prev
				return
			}
		}
		s.loop(jctx, j)
	}(j.done)
}

// loop はティッカーごとにジョブを実行する。
// 実行中に到達したティックは破棄されるため、同一ジョブの実行は重ならない。
func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce はジョブを1回実行し、エラーとpanicをログに記録する。
func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = j.fn(ctx)
	})

	if r := catcher.Recovered(); r != nil {
		s.logger.Error("ジョブの実行中にpanicが発生しました",
			slog.String("job", j.name),
			slog.Any("panic", r.Value),
			slog.String("stack", string(r.Stack)),
		)
		s.metrics.RecordJobRun(j.name, "panic")
		return
	}
	if err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordJobRun(j.name, "error")
		return
	}
	s.metrics.RecordJobRun(j.name, "ok")
}
