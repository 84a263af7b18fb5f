// Package invitecode は招待コード（登録用・延長用）の発行と使用を提供する。
package invitecode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mediabot/internal/metrics"
	"github.com/hitoshi/mediabot/internal/model"
	"github.com/hitoshi/mediabot/internal/repository"
)

var (
	// ErrCodeNotFound はコードが存在しない場合に返される。
	ErrCodeNotFound = errors.New("invite code not found")
	// ErrCodeExpired はコードの有効期限が切れている場合に返される。
	ErrCodeExpired = errors.New("invite code expired")
	// ErrCodeAlreadyUsed はコードが既に使用済みの場合に返される。
	ErrCodeAlreadyUsed = errors.New("invite code already used")
	// ErrCodeWrongType はコード種別が要求と異なる場合に返される。
	ErrCodeWrongType = errors.New("invite code has wrong type")
)

// codeAlphabet はコードに使用する文字集合。
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxGenerateAttempts はコード重複時の再生成回数の上限。
const maxGenerateAttempts = 5

// Options は招待コードの発行設定。
type Options struct {
	CodeLength        int
	DefaultExpireDays int
}

// Service は招待コードのサービス層。
type Service struct {
	repo    repository.InviteCodeRepository
	opts    Options
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.InviteCodeRepository, opts Options, logger *slog.Logger, mc metrics.MetricsCollector) *Service {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 8
	}
	if opts.DefaultExpireDays <= 0 {
		opts.DefaultExpireDays = 7
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Service{
		repo:    repo,
		opts:    opts,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
	}
}

// Generate は新しい未使用のコードを発行する。
// expireDaysが0以下の場合はデフォルトの有効日数を使用する。
func (s *Service) Generate(ctx context.Context, createUserID int64, expireDays int, codeType model.CodeType) (*model.InviteCode, error) {
	if !codeType.Valid() {
		return nil, fmt.Errorf("invalid code type: %q", codeType)
	}
	if expireDays <= 0 {
		expireDays = s.opts.DefaultExpireDays
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		value, err := randomCode(s.opts.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		code := &model.InviteCode{
			ID:           uuid.NewString(),
			Code:         value,
			CodeType:     codeType,
			CreateUserID: createUserID,
			CreateTime:   s.now(),
			ExpireDays:   expireDays,
		}
		err = s.repo.Create(ctx, code)
		if errors.Is(err, repository.ErrDuplicateCode) {
			s.logger.Warn("招待コードが重複したため再生成します",
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store invite code: %w", err)
		}

		s.logger.Info("招待コードを発行しました",
			slog.String("code_id", code.ID),
			slog.String("code_type", string(codeType)),
			slog.Int64("create_user_id", createUserID),
			slog.Int("expire_days", expireDays),
		)
		return code, nil
	}
	return nil, fmt.Errorf("failed to generate unique code after %d attempts", maxGenerateAttempts)
}

// GenerateBatch はcount件のコードを発行する。途中で失敗した場合は発行済みの分とエラーを返す。
func (s *Service) GenerateBatch(ctx context.Context, createUserID int64, expireDays int, codeType model.CodeType, count int) ([]*model.InviteCode, error) {
	codes := make([]*model.InviteCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := s.Generate(ctx, createUserID, expireDays, codeType)
		if err != nil {
			return codes, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// Get はコード文字列で招待コードを取得する。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, code string) (*model.InviteCode, error) {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get invite code: %w", err)
	}
	return c, nil
}

// ListAll は条件に一致する招待コードを返す。
func (s *Service) ListAll(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error) {
	codes, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invite codes: %w", err)
	}
	return codes, nil
}

// Redeem はコードを使用済みにする。
// 判定順序は 存在しない → 期限切れ → 使用済み。
// 使用済みへの遷移はリポジトリの条件付き更新で行うため、
// 同一コードへの同時使用はちょうど1件だけが成功する。
func (s *Service) Redeem(ctx context.Context, code string, redeemerID int64) (*model.InviteCode, error) {
	return s.redeem(ctx, code, "", redeemerID)
}

// RedeemAs は種別がcodeTypeのコードに限りRedeemする。
// 種別が異なる場合はErrCodeWrongTypeを返し、コードは使用済みにならない。
func (s *Service) RedeemAs(ctx context.Context, code string, codeType model.CodeType, redeemerID int64) (*model.InviteCode, error) {
	return s.redeem(ctx, code, codeType, redeemerID)
}

func (s *Service) redeem(ctx context.Context, code string, want model.CodeType, redeemerID int64) (*model.InviteCode, error) {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to find invite code: %w", err)
	}
	if c == nil {
		return nil, s.reject(ErrCodeNotFound, "not_found", redeemerID)
	}
	if want != "" && c.CodeType != want {
		return nil, s.reject(ErrCodeWrongType, "wrong_type", redeemerID)
	}

	now := s.now()
	if c.IsExpired(now) {
		return nil, s.reject(ErrCodeExpired, "expired", redeemerID)
	}
	if c.IsUsed {
		return nil, s.reject(ErrCodeAlreadyUsed, "already_used", redeemerID)
	}

	ok, err := s.repo.MarkUsed(ctx, c.ID, redeemerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invite code: %w", err)
	}
	if !ok {
		// 読み取り後に他のリクエストが先に使用した
		return nil, s.reject(ErrCodeAlreadyUsed, "already_used", redeemerID)
	}

	c.IsUsed = true
	c.UseUserID = &redeemerID
	c.UseTime = &now

	s.metrics.RecordRedemption("success")
	s.logger.Info("招待コードが使用されました",
		slog.String("code_id", c.ID),
		slog.String("code_type", string(c.CodeType)),
		slog.Int64("use_user_id", redeemerID),
	)
	return c, nil
}

func (s *Service) reject(err error, result string, redeemerID int64) error {
	s.metrics.RecordRedemption(result)
	s.logger.Info("招待コードの使用を拒否しました",
		slog.String("reason", result),
		slog.Int64("use_user_id", redeemerID),
	)
	return err
}

// randomCode はcodeAlphabetから一様にlength文字を選んだ文字列を返す。
func randomCode(length int) (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
