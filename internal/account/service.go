// Package account は招待コードを使ったメディアサーバーアカウントの登録と延長を扱う。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-password/password"

	"github.com/hitoshi/mediabot/internal/emby"
	"github.com/hitoshi/mediabot/internal/model"
	"github.com/hitoshi/mediabot/internal/repository"
)

var (
	// ErrAlreadyRegistered はTelegramアカウントが既に登録済みの場合に返される。
	ErrAlreadyRegistered = errors.New("telegram account already registered")
	// ErrUsernameTaken はユーザー名がローカルまたはメディアサーバーで使用済みの場合に返される。
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidUsername はユーザー名の形式が不正な場合に返される。
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUserNotFound はローカルユーザーが見つからない場合に返される。
	ErrUserNotFound = errors.New("user not found")
	// ErrServerUnavailable はメディアサーバーの呼び出しに失敗した場合に返される。
	ErrServerUnavailable = errors.New("media server unavailable")
	// ErrNoServerAccount はユーザーにメディアサーバーのアカウントが紐付いていない場合に返される。
	ErrNoServerAccount = errors.New("no media server account")
	// ErrUserBlocked はブロック中のユーザーが延長しようとした場合に返される。
	ErrUserBlocked = errors.New("user is blocked")
)

// usernamePattern は登録できるユーザー名の形式。
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// 生成するパスワードの長さと数字の数
const (
	passwordLength = 12
	passwordDigits = 4
)

// ServerAPI はメディアサーバーに対する操作のインターフェース。
type ServerAPI interface {
	GetUserByName(ctx context.Context, name string) (*emby.User, error)
	CreateUser(ctx context.Context, name, copyFromID string) (*emby.User, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) error
	DeleteUser(ctx context.Context, userID string) error
	SetUserDisabled(ctx context.Context, userID string, disabled bool) error
	CountUsers(ctx context.Context) (int, error)
}

// CodeRedeemer は招待コードの使用処理のインターフェース。
type CodeRedeemer interface {
	RedeemAs(ctx context.Context, code string, codeType model.CodeType, redeemerID int64) (*model.InviteCode, error)
}

// Registration は登録結果。Passwordは生成した初期パスワードで、保存はしない。
type Registration struct {
	User     *model.User
	Password string
}

// Stats はローカルとメディアサーバーのユーザー数。
type Stats struct {
	LocalUsers  int
	ServerUsers int
}

// Service はアカウントの登録・延長・削除を行う。
type Service struct {
	users      repository.UserRepository
	codes      CodeRedeemer
	server     ServerAPI
	copyFromID string
	passwords  password.PasswordGenerator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceを生成する。copyFromIDは新規ユーザーの権限設定の複製元。
func NewService(users repository.UserRepository, codes CodeRedeemer, server ServerAPI, copyFromID string, logger *slog.Logger) *Service {
	gen, _ := password.NewGenerator(nil)
	return &Service{
		users:      users,
		codes:      codes,
		server:     server,
		copyFromID: copyFromID,
		passwords:  gen,
		logger:     logger,
		now:        time.Now,
	}
}

// Register は登録用コードを使ってメディアサーバーのアカウントを作成する。
// コード使用後にメディアサーバーの呼び出しが失敗した場合、コードは使用済みのまま残る。
func (s *Service) Register(ctx context.Context, telegramID int64, username, code string) (*Registration, error) {
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}

	existing, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	taken, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up username: %w", err)
	}
	if taken != nil {
		return nil, ErrUsernameTaken
	}
	remote, err := s.server.GetUserByName(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	if remote != nil {
		return nil, ErrUsernameTaken
	}

	redeemed, err := s.codes.RedeemAs(ctx, code, model.CodeTypeRegister, telegramID)
	if err != nil {
		return nil, err
	}

	created, err := s.server.CreateUser(ctx, username, s.copyFromID)
	if err != nil {
		s.logger.Error("コード使用後のメディアサーバーユーザー作成に失敗しました",
			slog.Int64("telegram_id", telegramID),
			slog.String("code", redeemed.Code),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	pw, err := s.passwords.Generate(passwordLength, passwordDigits, 0, false, true)
	if err != nil {
		s.rollbackServerUser(ctx, created.ID)
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	if err := s.server.UpdatePassword(ctx, created.ID, pw); err != nil {
		s.rollbackServerUser(ctx, created.ID)
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	now := s.now()
	user := &model.User{
		ID:            uuid.NewString(),
		TelegramID:    telegramID,
		Username:      username,
		ServiceUserID: created.ID,
		InviteCode:    redeemed.Code,
		Status:        model.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.rollbackServerUser(ctx, created.ID)
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Info("ユーザーを登録しました",
		slog.Int64("telegram_id", telegramID),
		slog.String("username", username),
		slog.String("service_user_id", created.ID),
	)
	return &Registration{User: user, Password: pw}, nil
}

// rollbackServerUser はローカル保存に失敗した場合に作成済みのメディアサーバーユーザーを削除する。
func (s *Service) rollbackServerUser(ctx context.Context, serviceUserID string) {
	if err := s.server.DeleteUser(ctx, serviceUserID); err != nil {
		s.logger.Error("作成済みメディアサーバーユーザーの削除に失敗しました",
			slog.String("service_user_id", serviceUserID),
			slog.String("error", err.Error()),
		)
	}
}

// Renew は延長用コードを使ってアカウントの有効期限を延長する。
// 現在の期限が未来ならそこから、過去または未設定なら現在時刻から、コードの日数分延長する。
// 期限切れで無効化されていたアカウントは再び有効にする。
func (s *Service) Renew(ctx context.Context, telegramID int64, code string) (*model.User, error) {
	user, err := s.requireUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user.Status == model.UserStatusBlocked {
		return nil, ErrUserBlocked
	}

	redeemed, err := s.codes.RedeemAs(ctx, code, model.CodeTypeRenew, telegramID)
	if err != nil {
		return nil, err
	}

	expireAt, err := s.users.ExtendExpireAt(ctx, telegramID, redeemed.ExpireDays, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to extend expire_at: %w", err)
	}
	user.ExpireAt = &expireAt

	if user.Status == model.UserStatusExpired {
		if err := s.reactivate(ctx, user); err != nil {
			s.logger.Warn("延長後のアカウント再有効化に失敗しました。次回の期限切れ処理で再試行します",
				slog.Int64("telegram_id", telegramID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("アカウントの有効期限を延長しました",
		slog.Int64("telegram_id", telegramID),
		slog.Int("days", redeemed.ExpireDays),
		slog.Time("expire_at", expireAt),
	)
	return user, nil
}

// Info はTelegram IDに紐付くユーザーを返す。
func (s *Service) Info(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.requireUser(ctx, telegramID)
}

// SetScore はユーザーのスコアを設定する。
func (s *Service) SetScore(ctx context.Context, telegramID int64, score int) error {
	if _, err := s.requireUser(ctx, telegramID); err != nil {
		return err
	}
	if err := s.users.UpdateScore(ctx, telegramID, score); err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	return nil
}

// DeleteServerUser はメディアサーバーのアカウントとローカルユーザーを削除する。
// メディアサーバー側の削除に失敗した場合はローカルユーザーを残す。
func (s *Service) DeleteServerUser(ctx context.Context, telegramID int64) (*model.User, error) {
	user, err := s.requireUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	if user.ServiceUserID != "" {
		if err := s.server.DeleteUser(ctx, user.ServiceUserID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
		}
	}
	if err := s.users.DeleteByTelegramID(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Warn("ユーザーを削除しました",
		slog.Int64("telegram_id", telegramID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Stats はローカルとメディアサーバーのユーザー数を返す。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	local, err := s.users.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count users: %w", err)
	}
	remote, err := s.server.CountUsers(ctx)
	if err != nil {
		return Stats{LocalUsers: local}, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	return Stats{LocalUsers: local, ServerUsers: remote}, nil
}

func (s *Service) requireUser(ctx context.Context, telegramID int64) (*model.User, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
