package account

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/mediabot/internal/model"
)

// ExpiryResult は期限切れ処理の結果。
type ExpiryResult struct {
	Expired     []*model.User // 今回無効化したユーザー
	Reactivated []*model.User // 延長済みのため再び有効にしたユーザー
	Failed      int
}

// ListExpired は有効期限を過ぎたユーザーを返す。ホワイトリストのユーザーは含めない。
func (s *Service) ListExpired(ctx context.Context) ([]*model.User, error) {
	now := s.now()
	users, err := s.users.List(ctx, model.UserFilter{ExpireBefore: &now})
	if err != nil {
		return nil, fmt.Errorf("failed to list expired users: %w", err)
	}
	out := users[:0]
	for _, u := range users {
		if u.Status != model.UserStatusWhitelist {
			out = append(out, u)
		}
	}
	return out, nil
}

// ListExpiring は有効なユーザーのうち、days日以内に期限を迎えるユーザーを返す。
func (s *Service) ListExpiring(ctx context.Context, days int) ([]*model.User, error) {
	now := s.now()
	until := now.AddDate(0, 0, days)
	active := model.UserStatusActive
	users, err := s.users.List(ctx, model.UserFilter{Status: &active, ExpireNotBefore: &now, ExpireBefore: &until})
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring users: %w", err)
	}
	return users, nil
}

// ExpireUsers は期限を過ぎた有効なユーザーのメディアサーバーアカウントを無効化し、状態をexpiredにする。
// あわせて、expiredのまま期限が延長されているユーザーを再び有効にする。
// 個々のユーザーの失敗はFailedに数え、残りのユーザーの処理を続ける。
func (s *Service) ExpireUsers(ctx context.Context) (ExpiryResult, error) {
	var result ExpiryResult
	now := s.now()

	active := model.UserStatusActive
	targets, err := s.users.List(ctx, model.UserFilter{Status: &active, ExpireBefore: &now})
	if err != nil {
		return result, fmt.Errorf("failed to list expired users: %w", err)
	}
	for _, u := range targets {
		if err := s.deactivate(ctx, u); err != nil {
			s.logger.Error("期限切れユーザーの無効化に失敗しました",
				slog.Int64("telegram_id", u.TelegramID),
				slog.String("error", err.Error()),
			)
			result.Failed++
			continue
		}
		result.Expired = append(result.Expired, u)
	}

	expired := model.UserStatusExpired
	renewed, err := s.users.List(ctx, model.UserFilter{Status: &expired, ExpireNotBefore: &now})
	if err != nil {
		return result, fmt.Errorf("failed to list renewed users: %w", err)
	}
	for _, u := range renewed {
		if err := s.reactivate(ctx, u); err != nil {
			s.logger.Error("延長済みユーザーの再有効化に失敗しました",
				slog.Int64("telegram_id", u.TelegramID),
				slog.String("error", err.Error()),
			)
			result.Failed++
			continue
		}
		result.Reactivated = append(result.Reactivated, u)
	}

	if len(result.Expired) > 0 || len(result.Reactivated) > 0 || result.Failed > 0 {
		s.logger.Info("期限切れユーザーの処理が完了しました",
			slog.Int("expired_count", len(result.Expired)),
			slog.Int("reactivated_count", len(result.Reactivated)),
			slog.Int("failed_count", result.Failed),
		)
	}
	return result, nil
}

// deactivate はメディアサーバーのアカウントを無効化してから状態をexpiredにする。
func (s *Service) deactivate(ctx context.Context, u *model.User) error {
	if u.ServiceUserID != "" {
		if err := s.server.SetUserDisabled(ctx, u.ServiceUserID, true); err != nil {
			return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
		}
	}
	if err := s.users.UpdateStatus(ctx, u.TelegramID, model.UserStatusExpired); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	u.Status = model.UserStatusExpired
	return nil
}

// reactivate はメディアサーバーのアカウントを有効化してから状態をactiveに戻す。
func (s *Service) reactivate(ctx context.Context, u *model.User) error {
	if u.ServiceUserID != "" {
		if err := s.server.SetUserDisabled(ctx, u.ServiceUserID, false); err != nil {
			return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
		}
	}
	if err := s.users.UpdateStatus(ctx, u.TelegramID, model.UserStatusActive); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	u.Status = model.UserStatusActive
	return nil
}

// FindTarget は管理者コマンドの対象ユーザーをTelegram IDまたはユーザー名で探す。
func (s *Service) FindTarget(ctx context.Context, target string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if id, convErr := strconv.ParseInt(target, 10, 64); convErr == nil {
		user, err = s.users.FindByTelegramID(ctx, id)
	} else {
		user, err = s.users.FindByUsername(ctx, target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Block はユーザーをブロック状態にする。メディアサーバーのアカウントは変更しない。
func (s *Service) Block(ctx context.Context, target string) (*model.User, error) {
	return s.setStatus(ctx, target, model.UserStatusBlocked)
}

// Unblock はユーザーのブロックを解除して有効な状態に戻す。
// 期限を過ぎている場合は次回の期限切れ処理で無効化される。
func (s *Service) Unblock(ctx context.Context, target string) (*model.User, error) {
	return s.setStatus(ctx, target, model.UserStatusActive)
}

func (s *Service) setStatus(ctx context.Context, target string, status model.UserStatus) (*model.User, error) {
	user, err := s.FindTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateStatus(ctx, user.TelegramID, status); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	user.Status = status

	s.logger.Warn("ユーザーの状態を変更しました",
		slog.Int64("telegram_id", user.TelegramID),
		slog.String("status", string(status)),
	)
	return user, nil
}

// SetServerUserDisabled はユーザーのメディアサーバーアカウントを無効化または有効化する。
func (s *Service) SetServerUserDisabled(ctx context.Context, telegramID int64, disabled bool) (*model.User, error) {
	user, err := s.requireUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user.ServiceUserID == "" {
		return nil, ErrNoServerAccount
	}
	if err := s.server.SetUserDisabled(ctx, user.ServiceUserID, disabled); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	s.logger.Warn("メディアサーバーアカウントの状態を変更しました",
		slog.Int64("telegram_id", telegramID),
		slog.Bool("disabled", disabled),
	)
	return user, nil
}

// ListBlocked はブロック中のユーザーを返す。
func (s *Service) ListBlocked(ctx context.Context) ([]*model.User, error) {
	blocked := model.UserStatusBlocked
	users, err := s.users.List(ctx, model.UserFilter{Status: &blocked})
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	return users, nil
}
