package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mediabot/internal/model"
)

func seedUser(t *testing.T, users *memUserRepo, id int64, status model.UserStatus, expireAt *time.Time) {
	t.Helper()
	require.NoError(t, users.Create(context.Background(), &model.User{
		TelegramID:    id,
		Username:      "user" + string(rune('a'+id)),
		ServiceUserID: "emby-" + string(rune('a'+id)),
		Status:        status,
		ExpireAt:      expireAt,
	}))
}

func at(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestListExpired_ExcludesWhitelist(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusActive, at(2026, 1, 1))
	seedUser(t, users, 2, model.UserStatusWhitelist, at(2026, 1, 1))
	seedUser(t, users, 3, model.UserStatusExpired, at(2025, 12, 1))
	seedUser(t, users, 4, model.UserStatusActive, at(2026, 2, 1))
	seedUser(t, users, 5, model.UserStatusActive, nil)
	s := newTestService(users, &mockRedeemer{}, &mockServer{})

	got, err := s.ListExpired(context.Background())
	require.NoError(t, err)

	var ids []int64
	for _, u := range got {
		ids = append(ids, u.TelegramID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestListExpiring_WithinWindow(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusActive, at(2026, 1, 12))
	seedUser(t, users, 2, model.UserStatusActive, at(2026, 1, 20))
	seedUser(t, users, 3, model.UserStatusActive, at(2026, 1, 9))
	seedUser(t, users, 4, model.UserStatusBlocked, at(2026, 1, 11))
	s := newTestService(users, &mockRedeemer{}, &mockServer{})

	got, err := s.ListExpiring(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].TelegramID)
}

func TestExpireUsers_DisablesAndReactivates(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusActive, at(2026, 1, 1))
	seedUser(t, users, 2, model.UserStatusWhitelist, at(2026, 1, 1))
	seedUser(t, users, 3, model.UserStatusExpired, at(2026, 2, 1))
	seedUser(t, users, 4, model.UserStatusActive, at(2026, 2, 1))
	server := &mockServer{}
	s := newTestService(users, &mockRedeemer{}, server)

	result, err := s.ExpireUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Expired, 1)
	assert.Equal(t, int64(1), result.Expired[0].TelegramID)
	require.Len(t, result.Reactivated, 1)
	assert.Equal(t, int64(3), result.Reactivated[0].TelegramID)
	assert.Zero(t, result.Failed)

	assert.Equal(t, map[string]bool{"emby-b": true, "emby-d": false}, server.disabled)

	u1, _ := users.FindByTelegramID(context.Background(), 1)
	assert.Equal(t, model.UserStatusExpired, u1.Status)
	u2, _ := users.FindByTelegramID(context.Background(), 2)
	assert.Equal(t, model.UserStatusWhitelist, u2.Status)
	u3, _ := users.FindByTelegramID(context.Background(), 3)
	assert.Equal(t, model.UserStatusActive, u3.Status)
}

func TestExpireUsers_ServerFailureKeepsStatus(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusActive, at(2026, 1, 1))
	s := newTestService(users, &mockRedeemer{}, &mockServer{disableErr: errors.New("down")})

	result, err := s.ExpireUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Expired)
	assert.Equal(t, 1, result.Failed)

	u, _ := users.FindByTelegramID(context.Background(), 1)
	assert.Equal(t, model.UserStatusActive, u.Status, "status must stay active so the next run retries")
}

func TestBlockAndUnblock_ByIDOrUsername(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusActive, nil)
	s := newTestService(users, &mockRedeemer{}, &mockServer{})

	u, err := s.Block(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, model.UserStatusBlocked, u.Status)

	blocked, err := s.ListBlocked(context.Background())
	require.NoError(t, err)
	require.Len(t, blocked, 1)

	u, err = s.Unblock(context.Background(), "userb")
	require.NoError(t, err)
	assert.Equal(t, model.UserStatusActive, u.Status)

	_, err = s.Block(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetServerUserDisabled(t *testing.T) {
	users := newMemUserRepo()
	seedUser(t, users, 1, model.UserStatusBlocked, nil)
	require.NoError(t, users.Create(context.Background(), &model.User{TelegramID: 9, Username: "local_only"}))
	server := &mockServer{}
	s := newTestService(users, &mockRedeemer{}, server)

	_, err := s.SetServerUserDisabled(context.Background(), 1, true)
	require.NoError(t, err)
	assert.True(t, server.disabled["emby-b"])

	_, err = s.SetServerUserDisabled(context.Background(), 1, false)
	require.NoError(t, err)
	assert.False(t, server.disabled["emby-b"])

	_, err = s.SetServerUserDisabled(context.Background(), 9, true)
	assert.ErrorIs(t, err, ErrNoServerAccount)

	_, err = s.SetServerUserDisabled(context.Background(), 99, true)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
