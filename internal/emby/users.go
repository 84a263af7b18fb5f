package emby

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// User はEmbyのユーザー情報。
type User struct {
	ID            string      `json:"Id"`
	Name          string      `json:"Name"`
	ServerID      string      `json:"ServerId,omitempty"`
	HasPassword   bool        `json:"HasPassword"`
	LastLoginDate *time.Time  `json:"LastLoginDate,omitempty"`
	Policy        *UserPolicy `json:"Policy,omitempty"`
}

// UserPolicy はユーザーの権限設定のうち参照する項目。
type UserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
	IsDisabled      bool `json:"IsDisabled"`
}

// UsersQueryResult は /Users/Query のレスポンス。
type UsersQueryResult struct {
	Items            []User `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// GetUsers はユーザー一覧を取得する。paramsにはLimitやStartIndexなどを指定できる。
func (c *Client) GetUsers(ctx context.Context, params url.Values) (*UsersQueryResult, error) {
	var out UsersQueryResult
	if err := c.Request(ctx, http.MethodGet, "/Users/Query", params, nil).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to get emby users: %w", err)
	}
	return &out, nil
}

// CountUsers はサーバー上のユーザー数を返す。
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	res, err := c.GetUsers(ctx, url.Values{"Limit": []string{"1"}})
	if err != nil {
		return 0, err
	}
	return res.TotalRecordCount, nil
}

// GetUser はIDでユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var out User
	if err := c.Request(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID), nil, nil).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to get emby user %s: %w", userID, err)
	}
	return &out, nil
}

// GetUserByName はユーザー名が完全一致するユーザーを返す。見つからない場合はnilを返す。
func (c *Client) GetUserByName(ctx context.Context, name string) (*User, error) {
	res, err := c.GetUsers(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range res.Items {
		if res.Items[i].Name == name {
			return &res.Items[i], nil
		}
	}
	return nil, nil
}

// CreateUser はユーザーを作成する。
// copyFromID が空でなくそのユーザーが存在する場合は、そのユーザーの権限設定を複製する。
func (c *Client) CreateUser(ctx context.Context, name, copyFromID string) (*User, error) {
	body := map[string]any{"Name": name}
	if copyFromID != "" {
		if _, err := c.GetUser(ctx, copyFromID); err == nil {
			body["CopyFromUserId"] = copyFromID
			body["UserCopyOptions"] = []string{"UserPolicy"}
		} else {
			c.logger.Warn("テンプレートユーザーが見つからないためデフォルト設定で作成します",
				slog.String("copy_from_id", copyFromID),
				slog.String("error", err.Error()),
			)
		}
	}

	var out User
	if err := c.Request(ctx, http.MethodPost, "/Users/New", nil, body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to create emby user %s: %w", name, err)
	}
	return &out, nil
}

// DeleteUser はユーザーを削除する。
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if err := c.Request(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Delete", nil, nil).Err(); err != nil {
		return fmt.Errorf("failed to delete emby user %s: %w", userID, err)
	}
	return nil
}

// UpdatePassword はユーザーのパスワードを設定する。
func (c *Client) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	body := map[string]string{"NewPw": newPassword}
	if err := c.Request(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Password", nil, body).Err(); err != nil {
		return fmt.Errorf("failed to update emby password for %s: %w", userID, err)
	}
	return nil
}

// SetUserDisabled はユーザーの無効化フラグを設定する。
// 他の権限設定を保つため、現在のポリシーを取得してから書き戻す。
func (c *Client) SetUserDisabled(ctx context.Context, userID string, disabled bool) error {
	res := c.Request(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID), nil, nil)
	var raw struct {
		Policy map[string]json.RawMessage `json:"Policy"`
	}
	if err := res.Decode(&raw); err != nil {
		return fmt.Errorf("failed to get emby policy for %s: %w", userID, err)
	}
	if raw.Policy == nil {
		raw.Policy = make(map[string]json.RawMessage)
	}
	raw.Policy["IsDisabled"] = json.RawMessage(strconv.FormatBool(disabled))

	if err := c.Request(ctx, http.MethodPost, "/Users/"+url.PathEscape(userID)+"/Policy", nil, raw.Policy).Err(); err != nil {
		return fmt.Errorf("failed to update emby policy for %s: %w", userID, err)
	}
	return nil
}
