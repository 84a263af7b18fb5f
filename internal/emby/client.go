// Package emby はEmbyメディアサーバーAPIのクライアントを提供する。
// 認証トークンの期限切れ（401）を検知すると再ログインしてリクエストを再送する。
package emby

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mediabot/internal/metrics"
)

const (
	loginEndpoint  = "/Users/AuthenticateByName"
	verifyEndpoint = "/Users/Query"
	tokenHeader    = "X-Emby-Token"

	clientName    = "mediabot"
	clientVersion = "1.0.0"

	// defaultMaxRetries は401受信時の再ログイン回数の上限のデフォルト値。
	defaultMaxRetries = 3
)

// Result.Status の値。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config はクライアントの接続設定。
// APIKeyが設定されている場合は固定トークンで認証し、
// それ以外はUsername/Passwordでログインしてトークンを取得する。
type Config struct {
	BaseURL    string
	APIKey     string
	Username   string
	Password   string
	MaxRetries int
}

// Result はAPI呼び出しの結果。Requestはエラーを返さず、失敗もResultで表す。
type Result struct {
	Status     string
	StatusCode int
	Data       json.RawMessage
	Headers    http.Header
	Message    string
}

// OK は成功したかを返す。
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err は失敗時にエラーを返す。成功時はnil。
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Message: r.Message}
}

// Decode はレスポンスボディをvにデコードする。
func (r Result) Decode(v any) error {
	if !r.OK() {
		return r.Err()
	}
	if len(r.Data) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError はAPI呼び出しの失敗を表す。StatusCodeは通信エラーの場合0。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "emby request failed: " + e.Message
	}
	return fmt.Sprintf("emby request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client はEmby APIのクライアント。
// 通常のリクエストはトークンをatomicに読み取り、再ログインはmutexで直列化する。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	deviceID   string

	token  atomic.Pointer[string]
	authMu sync.Mutex
}

// New はクライアントを生成し、認証を行う。
// APIキー認証の場合はユーザー一覧の取得でキーを検証し、
// ユーザー名認証の場合はログインしてトークンを取得する。
func New(ctx context.Context, cfg Config, httpClient *http.Client, logger *slog.Logger, mc metrics.MetricsCollector) (*Client, error) {
	c, err := newClient(cfg, httpClient, logger, mc)
	if err != nil {
		return nil, err
	}

	if cfg.APIKey != "" {
		c.storeToken(cfg.APIKey)
		query := url.Values{"Limit": []string{"1"}}
		if res := c.Request(ctx, http.MethodGet, verifyEndpoint, query, nil); !res.OK() {
			return nil, fmt.Errorf("failed to verify emby api key: %w", res.Err())
		}
		c.logger.Info("EmbyにAPIキーで接続しました", slog.String("base_url", cfg.BaseURL))
		return c, nil
	}

	if err := c.login(ctx); err != nil {
		return nil, fmt.Errorf("failed to login to emby: %w", err)
	}
	c.logger.Info("Embyにログインしました", slog.String("base_url", cfg.BaseURL))
	return c, nil
}

func newClient(cfg Config, httpClient *http.Client, logger *slog.Logger, mc metrics.MetricsCollector) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("emby base url is required")
	}
	if cfg.APIKey == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, errors.New("emby api key or username/password is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		deviceID:   uuid.NewString(),
	}
	empty := ""
	c.token.Store(&empty)
	return c, nil
}

// Request はAPIを呼び出す。
// 200は本文とヘッダー、204は空の本文で成功とする。
// 401の場合は再ログインして同じリクエストを再送する。再ログインは失敗も含めて
// MaxRetries回までで、上限に達した場合はエラー結果を返す。
// その他のステータスや通信エラーはエラー結果を返す。
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values, body any) Result {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errorResult(0, fmt.Sprintf("failed to encode request body: %v", err))
		}
		payload = b
	}

	logins := 0
	for {
		token := c.loadToken()
		res := c.do(ctx, method, endpoint, params, payload, token)
		if res.StatusCode != http.StatusUnauthorized {
			return res
		}

		if !c.canLogin() {
			c.logger.Error("EmbyがAPIキーを拒否しました",
				slog.String("endpoint", endpoint),
			)
			return errorResult(http.StatusUnauthorized, "api key rejected")
		}

		for {
			if logins >= c.cfg.MaxRetries {
				c.logger.Error("Embyへの再ログイン回数が上限に達しました",
					slog.String("endpoint", endpoint),
					slog.Int("max_retries", c.cfg.MaxRetries),
				)
				return errorResult(http.StatusUnauthorized,
					fmt.Sprintf("unauthorized after %d re-authentication attempts", logins))
			}
			logins++
			c.logger.Warn("Embyのトークンが無効なため再ログインします",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", logins),
			)
			if err := c.reauthenticate(ctx, token); err != nil {
				c.logger.Warn("Embyへの再ログインに失敗しました",
					slog.Int("attempt", logins),
					slog.String("error", err.Error()),
				)
				if ctx.Err() != nil {
					return errorResult(0, ctx.Err().Error())
				}
				continue
			}
			break
		}
	}
}

// do はリクエストを1回送信する。
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload []byte, token string) Result {
	reqURL := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return errorResult(0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordEmbyLatency(time.Since(start))
	if err != nil {
		c.metrics.RecordEmbyRequest(0)
		c.logger.Error("Emby APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return errorResult(0, err.Error())
	}
	defer resp.Body.Close()
	c.metrics.RecordEmbyRequest(resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(resp.StatusCode, fmt.Sprintf("failed to read response body: %v", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Status: StatusSuccess, StatusCode: resp.StatusCode, Data: data, Headers: resp.Header}
	case http.StatusNoContent:
		return Result{Status: StatusSuccess, StatusCode: resp.StatusCode, Headers: resp.Header}
	case http.StatusUnauthorized:
		return errorResult(resp.StatusCode, "unauthorized")
	default:
		c.logger.Error("Emby APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errorResult(resp.StatusCode, msg)
	}
}

// reauthenticate はstaleトークンを置き換えるためにログインする。
// 待機中に他のgoroutineが既にトークンを更新していればログインせずに返る。
func (c *Client) reauthenticate(ctx context.Context, stale string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.loadToken() != stale {
		return nil
	}
	return c.loginLocked(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.loginLocked(ctx)
}

// loginLocked はユーザー名とパスワードでログインしトークンを保存する。authMuを保持して呼ぶこと。
func (c *Client) loginLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"Username": c.cfg.Username,
		"Pw":       c.cfg.Password,
	})
	if err != nil {
		return err
	}
	params := url.Values{
		"X-Emby-Client":         []string{clientName},
		"X-Emby-Device-Name":    []string{clientName},
		"X-Emby-Device-Id":      []string{c.deviceID},
		"X-Emby-Client-Version": []string{clientVersion},
	}

	res := c.do(ctx, http.MethodPost, loginEndpoint, params, payload, "")
	if !res.OK() {
		c.metrics.RecordEmbyReauth(false)
		return res.Err()
	}

	var auth struct {
		AccessToken string `json:"AccessToken"`
	}
	if err := res.Decode(&auth); err != nil {
		c.metrics.RecordEmbyReauth(false)
		return err
	}
	if auth.AccessToken == "" {
		c.metrics.RecordEmbyReauth(false)
		return errors.New("login response has no access token")
	}

	c.storeToken(auth.AccessToken)
	c.metrics.RecordEmbyReauth(true)
	return nil
}

func (c *Client) canLogin() bool {
	return c.cfg.Username != "" && c.cfg.Password != ""
}

func (c *Client) loadToken() string {
	return *c.token.Load()
}

func (c *Client) storeToken(token string) {
	c.token.Store(&token)
}

func errorResult(statusCode int, message string) Result {
	return Result{Status: StatusError, StatusCode: statusCode, Message: message}
}
