// Package sheets はGoogle Apps Scriptで公開されたスプレッドシートをストアとして使う。
// スクリプトはUsersシートとSignupsシートを持ち、actionパラメータで操作を受け付ける。
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/potluck/internal/action"
	"github.com/hitoshi/potluck/internal/repository"
)

// maxResponseSize はスクリプト応答の最大サイズ。
const maxResponseSize = 5 * 1024 * 1024

// errUnsupportedAction はスクリプトがactionを知らないことを表す。
var errUnsupportedAction = errors.New("スクリプトが未対応のactionです")

// Envelope はスクリプトの応答。
type Envelope struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	User    *RemoteUser    `json:"user,omitempty"`
	Signups []RemoteSignup `json:"signups,omitempty"`
}

// RemoteUser はUsersシートの1行。
type RemoteUser struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash,omitempty"`
}

// RemoteSignup はSignupsシートの1行。timestampはISO 8601文字列。
type RemoteSignup struct {
	Category  string `json:"category"`
	Item      string `json:"item"`
	Slot      int    `json:"slot"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
	Notes     string `json:"notes"`
	Timestamp string `json:"timestamp"`
}

// Client はApps Scriptのwebアプリを呼び出すクライアント。
// タイムアウトはhttpClient側で設定する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Do は操作をフォームでPOSTし、応答を返す。
// 通信失敗・タイムアウト・解釈できない応答はrepository.ErrUnavailableを返す。
// この場合リモートで変更が適用されたかは不明。
// success=falseの応答はremoteErrorで変換したエラーを返す。
func (c *Client) Do(ctx context.Context, req action.Request) (*Envelope, error) {
	name := action.Name(req)
	form := action.Encode(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("スクリプトの呼び出しに失敗しました",
			slog.String("action", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: %v", repository.ErrUnavailable, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("スクリプトがエラーステータスを返しました",
			slog.String("action", name),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: %s: status %d", repository.ErrUnavailable, name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", repository.ErrUnavailable, name, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// スクリプトの実行エラー時はHTMLが返る
		c.logger.Error("スクリプトの応答のパースに失敗しました",
			slog.String("action", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: invalid response: %v", repository.ErrUnavailable, name, err)
	}

	if !env.Success {
		return &env, remoteError(name, &env)
	}
	return &env, nil
}

// remoteError はスクリプトのエラーをリポジトリのエラーに変換する。
// codeがあればcodeで、なければ従来のメッセージで判定する。
func remoteError(name string, env *Envelope) error {
	switch env.Code {
	case "SLOT_TAKEN", "IDENTIFIER_TAKEN", "CONFLICT":
		return fmt.Errorf("%s: %s: %w", name, env.Error, repository.ErrConflict)
	case "SIGNUP_NOT_FOUND", "USER_NOT_FOUND", "NOT_FOUND":
		return fmt.Errorf("%s: %s: %w", name, env.Error, repository.ErrNotFound)
	case "UNKNOWN_ACTION":
		return fmt.Errorf("%s: %w", name, errUnsupportedAction)
	}

	switch env.Error {
	case "Slot already taken", "Email already registered":
		return fmt.Errorf("%s: %s: %w", name, env.Error, repository.ErrConflict)
	case "Signup not found", "User not found":
		return fmt.Errorf("%s: %s: %w", name, env.Error, repository.ErrNotFound)
	case "Invalid email or password":
		// 従来のloginは行がない場合もシークレット不一致も同じメッセージを返す
		return fmt.Errorf("%s: %s: %w", name, env.Error, repository.ErrNotFound)
	case "Unknown action":
		return fmt.Errorf("%s: %w", name, errUnsupportedAction)
	}
	return fmt.Errorf("スクリプトがエラーを返しました: %s: %s", name, env.Error)
}
