// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（UIはそのまま表示する）
	Category string // カテゴリ: auth, validation, signup, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeSlotTaken       = "SLOT_TAKEN"
	ErrCodeIdentifierTaken = "IDENTIFIER_TAKEN"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeSignupNotFound  = "SIGNUP_NOT_FOUND"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewSlotTakenError は枠がすでに埋まっている場合のエラーを生成する。
func NewSlotTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeSlotTaken,
		Message:  "Slot already taken",
		Category: "signup",
		Action:   "一覧を再読み込みして、空いている枠を選んでください。",
	}
}

// NewIdentifierTakenError は識別子（メールアドレス等）が登録済みの場合のエラーを生成する。
func NewIdentifierTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentifierTaken,
		Message:  "Email already registered",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidCredentialsError は認証情報が一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Invalid email or password",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewAdminUnauthorizedError は管理者トークンが不正な場合のエラーを生成する。
func NewAdminUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Admin token required",
		Category: "auth",
		Action:   "正しい管理者トークンを設定してください。",
	}
}

// NewSignupNotFoundError は対象の申込みが存在しない場合のエラーを生成する。
// 所有者不一致の場合も同じエラーを返し、枠の所有者を漏らさない。
func NewSignupNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSignupNotFound,
		Message:  "Signup not found",
		Category: "signup",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewUnavailableError はバックエンドのストアに到達できない場合のエラーを生成する。
// 変更が反映されたかどうかは不明なため、呼び出し側は一覧を再取得する。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "Storage is temporarily unavailable",
		Category: "system",
		Action:   "しばらく待ってから一覧を再読み込みしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// HasCode はerrがAPIErrorで、かつ指定コードを持つかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == code
}
