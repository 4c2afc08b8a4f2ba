package model

import (
	"strings"
	"time"
)

// Identity はイベント参加者の識別情報を表す。
// Identifierは大文字小文字を区別せず一意。
type Identity struct {
	ID          string
	Identifier  string
	DisplayName string
	// SecretHash はcredentialモードでのみ使用するbcryptハッシュ。
	// レスポンスには含めない。
	SecretHash string
	CreatedAt  time.Time
}

// NormalizeIdentifier は識別子の比較用の正規化を行う。
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
