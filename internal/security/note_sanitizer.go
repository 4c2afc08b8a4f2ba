// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizer は申込みメモをプレーンテキストに正規化する。
type NoteSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// script/style要素は内容ごと除去される。
	Sanitize(raw string) string
}

// noteSanitizer はbluemondayのStrictPolicyを使うNoteSanitizerの実装。
// Policyはスレッドセーフなので1つを共有する。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerを生成する。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエスケープの入れ子を剥がす最大回数。
const maxSanitizePasses = 8

// Sanitize はタグを除去する。StrictPolicyはエンティティをエスケープして返すため、
// 元に戻した結果に再びタグが現れなくなるまで繰り返す。
// 収束しない場合はエスケープされたままの結果を返す。
func (s *noteSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	for i := 0; i < maxSanitizePasses; i++ {
		escaped := s.policy.Sanitize(text)
		next := html.UnescapeString(escaped)
		if next == text {
			return strings.TrimSpace(next)
		}
		if i == maxSanitizePasses-1 {
			return strings.TrimSpace(escaped)
		}
		text = next
	}
	return ""
}
