// Package access は管理者操作の共有シークレット認可を提供する。
package access

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAdminToken は管理者トークンを送るヘッダー名。
const HeaderAdminToken = "X-Admin-Token"

// Gate は管理者トークンを照合する。
// シークレットが未設定の場合はすべての要求を許可する（オープンモード）。
type Gate struct {
	secret []byte
}

// NewGate はGateを生成する。secretが空ならオープンモードになる。
func NewGate(secret string) *Gate {
	g := &Gate{}
	if secret != "" {
		g.secret = []byte(secret)
	}
	return g
}

// Open はオープンモードかどうかを返す。
func (g *Gate) Open() bool {
	return len(g.secret) == 0
}

// Authorize は提示されたトークンが設定値と完全一致するかを定数時間で比較する。
func (g *Gate) Authorize(presented string) bool {
	if g.Open() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), g.secret) == 1
}

// TokenFromRequest はX-Admin-Token、なければAuthorization: Bearerからトークンを取り出す。
// presentはいずれかのヘッダーが送られたかを示す。
func TokenFromRequest(r *http.Request) (token string, present bool) {
	if v := r.Header.Get(HeaderAdminToken); v != "" {
		return v, true
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):]), true
	}
	return "", false
}
