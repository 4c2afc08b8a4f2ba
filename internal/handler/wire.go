package handler

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/potluck/internal/model"
)

// timestampLayout はミリ秒精度のISO 8601形式。
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// slotNumber は数値と数字文字列のどちらでも受け付ける枠番号。
// 整数として解釈できない値は0になり、検証で弾かれる。
type slotNumber int

func (n *slotNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		*n = 0
		return nil
	}
	*n = slotNumber(f)
	return nil
}

// firstNonEmpty は最初の空でない値を返す。
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// firstNonNil は最初のnilでない値を返す。
func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// registerRequest は登録リクエスト。従来のフィールド名も受け付ける。
type registerRequest struct {
	Email        string `json:"email"`
	Identifier   string `json:"identifier"`
	PasswordHash string `json:"password_hash"`
	Secret       string `json:"secret"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
}

func (r registerRequest) identifier() string {
	return firstNonEmpty(r.Email, r.Identifier)
}

func (r registerRequest) secret() string {
	return firstNonEmpty(r.PasswordHash, r.Secret)
}

func (r registerRequest) displayName() string {
	return firstNonEmpty(r.Name, r.DisplayName)
}

// loginRequest はログインリクエスト。
// credentialモードではemailとpassword_hash、それ以外ではusernameとnameを使う。
type loginRequest struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	Identifier   string `json:"identifier"`
	PasswordHash string `json:"password_hash"`
	Secret       string `json:"secret"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
}

func (r loginRequest) identifier() string {
	return firstNonEmpty(r.Email, r.Username, r.Identifier)
}

func (r loginRequest) secret() string {
	return firstNonEmpty(r.PasswordHash, r.Secret)
}

func (r loginRequest) displayName() string {
	return firstNonEmpty(r.Name, r.DisplayName)
}

// signupRequest は申込みの作成・取消し・更新・削除に共通のリクエスト。
type signupRequest struct {
	Category         string     `json:"category"`
	Item             string     `json:"item"`
	Slot             slotNumber `json:"slot"`
	UserEmail        string     `json:"user_email"`
	OwnerIdentifier  string     `json:"owner_identifier"`
	UserName         *string    `json:"user_name"`
	OwnerDisplayName *string    `json:"owner_display_name"`
	DisplayName      *string    `json:"display_name"`
	Notes            *string    `json:"notes"`
	Note             *string    `json:"note"`
}

func (r signupRequest) triple() model.Triple {
	return model.Triple{Category: r.Category, Item: r.Item, Slot: int(r.Slot)}
}

func (r signupRequest) ownerIdentifier() string {
	return firstNonEmpty(r.UserEmail, r.OwnerIdentifier)
}

func (r signupRequest) displayName() *string {
	return firstNonNil(r.UserName, r.OwnerDisplayName, r.DisplayName)
}

func (r signupRequest) note() *string {
	return firstNonNil(r.Notes, r.Note)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// userResponse は識別情報のレスポンス。シークレットは含めない。
type userResponse struct {
	Email      string `json:"email"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

func toUserResponse(identity *model.Identity) userResponse {
	return userResponse{
		Email:      identity.Identifier,
		Identifier: identity.Identifier,
		Name:       identity.DisplayName,
	}
}

// signupResponse は申込みのレスポンス。UIが使う従来のフィールド名で返す。
type signupResponse struct {
	Category  string `json:"category"`
	Item      string `json:"item"`
	Slot      int    `json:"slot"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
	Notes     string `json:"notes"`
	Timestamp string `json:"timestamp"`
}

func toSignupResponse(c *model.Claim) signupResponse {
	return signupResponse{
		Category:  c.Category,
		Item:      c.Item,
		Slot:      c.Slot,
		UserEmail: c.OwnerIdentifier,
		UserName:  c.OwnerDisplayName,
		Notes:     c.Note,
		Timestamp: formatTimestamp(c.CreatedAt),
	}
}

func toSignupResponses(claims []model.Claim) []signupResponse {
	out := make([]signupResponse, 0, len(claims))
	for i := range claims {
		out = append(out, toSignupResponse(&claims[i]))
	}
	return out
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}
