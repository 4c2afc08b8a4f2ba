// Package action は単一エンドポイント形式（?action=...）のリクエストを型付きで表す。
// 受け付ける操作は閉じた集合で、未知のactionはErrUnknownActionになる。
package action

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrUnknownAction は未定義のactionを表す。
var ErrUnknownAction = errors.New("unknown action")

// action名
const (
	NameRegister          = "register"
	NameLogin             = "login"
	NameLoginOrCreate     = "loginOrCreate"
	NameGetSignups        = "getSignups"
	NameAddSignup         = "addSignup"
	NameRemoveSignup      = "removeSignup"
	NameUpdateSignup      = "updateSignup"
	NameAdminRemoveSignup = "adminRemoveSignup"
	NameGetUser           = "getUser"
	NameUpsertUser        = "upsertUser"
)

// Request は単一エンドポイントの操作。実装はこのパッケージ内の型に限られる。
type Request interface {
	actionName() string
	encode(v url.Values)
}

// Name はリクエストのaction名を返す。
func Name(r Request) string {
	return r.actionName()
}

type Register struct {
	Email        string
	PasswordHash string
	Name         string
}

type Login struct {
	Email        string
	PasswordHash string
}

// LoginOrCreate はパスワードなしのログイン。
type LoginOrCreate struct {
	Username string
	Name     string
}

type GetSignups struct{}

type AddSignup struct {
	Category  string
	Item      string
	Slot      int
	UserEmail string
	UserName  string
	Notes     string
}

type RemoveSignup struct {
	Category  string
	Item      string
	Slot      int
	UserEmail string
}

// UpdateSignup は管理者による更新。nilのフィールドは送らない。
type UpdateSignup struct {
	Category string
	Item     string
	Slot     int
	UserName *string
	Notes    *string
}

// AdminRemoveSignup は管理者による削除。UserEmailが空なら枠のみで照合する。
type AdminRemoveSignup struct {
	Category  string
	Item      string
	Slot      int
	UserEmail string
}

type GetUser struct {
	Email string
}

// UpsertUser は既存ユーザーの表示名を更新する。
type UpsertUser struct {
	Email string
	Name  string
}

func (Register) actionName() string          { return NameRegister }
func (Login) actionName() string             { return NameLogin }
func (LoginOrCreate) actionName() string     { return NameLoginOrCreate }
func (GetSignups) actionName() string        { return NameGetSignups }
func (AddSignup) actionName() string         { return NameAddSignup }
func (RemoveSignup) actionName() string      { return NameRemoveSignup }
func (UpdateSignup) actionName() string      { return NameUpdateSignup }
func (AdminRemoveSignup) actionName() string { return NameAdminRemoveSignup }
func (GetUser) actionName() string           { return NameGetUser }
func (UpsertUser) actionName() string        { return NameUpsertUser }

func (r Register) encode(v url.Values) {
	v.Set("email", r.Email)
	v.Set("password_hash", r.PasswordHash)
	v.Set("name", r.Name)
}

func (r Login) encode(v url.Values) {
	v.Set("email", r.Email)
	v.Set("password_hash", r.PasswordHash)
}

func (r LoginOrCreate) encode(v url.Values) {
	v.Set("username", r.Username)
	if r.Name != "" {
		v.Set("name", r.Name)
	}
}

func (GetSignups) encode(url.Values) {}

func (r AddSignup) encode(v url.Values) {
	setSlot(v, r.Category, r.Item, r.Slot)
	v.Set("user_email", r.UserEmail)
	v.Set("user_name", r.UserName)
	v.Set("notes", r.Notes)
}

func (r RemoveSignup) encode(v url.Values) {
	setSlot(v, r.Category, r.Item, r.Slot)
	v.Set("user_email", r.UserEmail)
}

func (r UpdateSignup) encode(v url.Values) {
	setSlot(v, r.Category, r.Item, r.Slot)
	if r.UserName != nil {
		v.Set("user_name", *r.UserName)
	}
	if r.Notes != nil {
		v.Set("notes", *r.Notes)
	}
}

func (r AdminRemoveSignup) encode(v url.Values) {
	setSlot(v, r.Category, r.Item, r.Slot)
	if r.UserEmail != "" {
		v.Set("user_email", r.UserEmail)
	}
}

func (r GetUser) encode(v url.Values) {
	v.Set("email", r.Email)
}

func (r UpsertUser) encode(v url.Values) {
	v.Set("email", r.Email)
	v.Set("name", r.Name)
}

func setSlot(v url.Values, category, item string, slot int) {
	v.Set("category", category)
	v.Set("item", item)
	v.Set("slot", strconv.Itoa(slot))
}

// Encode はリクエストをフォーム値に変換する。actionパラメータを含む。
func Encode(r Request) url.Values {
	v := url.Values{}
	v.Set("action", r.actionName())
	r.encode(v)
	return v
}

// Decode はフォーム値からリクエストを復元する。
// slotが整数でない場合は0になり、検証は呼び出し側の責務とする。
func Decode(v url.Values) (Request, error) {
	name := v.Get("action")
	switch name {
	case NameRegister:
		return Register{Email: v.Get("email"), PasswordHash: v.Get("password_hash"), Name: v.Get("name")}, nil
	case NameLogin:
		return Login{Email: v.Get("email"), PasswordHash: v.Get("password_hash")}, nil
	case NameLoginOrCreate:
		return LoginOrCreate{Username: v.Get("username"), Name: v.Get("name")}, nil
	case NameGetSignups:
		return GetSignups{}, nil
	case NameAddSignup:
		return AddSignup{
			Category:  v.Get("category"),
			Item:      v.Get("item"),
			Slot:      parseSlot(v.Get("slot")),
			UserEmail: v.Get("user_email"),
			UserName:  v.Get("user_name"),
			Notes:     v.Get("notes"),
		}, nil
	case NameRemoveSignup:
		return RemoveSignup{
			Category:  v.Get("category"),
			Item:      v.Get("item"),
			Slot:      parseSlot(v.Get("slot")),
			UserEmail: v.Get("user_email"),
		}, nil
	case NameUpdateSignup:
		return UpdateSignup{
			Category: v.Get("category"),
			Item:     v.Get("item"),
			Slot:     parseSlot(v.Get("slot")),
			UserName: optional(v, "user_name"),
			Notes:    optional(v, "notes"),
		}, nil
	case NameAdminRemoveSignup:
		return AdminRemoveSignup{
			Category:  v.Get("category"),
			Item:      v.Get("item"),
			Slot:      parseSlot(v.Get("slot")),
			UserEmail: v.Get("user_email"),
		}, nil
	case NameGetUser:
		return GetUser{Email: v.Get("email")}, nil
	case NameUpsertUser:
		return UpsertUser{Email: v.Get("email"), Name: v.Get("name")}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

func parseSlot(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func optional(v url.Values, key string) *string {
	if !v.Has(key) {
		return nil
	}
	s := v.Get(key)
	return &s
}
