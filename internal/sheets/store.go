package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hitoshi/potluck/internal/action"
	"github.com/hitoshi/potluck/internal/model"
	"github.com/hitoshi/potluck/internal/repository"
)

// Store はスプレッドシートをIdentityRepository/ClaimRepositoryとして扱う。
// scripts/apps_script.js はLockServiceで存在確認と追記を不可分に行う。
// 従来のスクリプトはそうしないため、このプロセスからの変更は枠ごとのロックでも直列化する。
// ロックは1回の呼び出しの間だけ保持する。
//
// getUser、upsertUser、updateSignup、adminRemoveSignupを持たない従来のスクリプトを
// 検出した場合は、従来の5つのactionで代替する。
type Store struct {
	client     *Client
	claimLocks *keyedLock[model.Triple]
	userLocks  *keyedLock[string]
	legacy     atomic.Bool
}

// NewStore はStoreを生成する。
func NewStore(client *Client) *Store {
	return &Store{
		client:     client,
		claimLocks: newKeyedLock[model.Triple](),
		userLocks:  newKeyedLock[string](),
	}
}

// Legacy は従来のスクリプトとして扱っているかを返す。
func (s *Store) Legacy() bool {
	return s.legacy.Load()
}

// extended は拡張actionを呼び出し、スクリプトが未対応なら以後fallbackを使う。
func (s *Store) extended(ctx context.Context, req action.Request, fallback func() (*Envelope, error)) (*Envelope, error) {
	if s.legacy.Load() {
		return fallback()
	}
	env, err := s.client.Do(ctx, req)
	if errors.Is(err, errUnsupportedAction) {
		if s.legacy.CompareAndSwap(false, true) {
			s.client.logger.Warn("スクリプトが拡張actionに未対応のため従来のactionで代替します",
				slog.String("action", action.Name(req)),
			)
		}
		return fallback()
	}
	return env, err
}

// PingContext はgetSignupsでスクリプトの疎通を確認する。
func (s *Store) PingContext(ctx context.Context) error {
	_, err := s.client.Do(ctx, action.GetSignups{})
	return err
}

// FindByIdentifier はgetUserで識別情報を取得する。
// スクリプト側で大文字小文字を区別せずに照合する。
// 従来のスクリプトでは空のシークレットでloginし、パスワードなしで作成された行のみ見つかる。
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*model.Identity, error) {
	env, err := s.extended(ctx, action.GetUser{Email: identifier}, func() (*Envelope, error) {
		return s.client.Do(ctx, action.Login{Email: identifier})
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if env.User == nil {
		return nil, nil
	}
	return &model.Identity{
		ID:          env.User.Email,
		Identifier:  env.User.Email,
		DisplayName: env.User.Name,
		SecretHash:  env.User.PasswordHash,
	}, nil
}

// Create は従来のregisterで行を追加する。シートにはIDがないため識別子をIDとする。
func (s *Store) Create(ctx context.Context, identity *model.Identity) error {
	unlock := s.userLocks.Lock(model.NormalizeIdentifier(identity.Identifier))
	defer unlock()

	_, err := s.client.Do(ctx, action.Register{
		Email:        identity.Identifier,
		PasswordHash: identity.SecretHash,
		Name:         identity.DisplayName,
	})
	if err != nil {
		return err
	}
	identity.ID = identity.Identifier
	return nil
}

// UpdateDisplayName はupsertUserで表示名を更新する。
// 従来のスクリプトには更新手段がないため、警告を記録して何もしない。
func (s *Store) UpdateDisplayName(ctx context.Context, identifier, displayName string) error {
	_, err := s.extended(ctx, action.UpsertUser{Email: identifier, Name: displayName}, func() (*Envelope, error) {
		s.client.logger.Warn("従来のスクリプトでは表示名を更新できません",
			slog.String("identifier", identifier),
		)
		return &Envelope{Success: true}, nil
	})
	return err
}

// List はgetSignupsの結果を新しい順に並べ替えて返す。
// シートは追記順なので、同時刻の行は後の行を先にする。
func (s *Store) List(ctx context.Context) ([]model.Claim, error) {
	env, err := s.client.Do(ctx, action.GetSignups{})
	if err != nil {
		return nil, err
	}

	claims := make([]model.Claim, 0, len(env.Signups))
	for i := len(env.Signups) - 1; i >= 0; i-- {
		claims = append(claims, toClaim(env.Signups[i]))
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].CreatedAt.After(claims[j].CreatedAt)
	})
	return claims, nil
}

// Insert はaddSignupで申込みを追加する。
func (s *Store) Insert(ctx context.Context, claim *model.Claim) error {
	triple := claim.Triple()
	unlock := s.claimLocks.Lock(triple)
	defer unlock()

	if err := s.add(ctx, *claim); err != nil {
		return err
	}
	claim.ID = triple.String()
	return nil
}

// DeleteOwned はremoveSignupで所有者一致の申込みを削除する。
func (s *Store) DeleteOwned(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	unlock := s.claimLocks.Lock(triple)
	defer unlock()

	return s.remove(ctx, triple, ownerIdentifier)
}

// Delete はadminRemoveSignupで枠のみを条件に削除する。
// 従来のスクリプトでは所有者を読み出してからremoveSignupする。
func (s *Store) Delete(ctx context.Context, triple model.Triple) error {
	unlock := s.claimLocks.Lock(triple)
	defer unlock()

	req := action.AdminRemoveSignup{Category: triple.Category, Item: triple.Item, Slot: triple.Slot}
	_, err := s.extended(ctx, req, func() (*Envelope, error) {
		current, err := s.find(ctx, triple)
		if err != nil {
			return nil, err
		}
		return &Envelope{Success: true}, s.remove(ctx, triple, current.OwnerIdentifier)
	})
	return err
}

// Update はupdateSignupで指定フィールドのみ更新する。
// 従来のスクリプトでは行を削除して同じ所有者で追加し直す。作成時刻は更新時刻になる。
func (s *Store) Update(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	unlock := s.claimLocks.Lock(triple)
	defer unlock()

	req := action.UpdateSignup{
		Category: triple.Category,
		Item:     triple.Item,
		Slot:     triple.Slot,
		UserName: patch.DisplayName,
		Notes:    patch.Note,
	}
	_, err := s.extended(ctx, req, func() (*Envelope, error) {
		return &Envelope{Success: true}, s.replace(ctx, triple, patch)
	})
	return err
}

func (s *Store) replace(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	current, err := s.find(ctx, triple)
	if err != nil {
		return err
	}
	updated := *current
	if patch.DisplayName != nil {
		updated.OwnerDisplayName = *patch.DisplayName
	}
	if patch.Note != nil {
		updated.Note = *patch.Note
	}

	if err := s.remove(ctx, triple, current.OwnerIdentifier); err != nil {
		return err
	}
	if err := s.add(ctx, updated); err != nil {
		s.client.logger.Error("申込みの再追加に失敗しました",
			slog.String("slot", triple.String()),
			slog.String("owner", current.OwnerIdentifier),
			slog.String("owner_display_name", current.OwnerDisplayName),
			slog.String("note", current.Note),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// find はgetSignupsから枠の申込みを探す。
func (s *Store) find(ctx context.Context, triple model.Triple) (*model.Claim, error) {
	env, err := s.client.Do(ctx, action.GetSignups{})
	if err != nil {
		return nil, err
	}
	for _, r := range env.Signups {
		if r.Category == triple.Category && r.Item == triple.Item && r.Slot == triple.Slot {
			c := toClaim(r)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("申込みが見つかりません: %s: %w", triple, repository.ErrNotFound)
}

func (s *Store) add(ctx context.Context, c model.Claim) error {
	_, err := s.client.Do(ctx, action.AddSignup{
		Category:  c.Category,
		Item:      c.Item,
		Slot:      c.Slot,
		UserEmail: c.OwnerIdentifier,
		UserName:  c.OwnerDisplayName,
		Notes:     c.Note,
	})
	return err
}

func (s *Store) remove(ctx context.Context, triple model.Triple, owner string) error {
	_, err := s.client.Do(ctx, action.RemoveSignup{
		Category:  triple.Category,
		Item:      triple.Item,
		Slot:      triple.Slot,
		UserEmail: strings.TrimSpace(owner),
	})
	return err
}

func toClaim(r RemoteSignup) model.Claim {
	c := model.Claim{
		ID:               model.Triple{Category: r.Category, Item: r.Item, Slot: r.Slot}.String(),
		Category:         r.Category,
		Item:             r.Item,
		Slot:             r.Slot,
		OwnerIdentifier:  r.UserEmail,
		OwnerDisplayName: r.UserName,
		Note:             r.Notes,
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
		c.CreatedAt = ts.UTC()
	}
	return c
}

// compile-time interface check
var (
	_ repository.IdentityRepository = (*Store)(nil)
	_ repository.ClaimRepository    = (*Store)(nil)
	_ repository.Pinger             = (*Store)(nil)
)
