package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/potluck/internal/model"
)

// MemoryStore はプロセス内メモリに識別情報と申込みを保持するストア。
// 開発用とテスト用。単一のミューテックスで存在確認と挿入を不可分に行う。
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]*model.Identity // key: 小文字化した識別子
	claims     map[model.Triple]*memoryClaim
	seq        int64
}

type memoryClaim struct {
	claim model.Claim
	seq   int64
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*model.Identity),
		claims:     make(map[model.Triple]*memoryClaim),
	}
}

// Identities はIdentityRepositoryとしてのビューを返す。
func (s *MemoryStore) Identities() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{store: s}
}

// Claims はClaimRepositoryとしてのビューを返す。
func (s *MemoryStore) Claims() *MemoryClaimRepo {
	return &MemoryClaimRepo{store: s}
}

// PingContext は常に成功する。
func (s *MemoryStore) PingContext(_ context.Context) error {
	return nil
}

// MemoryIdentityRepo はMemoryStore上の識別情報リポジトリ。
type MemoryIdentityRepo struct {
	store *MemoryStore
}

func (r *MemoryIdentityRepo) FindByIdentifier(_ context.Context, identifier string) (*model.Identity, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[strings.ToLower(identifier)]
	if !ok {
		return nil, nil
	}
	copied := *identity
	return &copied, nil
}

func (r *MemoryIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(identity.Identifier)
	if _, ok := s.identities[key]; ok {
		return fmt.Errorf("識別子 %q は登録済みです: %w", identity.Identifier, ErrConflict)
	}
	identity.ID = uuid.NewString()
	copied := *identity
	s.identities[key] = &copied
	return nil
}

func (r *MemoryIdentityRepo) UpdateDisplayName(_ context.Context, identifier, displayName string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[strings.ToLower(identifier)]
	if !ok {
		return fmt.Errorf("識別情報が見つかりません: %s: %w", identifier, ErrNotFound)
	}
	identity.DisplayName = displayName
	return nil
}

// MemoryClaimRepo はMemoryStore上の申込みリポジトリ。
type MemoryClaimRepo struct {
	store *MemoryStore
}

func (r *MemoryClaimRepo) List(_ context.Context) ([]model.Claim, error) {
	s := r.store
	s.mu.Lock()
	// Updateが書き換えるため、ロック中に値をコピーする
	entries := make([]memoryClaim, 0, len(s.claims))
	for _, e := range s.claims {
		entries = append(entries, *e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.claim.CreatedAt.Equal(b.claim.CreatedAt) {
			return a.claim.CreatedAt.After(b.claim.CreatedAt)
		}
		return a.seq > b.seq
	})

	claims := make([]model.Claim, 0, len(entries))
	for _, e := range entries {
		claims = append(claims, e.claim)
	}
	return claims, nil
}

func (r *MemoryClaimRepo) Insert(_ context.Context, claim *model.Claim) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	triple := claim.Triple()
	if _, ok := s.claims[triple]; ok {
		return fmt.Errorf("枠 %s は申込み済みです: %w", triple, ErrConflict)
	}
	s.seq++
	claim.ID = uuid.NewString()
	s.claims[triple] = &memoryClaim{claim: *claim, seq: s.seq}
	return nil
}

func (r *MemoryClaimRepo) DeleteOwned(_ context.Context, triple model.Triple, ownerIdentifier string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.claims[triple]
	if !ok || !strings.EqualFold(e.claim.OwnerIdentifier, ownerIdentifier) {
		return fmt.Errorf("申込みが見つかりません: %s: %w", triple, ErrNotFound)
	}
	delete(s.claims, triple)
	return nil
}

func (r *MemoryClaimRepo) Delete(_ context.Context, triple model.Triple) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claims[triple]; !ok {
		return fmt.Errorf("申込みが見つかりません: %s: %w", triple, ErrNotFound)
	}
	delete(s.claims, triple)
	return nil
}

func (r *MemoryClaimRepo) Update(_ context.Context, triple model.Triple, patch model.ClaimPatch) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.claims[triple]
	if !ok {
		return fmt.Errorf("申込みが見つかりません: %s: %w", triple, ErrNotFound)
	}
	if patch.DisplayName != nil {
		e.claim.OwnerDisplayName = *patch.DisplayName
	}
	if patch.Note != nil {
		e.claim.Note = *patch.Note
	}
	return nil
}

// compile-time interface check
var (
	_ IdentityRepository = (*MemoryIdentityRepo)(nil)
	_ ClaimRepository    = (*MemoryClaimRepo)(nil)
	_ Pinger             = (*MemoryStore)(nil)
)
