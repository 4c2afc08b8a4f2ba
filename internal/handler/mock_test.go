package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/potluck/internal/identity"
	"github.com/hitoshi/potluck/internal/ledger"
	"github.com/hitoshi/potluck/internal/model"
)

// --- モック定義 ---

// mockIdentityService はIdentityServiceInterfaceのモック実装。
type mockIdentityService struct {
	mode            identity.Mode
	registerFn      func(ctx context.Context, identifier, secret, displayName string) (*model.Identity, error)
	loginFn         func(ctx context.Context, identifier, secret string) (*model.Identity, error)
	loginOrCreateFn func(ctx context.Context, identifier, displayName string) (*model.Identity, error)
}

func (m *mockIdentityService) Register(ctx context.Context, identifier, secret, displayName string) (*model.Identity, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, identifier, secret, displayName)
	}
	return nil, nil
}

func (m *mockIdentityService) Login(ctx context.Context, identifier, secret string) (*model.Identity, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, identifier, secret)
	}
	return nil, nil
}

func (m *mockIdentityService) LoginOrCreate(ctx context.Context, identifier, displayName string) (*model.Identity, error) {
	if m.loginOrCreateFn != nil {
		return m.loginOrCreateFn(ctx, identifier, displayName)
	}
	return nil, nil
}

func (m *mockIdentityService) Mode() identity.Mode {
	if m.mode == "" {
		return identity.ModeUpsert
	}
	return m.mode
}

// mockLedgerService はLedgerServiceInterfaceのモック実装。
type mockLedgerService struct {
	listClaimsFn  func(ctx context.Context) ([]model.Claim, error)
	claimFn       func(ctx context.Context, in ledger.ClaimInput) (*model.Claim, error)
	releaseFn     func(ctx context.Context, triple model.Triple, ownerIdentifier string) error
	adminUpdateFn func(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error
	adminDeleteFn func(ctx context.Context, triple model.Triple, ownerIdentifier string) error
}

func (m *mockLedgerService) ListClaims(ctx context.Context) ([]model.Claim, error) {
	if m.listClaimsFn != nil {
		return m.listClaimsFn(ctx)
	}
	return []model.Claim{}, nil
}

func (m *mockLedgerService) Claim(ctx context.Context, in ledger.ClaimInput) (*model.Claim, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, in)
	}
	return &model.Claim{}, nil
}

func (m *mockLedgerService) Release(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	if m.releaseFn != nil {
		return m.releaseFn(ctx, triple, ownerIdentifier)
	}
	return nil
}

func (m *mockLedgerService) AdminUpdate(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error {
	if m.adminUpdateFn != nil {
		return m.adminUpdateFn(ctx, triple, patch)
	}
	return nil
}

func (m *mockLedgerService) AdminDelete(ctx context.Context, triple model.Triple, ownerIdentifier string) error {
	if m.adminDeleteFn != nil {
		return m.adminDeleteFn(ctx, triple, ownerIdentifier)
	}
	return nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.err
}

// --- テストヘルパー ---

// jsonRequest はJSONボディ付きのリクエストを生成する。
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return result
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, body map[string]any, want string) {
	t.Helper()
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["code"] != want {
		t.Errorf("code = %v, want %q", body["code"], want)
	}
}
