package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/identity"
	"github.com/hitoshi/potluck/internal/ledger"
	"github.com/hitoshi/potluck/internal/metrics"
	"github.com/hitoshi/potluck/internal/middleware"
	"github.com/hitoshi/potluck/internal/repository"
	"github.com/hitoshi/potluck/internal/security"
)

// --- 統合テスト用ルーター構築ヘルパー ---

type routerOptions struct {
	mode        identity.Mode
	adminToken   string
	rateLimiter  *middleware.RateLimiter
	trustedProxy bool
}

// newIntegrationServer はメモリストアと実サービスでルーターを組み立てる。
func newIntegrationServer(t *testing.T, opts routerOptions) *httptest.Server {
	t.Helper()
	if opts.mode == "" {
		opts.mode = identity.ModeUpsert
	}
	if opts.rateLimiter == nil {
		opts.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}
	t.Cleanup(opts.rateLimiter.Stop)

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)
	store := repository.NewMemoryStore()

	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: "*",
		TrustedProxy:      opts.trustedProxy,
		RateLimiter:       opts.rateLimiter,
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		IdentityService:   identity.NewService(store.Identities(), opts.mode, mc, identity.WithBcryptCost(bcrypt.MinCost)),
		LedgerService:     ledger.NewService(store.Claims(), security.NewNoteSanitizer(), mc),
		Gate:              access.NewGate(opts.adminToken),
		Store:             store,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, body string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestRouter_SignupScenario(t *testing.T) {
	srv := newIntegrationServer(t, routerOptions{adminToken: "s3cret"})

	status, body := doJSON(t, srv, http.MethodPost, "/api/login", `{"username":"Alice@Example.com","name":"Alice"}`, nil)
	if status != http.StatusOK || !strings.Contains(body, `"name":"Alice"`) {
		t.Fatalf("login: %d %s", status, body)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"user_email":"alice@example.com","user_name":"Alice","notes":"<b>veg</b>"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("claim: %d %s", status, body)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"user_email":"bob@example.com","user_name":"Bob"}`, nil)
	if status != http.StatusConflict || !strings.Contains(body, "Slot already taken") {
		t.Fatalf("second claim: %d %s", status, body)
	}

	status, body = doJSON(t, srv, http.MethodGet, "/api/signups", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	if !strings.Contains(body, `"userEmail":"alice@example.com"`) || !strings.Contains(body, `"notes":"veg"`) {
		t.Errorf("list body = %s", body)
	}

	// 他人による取消しは存在しない場合と同じ404
	status, _ = doJSON(t, srv, http.MethodDelete, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"user_email":"bob@example.com"}`, nil)
	if status != http.StatusNotFound {
		t.Errorf("foreign release status = %d, want 404", status)
	}

	status, body = doJSON(t, srv, http.MethodPut, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"notes":"edited"}`, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("PUT without token: %d %s", status, body)
	}

	admin := http.Header{access.HeaderAdminToken: {"s3cret"}}
	status, body = doJSON(t, srv, http.MethodPut, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"notes":"edited"}`, admin)
	if status != http.StatusOK {
		t.Fatalf("PUT with token: %d %s", status, body)
	}

	status, _ = doJSON(t, srv, http.MethodDelete, "/api/signups",
		`{"category":"Mains","item":"Lasagna","slot":1,"user_email":"ALICE@example.com"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("owner release status = %d", status)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/api/signups", "", nil)
	if !strings.Contains(body, `"signups":[]`) {
		t.Errorf("list after release = %s", body)
	}
}

func TestRouter_CredentialMode(t *testing.T) {
	srv := newIntegrationServer(t, routerOptions{mode: identity.ModeCredential})

	status, body := doJSON(t, srv, http.MethodPost, "/api/register", `{"email":"A@x.com","password_hash":"pw","name":"A"}`, nil)
	if status != http.StatusOK || !strings.Contains(body, `"email":"a@x.com"`) {
		t.Fatalf("register: %d %s", status, body)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/api/register", `{"email":"a@X.com","password_hash":"pw2","name":"A2"}`, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", status)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/api/login", `{"email":"a@x.com","password_hash":"pw"}`, nil)
	if status != http.StatusOK {
		t.Errorf("login status = %d", status)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/api/login", `{"email":"a@x.com","password_hash":"bad"}`, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", status)
	}
}

func TestRouter_ExecEndpoint(t *testing.T) {
	srv := newIntegrationServer(t, routerOptions{})

	resp, err := srv.Client().Get(srv.URL + "/api/exec?action=addSignup&category=A&item=B&slot=1&user_email=a%40x&user_name=A&callback=cb")
	if err != nil {
		t.Fatalf("GET exec: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(b), `cb({"success":true`) {
		t.Fatalf("exec: %d %s", resp.StatusCode, b)
	}

	status, body := doJSON(t, srv, http.MethodGet, "/api/signups", "", nil)
	if status != http.StatusOK || !strings.Contains(body, `"item":"B"`) {
		t.Errorf("REST list after exec: %d %s", status, body)
	}
}

func TestRouter_HealthMetricsAndHeaders(t *testing.T) {
	srv := newIntegrationServer(t, routerOptions{})

	resp, err := srv.Client().Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get(middleware.HeaderRequestID) == "" {
		t.Error("X-Request-ID should be set")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header should be set")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}

	// ステータスはレスポンス送信後に記録されるため、反映されるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = srv.Client().Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET metrics: %v", err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(b), `potluck_http_status_total{status_code="200"}`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics should include potluck_http_status_total for 200")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRouter_PreflightIsAnswered(t *testing.T) {
	srv := newIntegrationServer(t, routerOptions{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/signups", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestRouter_MutationRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		MutationRate:    0.01,
		MutationBurst:   2,
		CleanupInterval: time.Minute,
	})
	srv := newIntegrationServer(t, routerOptions{rateLimiter: rl})

	for i := 0; i < 2; i++ {
		status, body := doJSON(t, srv, http.MethodPost, "/api/login", `{"username":"u"}`, nil)
		if status != http.StatusOK {
			t.Fatalf("login %d: %d %s", i, status, body)
		}
	}

	status, body := doJSON(t, srv, http.MethodPost, "/api/login", `{"username":"u"}`, nil)
	if status != http.StatusTooManyRequests || !strings.Contains(body, "RATE_LIMITED") {
		t.Errorf("third login: %d %s", status, body)
	}

	// 読み取りは書き込み系の制限を受けない
	status, _ = doJSON(t, srv, http.MethodGet, "/api/signups", "", nil)
	if status != http.StatusOK {
		t.Errorf("GET after mutation limit: %d", status)
	}
}

// X-Forwarded-Forは信頼できるプロキシ配下でのみ制限のキーになる。
func TestRouter_MutationRateLimitForwardedFor(t *testing.T) {
	newLimiter := func() *middleware.RateLimiter {
		return middleware.NewRateLimiter(middleware.RateLimiterConfig{
			GeneralRate:     100,
			GeneralBurst:    100,
			MutationRate:    0.01,
			MutationBurst:   1,
			CleanupInterval: time.Minute,
		})
	}
	login := func(srv *httptest.Server, fwd string) int {
		status, _ := doJSON(t, srv, http.MethodPost, "/api/login", `{"username":"u"}`, http.Header{"X-Forwarded-For": {fwd}})
		return status
	}

	direct := newIntegrationServer(t, routerOptions{rateLimiter: newLimiter()})
	if status := login(direct, "203.0.113.1"); status != http.StatusOK {
		t.Fatalf("first login: %d", status)
	}
	if status := login(direct, "203.0.113.2"); status != http.StatusTooManyRequests {
		t.Errorf("spoofed header should not reset the limit: %d", status)
	}

	proxied := newIntegrationServer(t, routerOptions{rateLimiter: newLimiter(), trustedProxy: true})
	if status := login(proxied, "203.0.113.1"); status != http.StatusOK {
		t.Fatalf("first client: %d", status)
	}
	if status := login(proxied, "203.0.113.2"); status != http.StatusOK {
		t.Errorf("second client behind proxy should have its own limit: %d", status)
	}
	if status := login(proxied, "203.0.113.1"); status != http.StatusTooManyRequests {
		t.Errorf("first client again: %d, want 429", status)
	}
}
