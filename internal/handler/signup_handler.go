package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/ledger"
	"github.com/hitoshi/potluck/internal/middleware"
	"github.com/hitoshi/potluck/internal/model"
)

// LedgerServiceInterface は申込みハンドラーが必要とするサービスインターフェース。
type LedgerServiceInterface interface {
	ListClaims(ctx context.Context) ([]model.Claim, error)
	Claim(ctx context.Context, in ledger.ClaimInput) (*model.Claim, error)
	Release(ctx context.Context, triple model.Triple, ownerIdentifier string) error
	AdminUpdate(ctx context.Context, triple model.Triple, patch model.ClaimPatch) error
	AdminDelete(ctx context.Context, triple model.Triple, ownerIdentifier string) error
}

// SignupHandler は申込み台帳のHTTPハンドラー。
type SignupHandler struct {
	service LedgerServiceInterface
	gate    *access.Gate
}

// NewSignupHandler はSignupHandlerを生成する。
func NewSignupHandler(service LedgerServiceInterface, gate *access.Gate) *SignupHandler {
	return &SignupHandler{service: service, gate: gate}
}

type successEnvelope struct {
	Success bool `json:"success"`
}

type signupsEnvelope struct {
	Success bool             `json:"success"`
	Signups []signupResponse `json:"signups"`
}

type signupEnvelope struct {
	Success bool           `json:"success"`
	Signup  signupResponse `json:"signup"`
}

// List は全申込みを新しい順に返す。
// GET /api/signups
func (h *SignupHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, err := h.service.ListClaims(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signupsEnvelope{Success: true, Signups: toSignupResponses(claims)})
}

// Create は枠を申し込む。
// POST /api/signups
func (h *SignupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	claim, err := h.service.Claim(r.Context(), ledger.ClaimInput{
		Category:         req.Category,
		Item:             req.Item,
		Slot:             int(req.Slot),
		OwnerIdentifier:  req.ownerIdentifier(),
		OwnerDisplayName: deref(req.displayName()),
		Note:             deref(req.note()),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signupEnvelope{Success: true, Signup: toSignupResponse(claim)})
}

// Update は管理者による表示名・メモの更新。管理者ゲートの後段に置く。
// PUT /api/signups
func (h *SignupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	patch := model.ClaimPatch{DisplayName: req.displayName(), Note: req.note()}
	if err := h.service.AdminUpdate(r.Context(), req.triple(), patch); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successEnvelope{Success: true})
}

// Delete は申込みを削除する。
// 管理者トークンが送られていれば管理者削除、なければuser_emailによる本人の取消し。
// どちらもない場合は空トークンでゲートを通し、オープンモードでのみ枠指定の削除を許す。
// DELETE /api/signups
func (h *SignupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	token, present := access.TokenFromRequest(r)
	owner := req.ownerIdentifier()

	var err error
	switch {
	case !present && owner != "":
		err = h.service.Release(r.Context(), req.triple(), owner)
	default:
		if !h.gate.Authorize(token) {
			slog.Warn("admin token rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", middleware.ClientIP(r)),
			)
			err = model.NewAdminUnauthorizedError()
			break
		}
		err = h.service.AdminDelete(r.Context(), req.triple(), owner)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successEnvelope{Success: true})
}
