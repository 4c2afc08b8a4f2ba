package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/potluck/internal/identity"
	"github.com/hitoshi/potluck/internal/model"
)

// IdentityServiceInterface は識別情報ハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	Register(ctx context.Context, identifier, secret, displayName string) (*model.Identity, error)
	Login(ctx context.Context, identifier, secret string) (*model.Identity, error)
	LoginOrCreate(ctx context.Context, identifier, displayName string) (*model.Identity, error)
	Mode() identity.Mode
}

// IdentityHandler は登録とログインのHTTPハンドラー。
type IdentityHandler struct {
	service IdentityServiceInterface
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(service IdentityServiceInterface) *IdentityHandler {
	return &IdentityHandler{service: service}
}

type userEnvelope struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
}

// Register は参加者を登録する。
// POST /api/register
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), req.identifier(), req.secret(), req.displayName())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{Success: true, User: toUserResponse(user)})
}

// Login はモードに応じてログインする。
// POST /api/login
func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.login(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{Success: true, User: toUserResponse(user)})
}

func (h *IdentityHandler) login(ctx context.Context, req loginRequest) (*model.Identity, error) {
	if h.service.Mode() == identity.ModeCredential {
		return h.service.Login(ctx, req.identifier(), req.secret())
	}
	return h.service.LoginOrCreate(ctx, req.identifier(), req.displayName())
}
