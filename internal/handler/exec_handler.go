package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/hitoshi/potluck/internal/access"
	"github.com/hitoshi/potluck/internal/action"
	"github.com/hitoshi/potluck/internal/identity"
	"github.com/hitoshi/potluck/internal/ledger"
	"github.com/hitoshi/potluck/internal/middleware"
	"github.com/hitoshi/potluck/internal/model"
)

// callbackPattern はJSONPコールバック名として許可するJavaScript識別子のパス。
var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// adminTokenParam はヘッダーを送れないフォーム送信用の管理者トークンのパラメータ名。
// URLに残らないようPOSTボディからのみ受け付ける。
const adminTokenParam = "admin_token"

// ExecHandler は単一エンドポイント形式（?action=...）のHTTPハンドラー。
// JSONPではステータスコードを読めないため、結果は常に200とsuccessフラグで返す。
type ExecHandler struct {
	identities IdentityServiceInterface
	ledger     LedgerServiceInterface
	gate       *access.Gate
}

// NewExecHandler はExecHandlerを生成する。
func NewExecHandler(identities IdentityServiceInterface, claims LedgerServiceInterface, gate *access.Gate) *ExecHandler {
	return &ExecHandler{identities: identities, ledger: claims, gate: gate}
}

// ServeHTTP はactionを解釈して実行する。
// GET|POST /api/exec
func (h *ExecHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid form body"))
		return
	}

	callback := r.Form.Get("callback")
	if callback != "" && !callbackPattern.MatchString(callback) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid callback name"))
		return
	}

	var result any
	req, err := action.Decode(r.Form)
	if err == nil {
		result, err = h.dispatch(r, req)
	}
	if err != nil {
		result = h.failure(r, err)
	}
	writeActionResult(w, callback, result)
}

func (h *ExecHandler) failure(r *http.Request, err error) middleware.ErrorResponseBody {
	if errors.Is(err, action.ErrUnknownAction) {
		slog.Warn("unknown action", slog.String("action", r.Form.Get("action")))
		return middleware.ErrorResponseBody{Success: false, Error: "Unknown action", Code: model.ErrCodeInvalidInput}
	}
	return middleware.NewErrorResponseBody(toAPIError(err))
}

func (h *ExecHandler) dispatch(r *http.Request, req action.Request) (any, error) {
	ctx := r.Context()
	switch req := req.(type) {
	case action.Register:
		user, err := h.identities.Register(ctx, req.Email, req.PasswordHash, req.Name)
		if err != nil {
			return nil, err
		}
		return userEnvelope{Success: true, User: toUserResponse(user)}, nil

	case action.Login:
		user, err := h.login(ctx, req)
		if err != nil {
			return nil, err
		}
		return userEnvelope{Success: true, User: toUserResponse(user)}, nil

	case action.LoginOrCreate:
		user, err := h.identities.LoginOrCreate(ctx, req.Username, req.Name)
		if err != nil {
			return nil, err
		}
		return userEnvelope{Success: true, User: toUserResponse(user)}, nil

	case action.GetSignups:
		claims, err := h.ledger.ListClaims(ctx)
		if err != nil {
			return nil, err
		}
		return signupsEnvelope{Success: true, Signups: toSignupResponses(claims)}, nil

	case action.AddSignup:
		claim, err := h.ledger.Claim(ctx, ledger.ClaimInput{
			Category:         req.Category,
			Item:             req.Item,
			Slot:             req.Slot,
			OwnerIdentifier:  req.UserEmail,
			OwnerDisplayName: req.UserName,
			Note:             req.Notes,
		})
		if err != nil {
			return nil, err
		}
		return signupEnvelope{Success: true, Signup: toSignupResponse(claim)}, nil

	case action.RemoveSignup:
		triple := model.Triple{Category: req.Category, Item: req.Item, Slot: req.Slot}
		if err := h.ledger.Release(ctx, triple, req.UserEmail); err != nil {
			return nil, err
		}
		return successEnvelope{Success: true}, nil

	case action.UpdateSignup:
		if err := h.authorize(r); err != nil {
			return nil, err
		}
		triple := model.Triple{Category: req.Category, Item: req.Item, Slot: req.Slot}
		patch := model.ClaimPatch{DisplayName: req.UserName, Note: req.Notes}
		if err := h.ledger.AdminUpdate(ctx, triple, patch); err != nil {
			return nil, err
		}
		return successEnvelope{Success: true}, nil

	case action.AdminRemoveSignup:
		if err := h.authorize(r); err != nil {
			return nil, err
		}
		triple := model.Triple{Category: req.Category, Item: req.Item, Slot: req.Slot}
		if err := h.ledger.AdminDelete(ctx, triple, req.UserEmail); err != nil {
			return nil, err
		}
		return successEnvelope{Success: true}, nil

	default:
		// getUser、upsertUserはストア内部用で公開しない
		return nil, action.ErrUnknownAction
	}
}

func (h *ExecHandler) login(ctx context.Context, req action.Login) (*model.Identity, error) {
	if h.identities.Mode() == identity.ModeCredential {
		return h.identities.Login(ctx, req.Email, req.PasswordHash)
	}
	return h.identities.LoginOrCreate(ctx, req.Email, "")
}

// authorize はヘッダーまたはPOSTボディのadmin_tokenの管理者トークンを検証する。
// クエリ文字列のadmin_tokenは無視する。
func (h *ExecHandler) authorize(r *http.Request) error {
	token, present := access.TokenFromRequest(r)
	if !present {
		token = r.PostForm.Get(adminTokenParam)
	}
	if !h.gate.Authorize(token) {
		slog.Warn("admin token rejected",
			slog.String("action", r.Form.Get("action")),
			slog.String("remote", middleware.ClientIP(r)),
		)
		return model.NewAdminUnauthorizedError()
	}
	return nil
}

// writeActionResult は結果をJSON、またはcallbackがあればJSONPで書き込む。
func writeActionResult(w http.ResponseWriter, callback string, result any) {
	body, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode action result", slog.String("error", err.Error()))
		body = []byte(`{"success":false,"error":"Internal error","code":"INTERNAL_ERROR"}`)
	}

	if callback == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(callback + "("))
	w.Write(body)
	w.Write([]byte(");"))
}
