package handlers

import (
	"net/http"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/auth"
)

// LoginHandler exchanges the operator's admin password for a bearer token
// accepted by middleware.AdminAuth. Mounted only when both an admin JWT
// secret and an admin password hash are configured.
type LoginHandler struct {
	jwt        *auth.AdminJWTService
	credential *auth.AdminCredential
}

// NewLoginHandler builds a LoginHandler over jwt and credential.
func NewLoginHandler(jwt *auth.AdminJWTService, credential *auth.AdminCredential) *LoginHandler {
	return &LoginHandler{jwt: jwt, credential: credential}
}

type loginRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Login handles POST /api/v1/admin/login.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.credential.Verify(req.Password); err != nil {
		logger.Warn("admin login rejected", logger.ClientIP(r.RemoteAddr))
		Unauthorized(w, "invalid credentials")
		return
	}
	operator := req.Operator
	if operator == "" {
		operator = "admin"
	}
	token, expiresAt, err := h.jwt.Issue(operator)
	if err != nil {
		logger.Error("admin token issue failed", logger.Err(err))
		InternalServerError(w, "failed to issue token")
		return
	}
	OK(w, loginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}
