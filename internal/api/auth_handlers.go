package api

import (
	"net/http"

	"github.com/example/retail-backoffice/internal/auth"
)

// AuthHandlers exchanges staff credentials for actor tokens. Customer
// tokens are minted by the storefront, which shares the signing key.
type AuthHandlers struct {
	tokens            *auth.TokenService
	adminPasswordHash string
}

func NewAuthHandlers(tokens *auth.TokenService, adminPasswordHash string) *AuthHandlers {
	return &AuthHandlers{
		tokens:            tokens,
		adminPasswordHash: adminPasswordHash,
	}
}

func (h *AuthHandlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Role != auth.RoleAdmin && req.Role != auth.RoleWarehouse {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be admin or warehouse"})
		return
	}
	if h.adminPasswordHash == "" || !auth.CheckPassword(req.Password, h.adminPasswordHash) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, expiresAt, err := h.tokens.Issue(req.UserID, req.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_at":   expiresAt,
	})
}
