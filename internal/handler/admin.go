package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"arena/internal/middleware"
	"arena/pkg/errors"
	"arena/pkg/logger"
)

// Revoker blacklists operator tokens. *middleware.AuthMiddleware satisfies it.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// AdminHandler serves operator housekeeping endpoints.
type AdminHandler struct {
	revoker Revoker
	logger  logger.Logger
}

func NewAdminHandler(revoker Revoker, log logger.Logger) *AdminHandler {
	return &AdminHandler{revoker: revoker, logger: log}
}

type revokeRequest struct {
	Token string `json:"token"`
}

// RevokeToken blacklists the token in the body, or the caller's own bearer
// token when the body names none.
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeOptional(r, &req); err != nil {
		status, msg := decodeFailure(err)
		h.respondError(w, status, msg)
		return
	}
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		if parts := strings.Fields(r.Header.Get("Authorization")); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tok = parts[1]
		}
	}
	if tok == "" {
		h.respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	if err := h.revoker.Revoke(r.Context(), tok); err != nil {
		switch {
		case errors.Is(err, middleware.ErrInvalidToken):
			h.respondError(w, http.StatusBadRequest, "Invalid token")
		case errors.Is(err, middleware.ErrRevocationDisabled):
			h.respondError(w, http.StatusServiceUnavailable, "Token revocation unavailable")
		default:
			h.logger.Error("Token revocation failed", map[string]interface{}{
				"operator": operator,
				"error":    err.Error(),
			})
			h.respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.logger.Info("Operator token revoked", map[string]interface{}{
		"operator": operator,
	})
	h.respondJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
