package middleware

import (
	"net/http"

	"arena/pkg/logger"
)

// AuditMiddleware records operator actions (battle start, round, end).
type AuditMiddleware struct {
	logger logger.Logger
}

// NewAuditMiddleware creates a new AuditMiddleware.
func NewAuditMiddleware(log logger.Logger) *AuditMiddleware {
	return &AuditMiddleware{logger: log}
}

// Audit logs who called the route and how it ended.
func (m *AuditMiddleware) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped, ok := w.(*responseWriter)
		if !ok {
			wrapped = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}

		next.ServeHTTP(wrapped, r)

		operator, ok := OperatorFromContext(r.Context())
		if !ok {
			operator = "anonymous"
		}
		m.logger.Info("Operator action", map[string]interface{}{
			"operator":   operator,
			"action":     r.Method + " " + r.URL.Path,
			"status":     wrapped.statusCode,
			"ip":         clientIP(r),
			"request_id": RequestIDFromContext(r.Context()),
		})
	})
}
