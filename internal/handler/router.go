package handler

import (
	"net/http"

	"arena/internal/middleware"
	"arena/pkg/logger"

	"github.com/gorilla/mux"
)

// RouterConfig collects what NewRouter wires. Nil middlewares are skipped.
type RouterConfig struct {
	Battles     *BattleHandler
	Feed        *FeedHandler
	Admin       *AdminHandler
	Logger      logger.Logger
	Auth        *middleware.AuthMiddleware
	VoteLimiter middleware.Limiter
	Idempotency *middleware.IdempotencyMiddleware
	BodyLimit   int64
}

// NewRouter builds the HTTP surface. CORS wraps the router itself so
// preflight requests are answered before route matching.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	h := cfg.Battles

	r := mux.NewRouter()
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Log)
	r.Use(middleware.BodyLimit(cfg.BodyLimit))

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	audit := middleware.NewAuditMiddleware(cfg.Logger)
	operator := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = audit.Audit(fn)
		if cfg.Auth != nil {
			next = cfg.Auth.Authenticate(next)
		}
		return next
	}

	var vote http.Handler = http.HandlerFunc(h.CastVote)
	if cfg.Idempotency != nil {
		vote = cfg.Idempotency.Handle(vote)
	}
	if cfg.VoteLimiter != nil {
		vote = cfg.VoteLimiter.Limit(vote)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/battle/start", operator(h.StartBattle)).Methods("POST")
	api.Handle("/battle/round", operator(h.AdvanceRound)).Methods("POST")
	api.Handle("/battle/end", operator(h.EndBattle)).Methods("POST")
	api.Handle("/battle/vote", vote).Methods("POST")
	api.HandleFunc("/battle/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/leaderboard", h.GetLeaderboard).Methods("GET")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/status", h.GetArenaStatus).Methods("GET")
	api.HandleFunc("/prize", h.GetPrize).Methods("GET")
	api.HandleFunc("/arena/balance", h.GetBalance).Methods("GET")
	if cfg.Admin != nil {
		api.Handle("/admin/revoke", operator(cfg.Admin.RevokeToken)).Methods("POST")
	}

	if cfg.Feed != nil {
		r.HandleFunc("/ws/battle", cfg.Feed.Stream).Methods("GET")
	}

	return middleware.CORS(r)
}
