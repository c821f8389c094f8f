// Package handler provides the HTTP surface of the arena.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arena/internal/battle"
	"arena/internal/domain"
	"arena/internal/gateway"
	"arena/pkg/errors"
	"arena/pkg/logger"
	"arena/pkg/validator"

	"github.com/shopspring/decimal"
)

// Arena is the battle state machine as seen by the API.
type Arena interface {
	StartBattle(ctx context.Context, pool []string) (*domain.Battle, error)
	AdvanceRound(ctx context.Context) (*domain.RoundContent, error)
	CastVote(ctx context.Context, req battle.VoteRequest) (*battle.VoteReceipt, error)
	EndBattle(ctx context.Context) (*domain.SettlementResult, error)
	Status() (*battle.Snapshot, error)
	Stats() battle.ArenaStats
	PrizePool() battle.PrizeInfo
}

// Rankings serves the leaderboard and finished battles.
type Rankings interface {
	Leaderboard(limit int) []domain.LeaderboardEntry
	History() []domain.BattleSummary
}

// BalanceCache holds recent wallet balances. *cache.RedisCache satisfies it.
type BalanceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type Options struct {
	Token          string
	DefaultStake   decimal.Decimal
	GatewayTimeout time.Duration
	BalanceTTL     time.Duration
}

// BattleHandler manages the battle endpoints.
type BattleHandler struct {
	arena     Arena
	rankings  Rankings
	balances  gateway.Gateway
	cache     BalanceCache
	validator *validator.Validator
	logger    logger.Logger
	opts      Options
}

// NewBattleHandler creates a BattleHandler. cache may be nil.
func NewBattleHandler(arena Arena, rankings Rankings, gw gateway.Gateway, cache BalanceCache, val *validator.Validator, log logger.Logger, opts Options) *BattleHandler {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 5 * time.Second
	}
	if opts.BalanceTTL <= 0 {
		opts.BalanceTTL = 10 * time.Second
	}
	return &BattleHandler{
		arena:     arena,
		rankings:  rankings,
		balances:  gw,
		cache:     cache,
		validator: val,
		logger:    log,
		opts:      opts,
	}
}

type startRequest struct {
	Agents []string `json:"agents"`
}

// voteRequest accepts "agent" as an alias of "slot".
type voteRequest struct {
	Slot   string          `json:"slot" validate:"required"`
	Agent  string          `json:"agent,omitempty"`
	Wallet string          `json:"wallet" validate:"required,wallet"`
	Stake  decimal.Decimal `json:"stake" validate:"gte=0"`
}

type balanceResponse struct {
	Wallet  string          `json:"wallet"`
	Token   string          `json:"token"`
	Balance decimal.Decimal `json:"balance"`
	Cached  bool            `json:"cached"`
}

// StartBattle pairs two contestants. An empty body uses the configured roster.
func (h *BattleHandler) StartBattle(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		status, msg := decodeFailure(err)
		h.respondError(w, status, msg)
		return
	}
	// names are echoed to clients and social posts
	for i, name := range req.Agents {
		req.Agents[i] = validator.Sanitize(name)
	}

	b, err := h.arena.StartBattle(r.Context(), req.Agents)
	if err != nil {
		h.fail(w, r, "Failed to start battle", err)
		return
	}
	h.respondJSON(w, http.StatusOK, b)
}

func (h *BattleHandler) AdvanceRound(w http.ResponseWriter, r *http.Request) {
	content, err := h.arena.AdvanceRound(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to advance round", err)
		return
	}
	h.respondJSON(w, http.StatusOK, content)
}

// CastVote escrows a stake behind one side. Body fields fall back to the
// agent and wallet query parameters.
func (h *BattleHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeOptional(r, &req); err != nil {
		status, msg := decodeFailure(err)
		h.respondError(w, status, msg)
		return
	}
	q := r.URL.Query()
	if req.Slot == "" {
		req.Slot = req.Agent
	}
	if req.Slot == "" {
		req.Slot = q.Get("agent")
	}
	if req.Wallet == "" {
		req.Wallet = q.Get("wallet")
	}
	req.Slot = strings.TrimSpace(req.Slot)
	req.Wallet = strings.TrimSpace(req.Wallet)
	if req.Stake.IsZero() {
		req.Stake = h.opts.DefaultStake
	}

	if errs := h.validator.ValidateStructured(req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	receipt, err := h.arena.CastVote(r.Context(), battle.VoteRequest{
		Slot:  req.Slot,
		Voter: req.Wallet,
		Stake: req.Stake,
	})
	if err != nil {
		h.fail(w, r, "Vote rejected", err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

func (h *BattleHandler) EndBattle(w http.ResponseWriter, r *http.Request) {
	result, err := h.arena.EndBattle(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to end battle", err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// GetStatus returns the snapshot of the active battle.
func (h *BattleHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.arena.Status()
	if err != nil {
		h.respondError(w, errors.HTTPStatus(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *BattleHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	h.respondJSON(w, http.StatusOK, h.rankings.Leaderboard(limit))
}

func (h *BattleHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.rankings.History())
}

func (h *BattleHandler) GetArenaStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.arena.Stats())
}

func (h *BattleHandler) GetPrize(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.arena.PrizePool())
}

// GetBalance reports a wallet's token balance, served from cache when fresh.
func (h *BattleHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		h.respondError(w, http.StatusBadRequest, "wallet query parameter is required")
		return
	}

	key := "balance:" + h.opts.Token + ":" + wallet
	if h.cache != nil {
		var cached balanceResponse
		if err := h.cache.Get(r.Context(), key, &cached); err == nil {
			cached.Cached = true
			h.respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.GatewayTimeout)
	defer cancel()
	bal, err := h.balances.CheckBalance(ctx, wallet, h.opts.Token)
	if err != nil {
		h.fail(w, r, "Balance lookup failed", err)
		return
	}

	resp := balanceResponse{Wallet: wallet, Token: h.opts.Token, Balance: bal}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, resp, h.opts.BalanceTTL); err != nil {
			h.logger.Warn("Balance cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// HealthCheck answers liveness probes.
func (h *BattleHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "arena",
		"halted":    h.arena.Stats().Halted,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// fail logs and answers with the status the error class maps to. Internal
// details of 5xx errors stay in the log.
func (h *BattleHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := errors.HTTPStatus(err)
	fields := map[string]interface{}{
		"error":  err.Error(),
		"path":   r.URL.Path,
		"status": status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields)
	} else {
		h.logger.Warn(msg, fields)
	}

	message := err.Error()
	switch status {
	case http.StatusBadGateway:
		message = "Upstream wallet service unavailable"
	case http.StatusInternalServerError:
		message = "Internal server error"
	}
	h.respondError(w, status, message)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

// decodeFailure maps a body decode error to a status and client message.
func decodeFailure(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "Request body too large"
	}
	return http.StatusBadRequest, "Invalid request body"
}

func (h *BattleHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *BattleHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *BattleHandler) respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}
