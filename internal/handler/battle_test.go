package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arena/internal/battle"
	"arena/internal/domain"
	"arena/internal/gateway"
	"arena/internal/leaderboard"
	"arena/internal/ledger"
	"arena/internal/middleware"
	"arena/internal/roast"
	"arena/internal/settlement"
	"arena/pkg/errors"
	"arena/pkg/logger"
	"arena/pkg/validator"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "ROAST"

type zeroRand struct{}

func (zeroRand) Intn(n int) int { return 0 }

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return stderrors.New("miss")
	}
	return json.Unmarshal(b, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

type downGateway struct{}

func (downGateway) CheckBalance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	return decimal.Zero, errors.Gateway("check balance", stderrors.New("connection refused"))
}

func (downGateway) Escrow(ctx context.Context, address, token string, amount decimal.Decimal) (string, error) {
	return "", errors.Gateway("escrow", stderrors.New("connection refused"))
}

func (downGateway) Transfer(ctx context.Context, to, token string, amount decimal.Decimal) (string, error) {
	return "", errors.Gateway("transfer", stderrors.New("connection refused"))
}

type env struct {
	router http.Handler
	board  *leaderboard.Store
	gw     *gateway.MemoryGateway
}

func newEnv(t *testing.T, mutate func(*RouterConfig)) *env {
	return newEnvWithGateway(t, nil, nil, mutate)
}

func newEnvWithGateway(t *testing.T, gw gateway.Gateway, cache BalanceCache, mutate func(*RouterConfig)) *env {
	t.Helper()
	engine, err := settlement.NewEngine(settlement.DefaultParams())
	require.NoError(t, err)
	provider, err := roast.NewTemplateProvider("")
	require.NoError(t, err)

	e := &env{
		board: leaderboard.NewStore(10),
		gw:    gateway.NewMemoryGateway(decimal.NewFromInt(100)),
	}
	if gw == nil {
		gw = e.gw
	}
	svc := battle.NewService(battle.Config{
		Roster:            []string{"Jester_AI", "SarcasmBot"},
		Wallets:           map[string]string{"Jester_AI": "jester-wallet"},
		EntryContribution: decimal.RequireFromString("0.01"),
		MinStake:          decimal.NewFromInt(1),
		VoteThreshold:     10,
		MaxRounds:         3,
		Token:             token,
		TreasuryAddress:   "treasury-wallet",
		GatewayTimeout:    time.Second,
	}, gw, engine, ledger.NewService(), e.board, provider, logger.NewNop(),
		battle.WithRandomizers(zeroRand{}, zeroRand{}))

	h := NewBattleHandler(svc, e.board, gw, cache, validator.New(), logger.NewNop(), Options{
		Token:        token,
		DefaultStake: decimal.RequireFromString("1.5"),
	})
	cfg := RouterConfig{
		Battles: h,
		Feed:    NewFeedHandler(h, 20*time.Millisecond),
		Logger:  logger.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e.router = NewRouter(cfg)
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestBattleLifecycle(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/battle/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b domain.Battle
	decode(t, rec, &b)
	assert.Equal(t, "Jester_AI", b.ContestantA)
	assert.Equal(t, "SarcasmBot", b.ContestantB)

	rec = e.do(t, http.MethodPost, "/api/battle/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/battle/round", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var round domain.RoundContent
	decode(t, rec, &round)
	assert.Equal(t, 1, round.Round)

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "0xA11CE000000000000042", "stake": "2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt battle.VoteReceipt
	decode(t, rec, &receipt)
	assert.Equal(t, "Jester_AI", receipt.Contestant)
	assert.True(t, receipt.Stake.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 1, receipt.Votes["Jester_AI"])
	assert.False(t, receipt.BattleEnded)

	rec = e.do(t, http.MethodGet, "/api/battle/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap battle.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, b.ID, snap.BattleID)
	assert.Equal(t, 1, snap.TotalVotes)
	require.Len(t, snap.RecentVotes, 1)
	assert.Equal(t, "0xA11CE0...0042", snap.RecentVotes[0].Voter)

	rec = e.do(t, http.MethodGet, "/api/prize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prize battle.PrizeInfo
	decode(t, rec, &prize)
	assert.True(t, prize.Active)
	assert.Equal(t, token, prize.Token)

	rec = e.do(t, http.MethodPost, "/api/battle/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.SettlementResult
	decode(t, rec, &result)
	assert.Equal(t, "Jester_AI", result.Winner)

	rec = e.do(t, http.MethodPost, "/api/battle/end", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/battle/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board []domain.LeaderboardEntry
	decode(t, rec, &board)
	require.Len(t, board, 1)
	assert.Equal(t, "Jester_AI", board[0].Name)

	rec = e.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.BattleSummary
	decode(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, b.ID, history[0].BattleID)

	rec = e.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats battle.ArenaStats
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalBattles)
	assert.Equal(t, 1, stats.TotalVotes)
}

func TestCastVote_Errors(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "voter-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no active battle")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent3", "wallet": "voter-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid contestant slot")

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Contains(t, body["validation_errors"], "wallet")

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "voter-1", "stake": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "voter-1", "stake": "500"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient funds")

	req := httptest.NewRequest(http.MethodPost, "/api/battle/vote", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/battle/status", nil)
	var snap battle.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, 0, snap.TotalVotes)
}

func TestCastVote_QueryFallbackAndDefaultStake(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	rec := e.do(t, http.MethodPost, "/api/battle/vote?agent=agent2&wallet=voter-9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt battle.VoteReceipt
	decode(t, rec, &receipt)
	assert.Equal(t, "SarcasmBot", receipt.Contestant)
	assert.True(t, receipt.Stake.Equal(decimal.RequireFromString("1.5")))

	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"agent": "agent1", "wallet": "voter-8"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCastVote_GatewayDown(t *testing.T) {
	e := newEnvWithGateway(t, downGateway{}, nil, nil)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	rec := e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "voter-1"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestCastVote_RateLimited(t *testing.T) {
	e := newEnv(t, func(c *RouterConfig) {
		c.VoteLimiter = middleware.NewLocalRateLimiter(1, time.Hour)
	})
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	vote := map[string]string{"slot": "agent1", "wallet": "voter-1"}
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/vote", vote).Code)
	assert.Equal(t, http.StatusTooManyRequests, e.do(t, http.MethodPost, "/api/battle/vote", vote).Code)
	// reads are not limited
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/battle/status", nil).Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	e := newEnv(t, func(c *RouterConfig) {
		c.Auth = middleware.NewAuthMiddleware("secret", nil)
	})

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "op-1",
		"role": "operator",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/battle/start", nil, "Authorization", "Bearer "+signed)
	assert.Equal(t, http.StatusOK, rec.Code)

	// votes stay public
	rec = e.do(t, http.MethodPost, "/api/battle/vote", map[string]string{"slot": "agent1", "wallet": "voter-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartBattle_CustomPool(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/battle/start", map[string][]string{"agents": {"Solo"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/battle/start", map[string][]string{"agents": {"RoastMaster", "Burnie"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var b domain.Battle
	decode(t, rec, &b)
	assert.Equal(t, "RoastMaster", b.ContestantA)
	assert.Equal(t, "Burnie", b.ContestantB)
}

func TestStartBattle_EscapesCustomNames(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/battle/start", map[string][]string{"agents": {" <b>Loud</b> ", "Quiet"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b domain.Battle
	decode(t, rec, &b)
	assert.Equal(t, "&lt;b&gt;Loud&lt;/b&gt;", b.ContestantA)
	assert.Equal(t, "Quiet", b.ContestantB)
}

func TestStartBattle_BodyTooLarge(t *testing.T) {
	e := newEnv(t, func(c *RouterConfig) { c.BodyLimit = 16 })

	req := httptest.NewRequest(http.MethodPost, "/api/battle/start",
		strings.NewReader(`{"agents":["Jester_AI","SarcasmBot","MemeLord_X"]}`))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRevokeToken(t *testing.T) {
	auth := middleware.NewAuthMiddleware("secret", middleware.NewMemoryTokenBlacklist())
	e := newEnv(t, func(c *RouterConfig) {
		c.Auth = auth
		c.Admin = NewAdminHandler(auth, logger.NewNop())
	})
	sign := func(sub string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  sub,
			"role": "operator",
			"exp":  time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}
	alice, bob := sign("op-alice"), sign("op-bob")

	rec := e.do(t, http.MethodPost, "/api/admin/revoke", map[string]string{"token": bob}, "Authorization", "Bearer "+alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/battle/start", nil, "Authorization", "Bearer "+bob)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Token revoked")

	rec = e.do(t, http.MethodPost, "/api/admin/revoke", map[string]string{"token": "not-a-jwt"}, "Authorization", "Bearer "+alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no body revokes the caller's own token
	rec = e.do(t, http.MethodPost, "/api/admin/revoke", nil, "Authorization", "Bearer "+alice)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/battle/start", nil, "Authorization", "Bearer "+alice)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/admin/revoke", nil).Code)
}

func TestGetBalance(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	e := newEnvWithGateway(t, nil, cache, nil)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/arena/balance", nil).Code)

	rec := e.do(t, http.MethodGet, "/api/arena/balance?wallet=voter-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balanceResponse
	decode(t, rec, &bal)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(100)))
	assert.False(t, bal.Cached)

	rec = e.do(t, http.MethodGet, "/api/arena/balance?wallet=voter-1", nil)
	decode(t, rec, &bal)
	assert.True(t, bal.Cached)
	assert.Equal(t, token, bal.Token)
}

func TestGetBalance_GatewayDown(t *testing.T) {
	e := newEnvWithGateway(t, downGateway{}, nil, nil)
	rec := e.do(t, http.MethodGet, "/api/arena/balance?wallet=voter-1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetLeaderboard_BadLimit(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/leaderboard?limit=x", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/leaderboard?limit=3", nil).Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestFeed(t *testing.T) {
	e := newEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/battle"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "idle", frame["type"])

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/battle/start", nil).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f map[string]interface{}
		require.NoError(t, conn.ReadJSON(&f))
		if f["type"] == "battle_update" {
			snap := f["battle"].(map[string]interface{})
			assert.Equal(t, "Jester_AI", snap["agent1"])
			return
		}
	}
}
