// ==============================================================================
// ARENA SERVICE MAIN - cmd/arena/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena/internal/battle"
	"arena/internal/gateway"
	"arena/internal/handler"
	"arena/internal/leaderboard"
	"arena/internal/ledger"
	"arena/internal/middleware"
	"arena/internal/notification"
	"arena/internal/roast"
	"arena/internal/scheduler"
	"arena/internal/settlement"
	"arena/pkg/cache"
	"arena/pkg/config"
	"arena/pkg/logger"
	"arena/pkg/validator"
)

func main() {
	log := logger.New("arena-service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Arena Service", map[string]interface{}{
		"port":         cfg.Server.Port,
		"gateway_mode": cfg.Gateway.Mode,
		"social_mode":  cfg.Social.Mode,
		"roster":       cfg.Battle.RosterNames(),
	})

	// Redis is optional; without it rate limiting and balances stay in process.
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer redisCache.Close()
		log.Info("Redis connected", nil)
	}

	gw := newGateway(cfg, log)

	poster, err := newPoster(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise social poster", map[string]interface{}{"error": err.Error()})
	}
	dispatcher := notification.NewDispatcher(poster, cfg.Social.QueueSize, log.With(map[string]interface{}{"component": "social"}))
	dispatcher.Start()

	provider, err := roast.NewTemplateProvider(cfg.Battle.RoastFile)
	if err != nil {
		log.Fatal("Failed to load roast templates", map[string]interface{}{"error": err.Error()})
	}

	engine, err := settlement.NewEngine(settlement.Params{
		WinnerShare:       cfg.Battle.WinnerShare,
		ReleaseMultiplier: cfg.Battle.ReleaseMultiplier,
		Precision:         cfg.Battle.Precision,
	})
	if err != nil {
		log.Fatal("Invalid settlement parameters", map[string]interface{}{"error": err.Error()})
	}

	ledgerService := ledger.NewService()
	board := leaderboard.NewStore(cfg.Battle.HistorySize)

	wallets := make(map[string]string, len(cfg.Battle.Roster))
	for _, c := range cfg.Battle.Roster {
		if c.Wallet != "" {
			wallets[c.Name] = c.Wallet
		}
	}

	battleService := battle.NewService(battle.Config{
		Roster:            cfg.Battle.RosterNames(),
		Wallets:           wallets,
		EntryContribution: cfg.Battle.EntryContribution,
		MinStake:          cfg.Battle.MinStake,
		VoteThreshold:     cfg.Battle.VoteThreshold,
		MaxRounds:         cfg.Battle.MaxRounds,
		Token:             cfg.Battle.Token,
		TreasuryAddress:   cfg.Battle.TreasuryAddress,
		GatewayTimeout:    cfg.Gateway.Timeout,
	}, gw, engine, ledgerService, board, provider, log.With(map[string]interface{}{"component": "battle"}),
		battle.WithAnnouncer(dispatcher),
	)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.RoundInterval > 0 {
		sched = scheduler.NewScheduler(battleService, scheduler.Config{
			RoundInterval: cfg.Scheduler.RoundInterval,
			AutoStart:     cfg.Scheduler.AutoStart,
			Cooldown:      cfg.Scheduler.Cooldown,
		}, log.With(map[string]interface{}{"component": "scheduler"}))
		sched.Start()
	}

	// Initialize handlers
	val := validator.New()
	opts := handler.Options{
		Token:          cfg.Battle.Token,
		DefaultStake:   cfg.Battle.DefaultStake,
		GatewayTimeout: cfg.Gateway.Timeout,
	}
	var balances handler.BalanceCache
	if redisCache != nil {
		balances = redisCache
	}
	battleHandler := handler.NewBattleHandler(battleService, board, gw, balances, val, log, opts)

	routes := handler.RouterConfig{
		Battles: battleHandler,
		Feed:    handler.NewFeedHandler(battleHandler, cfg.Feed.Interval),
		Logger:  log,
	}
	if cfg.Admin.JWTSecret != "" {
		var blacklist middleware.TokenBlacklist = middleware.NewMemoryTokenBlacklist()
		if redisCache != nil {
			blacklist = middleware.NewRedisTokenBlacklist(redisCache.Client())
		}
		routes.Auth = middleware.NewAuthMiddleware(cfg.Admin.JWTSecret, blacklist)
		routes.Admin = handler.NewAdminHandler(routes.Auth, log)
	} else {
		log.Warn("ADMIN_JWT_SECRET not set; operator routes are open", nil)
	}
	if redisCache != nil {
		routes.VoteLimiter = middleware.NewRateLimiter(redisCache.Client(), cfg.RateLimit.Limit, cfg.RateLimit.Window)
		routes.Idempotency = middleware.NewIdempotencyMiddleware(redisCache.Client(), cfg.Redis.IdempotencyTTL, log)
	} else {
		routes.VoteLimiter = middleware.NewLocalRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(routes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Arena service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down arena service...", nil)

	if sched != nil {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Arena service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// flush queued announcements
	dispatcher.Close()

	log.Info("Arena service stopped gracefully", nil)
}

func newGateway(cfg *config.Config, log logger.Logger) gateway.Gateway {
	if cfg.Gateway.Mode == "http" {
		return gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL:      cfg.Gateway.BaseURL,
			APIKey:       cfg.Gateway.APIKey,
			PollInterval: cfg.Gateway.PollInterval,
			MaxPollTime:  cfg.Gateway.MaxPollTime,
		}, nil, log.With(map[string]interface{}{"component": "gateway"}))
	}
	log.Warn("Using in-memory wallet gateway (demo mode)", map[string]interface{}{
		"start_balance": cfg.Gateway.DemoBalance.String(),
	})
	return gateway.NewMemoryGateway(cfg.Gateway.DemoBalance)
}

func newPoster(cfg *config.Config, log logger.Logger) (notification.Poster, error) {
	switch cfg.Social.Mode {
	case "telegram":
		return notification.NewTelegramPoster(cfg.Social.TelegramToken, cfg.Social.TelegramChatID)
	case "http":
		return notification.NewHTTPPoster(cfg.Social.URL, cfg.Social.APIKey, nil).WithAgent(cfg.Social.AgentName), nil
	default:
		return notification.NewLogPoster(log), nil
	}
}
