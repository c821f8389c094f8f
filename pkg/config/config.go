// Package config loads and validates arena service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Battle    BattleConfig
	Gateway   GatewayConfig
	Social    SocialConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Feed      FeedConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig is optional; an empty URL selects in-process fallbacks.
type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// Contestant is one roster entry. Wallet receives the contestant payout when set.
type Contestant struct {
	Name   string `yaml:"name"`
	Wallet string `yaml:"wallet"`
}

type BattleConfig struct {
	EntryContribution decimal.Decimal
	MinStake          decimal.Decimal
	DefaultStake      decimal.Decimal
	VoteThreshold     int
	MaxRounds         int
	WinnerShare       decimal.Decimal
	ReleaseMultiplier decimal.Decimal
	Precision         int32
	HistorySize       int
	Token             string
	TreasuryAddress   string
	RosterFile        string
	Roster            []Contestant
	RoastFile         string
}

type GatewayConfig struct {
	Mode         string // memory | http
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPollTime  time.Duration
	DemoBalance  decimal.Decimal
}

type SocialConfig struct {
	Mode           string // log | telegram | http
	TelegramToken  string
	TelegramChatID int64
	URL            string
	APIKey         string
	AgentName      string
	QueueSize      int
}

type AdminConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type FeedConfig struct {
	Interval time.Duration
}

// SchedulerConfig drives timed battles. A zero RoundInterval disables it.
type SchedulerConfig struct {
	RoundInterval time.Duration
	AutoStart     bool
	Cooldown      time.Duration
}

// DefaultRoster is used when no roster file is configured.
var DefaultRoster = []Contestant{
	{Name: "Jester_AI"},
	{Name: "RoastMaster_Bot"},
	{Name: "MemeLord_X"},
	{Name: "SarcasmBot"},
	{Name: "CryptoComedian"},
	{Name: "DeFiJester"},
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "3000"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:            normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getIntEnv("REDIS_DB", 0),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Battle: BattleConfig{
			EntryContribution: getDecimalEnv("BATTLE_ENTRY_CONTRIBUTION", decimal.RequireFromString("0.01")),
			MinStake:          getDecimalEnv("BATTLE_MIN_STAKE", decimal.NewFromInt(1)),
			DefaultStake:      getDecimalEnv("BATTLE_DEFAULT_STAKE", decimal.NewFromInt(1)),
			VoteThreshold:     getIntEnv("BATTLE_VOTE_THRESHOLD", 10),
			MaxRounds:         getIntEnv("BATTLE_MAX_ROUNDS", 3),
			WinnerShare:       getDecimalEnv("BATTLE_WINNER_SHARE", decimal.RequireFromString("0.90")),
			ReleaseMultiplier: getDecimalEnv("BATTLE_RELEASE_MULTIPLIER", decimal.RequireFromString("1.5")),
			Precision:         int32(getIntEnv("BATTLE_PRECISION", 9)),
			HistorySize:       getIntEnv("BATTLE_HISTORY_SIZE", 10),
			Token:             getEnv("ARENA_TOKEN", "9EHbzvknYgE77745scBjPrZrFVdyZxCJjeMBLeU17DBr"),
			TreasuryAddress:   getEnv("ARENA_TREASURY_ADDRESS", ""),
			RosterFile:        getEnv("ARENA_ROSTER_FILE", ""),
			RoastFile:         getEnv("ARENA_ROAST_FILE", ""),
		},
		Gateway: GatewayConfig{
			Mode:         strings.ToLower(getEnv("GATEWAY_MODE", "memory")),
			BaseURL:      getEnv("GATEWAY_URL", "https://api.bankr.bot"),
			APIKey:       getEnv("GATEWAY_API_KEY", ""),
			Timeout:      getDurationEnv("GATEWAY_TIMEOUT", 5*time.Second),
			PollInterval: getDurationEnv("GATEWAY_POLL_INTERVAL", 500*time.Millisecond),
			MaxPollTime:  getDurationEnv("GATEWAY_MAX_POLL_TIME", 4*time.Second),
			DemoBalance:  getDecimalEnv("GATEWAY_DEMO_BALANCE", decimal.NewFromInt(100)),
		},
		Social: SocialConfig{
			Mode:           strings.ToLower(getEnv("SOCIAL_MODE", "log")),
			TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: getInt64Env("TELEGRAM_CHAT_ID", 0),
			URL:            getEnv("SOCIAL_POST_URL", "https://www.moltbook.com/api/v1/agents/post"),
			APIKey:         getEnv("SOCIAL_API_KEY", ""),
			AgentName:      getEnv("SOCIAL_AGENT_NAME", "Ulyx"),
			QueueSize:      getIntEnv("SOCIAL_QUEUE_SIZE", 32),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Limit:  getIntEnv("RATE_LIMIT_MAX_REQUESTS", 100),
			Window: getDurationEnv("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Feed: FeedConfig{
			Interval: getDurationEnv("FEED_INTERVAL", 2*time.Second),
		},
		Scheduler: SchedulerConfig{
			RoundInterval: getDurationEnv("BATTLE_ROUND_INTERVAL", 0),
			AutoStart:     getBoolEnv("BATTLE_AUTO_START", false),
			Cooldown:      getDurationEnv("BATTLE_COOLDOWN", 30*time.Second),
		},
	}

	roster, err := LoadRoster(cfg.Battle.RosterFile)
	if err != nil {
		return nil, err
	}
	cfg.Battle.Roster = roster

	return cfg, nil
}

type rosterFile struct {
	Contestants []Contestant `yaml:"contestants"`
}

// LoadRoster reads a YAML roster file. An empty path returns DefaultRoster.
func LoadRoster(path string) ([]Contestant, error) {
	if strings.TrimSpace(path) == "" {
		out := make([]Contestant, len(DefaultRoster))
		copy(out, DefaultRoster)
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes roster YAML of the form `contestants: [{name, wallet}]`.
func ParseRoster(data []byte) ([]Contestant, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	for i := range f.Contestants {
		f.Contestants[i].Name = strings.TrimSpace(f.Contestants[i].Name)
		f.Contestants[i].Wallet = strings.TrimSpace(f.Contestants[i].Wallet)
	}
	return f.Contestants, nil
}

// RosterNames returns the contestant names in roster order.
func (b BattleConfig) RosterNames() []string {
	names := make([]string, 0, len(b.Roster))
	for _, c := range b.Roster {
		names = append(names, c.Name)
	}
	return names
}

// WalletFor returns the configured wallet of a contestant, if any.
func (b BattleConfig) WalletFor(name string) string {
	for _, c := range b.Roster {
		if c.Name == name {
			return c.Wallet
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
