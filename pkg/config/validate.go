package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Port) == "" {
		problems = append(problems, "SERVER_PORT")
	}

	b := c.Battle
	if !b.EntryContribution.IsPositive() {
		problems = append(problems, "BATTLE_ENTRY_CONTRIBUTION must be > 0")
	}
	if b.MinStake.IsNegative() {
		problems = append(problems, "BATTLE_MIN_STAKE must be >= 0")
	}
	if b.DefaultStake.LessThan(b.MinStake) {
		problems = append(problems, "BATTLE_DEFAULT_STAKE must be >= BATTLE_MIN_STAKE")
	}
	if b.VoteThreshold < 1 {
		problems = append(problems, "BATTLE_VOTE_THRESHOLD must be >= 1")
	}
	if b.MaxRounds < 1 {
		problems = append(problems, "BATTLE_MAX_ROUNDS must be >= 1")
	}
	if !b.WinnerShare.IsPositive() || b.WinnerShare.GreaterThan(decimal.NewFromInt(1)) {
		problems = append(problems, "BATTLE_WINNER_SHARE must be in (0, 1]")
	}
	if b.ReleaseMultiplier.LessThan(decimal.NewFromInt(1)) {
		problems = append(problems, "BATTLE_RELEASE_MULTIPLIER must be >= 1")
	}
	if b.Precision < 0 || b.Precision > 18 {
		problems = append(problems, "BATTLE_PRECISION must be in [0, 18]")
	}
	if b.HistorySize < 1 {
		problems = append(problems, "BATTLE_HISTORY_SIZE must be >= 1")
	}
	if strings.TrimSpace(b.Token) == "" {
		problems = append(problems, "ARENA_TOKEN")
	}
	if distinctNames(b.Roster) < 2 {
		problems = append(problems, "roster needs at least two distinct contestants")
	}

	switch c.Gateway.Mode {
	case "memory":
	case "http":
		if strings.TrimSpace(c.Gateway.BaseURL) == "" {
			problems = append(problems, "GATEWAY_URL")
		}
		if strings.TrimSpace(c.Gateway.APIKey) == "" {
			problems = append(problems, "GATEWAY_API_KEY")
		}
	default:
		problems = append(problems, fmt.Sprintf("GATEWAY_MODE %q (want memory|http)", c.Gateway.Mode))
	}
	if c.Gateway.Timeout <= 0 {
		problems = append(problems, "GATEWAY_TIMEOUT must be > 0")
	}

	switch c.Social.Mode {
	case "log":
	case "telegram":
		if c.Social.TelegramToken == "" || c.Social.TelegramChatID == 0 {
			problems = append(problems, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
		}
	case "http":
		if c.Social.URL == "" {
			problems = append(problems, "SOCIAL_POST_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("SOCIAL_MODE %q (want log|telegram|http)", c.Social.Mode))
	}

	if c.RateLimit.Limit < 1 || c.RateLimit.Window <= 0 {
		problems = append(problems, "RATE_LIMIT_MAX_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}

	if c.Scheduler.RoundInterval < 0 || c.Scheduler.Cooldown < 0 {
		problems = append(problems, "BATTLE_ROUND_INTERVAL and BATTLE_COOLDOWN must not be negative")
	}
	if c.Scheduler.AutoStart && c.Scheduler.RoundInterval == 0 {
		problems = append(problems, "BATTLE_AUTO_START needs BATTLE_ROUND_INTERVAL")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}
	return nil
}

func distinctNames(roster []Contestant) int {
	seen := make(map[string]struct{}, len(roster))
	for _, c := range roster {
		if c.Name != "" {
			seen[c.Name] = struct{}{}
		}
	}
	return len(seen)
}
