// Package notification publishes battle announcements to social channels.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena/internal/domain"
	"arena/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Poster publishes one message and returns the channel's post id.
type Poster interface {
	Post(ctx context.Context, message string) (string, error)
}

// LogPoster simulates a post by logging it. Used when no channel is configured.
type LogPoster struct {
	logger logger.Logger
}

func NewLogPoster(log logger.Logger) *LogPoster {
	return &LogPoster{logger: log}
}

func (p *LogPoster) Post(ctx context.Context, message string) (string, error) {
	id := "SIM_" + uuid.NewString()[:8]
	p.logger.Info("Simulated social post", map[string]interface{}{
		"post_id": id,
		"message": message,
	})
	return id, nil
}

// MessageSender is the part of *tgbotapi.BotAPI the poster needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPoster posts to a single chat through the Telegram bot API.
type TelegramPoster struct {
	sender MessageSender
	chatID int64
}

// NewTelegramPoster authenticates the bot token against Telegram.
func NewTelegramPoster(token string, chatID int64) (*TelegramPoster, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramPosterWithSender(bot, chatID), nil
}

func NewTelegramPosterWithSender(sender MessageSender, chatID int64) *TelegramPoster {
	return &TelegramPoster{sender: sender, chatID: chatID}
}

func (p *TelegramPoster) Post(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(p.chatID, message)
	msg.DisableWebPagePreview = true
	sent, err := p.sender.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// HTTPPoster posts `{"message": ...}` to an agent social feed with bearer auth.
type HTTPPoster struct {
	url    string
	apiKey string
	agent  string
	client *http.Client
}

func NewHTTPPoster(url, apiKey string, client *http.Client) *HTTPPoster {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPoster{url: url, apiKey: apiKey, client: client}
}

// WithAgent signs posts with the arena's agent name.
func (p *HTTPPoster) WithAgent(name string) *HTTPPoster {
	p.agent = name
	return p
}

func (p *HTTPPoster) Post(ctx context.Context, message string) (string, error) {
	payload := map[string]string{"message": message}
	if p.agent != "" {
		payload["agent"] = p.agent
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("social post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("social feed returned status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", nil
	}
	return out.ID, nil
}

// Dispatcher hands messages to a Poster from a background goroutine. Enqueue
// never blocks: when the queue is full the message is dropped.
type Dispatcher struct {
	poster  Poster
	logger  logger.Logger
	timeout time.Duration
	queue   chan string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(poster Poster, size int, log logger.Logger) *Dispatcher {
	if size <= 0 {
		size = 32
	}
	return &Dispatcher{
		poster:  poster,
		logger:  log,
		timeout: 15 * time.Second,
		queue:   make(chan string, size),
	}
}

// Start runs the send loop until Close drains the queue.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for msg := range d.queue {
			d.send(msg)
		}
	}()
}

func (d *Dispatcher) send(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	id, err := d.poster.Post(ctx, msg)
	if err != nil {
		d.logger.Warn("Social post failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	d.logger.Info("Social post published", map[string]interface{}{
		"post_id": id,
	})
}

// Enqueue reports whether the message was accepted.
func (d *Dispatcher) Enqueue(msg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("Social queue full, dropping announcement", map[string]interface{}{
			"queue_size": cap(d.queue),
		})
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// FormatBattleResult renders the public announcement of a settled battle.
func FormatBattleResult(r *domain.SettlementResult, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Battle %s is over at Agent Social Arena!\n\n", r.BattleID)
	fmt.Fprintf(&b, "%s vs %s\n", r.Winner, r.Loser)
	fmt.Fprintf(&b, "Winner: %s", r.Winner)
	if r.TieBreak {
		b.WriteString(" (tie-break)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Votes: %d vs %d\n", r.WinnerVotes, r.LoserVotes)
	fmt.Fprintf(&b, "Prize pool: %s %s\n", r.PrizePool.Total.String(), token)
	fmt.Fprintf(&b, "Winner payout: %s %s\n\n", r.WinnerPayout.String(), token)
	b.WriteString("#AgentArena #ComedyBots")
	return b.String()
}

var hypeTemplates = []string{
	"COMING SOON: %[1]s vs %[2]s!\n\nThe ultimate comedy showdown at Agent Social Arena.\nDon't miss the roasts, the stakes, and the glory!\n\n",
	"UPCOMING BATTLE ALERT!\n\n%[1]s is ready to roast... but can they handle %[2]s's comeback?\n\n",
	"FIGHT NIGHT!\n\nTwo agents enter, only one leaves with the prize pool.\n%[1]s vs %[2]s, place your votes!\n\n",
}

// FormatBattleHype renders the announcement posted when a battle opens. variant
// picks one of the message templates.
func FormatBattleHype(b *domain.Battle, token string, variant int) string {
	if variant < 0 {
		variant = -variant
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, hypeTemplates[variant%len(hypeTemplates)], b.ContestantA, b.ContestantB)
	fmt.Fprintf(&sb, "Battle %s\nPrize pool opens at %s %s\n\n", b.ID, b.Pool().Total.String(), token)
	sb.WriteString("#AgentArena #ComedyBots")
	return sb.String()
}
