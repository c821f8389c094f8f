package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arena/pkg/errors"
	"arena/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

const (
	jobCompleted = "completed"
	jobPending   = "pending"
	jobFailed    = "failed"
)

var errJobPending = fmt.Errorf("job still pending")

type HTTPConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxPollTime  time.Duration
}

// HTTPGateway talks to the agent wallet REST API. Writes are asynchronous jobs
// which are polled until they complete, fail, or the poll budget runs out.
type HTTPGateway struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	maxPollTime  time.Duration
	logger       logger.Logger
}

func NewHTTPGateway(cfg HTTPConfig, client *http.Client, log logger.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPollTime <= 0 {
		cfg.MaxPollTime = 4 * time.Second
	}
	return &HTTPGateway{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       client,
		pollInterval: cfg.PollInterval,
		maxPollTime:  cfg.MaxPollTime,
		logger:       log,
	}
}

type jobResponse struct {
	Status  string           `json:"status"`
	JobID   string           `json:"jobId"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	TxID    string           `json:"txId,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type stakeRequest struct {
	Wallet string          `json:"wallet"`
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	To     string          `json:"to"`
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

func (g *HTTPGateway) CheckBalance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/agent/balances/%s?token=%s", url.PathEscape(address), url.QueryEscape(token))
	job, err := g.run(ctx, "check balance", http.MethodGet, path, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if job.Balance == nil {
		return decimal.Zero, errors.Gateway("check balance", fmt.Errorf("response carried no balance"))
	}
	return *job.Balance, nil
}

func (g *HTTPGateway) Escrow(ctx context.Context, address, token string, amount decimal.Decimal) (string, error) {
	job, err := g.run(ctx, "escrow", http.MethodPost, "/agent/stake", stakeRequest{Wallet: address, Token: token, Amount: amount})
	if err != nil {
		return "", err
	}
	return job.TxID, nil
}

func (g *HTTPGateway) Transfer(ctx context.Context, to, token string, amount decimal.Decimal) (string, error) {
	job, err := g.run(ctx, "transfer", http.MethodPost, "/agent/transfer", transferRequest{To: to, Token: token, Amount: amount})
	if err != nil {
		return "", err
	}
	return job.TxID, nil
}

// run submits a request and, if the backend answers with a pending job, polls it.
func (g *HTTPGateway) run(ctx context.Context, op, method, path string, body interface{}) (*jobResponse, error) {
	job, err := g.do(ctx, method, path, body)
	if err != nil {
		return nil, errors.Gateway(op, err)
	}
	if job.Status == jobPending && job.JobID != "" {
		job, err = g.poll(ctx, job.JobID)
		if err != nil {
			g.logger.Warn("Gateway job did not complete", map[string]interface{}{
				"op":    op,
				"error": err.Error(),
			})
			return nil, errors.Gateway(op, err)
		}
	}
	if err := jobError(job); err != nil {
		return nil, errors.Gateway(op, err)
	}
	return job, nil
}

func (g *HTTPGateway) poll(ctx context.Context, jobID string) (*jobResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.pollInterval
	b.MaxInterval = 4 * g.pollInterval

	op := func() (*jobResponse, error) {
		job, err := g.do(ctx, http.MethodGet, "/agent/job/"+url.PathEscape(jobID), nil)
		if err != nil {
			if errors.Is(err, errors.ErrInsufficientFunds) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		switch job.Status {
		case jobPending:
			return nil, errJobPending
		case jobFailed:
			return nil, backoff.Permanent(jobError(job))
		}
		return job, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(g.maxPollTime),
	)
}

func jobError(job *jobResponse) error {
	if job.Status != jobFailed {
		return nil
	}
	msg := job.Error
	if msg == "" {
		msg = "job failed"
	}
	if strings.Contains(strings.ToLower(msg), "insufficient") {
		return fmt.Errorf("%s: %w", msg, errors.ErrInsufficientFunds)
	}
	return fmt.Errorf("%s", msg)
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body interface{}) (*jobResponse, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("wallet api returned %d: %w", resp.StatusCode, errors.ErrInsufficientFunds)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("wallet api returned status %d", resp.StatusCode)
	}

	var job jobResponse
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if job.Status == "" {
		job.Status = jobCompleted
	}
	return &job, nil
}
