package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryGateway keeps balances in process. Unknown wallets start with the
// configured demo balance so the arena can run without a wallet backend.
type MemoryGateway struct {
	mu            sync.Mutex
	balances      map[string]decimal.Decimal
	held          map[string]decimal.Decimal
	startBalance  decimal.Decimal
	latency       time.Duration
	failTransfers bool
	transferred   decimal.Decimal
	transferCount int
}

func NewMemoryGateway(startBalance decimal.Decimal) *MemoryGateway {
	return &MemoryGateway{
		balances:     make(map[string]decimal.Decimal),
		held:         make(map[string]decimal.Decimal),
		startBalance: startBalance,
		transferred:  decimal.Zero,
	}
}

func key(address, token string) string {
	return token + ":" + address
}

// SetLatency delays every call, honouring ctx cancellation.
func (g *MemoryGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	g.latency = d
	g.mu.Unlock()
}

// FailTransfers makes Transfer return a gateway error.
func (g *MemoryGateway) FailTransfers(fail bool) {
	g.mu.Lock()
	g.failTransfers = fail
	g.mu.Unlock()
}

// Deposit sets up a wallet balance explicitly.
func (g *MemoryGateway) Deposit(address, token string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[key(address, token)] = g.balanceLocked(address, token).Add(amount)
}

func (g *MemoryGateway) wait(ctx context.Context, op string) error {
	g.mu.Lock()
	d := g.latency
	g.mu.Unlock()
	if d <= 0 {
		return errors.Gateway(op, ctx.Err())
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Gateway(op, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (g *MemoryGateway) balanceLocked(address, token string) decimal.Decimal {
	b, ok := g.balances[key(address, token)]
	if !ok {
		b = g.startBalance
		g.balances[key(address, token)] = b
	}
	return b
}

func (g *MemoryGateway) CheckBalance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	if err := g.wait(ctx, "check balance"); err != nil {
		return decimal.Zero, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceLocked(address, token), nil
}

func (g *MemoryGateway) Escrow(ctx context.Context, address, token string, amount decimal.Decimal) (string, error) {
	if err := g.wait(ctx, "escrow"); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	bal := g.balanceLocked(address, token)
	if bal.LessThan(amount) {
		return "", fmt.Errorf("escrow %s from %s: %w", amount, address, errors.ErrInsufficientFunds)
	}
	k := key(address, token)
	g.balances[k] = bal.Sub(amount)
	g.held[k] = g.held[k].Add(amount)
	return "mem_" + uuid.NewString(), nil
}

func (g *MemoryGateway) Transfer(ctx context.Context, to, token string, amount decimal.Decimal) (string, error) {
	if err := g.wait(ctx, "transfer"); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTransfers {
		return "", errors.Gateway("transfer", fmt.Errorf("transfers disabled"))
	}
	k := key(to, token)
	g.balances[k] = g.balanceLocked(to, token).Add(amount)
	g.transferred = g.transferred.Add(amount)
	g.transferCount++
	return "mem_" + uuid.NewString(), nil
}

// Held returns the amount escrowed from address.
func (g *MemoryGateway) Held(address, token string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[key(address, token)]
}

// Transferred returns the total paid out and the number of transfers.
func (g *MemoryGateway) Transferred() (decimal.Decimal, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transferred, g.transferCount
}
