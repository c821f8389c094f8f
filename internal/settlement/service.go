// ==============================================================================
// SETTLEMENT ENGINE - internal/settlement/service.go
// ==============================================================================
package settlement

import (
	"fmt"
	"time"

	"arena/internal/domain"
	"arena/pkg/errors"

	"github.com/shopspring/decimal"
)

// Params fixes the split of a prize pool.
//
// Voter reward funding: every winning vote asks for stake × ReleaseMultiplier
// (its stake back plus a bonus). The bonus is funded only by forfeited losing
// stakes, and all rewards come out of the winner payout, so the reward budget is
// min(winnerPayout, winningStakes + forfeitedStakes). When the requests exceed the
// budget every winning vote is scaled pro-rata by stake. Whatever the voters do
// not take is the contestant payout.
type Params struct {
	WinnerShare       decimal.Decimal
	ReleaseMultiplier decimal.Decimal
	Precision         int32
}

func DefaultParams() Params {
	return Params{
		WinnerShare:       decimal.RequireFromString("0.90"),
		ReleaseMultiplier: decimal.RequireFromString("1.5"),
		Precision:         9,
	}
}

func (p Params) validate() error {
	if !p.WinnerShare.IsPositive() || p.WinnerShare.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Validationf("winner share %s must be in (0, 1]", p.WinnerShare)
	}
	if p.ReleaseMultiplier.IsNegative() {
		return errors.Validationf("release multiplier %s must not be negative", p.ReleaseMultiplier)
	}
	if p.Precision < 0 || p.Precision > 18 {
		return errors.Validationf("precision %d must be in [0, 18]", p.Precision)
	}
	return nil
}

// Engine computes settlements. It holds no state besides its parameters.
type Engine struct {
	params Params
	now    func() time.Time
}

func NewEngine(p Params) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Engine{params: p, now: time.Now}, nil
}

func (e *Engine) Params() Params {
	return e.params
}

// Settle splits the battle's pool and resolves every vote on b. Callers pass a
// working copy and adopt it only when Settle returns without error.
func (e *Engine) Settle(b *domain.Battle, winner string, tieBreak bool) (*domain.SettlementResult, error) {
	if b == nil {
		return nil, errors.Invariantf("settle: nil battle")
	}
	if winner != b.ContestantA && winner != b.ContestantB {
		return nil, errors.Invariantf("settle %s: winner %q is not a contestant", b.ID, winner)
	}
	loser := b.Opponent(winner)

	pool := b.Pool()
	if !pool.Total.IsPositive() {
		return nil, errors.Invariantf("settle %s: prize pool %s is not positive", b.ID, pool.Total)
	}

	winnerPayout := pool.Total.Mul(e.params.WinnerShare).RoundFloor(e.params.Precision)
	platformCut := pool.Total.Sub(winnerPayout)

	winningStakes := b.Tallies[winner].Stake
	forfeited := b.Tallies[loser].Stake
	budget := decimal.Min(winnerPayout, winningStakes.Add(forfeited))
	requested := winningStakes.Mul(e.params.ReleaseMultiplier)
	prorate := requested.GreaterThan(budget)

	now := e.now()
	rewards := decimal.Zero
	outcomes := make([]domain.VoteOutcome, 0, b.TotalVotes())
	for _, v := range b.AllVotes() {
		status := domain.VoteStatusForfeited
		reward := decimal.Zero
		if v.Contestant == winner {
			status = domain.VoteStatusReleased
			reward = e.reward(v.Stake, winningStakes, budget, prorate)
		}
		if err := v.Resolve(status, reward, now); err != nil {
			return nil, fmt.Errorf("settle %s: %w", b.ID, err)
		}
		rewards = rewards.Add(reward)
		outcomes = append(outcomes, domain.VoteOutcome{
			VoteID:     v.ID,
			Voter:      v.Voter,
			Contestant: v.Contestant,
			Stake:      v.Stake,
			Status:     status,
			Reward:     reward,
		})
	}

	result := &domain.SettlementResult{
		BattleID:         b.ID,
		Winner:           winner,
		Loser:            loser,
		TieBreak:         tieBreak,
		WinnerVotes:      b.Tallies[winner].Votes,
		LoserVotes:       b.Tallies[loser].Votes,
		PrizePool:        pool,
		WinnerPayout:     winnerPayout,
		PlatformCut:      platformCut,
		VoterRewards:     rewards,
		ContestantPayout: winnerPayout.Sub(rewards),
		ForfeitedStakes:  forfeited,
		Outcomes:         outcomes,
		SettledAt:        now,
	}
	if err := check(b, result, budget); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) reward(stake, winningStakes, budget decimal.Decimal, prorate bool) decimal.Decimal {
	if !prorate {
		return stake.Mul(e.params.ReleaseMultiplier)
	}
	if winningStakes.IsZero() {
		return decimal.Zero
	}
	return stake.Mul(budget).Div(winningStakes).RoundFloor(e.params.Precision)
}

func check(b *domain.Battle, r *domain.SettlementResult, budget decimal.Decimal) error {
	if !r.WinnerPayout.Add(r.PlatformCut).Equal(r.PrizePool.Total) {
		return errors.Invariantf("settle %s: payout %s + cut %s != pool %s", b.ID, r.WinnerPayout, r.PlatformCut, r.PrizePool.Total)
	}
	if r.PlatformCut.IsNegative() {
		return errors.Invariantf("settle %s: negative platform cut %s", b.ID, r.PlatformCut)
	}
	if r.VoterRewards.GreaterThan(budget) {
		return errors.Invariantf("settle %s: rewards %s exceed budget %s", b.ID, r.VoterRewards, budget)
	}
	if r.ContestantPayout.IsNegative() {
		return errors.Invariantf("settle %s: negative contestant payout %s", b.ID, r.ContestantPayout)
	}
	if len(r.Outcomes) != b.TotalVotes() {
		return errors.Invariantf("settle %s: %d outcomes for %d votes", b.ID, len(r.Outcomes), b.TotalVotes())
	}
	for _, v := range b.AllVotes() {
		if !v.Status.Terminal() {
			return errors.Invariantf("settle %s: vote %s left %s", b.ID, v.ID, v.Status)
		}
	}
	return nil
}
