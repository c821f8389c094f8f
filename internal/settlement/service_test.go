package settlement

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"arena/internal/domain"
	"arena/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func battleWith(t *testing.T, stakesA, stakesB []string) *domain.Battle {
	t.Helper()
	b, err := domain.NewBattle("battle_test", "A", "B", d("0.01"), time.Now())
	require.NoError(t, err)
	add := func(name string, stakes []string) {
		for i, s := range stakes {
			require.NoError(t, b.AddVote(&domain.Vote{
				ID:         fmt.Sprintf("%s-%d", name, i),
				BattleID:   b.ID,
				Voter:      fmt.Sprintf("wallet-%s-%d", name, i),
				Contestant: name,
				Stake:      d(s),
				Status:     domain.VoteStatusEscrowed,
			}))
		}
	}
	add("A", stakesA)
	add("B", stakesB)
	return b
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams())
	require.NoError(t, err)
	return e
}

func TestSettle_SixFourScenario(t *testing.T) {
	b := battleWith(t, repeat("1", 6), repeat("1", 4))

	r, err := newEngine(t).Settle(b, "A", false)
	require.NoError(t, err)

	assert.True(t, r.PrizePool.Total.Equal(d("10.02")))
	assert.True(t, r.WinnerPayout.Equal(d("9.018")))
	assert.True(t, r.PlatformCut.Equal(d("1.002")))
	assert.True(t, r.VoterRewards.Equal(d("9")))
	assert.True(t, r.ContestantPayout.Equal(d("0.018")))
	assert.True(t, r.ForfeitedStakes.Equal(d("4")))
	assert.Equal(t, 6, r.WinnerVotes)
	assert.Equal(t, 4, r.LoserVotes)
	assert.Equal(t, "B", r.Loser)

	released, forfeited := 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case domain.VoteStatusReleased:
			released++
			assert.True(t, o.Reward.Equal(d("1.5")))
		case domain.VoteStatusForfeited:
			forfeited++
			assert.True(t, o.Reward.IsZero())
		}
	}
	assert.Equal(t, 6, released)
	assert.Equal(t, 4, forfeited)
}

func TestSettle_ProRataWhenBudgetShort(t *testing.T) {
	b := battleWith(t, repeat("1", 10), nil)

	r, err := newEngine(t).Settle(b, "A", false)
	require.NoError(t, err)

	assert.True(t, r.WinnerPayout.Equal(d("9.018")))
	for _, o := range r.Outcomes {
		assert.True(t, o.Reward.Equal(d("0.9018")), o.Reward.String())
	}
	assert.True(t, r.VoterRewards.Equal(d("9.018")))
	assert.True(t, r.ContestantPayout.IsZero())
}

func TestSettle_ProRataByStake(t *testing.T) {
	b := battleWith(t, []string{"3", "1"}, []string{"1"})

	r, err := newEngine(t).Settle(b, "A", false)
	require.NoError(t, err)

	// pool 5.02, payout 4.518, budget min(4.518, 5) = 4.518 < 6 requested
	assert.True(t, r.Outcomes[0].Reward.Equal(d("3.3885")), r.Outcomes[0].Reward.String())
	assert.True(t, r.Outcomes[1].Reward.Equal(d("1.1295")), r.Outcomes[1].Reward.String())
	assert.True(t, r.VoterRewards.LessThanOrEqual(r.WinnerPayout))
}

func TestSettle_NoVotes(t *testing.T) {
	b := battleWith(t, nil, nil)

	r, err := newEngine(t).Settle(b, "B", true)
	require.NoError(t, err)

	assert.True(t, r.TieBreak)
	assert.True(t, r.WinnerPayout.Equal(d("0.018")))
	assert.True(t, r.PlatformCut.Equal(d("0.002")))
	assert.True(t, r.ContestantPayout.Equal(d("0.018")))
	assert.Empty(t, r.Outcomes)
}

func TestSettle_EmptyPoolIsInvariantViolation(t *testing.T) {
	b, err := domain.NewBattle("battle_empty", "A", "B", decimal.Zero, time.Now())
	require.NoError(t, err)

	_, err = newEngine(t).Settle(b, "A", false)
	assert.ErrorIs(t, err, errors.ErrInvariantViolation)
}

func TestSettle_UnknownWinner(t *testing.T) {
	b := battleWith(t, []string{"1"}, nil)
	_, err := newEngine(t).Settle(b, "C", false)
	assert.ErrorIs(t, err, errors.ErrInvariantViolation)
}

func TestSettle_TwiceIsInvariantViolation(t *testing.T) {
	b := battleWith(t, []string{"1"}, []string{"2"})
	e := newEngine(t)

	_, err := e.Settle(b, "A", false)
	require.NoError(t, err)
	_, err = e.Settle(b, "A", false)
	assert.ErrorIs(t, err, errors.ErrInvariantViolation)
}

func TestSettle_ConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := newEngine(t)

	for trial := 0; trial < 200; trial++ {
		stakes := func() []string {
			n := rng.Intn(12)
			out := make([]string, n)
			for i := range out {
				out[i] = decimal.NewFromFloat(rng.Float64() * 50).Round(int32(rng.Intn(12))).String()
			}
			return out
		}
		b := battleWith(t, stakes(), stakes())
		winner := "A"
		if rng.Intn(2) == 1 {
			winner = "B"
		}

		r, err := e.Settle(b, winner, false)
		require.NoError(t, err)

		assert.True(t, r.WinnerPayout.Add(r.PlatformCut).Equal(r.PrizePool.Total), "trial %d", trial)
		assert.True(t, r.VoterRewards.Add(r.ContestantPayout).Equal(r.WinnerPayout), "trial %d", trial)
		assert.False(t, r.PlatformCut.IsNegative())
		assert.False(t, r.ContestantPayout.IsNegative())
		for _, v := range b.AllVotes() {
			assert.True(t, v.Status.Terminal())
		}
	}
}

func TestNewEngine_RejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.WinnerShare = d("1.5")
	_, err := NewEngine(p)
	assert.ErrorIs(t, err, errors.ErrValidation)

	p = DefaultParams()
	p.ReleaseMultiplier = d("-1")
	_, err = NewEngine(p)
	assert.ErrorIs(t, err, errors.ErrValidation)
}
