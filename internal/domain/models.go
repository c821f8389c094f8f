// Package domain holds the arena's ledger primitives: battles, votes, prize pools
// and settlement records. Types here carry data and the few transitions that must
// hold regardless of caller (vote resolution); orchestration lives in battle.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "arena/pkg/errors"
)

type BattleStatus string

const (
	BattleStatusPending   BattleStatus = "pending"
	BattleStatusActive    BattleStatus = "active"
	BattleStatusCompleted BattleStatus = "completed"
)

type VoteStatus string

const (
	VoteStatusEscrowed  VoteStatus = "escrowed"
	VoteStatusReleased  VoteStatus = "released"
	VoteStatusForfeited VoteStatus = "forfeited"
)

// Terminal reports whether the status is a settled state.
func (s VoteStatus) Terminal() bool {
	return s == VoteStatusReleased || s == VoteStatusForfeited
}

// Slot is the public handle voters use for a contestant.
type Slot string

const (
	SlotA Slot = "agent1"
	SlotB Slot = "agent2"
)

// ParseSlot accepts only the two battle slots.
func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case SlotA, SlotB:
		return Slot(s), true
	}
	return "", false
}

// Vote is one stake-weighted vote. It stays escrowed until its battle completes.
type Vote struct {
	ID         string          `json:"id"`
	BattleID   string          `json:"battle_id"`
	Seq        int             `json:"seq"`
	Voter      string          `json:"voter"`
	Contestant string          `json:"contestant"`
	Slot       Slot            `json:"slot"`
	Stake      decimal.Decimal `json:"stake"`
	TxRef      string          `json:"tx_ref"`
	Status     VoteStatus      `json:"status"`
	Reward     decimal.Decimal `json:"reward"`
	CastAt     time.Time       `json:"cast_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Resolve moves an escrowed vote to its terminal status. It succeeds exactly once.
func (v *Vote) Resolve(status VoteStatus, reward decimal.Decimal, at time.Time) error {
	if !status.Terminal() {
		return pkgerrors.Invariantf("vote %s: %q is not a terminal status", v.ID, status)
	}
	if v.Status != VoteStatusEscrowed {
		return pkgerrors.Invariantf("vote %s already %s", v.ID, v.Status)
	}
	if reward.IsNegative() {
		return pkgerrors.Invariantf("vote %s: negative reward %s", v.ID, reward)
	}
	if status == VoteStatusForfeited && !reward.IsZero() {
		return pkgerrors.Invariantf("vote %s: forfeited vote with reward %s", v.ID, reward)
	}
	v.Status = status
	v.Reward = reward
	v.ResolvedAt = &at
	return nil
}

// MaskedVoter shortens a wallet for public display.
func (v *Vote) MaskedVoter() string {
	return MaskWallet(v.Voter)
}

// MaskWallet keeps the first 8 and last 4 characters of long addresses.
func MaskWallet(w string) string {
	if len(w) <= 12 {
		return w
	}
	return w[:8] + "..." + w[len(w)-4:]
}

// Tally is the running per-contestant count.
type Tally struct {
	Votes int             `json:"votes"`
	Stake decimal.Decimal `json:"stake"`
}

// Battle is one contest between two distinct contestants.
type Battle struct {
	ID                string             `json:"id"`
	ContestantA       string             `json:"agent1"`
	ContestantB       string             `json:"agent2"`
	Round             int                `json:"round"`
	Status            BattleStatus       `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	EndedAt           *time.Time         `json:"ended_at,omitempty"`
	EntryContribution decimal.Decimal    `json:"entry_contribution"`
	Votes             map[string][]*Vote `json:"votes"`
	Tallies           map[string]Tally   `json:"tallies"`
	Winner            string             `json:"winner,omitempty"`
}

// NewBattle builds an active battle with empty tallies.
func NewBattle(id, a, b string, entry decimal.Decimal, now time.Time) (*Battle, error) {
	if a == "" || b == "" || a == b {
		return nil, pkgerrors.Validationf("contestants must be distinct and non-empty (%q, %q)", a, b)
	}
	return &Battle{
		ID:                id,
		ContestantA:       a,
		ContestantB:       b,
		Status:            BattleStatusActive,
		StartedAt:         now,
		EntryContribution: entry,
		Votes:             map[string][]*Vote{a: {}, b: {}},
		Tallies:           map[string]Tally{a: {Stake: decimal.Zero}, b: {Stake: decimal.Zero}},
	}, nil
}

// Contestant returns the contestant behind a slot.
func (b *Battle) Contestant(s Slot) string {
	if s == SlotA {
		return b.ContestantA
	}
	return b.ContestantB
}

// Opponent returns the other contestant.
func (b *Battle) Opponent(name string) string {
	if name == b.ContestantA {
		return b.ContestantB
	}
	return b.ContestantA
}

// AddVote appends an escrowed vote and bumps its side's tally.
func (b *Battle) AddVote(v *Vote) error {
	if b.Status != BattleStatusActive {
		return fmt.Errorf("%w: battle %s is %s", pkgerrors.ErrInvalidState, b.ID, b.Status)
	}
	t, ok := b.Tallies[v.Contestant]
	if !ok {
		return pkgerrors.Invariantf("vote for unknown contestant %q", v.Contestant)
	}
	v.Seq = b.TotalVotes() + 1
	b.Votes[v.Contestant] = append(b.Votes[v.Contestant], v)
	t.Votes++
	t.Stake = t.Stake.Add(v.Stake)
	b.Tallies[v.Contestant] = t
	return nil
}

// TotalVotes counts votes on both sides.
func (b *Battle) TotalVotes() int {
	return b.Tallies[b.ContestantA].Votes + b.Tallies[b.ContestantB].Votes
}

// AllVotes returns votes in arrival order.
func (b *Battle) AllVotes() []*Vote {
	out := make([]*Vote, 0, b.TotalVotes())
	out = append(out, b.Votes[b.ContestantA]...)
	out = append(out, b.Votes[b.ContestantB]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Pool derives the prize pool from the entry contribution and tallied stakes.
func (b *Battle) Pool() PrizePool {
	entry := b.EntryContribution.Mul(decimal.NewFromInt(2))
	stakes := b.Tallies[b.ContestantA].Stake.Add(b.Tallies[b.ContestantB].Stake)
	return PrizePool{Entry: entry, Stakes: stakes, Total: entry.Add(stakes)}
}

// Clone deep-copies the battle so readers never share mutable state with the writer.
func (b *Battle) Clone() *Battle {
	if b == nil {
		return nil
	}
	c := *b
	if b.EndedAt != nil {
		t := *b.EndedAt
		c.EndedAt = &t
	}
	c.Votes = make(map[string][]*Vote, len(b.Votes))
	for k, vs := range b.Votes {
		cp := make([]*Vote, len(vs))
		for i, v := range vs {
			vv := *v
			if v.ResolvedAt != nil {
				t := *v.ResolvedAt
				vv.ResolvedAt = &t
			}
			cp[i] = &vv
		}
		c.Votes[k] = cp
	}
	c.Tallies = make(map[string]Tally, len(b.Tallies))
	for k, t := range b.Tallies {
		c.Tallies[k] = t
	}
	return &c
}

// PrizePool is the accumulated stake total of a battle.
type PrizePool struct {
	Entry  decimal.Decimal `json:"entry"`
	Stakes decimal.Decimal `json:"stakes"`
	Total  decimal.Decimal `json:"total"`
}

// VoteOutcome is one voter's settled result.
type VoteOutcome struct {
	VoteID     string          `json:"vote_id"`
	Voter      string          `json:"voter"`
	Contestant string          `json:"contestant"`
	Stake      decimal.Decimal `json:"stake"`
	Status     VoteStatus      `json:"status"`
	Reward     decimal.Decimal `json:"reward"`
}

type PayoutKind string

const (
	PayoutVoterReward PayoutKind = "voter_reward"
	PayoutContestant  PayoutKind = "contestant"
	PayoutPlatform    PayoutKind = "platform"
)

// Payout records one disbursement attempt after settlement.
type Payout struct {
	BattleID string          `json:"battle_id"`
	Kind     PayoutKind      `json:"kind"`
	VoteID   string          `json:"vote_id,omitempty"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	TxRef    string          `json:"tx_ref,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Succeeded reports whether the gateway accepted the transfer.
func (p Payout) Succeeded() bool {
	return p.Error == ""
}

// SettlementResult is the terminal computation for a completed battle.
type SettlementResult struct {
	BattleID         string          `json:"battle_id"`
	Winner           string          `json:"winner"`
	Loser            string          `json:"loser"`
	TieBreak         bool            `json:"tie_break"`
	WinnerVotes      int             `json:"winner_votes"`
	LoserVotes       int             `json:"loser_votes"`
	PrizePool        PrizePool       `json:"prize_pool"`
	WinnerPayout     decimal.Decimal `json:"winner_payout"`
	PlatformCut      decimal.Decimal `json:"platform_cut"`
	VoterRewards     decimal.Decimal `json:"voter_rewards"`
	ContestantPayout decimal.Decimal `json:"contestant_payout"`
	ForfeitedStakes  decimal.Decimal `json:"forfeited_stakes"`
	Outcomes         []VoteOutcome   `json:"outcomes"`
	Payouts          []Payout        `json:"payouts,omitempty"`
	SettledAt        time.Time       `json:"settled_at"`
}

// LeaderboardEntry ranks contestants by wins.
type LeaderboardEntry struct {
	Name       string    `json:"name"`
	Wins       int       `json:"wins"`
	FirstWinAt time.Time `json:"first_win_at"`
}

// BattleSummary is the history record of a settled battle.
type BattleSummary struct {
	BattleID     string          `json:"battle_id"`
	ContestantA  string          `json:"agent1"`
	ContestantB  string          `json:"agent2"`
	Winner       string          `json:"winner"`
	Votes        map[string]int  `json:"votes"`
	PrizePool    decimal.Decimal `json:"prize_pool"`
	WinnerPayout decimal.Decimal `json:"winner_payout"`
	PlatformCut  decimal.Decimal `json:"platform_cut"`
	Rounds       int             `json:"rounds"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      time.Time       `json:"ended_at"`
}

// RoastLine is one contestant's line in a round.
type RoastLine struct {
	Speaker string `json:"speaker"`
	Target  string `json:"target"`
	Text    string `json:"text"`
}

// RoundContent is what a round advance returns.
type RoundContent struct {
	BattleID string      `json:"battle_id"`
	Round    int         `json:"round"`
	Lines    []RoastLine `json:"lines"`
}
