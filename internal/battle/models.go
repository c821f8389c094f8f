package battle

import (
	"time"

	"arena/internal/domain"

	"github.com/shopspring/decimal"
)

// VoteRequest is a spectator's vote. Slot is "agent1" or "agent2".
type VoteRequest struct {
	Slot  string
	Voter string
	Stake decimal.Decimal
}

// VoteReceipt confirms an escrowed vote. When the vote closed the battle the
// settlement rides along.
type VoteReceipt struct {
	VoteID      string                   `json:"vote_id"`
	BattleID    string                   `json:"battle_id"`
	Slot        domain.Slot              `json:"slot"`
	Contestant  string                   `json:"contestant"`
	Stake       decimal.Decimal          `json:"stake"`
	TxRef       string                   `json:"tx_ref"`
	Votes       map[string]int           `json:"votes"`
	PrizePool   domain.PrizePool         `json:"prize_pool"`
	BattleEnded bool                     `json:"battle_ended"`
	Settlement  *domain.SettlementResult `json:"settlement,omitempty"`
}

// PublicVote is a vote as shown to spectators.
type PublicVote struct {
	Seq        int             `json:"seq"`
	Voter      string          `json:"voter"`
	Contestant string          `json:"contestant"`
	Stake      decimal.Decimal `json:"stake"`
	CastAt     time.Time       `json:"cast_at"`
}

// Snapshot is an immutable view of the active battle.
type Snapshot struct {
	BattleID      string                     `json:"battle_id"`
	ContestantA   string                     `json:"agent1"`
	ContestantB   string                     `json:"agent2"`
	Round         int                        `json:"round"`
	MaxRounds     int                        `json:"max_rounds"`
	Status        domain.BattleStatus        `json:"status"`
	StartedAt     time.Time                  `json:"started_at"`
	Votes         map[string]int             `json:"votes"`
	Stakes        map[string]decimal.Decimal `json:"stakes"`
	TotalVotes    int                        `json:"total_votes"`
	VoteThreshold int                        `json:"vote_threshold"`
	PrizePool     domain.PrizePool           `json:"prize_pool"`
	RecentVotes   []PublicVote               `json:"recent_votes"`
}

type ArenaStats struct {
	TotalBattles int             `json:"total_battles"`
	TotalVotes   int             `json:"total_votes"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	Roster       []string        `json:"agents"`
	ActiveBattle string          `json:"active_battle,omitempty"`
	Halted       bool            `json:"halted"`
}

type PrizeInfo struct {
	BattleID        string           `json:"battle_id,omitempty"`
	Active          bool             `json:"active"`
	Pool            domain.PrizePool `json:"pool"`
	EstimatedPayout decimal.Decimal  `json:"estimated_winner_payout"`
	Token           string           `json:"token"`
}

// published is swapped atomically after every mutation.
type published struct {
	snapshot *Snapshot
	stats    ArenaStats
	prize    PrizeInfo
}

const recentVotes = 10

func newSnapshot(b *domain.Battle, maxRounds, threshold int) *Snapshot {
	s := &Snapshot{
		BattleID:      b.ID,
		ContestantA:   b.ContestantA,
		ContestantB:   b.ContestantB,
		Round:         b.Round,
		MaxRounds:     maxRounds,
		Status:        b.Status,
		StartedAt:     b.StartedAt,
		Votes:         voteCounts(b),
		Stakes:        make(map[string]decimal.Decimal, 2),
		TotalVotes:    b.TotalVotes(),
		VoteThreshold: threshold,
		PrizePool:     b.Pool(),
	}
	for name, t := range b.Tallies {
		s.Stakes[name] = t.Stake
	}
	all := b.AllVotes()
	if len(all) > recentVotes {
		all = all[len(all)-recentVotes:]
	}
	s.RecentVotes = make([]PublicVote, 0, len(all))
	for _, v := range all {
		s.RecentVotes = append(s.RecentVotes, PublicVote{
			Seq:        v.Seq,
			Voter:      v.MaskedVoter(),
			Contestant: v.Contestant,
			Stake:      v.Stake,
			CastAt:     v.CastAt,
		})
	}
	return s
}

func voteCounts(b *domain.Battle) map[string]int {
	out := make(map[string]int, 2)
	for name, t := range b.Tallies {
		out[name] = t.Votes
	}
	return out
}
