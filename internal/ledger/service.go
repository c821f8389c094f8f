// ==============================================================================
// LEDGER SERVICE - internal/ledger/service.go
// ==============================================================================
package ledger

import (
	"sync"
	"time"

	"arena/internal/domain"
	"arena/pkg/errors"
)

type EntryKind string

const (
	EntryVote       EntryKind = "vote"
	EntrySettlement EntryKind = "settlement"
	EntryPayout     EntryKind = "payout"
)

// Entry is one immutable journal line. Exactly one of the payload fields is set.
type Entry struct {
	Seq        int                      `json:"seq"`
	Kind       EntryKind                `json:"kind"`
	BattleID   string                   `json:"battle_id"`
	Vote       *domain.Vote             `json:"vote,omitempty"`
	Settlement *domain.SettlementResult `json:"settlement,omitempty"`
	Payout     *domain.Payout           `json:"payout,omitempty"`
	RecordedAt time.Time                `json:"recorded_at"`
}

// Service is an append-only, process-lifetime journal. Entries are value copies
// and are never edited or removed.
type Service struct {
	mu          sync.RWMutex
	entries     []Entry
	settlements map[string]int
	now         func() time.Time
}

func NewService() *Service {
	return &Service{
		settlements: make(map[string]int),
		now:         time.Now,
	}
}

// RecordVote journals the vote as it looks at the time of the call.
func (s *Service) RecordVote(v *domain.Vote) error {
	if v == nil || v.ID == "" {
		return errors.Invariantf("ledger: vote without id")
	}
	cp := *v
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(Entry{Kind: EntryVote, BattleID: v.BattleID, Vote: &cp})
	return nil
}

// RecordSettlement journals the result of a battle. A second settlement for the
// same battle is an invariant violation.
func (s *Service) RecordSettlement(r *domain.SettlementResult) error {
	if r == nil || r.BattleID == "" {
		return errors.Invariantf("ledger: settlement without battle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[r.BattleID]; ok {
		return errors.Wrap(errors.ErrSettlementRecorded, r.BattleID)
	}
	cp := *r
	cp.Outcomes = append([]domain.VoteOutcome(nil), r.Outcomes...)
	cp.Payouts = nil
	s.append(Entry{Kind: EntrySettlement, BattleID: r.BattleID, Settlement: &cp})
	s.settlements[r.BattleID] = len(s.entries) - 1
	return nil
}

// RecordPayout journals one disbursement attempt, successful or not.
func (s *Service) RecordPayout(p domain.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[p.BattleID]; !ok {
		return errors.Invariantf("ledger: payout for unsettled battle %s", p.BattleID)
	}
	s.append(Entry{Kind: EntryPayout, BattleID: p.BattleID, Payout: &p})
	return nil
}

func (s *Service) append(e Entry) {
	e.Seq = len(s.entries) + 1
	e.RecordedAt = s.now()
	s.entries = append(s.entries, e)
}

// Entries returns a copy of the journal in append order.
func (s *Service) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// VotesFor returns the journaled votes of a battle in cast order.
func (s *Service) VotesFor(battleID string) []domain.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Vote
	for _, e := range s.entries {
		if e.Kind == EntryVote && e.BattleID == battleID {
			out = append(out, *e.Vote)
		}
	}
	return out
}

// Settlement returns the journaled settlement of a battle along with the payouts
// recorded against it.
func (s *Service) Settlement(battleID string) (*domain.SettlementResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.settlements[battleID]
	if !ok {
		return nil, false
	}
	cp := *s.entries[idx].Settlement
	cp.Outcomes = append([]domain.VoteOutcome(nil), cp.Outcomes...)
	for _, e := range s.entries[idx+1:] {
		if e.Kind == EntryPayout && e.BattleID == battleID {
			cp.Payouts = append(cp.Payouts, *e.Payout)
		}
	}
	return &cp, true
}

// Len reports how many entries have been journaled.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
