// Package leaderboard keeps contestant win counts and a bounded battle history.
package leaderboard

import (
	"sort"
	"sync"
	"time"

	"arena/internal/domain"
)

const DefaultHistorySize = 10

type Store struct {
	mu          sync.RWMutex
	wins        map[string]*domain.LeaderboardEntry
	order       []string
	history     []domain.BattleSummary
	historySize int
	now         func() time.Time
}

func NewStore(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{
		wins:        make(map[string]*domain.LeaderboardEntry),
		historySize: historySize,
		now:         time.Now,
	}
}

// RecordWin credits one win to name.
func (s *Store) RecordWin(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.wins[name]
	if !ok {
		e = &domain.LeaderboardEntry{Name: name, FirstWinAt: s.now()}
		s.wins[name] = e
		s.order = append(s.order, name)
	}
	e.Wins++
}

// Leaderboard ranks by wins, then by who won first. limit <= 0 returns everyone.
func (s *Store) Leaderboard(limit int) []domain.LeaderboardEntry {
	s.mu.RLock()
	out := make([]domain.LeaderboardEntry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.wins[name])
	}
	s.mu.RUnlock()

	// order is first-win order, so a stable sort keeps ties in that order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Wins > out[j].Wins })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AddHistory pushes a summary, evicting the oldest past capacity.
func (s *Store) AddHistory(summary domain.BattleSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, summary)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = append([]domain.BattleSummary(nil), s.history[over:]...)
	}
}

// History returns summaries newest first.
func (s *Store) History() []domain.BattleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BattleSummary, len(s.history))
	for i, h := range s.history {
		out[len(s.history)-1-i] = h
	}
	return out
}
