package scheduler

import (
	"context"
	"sync"
	"time"

	"arena/internal/battle"
	"arena/internal/domain"
	"arena/pkg/errors"
	"arena/pkg/logger"
)

// Arena is the part of the battle service the scheduler drives.
type Arena interface {
	StartBattle(ctx context.Context, pool []string) (*domain.Battle, error)
	AdvanceRound(ctx context.Context) (*domain.RoundContent, error)
	EndBattle(ctx context.Context) (*domain.SettlementResult, error)
	Status() (*battle.Snapshot, error)
}

type Config struct {
	RoundInterval time.Duration
	AutoStart     bool
	Cooldown      time.Duration
}

// Scheduler runs timed battles: it advances the active battle one round per
// interval and ends it once the last round has played. With AutoStart it opens
// a new battle after the cooldown. Operators can still drive every step by
// hand; the scheduler only acts on what it observes.
type Scheduler struct {
	arena  Arena
	cfg    Config
	logger logger.Logger
	now    func() time.Time
	tick   time.Duration

	mu         sync.Mutex
	battleID   string
	round      int
	lastAction time.Time
	idleSince  time.Time

	stop chan struct{}
	done chan struct{}
}

func NewScheduler(arena Arena, cfg Config, log logger.Logger) *Scheduler {
	tick := time.Second
	if cfg.RoundInterval > 0 && cfg.RoundInterval < 4*tick {
		tick = cfg.RoundInterval / 4
	}
	return &Scheduler{
		arena:  arena,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
		tick:   tick,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.Step(context.Background())
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("Battle scheduler started", map[string]interface{}{
		"round_interval": s.cfg.RoundInterval.String(),
		"auto_start":     s.cfg.AutoStart,
	})
}

// Stop ends the loop and waits for an in-flight step.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Step inspects the arena once and takes at most one action.
func (s *Scheduler) Step(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap, err := s.arena.Status()
	if err != nil {
		s.battleID = ""
		if s.idleSince.IsZero() {
			s.idleSince = now
		}
		if s.cfg.AutoStart && now.Sub(s.idleSince) >= s.cfg.Cooldown {
			s.startBattle(ctx, now)
		}
		return
	}

	s.idleSince = time.Time{}
	// a new battle, or an operator moved the round: restart the clock
	if snap.BattleID != s.battleID || snap.Round != s.round {
		s.battleID = snap.BattleID
		s.round = snap.Round
		s.lastAction = now
		return
	}
	if now.Sub(s.lastAction) < s.cfg.RoundInterval {
		return
	}
	s.lastAction = now

	if snap.Round < snap.MaxRounds {
		content, err := s.arena.AdvanceRound(ctx)
		if err != nil {
			s.report("Scheduled round advance failed", snap.BattleID, err)
			return
		}
		s.round = content.Round
		return
	}

	result, err := s.arena.EndBattle(ctx)
	if err != nil {
		s.report("Scheduled battle end failed", snap.BattleID, err)
		return
	}
	s.logger.Info("Scheduled battle ended", map[string]interface{}{
		"battle_id": result.BattleID,
		"winner":    result.Winner,
	})
}

func (s *Scheduler) startBattle(ctx context.Context, now time.Time) {
	b, err := s.arena.StartBattle(ctx, nil)
	if err != nil {
		s.report("Scheduled battle start failed", "", err)
		return
	}
	s.idleSince = time.Time{}
	s.battleID = b.ID
	s.round = b.Round
	s.lastAction = now
	s.logger.Info("Scheduled battle started", map[string]interface{}{
		"battle_id": b.ID,
		"agent1":    b.ContestantA,
		"agent2":    b.ContestantB,
	})
}

// report logs races with operators quietly and everything else loudly.
func (s *Scheduler) report(msg, battleID string, err error) {
	fields := map[string]interface{}{"battle_id": battleID, "error": err.Error()}
	if errors.Is(err, errors.ErrInvalidState) || errors.Is(err, errors.ErrConflict) {
		s.logger.Debug(msg, fields)
		return
	}
	s.logger.Error(msg, fields)
}
