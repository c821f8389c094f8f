// ==============================================================================
// BATTLE SERVICE - internal/battle/service.go
// ==============================================================================
package battle

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"arena/internal/domain"
	"arena/internal/gateway"
	"arena/internal/notification"
	"arena/internal/roast"
	"arena/internal/settlement"
	"arena/pkg/errors"
	"arena/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	Roster            []string
	Wallets           map[string]string
	EntryContribution decimal.Decimal
	MinStake          decimal.Decimal
	VoteThreshold     int
	MaxRounds         int
	Token             string
	TreasuryAddress   string
	GatewayTimeout    time.Duration
}

// Ledger is the journal the service writes to.
type Ledger interface {
	RecordVote(v *domain.Vote) error
	RecordSettlement(r *domain.SettlementResult) error
	RecordPayout(p domain.Payout) error
}

// Board receives winners and finished battles.
type Board interface {
	RecordWin(name string)
	AddHistory(summary domain.BattleSummary)
}

// Announcer queues a public message without blocking.
type Announcer interface {
	Enqueue(message string) bool
}

type Option func(*Service)

// WithRandomizers replaces the pairing and tie-break sources.
func WithRandomizers(pairing, tieBreak Randomizer) Option {
	return func(s *Service) {
		s.pairing = pairing
		s.tieBreak = tieBreak
	}
}

func WithAnnouncer(a Announcer) Option {
	return func(s *Service) { s.announcer = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs the single active battle. Mutations are serialized by a one-slot
// semaphore; reads come from a snapshot republished after each mutation.
type Service struct {
	cfg       Config
	gateway   gateway.Gateway
	engine    *settlement.Engine
	ledger    Ledger
	board     Board
	content   roast.Provider
	announcer Announcer
	pairing   Randomizer
	tieBreak  Randomizer
	logger    logger.Logger
	now       func() time.Time

	sem    chan struct{}
	halted atomic.Bool
	state  atomic.Pointer[published]

	// guarded by sem
	current      *domain.Battle
	totalBattles int
	totalVotes   int
	totalStaked  decimal.Decimal
}

func NewService(
	cfg Config,
	gw gateway.Gateway,
	engine *settlement.Engine,
	ledger Ledger,
	board Board,
	content roast.Provider,
	log logger.Logger,
	opts ...Option,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 5 * time.Second
	}
	if cfg.VoteThreshold <= 0 {
		cfg.VoteThreshold = 10
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	s := &Service{
		cfg:         cfg,
		gateway:     gw,
		engine:      engine,
		ledger:      ledger,
		board:       board,
		content:     content,
		pairing:     CryptoRandomizer{},
		tieBreak:    CryptoRandomizer{},
		logger:      log,
		now:         time.Now,
		sem:         make(chan struct{}, 1),
		totalStaked: decimal.Zero,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish()
	return s
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.halted.Load() {
		<-s.sem
		return errors.ErrMachineHalted
	}
	return nil
}

func (s *Service) release() {
	s.publish()
	<-s.sem
}

// StartBattle pairs two distinct contestants from pool, or from the roster when
// pool is empty.
func (s *Service) StartBattle(ctx context.Context, pool []string) (*domain.Battle, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	if s.current != nil {
		return nil, fmt.Errorf("%w (%s)", errors.ErrBattleActive, s.current.ID)
	}
	if len(pool) == 0 {
		pool = s.cfg.Roster
	}
	names := dedupe(pool)
	if len(names) < 2 {
		return nil, errors.Validationf("need at least two distinct contestants, got %d", len(names))
	}

	i := s.pairing.Intn(len(names))
	j := s.pairing.Intn(len(names) - 1)
	if j >= i {
		j++
	}

	b, err := domain.NewBattle("battle_"+uuid.NewString(), names[i], names[j], s.cfg.EntryContribution, s.now())
	if err != nil {
		return nil, err
	}
	s.current = b
	s.totalBattles++

	s.logger.Info("Battle started", map[string]interface{}{
		"battle_id": b.ID,
		"agent1":    b.ContestantA,
		"agent2":    b.ContestantB,
	})
	s.announce(b.ID, notification.FormatBattleHype(b, s.cfg.Token, s.totalBattles-1))
	return b.Clone(), nil
}

func dedupe(pool []string) []string {
	seen := make(map[string]bool, len(pool))
	out := make([]string, 0, len(pool))
	for _, n := range pool {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// AdvanceRound moves to the next round and returns its content.
func (s *Service) AdvanceRound(ctx context.Context) (*domain.RoundContent, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	b := s.current
	if b == nil {
		return nil, errors.ErrNoActiveBattle
	}
	if b.Round >= s.cfg.MaxRounds {
		return nil, fmt.Errorf("%w (%d of %d)", errors.ErrRoundLimit, b.Round, s.cfg.MaxRounds)
	}

	content, err := s.content.NextRoundContent(b.ContestantA, b.ContestantB, b.Round+1)
	if err != nil {
		return nil, errors.Wrap(err, "round content")
	}
	b.Round++
	content.BattleID = b.ID
	content.Round = b.Round
	return content, nil
}

// CastVote escrows the stake and records the vote. A vote that takes either side
// to the threshold settles the battle before returning.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (*VoteReceipt, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	receipt, result, err := s.castLocked(ctx, req)
	s.release()
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.afterSettlement(ctx, result)
	}
	return receipt, nil
}

func (s *Service) castLocked(ctx context.Context, req VoteRequest) (*VoteReceipt, *domain.SettlementResult, error) {
	b := s.current
	if b == nil {
		return nil, nil, errors.ErrNoActiveBattle
	}
	slot, ok := domain.ParseSlot(req.Slot)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", errors.ErrInvalidSlot, req.Slot)
	}
	voter := strings.TrimSpace(req.Voter)
	if voter == "" {
		return nil, nil, errors.Validationf("wallet is required")
	}
	if req.Stake.IsNegative() {
		return nil, nil, errors.Validationf("stake %s must not be negative", req.Stake)
	}
	if req.Stake.LessThan(s.cfg.MinStake) {
		return nil, nil, errors.Validationf("stake %s is below the minimum %s", req.Stake, s.cfg.MinStake)
	}

	balance, err := s.checkBalance(ctx, voter)
	if err != nil {
		return nil, nil, err
	}
	if balance.LessThan(req.Stake) {
		return nil, nil, fmt.Errorf("%w: balance %s below stake %s", errors.ErrInsufficientFunds, balance, req.Stake)
	}
	txRef, err := s.escrow(ctx, voter, req.Stake)
	if err != nil {
		return nil, nil, err
	}

	contestant := b.Contestant(slot)
	vote := &domain.Vote{
		ID:         "vote_" + uuid.NewString(),
		BattleID:   b.ID,
		Voter:      voter,
		Contestant: contestant,
		Slot:       slot,
		Stake:      req.Stake,
		TxRef:      txRef,
		Status:     domain.VoteStatusEscrowed,
		Reward:     decimal.Zero,
		CastAt:     s.now(),
	}
	if err := b.AddVote(vote); err != nil {
		return nil, nil, s.halt(err, map[string]interface{}{"battle_id": b.ID, "vote_tx": txRef})
	}
	if err := s.ledger.RecordVote(vote); err != nil {
		return nil, nil, s.halt(err, map[string]interface{}{"battle_id": b.ID, "vote_id": vote.ID})
	}
	s.totalVotes++
	s.totalStaked = s.totalStaked.Add(req.Stake)

	s.logger.Info("Vote cast", map[string]interface{}{
		"battle_id":  b.ID,
		"vote_id":    vote.ID,
		"contestant": contestant,
		"voter":      vote.MaskedVoter(),
		"stake":      req.Stake.String(),
	})

	receipt := &VoteReceipt{
		VoteID:     vote.ID,
		BattleID:   b.ID,
		Slot:       slot,
		Contestant: contestant,
		Stake:      req.Stake,
		TxRef:      txRef,
		Votes:      voteCounts(b),
		PrizePool:  b.Pool(),
	}

	if b.Tallies[b.ContestantA].Votes >= s.cfg.VoteThreshold || b.Tallies[b.ContestantB].Votes >= s.cfg.VoteThreshold {
		result, err := s.settleLocked()
		if err != nil {
			return nil, nil, err
		}
		receipt.BattleEnded = true
		receipt.Settlement = result
		return receipt, result, nil
	}
	return receipt, nil, nil
}

// Vote gateway calls outlive the caller: once started only GatewayTimeout ends
// them, so an escrow the backend accepted is always followed by the vote record.
func (s *Service) checkBalance(ctx context.Context, voter string) (decimal.Decimal, error) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
	defer cancel()
	bal, err := s.gateway.CheckBalance(gctx, voter, s.cfg.Token)
	if err != nil {
		s.logger.Warn("Balance check failed", map[string]interface{}{
			"voter": domain.MaskWallet(voter),
			"error": err.Error(),
		})
		return decimal.Zero, errors.Gateway("check balance", err)
	}
	return bal, nil
}

func (s *Service) escrow(ctx context.Context, voter string, stake decimal.Decimal) (string, error) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
	defer cancel()
	ref, err := s.gateway.Escrow(gctx, voter, s.cfg.Token, stake)
	if err != nil {
		s.logger.Warn("Stake escrow failed", map[string]interface{}{
			"voter": domain.MaskWallet(voter),
			"stake": stake.String(),
			"error": err.Error(),
		})
		return "", errors.Gateway("escrow", err)
	}
	return ref, nil
}

// EndBattle closes the active battle and settles it.
func (s *Service) EndBattle(ctx context.Context) (*domain.SettlementResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	if s.current == nil {
		s.release()
		return nil, errors.ErrNoActiveBattle
	}
	result, err := s.settleLocked()
	s.release()
	if err != nil {
		return nil, err
	}
	s.afterSettlement(ctx, result)
	return result, nil
}

// settleLocked settles the current battle on a working copy and commits it only
// when the engine and the ledger accept the result.
func (s *Service) settleLocked() (*domain.SettlementResult, error) {
	b := s.current
	a, c := b.Tallies[b.ContestantA].Votes, b.Tallies[b.ContestantB].Votes

	winner, tie := b.ContestantA, false
	switch {
	case c > a:
		winner = b.ContestantB
	case a == c:
		tie = true
		if s.tieBreak.Intn(2) == 1 {
			winner = b.ContestantB
		}
	}

	work := b.Clone()
	result, err := s.engine.Settle(work, winner, tie)
	if err != nil {
		return nil, s.halt(err, map[string]interface{}{
			"battle_id": b.ID,
			"winner":    winner,
			"votes_a":   a,
			"votes_b":   c,
			"pool":      b.Pool().Total.String(),
		})
	}
	if err := s.ledger.RecordSettlement(result); err != nil {
		return nil, s.halt(err, map[string]interface{}{"battle_id": b.ID})
	}

	ended := result.SettledAt
	work.Status = domain.BattleStatusCompleted
	work.EndedAt = &ended
	work.Winner = winner
	s.current = nil

	s.board.RecordWin(winner)
	s.board.AddHistory(domain.BattleSummary{
		BattleID:     work.ID,
		ContestantA:  work.ContestantA,
		ContestantB:  work.ContestantB,
		Winner:       winner,
		Votes:        voteCounts(work),
		PrizePool:    result.PrizePool.Total,
		WinnerPayout: result.WinnerPayout,
		PlatformCut:  result.PlatformCut,
		Rounds:       work.Round,
		StartedAt:    work.StartedAt,
		EndedAt:      ended,
	})

	s.logger.Info("Battle settled", map[string]interface{}{
		"battle_id":         result.BattleID,
		"winner":            winner,
		"tie_break":         tie,
		"prize_pool":        result.PrizePool.Total.String(),
		"winner_payout":     result.WinnerPayout.String(),
		"platform_cut":      result.PlatformCut.String(),
		"voter_rewards":     result.VoterRewards.String(),
		"contestant_payout": result.ContestantPayout.String(),
	})
	return result, nil
}

// halt stops all further mutations. Only an operator restart clears it.
func (s *Service) halt(err error, fields map[string]interface{}) error {
	s.halted.Store(true)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["error"] = err.Error()
	s.logger.Error("Invariant violation, battle machine halted", fields)
	if errors.Is(err, errors.ErrInvariantViolation) {
		return err
	}
	return fmt.Errorf("%w: %w", errors.ErrInvariantViolation, err)
}

// Halted reports whether an invariant violation stopped the machine.
func (s *Service) Halted() bool {
	return s.halted.Load()
}

// afterSettlement runs outside the lock. Transfers are tried once and never undo
// the settlement.
func (s *Service) afterSettlement(ctx context.Context, r *domain.SettlementResult) {
	ctx = context.WithoutCancel(ctx)

	for _, o := range r.Outcomes {
		if o.Status == domain.VoteStatusReleased && o.Reward.IsPositive() {
			s.pay(ctx, r, domain.PayoutVoterReward, o.VoteID, o.Voter, o.Reward)
		}
	}
	if wallet := s.cfg.Wallets[r.Winner]; wallet != "" && r.ContestantPayout.IsPositive() {
		s.pay(ctx, r, domain.PayoutContestant, "", wallet, r.ContestantPayout)
	}
	if s.cfg.TreasuryAddress != "" && r.PlatformCut.IsPositive() {
		s.pay(ctx, r, domain.PayoutPlatform, "", s.cfg.TreasuryAddress, r.PlatformCut)
	}

	s.announce(r.BattleID, notification.FormatBattleResult(r, s.cfg.Token))
}

// announce hands msg to the announcer without waiting on delivery.
func (s *Service) announce(battleID, msg string) {
	if s.announcer == nil {
		return
	}
	if !s.announcer.Enqueue(msg) {
		s.logger.Warn("Battle announcement not queued", map[string]interface{}{
			"battle_id": battleID,
		})
	}
}

func (s *Service) pay(ctx context.Context, r *domain.SettlementResult, kind domain.PayoutKind, voteID, to string, amount decimal.Decimal) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	p := domain.Payout{
		BattleID: r.BattleID,
		Kind:     kind,
		VoteID:   voteID,
		To:       to,
		Amount:   amount,
	}
	ref, err := s.gateway.Transfer(tctx, to, s.cfg.Token, amount)
	p.At = s.now()
	if err != nil {
		p.Error = err.Error()
		s.logger.Warn("Payout failed", map[string]interface{}{
			"battle_id": r.BattleID,
			"kind":      string(kind),
			"to":        domain.MaskWallet(to),
			"amount":    amount.String(),
			"error":     err.Error(),
		})
	} else {
		p.TxRef = ref
	}
	if err := s.ledger.RecordPayout(p); err != nil {
		s.logger.Error("Failed to journal payout", map[string]interface{}{
			"battle_id": r.BattleID,
			"error":     err.Error(),
		})
	}
	r.Payouts = append(r.Payouts, p)
}

func (s *Service) publish() {
	st := &published{
		stats: ArenaStats{
			TotalBattles: s.totalBattles,
			TotalVotes:   s.totalVotes,
			TotalStaked:  s.totalStaked,
			Roster:       append([]string(nil), s.cfg.Roster...),
			Halted:       s.halted.Load(),
		},
		prize: PrizeInfo{
			Pool:            domain.PrizePool{Entry: decimal.Zero, Stakes: decimal.Zero, Total: decimal.Zero},
			EstimatedPayout: decimal.Zero,
			Token:           s.cfg.Token,
		},
	}
	if b := s.current; b != nil {
		st.snapshot = newSnapshot(b, s.cfg.MaxRounds, s.cfg.VoteThreshold)
		st.stats.ActiveBattle = b.ID
		pool := b.Pool()
		st.prize.BattleID = b.ID
		st.prize.Active = true
		st.prize.Pool = pool
		st.prize.EstimatedPayout = pool.Total.Mul(s.engine.Params().WinnerShare).RoundFloor(s.engine.Params().Precision)
	}
	s.state.Store(st)
}

// Status returns the active battle without taking the mutation lock.
func (s *Service) Status() (*Snapshot, error) {
	st := s.state.Load()
	if st == nil || st.snapshot == nil {
		return nil, errors.ErrNoActiveBattle
	}
	return st.snapshot, nil
}

func (s *Service) Stats() ArenaStats {
	return s.state.Load().stats
}

func (s *Service) PrizePool() PrizeInfo {
	return s.state.Load().prize
}
