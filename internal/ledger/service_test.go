package ledger

import (
	"testing"

	"arena/internal/domain"
	"arena/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVote_StoresCopy(t *testing.T) {
	s := NewService()
	v := &domain.Vote{ID: "v1", BattleID: "b1", Stake: decimal.NewFromInt(1), Status: domain.VoteStatusEscrowed}

	require.NoError(t, s.RecordVote(v))
	v.Status = domain.VoteStatusReleased

	votes := s.VotesFor("b1")
	require.Len(t, votes, 1)
	assert.Equal(t, domain.VoteStatusEscrowed, votes[0].Status)
	assert.Empty(t, s.VotesFor("b2"))
}

func TestRecordSettlement_Duplicate(t *testing.T) {
	s := NewService()
	r := &domain.SettlementResult{BattleID: "b1", Winner: "A"}

	require.NoError(t, s.RecordSettlement(r))
	err := s.RecordSettlement(r)

	assert.ErrorIs(t, err, errors.ErrInvariantViolation)
	assert.Equal(t, 1, s.Len())
}

func TestRecordPayout(t *testing.T) {
	s := NewService()

	err := s.RecordPayout(domain.Payout{BattleID: "b1", Kind: domain.PayoutPlatform})
	assert.ErrorIs(t, err, errors.ErrInvariantViolation)

	require.NoError(t, s.RecordSettlement(&domain.SettlementResult{BattleID: "b1"}))
	require.NoError(t, s.RecordPayout(domain.Payout{BattleID: "b1", Kind: domain.PayoutPlatform, Amount: decimal.RequireFromString("1.002"), TxRef: "tx1"}))
	require.NoError(t, s.RecordPayout(domain.Payout{BattleID: "b1", Kind: domain.PayoutContestant, Error: "gateway down"}))

	got, ok := s.Settlement("b1")
	require.True(t, ok)
	require.Len(t, got.Payouts, 2)
	assert.True(t, got.Payouts[0].Succeeded())
	assert.False(t, got.Payouts[1].Succeeded())

	_, ok = s.Settlement("missing")
	assert.False(t, ok)
}

func TestEntries_AppendOrder(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RecordVote(&domain.Vote{ID: "v1", BattleID: "b1"}))
	require.NoError(t, s.RecordSettlement(&domain.SettlementResult{BattleID: "b1"}))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EntryVote, entries[0].Kind)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, EntrySettlement, entries[1].Kind)
	assert.Equal(t, 2, entries[1].Seq)

	assert.Error(t, s.RecordVote(&domain.Vote{}))
}
