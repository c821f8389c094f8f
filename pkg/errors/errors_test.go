package errors

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateway_WrapsCause(t *testing.T) {
	err := Gateway("escrow", context.DeadlineExceeded)

	assert.True(t, Is(err, ErrGateway))
	assert.True(t, Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "escrow")
}

func TestGateway_KeepsInsufficientFunds(t *testing.T) {
	err := Gateway("escrow", ErrInsufficientFunds)

	assert.True(t, Is(err, ErrInsufficientFunds))
	assert.False(t, Is(err, ErrGateway))
}

func TestGateway_Nil(t *testing.T) {
	assert.NoError(t, Gateway("transfer", nil))
	assert.NoError(t, Wrap(nil, "ignored"))
}

func TestTaxonomy(t *testing.T) {
	assert.True(t, Is(ErrNoActiveBattle, ErrInvalidState))
	assert.True(t, Is(ErrBattleActive, ErrConflict))
	assert.True(t, Is(ErrInvalidSlot, ErrValidation))
	assert.True(t, Is(ErrMachineHalted, ErrInvariantViolation))
	assert.True(t, Is(Validationf("stake %s", "-1"), ErrValidation))
	assert.True(t, Is(Invariantf("pool %d", 0), ErrInvariantViolation))
	assert.False(t, Is(stderrors.New("other"), ErrValidation))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrInvalidSlot, http.StatusBadRequest},
		{ErrNoActiveBattle, http.StatusBadRequest},
		{Wrap(ErrInsufficientFunds, "escrow"), http.StatusBadRequest},
		{ErrBattleActive, http.StatusConflict},
		{Gateway("balance", context.DeadlineExceeded), http.StatusBadGateway},
		{ErrMachineHalted, http.StatusInternalServerError},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}
