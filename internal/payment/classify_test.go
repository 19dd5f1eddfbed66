package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/accessgate/internal/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg     string
		kind    apperr.Kind
		display string
	}{
		{msg: "rejected", kind: apperr.UserRejected},
		{msg: "User rejected the request", kind: apperr.UserRejected},
		{msg: "Payment REJECTED by user", kind: apperr.UserRejected},
		{msg: "insufficient balance", kind: apperr.InsufficientFunds},
		{msg: "Insufficient funds for route", kind: apperr.InsufficientFunds},
		{msg: "wallet not connected", kind: apperr.NotConnected},
		{msg: "Provider Not Connected", kind: apperr.NotConnected},
		{msg: "rejected: insufficient liquidity", kind: apperr.UserRejected},
		{msg: "insufficient permissions, not connected", kind: apperr.InsufficientFunds},
		{msg: "route not found", kind: apperr.Unknown, display: "route not found"},
		{msg: "disconnected", kind: apperr.Unknown, display: "disconnected"},
		{msg: "", kind: apperr.Unknown, display: "Payment failed - please try again"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(errors.New(tt.msg))
			assert.Equal(t, tt.kind, got.Kind)
			if tt.display != "" {
				assert.Equal(t, tt.display, got.Message)
			}
		})
	}
}

func TestClassify_KeepsTaxonomyErrors(t *testing.T) {
	in := apperr.New(apperr.WalletVerificationFailed)
	assert.Same(t, in, Classify(in))
	assert.Nil(t, Classify(nil))
}

func TestCanTransition(t *testing.T) {
	path := []State{StateDisconnected, StateConnecting, StateConnected, StateInvoicing, StatePaying, StateVerified}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
		if !path[i].Terminal() {
			assert.True(t, CanTransition(path[i], StateFailed), "%s -> FAILED", path[i])
		}
	}

	assert.False(t, CanTransition(StateConnected, StatePaying))
	assert.False(t, CanTransition(StateInvoicing, StateVerified))
	assert.False(t, CanTransition(StateFailed, StatePaying))
	assert.True(t, CanTransition(StateFailed, StateDisconnected))
	assert.True(t, StateVerified.Terminal())
	assert.False(t, StatePaying.Terminal())
}
