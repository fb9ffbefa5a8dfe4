package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("donate: %w", New(KindInvalidAmount, "donate", "amount must be positive"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	assert.False(t, errors.Is(err, ErrWrongNetwork))
	assert.Equal(t, KindInvalidAmount, KindOf(err))
	assert.Equal(t, "donate: donate: invalid amount: amount must be positive", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindRPC, "x", nil))
	assert.NoError(t, Classify("x", nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"MetaMask Tx Signature: User denied transaction signature.", KindUserRejected},
		{"code=4001 user rejected request", KindUserRejected},
		{"execution reverted: Not owner", KindNotOwner},
		{"execution reverted: Only safe", KindNotSafe},
		{"Post \"http://x\": dial tcp 127.0.0.1:8545: connect: connection refused", KindConnection},
		{"header not found", KindRPC},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			assert.Equal(t, c.want, KindOf(Classify("op", errors.New(c.in))))
		})
	}

	already := New(KindWrongNetwork, "donate", "")
	assert.Same(t, already, Classify("other", already))
	assert.ErrorIs(t, Classify("op", context.Canceled), context.Canceled)
	assert.Equal(t, KindUnknown, KindOf(Classify("op", context.Canceled)))
}

func TestFriendly(t *testing.T) {
	assert.Equal(t, "execution reverted: Not owner", Friendly(errors.New("call failed: execution reverted: Not owner")))
	assert.Equal(t, "insufficient ETH for value + gas", Friendly(errors.New("insufficient funds for gas * price + value")))
	assert.Equal(t, "request rejected by signer", Friendly(Wrap(KindUserRejected, "send", errors.New("denied"))))
	assert.True(t, IsRateLimit(errors.New("429 Too Many Requests")))
	assert.False(t, IsRateLimit(nil))
}
