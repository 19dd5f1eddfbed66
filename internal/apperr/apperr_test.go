package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("redeem: %w", Wrap(AlreadyRedeemed, errors.New("duplicate")))

	if !errors.Is(err, New(AlreadyRedeemed)) {
		t.Fatalf("errors.Is must match wrapped kind")
	}
	if errors.Is(err, New(InvalidFormat)) {
		t.Fatalf("errors.Is must not match a different kind")
	}
	if KindOf(err) != AlreadyRedeemed {
		t.Fatalf("KindOf = %s, want %s", KindOf(err), AlreadyRedeemed)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Fatalf("KindOf = %s, want %s", got, Unknown)
	}
}

func TestPermanent(t *testing.T) {
	if !New(AlreadyRedeemed).Permanent() {
		t.Fatalf("AlreadyRedeemed must be permanent")
	}
	for _, k := range []Kind{UserRejected, InsufficientFunds, NotConnected, Unknown, ShareFailed, TrialUnavailable} {
		if New(k).Permanent() {
			t.Fatalf("%s must be retryable", k)
		}
	}
}

func TestEveryKindHasMessage(t *testing.T) {
	for kind, msg := range defaultMessages {
		if msg == "" {
			t.Fatalf("empty message for %s", kind)
		}
	}
	if New(ProofTooLarge).Error() != "Image must be less than 5MB" {
		t.Fatalf("unexpected message: %q", New(ProofTooLarge).Error())
	}
}
