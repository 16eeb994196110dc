package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	signer, err := NewStateSigner([]byte("secret"), time.Minute)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	state, err := signer.Issue("alice")
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	username, err := signer.Verify(state)
	if err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if username != "alice" {
		t.Errorf("expected alice, got %s", username)
	}
}

func TestStateSigner_UniqueStates(t *testing.T) {
	signer, _ := NewStateSigner([]byte("secret"), 0)
	a, _ := signer.Issue("alice")
	b, _ := signer.Issue("alice")
	if a == b {
		t.Error("expected distinct states for repeated issues")
	}
}

func TestStateSigner_SharedKeyAcrossInstances(t *testing.T) {
	issuer, _ := NewStateSigner([]byte("shared"), 0)
	verifier, _ := NewStateSigner([]byte("shared"), 0)

	state, _ := issuer.Issue("bob")
	username, err := verifier.Verify(state)
	if err != nil || username != "bob" {
		t.Errorf("expected bob, got %q %v", username, err)
	}
}

func TestStateSigner_RandomKey(t *testing.T) {
	a, err := NewStateSigner(nil, 0)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	b, _ := NewStateSigner(nil, 0)

	state, _ := a.Issue("alice")
	if _, err := b.Verify(state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected random keys to differ, got %v", err)
	}
}

func TestStateSigner_Expired(t *testing.T) {
	signer, _ := NewStateSigner([]byte("secret"), time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	signer.now = func() time.Time { return issuedAt }
	state, _ := signer.Issue("alice")

	signer.now = time.Now
	if _, err := signer.Verify(state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected expired state to fail, got %v", err)
	}
}

func TestStateSigner_RejectsOtherAlgorithms(t *testing.T) {
	signer, _ := NewStateSigner([]byte("secret"), 0)

	claims := jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	if _, err := signer.Verify(unsigned); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected alg none to be rejected, got %v", err)
	}
}

func TestStateSigner_MissingSubject(t *testing.T) {
	signer, _ := NewStateSigner([]byte("secret"), 0)
	state, _ := signer.Issue("")
	if _, err := signer.Verify(state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected missing subject to fail, got %v", err)
	}
}
