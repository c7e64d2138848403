package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignInAndVerifyRoundTrip(t *testing.T) {
	p := NewProvider("test-secret", time.Hour)

	id, err := p.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously: %v", err)
	}
	if id.UID == "" || id.Token == "" {
		t.Fatalf("incomplete identity: %+v", id)
	}

	uid, err := p.Verify(id.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != id.UID {
		t.Fatalf("uid = %q, want %q", uid, id.UID)
	}
}

func TestUIDsAreDistinctPerSignIn(t *testing.T) {
	p := NewProvider("test-secret", time.Hour)
	a, _ := p.SignInAnonymously(context.Background())
	b, _ := p.SignInAnonymously(context.Background())
	if a.UID == b.UID {
		t.Fatalf("two sign-ins shared uid %q", a.UID)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	p := NewProvider("test-secret", time.Hour)
	id, _ := p.SignInAnonymously(context.Background())

	tampered := id.Token[:len(id.Token)-2] + "xx"
	if _, err := p.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	p := NewProvider("test-secret", time.Hour)
	other := NewProvider("other-secret", time.Hour)
	id, _ := p.SignInAnonymously(context.Background())
	if _, err := other.Verify(id.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	p := NewProvider("test-secret", time.Minute)
	id, err := p.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously: %v", err)
	}

	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := p.Verify(id.Token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	p := NewProvider("test-secret", time.Hour)
	for _, token := range []string{"", "not-a-token", strings.Repeat("a.", 3)} {
		if _, err := p.Verify(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}
