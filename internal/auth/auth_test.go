package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T, clock *fakeClock) *TokenIssuer {
	t.Helper()
	iss, err := NewTokenIssuer("test-secret", WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return iss
}

func TestIssueAndVerifyUntilExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, clock)

	token, expiresAt, err := iss.Issue(42, RoleTrustee, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(clock.t.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	for _, offset := range []time.Duration{0, 30 * time.Minute, time.Hour - time.Second} {
		clock.t = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
		id, err := iss.Verify(token)
		if err != nil {
			t.Fatalf("Verify at +%s: %v", offset, err)
		}
		if id.SubjectID != 42 || id.Role != RoleTrustee {
			t.Fatalf("unexpected identity at +%s: %+v", offset, id)
		}
	}

	clock.t = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	if _, err := iss.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken at expiry, got %v", err)
	}
}

func TestIssueDefaultTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, clock)

	_, expiresAt, err := iss.Issue(1, RoleMember, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := expiresAt.Sub(clock.t); got != 24*time.Hour {
		t.Fatalf("expected 24h default ttl, got %s", got)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{t: time.Now()})
	if _, _, err := iss.Issue(0, RoleMember, time.Hour); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero subject, got %v", err)
	}
	if _, _, err := iss.Issue(1, Role("Imam"), time.Hour); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("   "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	iss := newTestIssuer(t, clock)
	other, err := NewTokenIssuer("another-secret", WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	foreign, _, err := other.Issue(7, RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuerName,
			Subject:   "7",
			IssuedAt:  jwt.NewNumericDate(clock.t),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	wrongIssuer, err := NewTokenIssuer("test-secret", WithTokenClock(clock.Now), WithIssuerName("elsewhere"))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	elsewhere, _, err := wrongIssuer.Issue(7, RoleMember, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	good, _, err := iss.Issue(7, RoleMember, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	goodParts := strings.Split(good, ".")
	foreignParts := strings.Split(foreign, ".")
	tampered := goodParts[0] + "." + goodParts[1] + "." + foreignParts[2]

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"other secret": foreign,
		"alg none":     unsigned,
		"issuer":       elsewhere,
		"tampered":     tampered,
	} {
		if _, err := iss.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestHashPasswordRoundTrip(t *testing.T) {
	h1, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected distinct salts")
	}
	if !PasswordMatches("correct horse", h1) || !PasswordMatches("correct horse", h2) {
		t.Fatal("expected plaintext to match both digests")
	}
	if PasswordMatches("wrong horse", h1) {
		t.Fatal("unexpected match for wrong password")
	}
}

func TestHashPasswordRejects(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty password, got %v", err)
	}
	digest, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := HashPassword(digest); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for digest input, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 80)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long password, got %v", err)
	}
}

func TestPasswordMatchesMalformedDigest(t *testing.T) {
	for _, digest := range []string{"", "plain", "$2a$10$short"} {
		if PasswordMatches("anything", digest) {
			t.Fatalf("digest %q should never match", digest)
		}
	}
}

func TestRoleParsing(t *testing.T) {
	for raw, want := range map[string]Role{"member": RoleMember, "TRUSTEE": RoleTrustee, " Admin ": RoleAdmin} {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseRole("imam"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity in empty context")
	}
	ctx := ContextWithIdentity(context.Background(), Identity{SubjectID: 7, Role: RoleMember})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.SubjectID != 7 || id.Role != RoleMember {
		t.Fatalf("unexpected identity: %+v ok=%v", id, ok)
	}
}
