package security

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"PChatCore/tools/errs"
)

func TestVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	token, exp, err := Generate(opts, "u-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry %v is not in the future", exp)
	}

	v, err := NewJWTVerifier(opts)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	user, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user != "u-1" {
		t.Fatalf("user = %q, want %q", user, "u-1")
	}
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewJWTVerifier(DefaultOptions([]byte("s3cret")))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	other, _, _ := Generate(DefaultOptions([]byte("other")), "u-1")

	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noSub, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": other,
		"expired":      expired,
		"no subject":   noSub,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			if errs.Code(err) != errs.UnauthenticatedError {
				t.Fatalf("Verify err = %v, want Unauthenticated", err)
			}
		})
	}
}

func TestNewJWTVerifierValidates(t *testing.T) {
	if _, err := NewJWTVerifier(Options{}); err == nil {
		t.Fatal("empty secret must fail")
	}
	if _, err := NewJWTVerifier(Options{Secret: []byte("x"), Alg: "RS256"}); err == nil {
		t.Fatal("non-HMAC alg must fail")
	}
}
