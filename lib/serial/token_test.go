package serial

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/minervahq/seriald"
	"github.com/minervahq/seriald/lib/name"
)

func testContext() name.CheckedContext {
	return name.CheckedContext{
		CanonicalName: "alice doe",
		UserAgent:     "Mozilla/5.0",
		ClientIP:      "203.0.113.5",
	}
}

func TestMintVerifyRoundtrip(t *testing.T) {
	s := NewSigner(testSecret)

	token, err := s.Mint(testContext())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if err := s.Verify(token); err != nil {
		t.Errorf("Verify rejected a freshly minted token: %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewSigner(testSecret).Mint(testContext())
	if err != nil {
		t.Fatal(err)
	}

	if err := NewSigner([]byte("other-secret")).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	s := NewSigner(testSecret)

	issued := time.Now().Add(-2 * seriald.SerialTokenTTL)
	s.now = func() time.Time { return issued }
	token, err := s.Mint(testContext())
	if err != nil {
		t.Fatal(err)
	}

	s.now = time.Now
	if err := s.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify of expired token = %v, want ErrInvalidToken", err)
	}
}

// resign decodes the token payload, applies mutate, and re-signs with the
// real secret, so only the chain re-derivation can catch the change.
func resign(t *testing.T, token string, mutate func(claims map[string]any)) string {
	t.Helper()

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("can't decode payload: %v", err)
	}

	claims := map[string]any{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("can't unmarshal payload: %v", err)
	}

	mutate(claims)

	resigned, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(testSecret)
	if err != nil {
		t.Fatalf("can't re-sign: %v", err)
	}

	return resigned
}

func flipHexChar(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}

func TestVerifyCatchesClaimTampering(t *testing.T) {
	s := NewSigner(testSecret)
	token, err := s.Mint(testContext())
	if err != nil {
		t.Fatal(err)
	}

	for _, field := range []string{"name_hash", "salt", "encoded", "decoded", "forward_mac"} {
		tampered := resign(t, token, func(claims map[string]any) {
			claims[field] = flipHexChar(claims[field].(string))
		})
		if err := s.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify accepted token with tampered %s", field)
		}
	}
}

func TestVerifyRequiresSerialMarker(t *testing.T) {
	s := NewSigner(testSecret)
	token, err := s.Mint(testContext())
	if err != nil {
		t.Fatal(err)
	}

	unmarked := resign(t, token, func(claims map[string]any) {
		claims["serial"] = false
	})
	if err := s.Verify(unmarked); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify accepted token without serial marker: %v", err)
	}
}

func TestVerifyRequiresAudience(t *testing.T) {
	s := NewSigner(testSecret)
	token, err := s.Mint(testContext())
	if err != nil {
		t.Fatal(err)
	}

	wrongAud := resign(t, token, func(claims map[string]any) {
		claims["aud"] = "some-other-token-family"
	})
	if err := s.Verify(wrongAud); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify accepted token with foreign audience: %v", err)
	}
}
