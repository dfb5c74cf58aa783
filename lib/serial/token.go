package serial

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/minervahq/seriald"
	"github.com/minervahq/seriald/lib/name"
)

// ErrInvalidToken covers every serial token rejection. Callers treat all of
// them as unauthorized; the wrapped detail is for logs only.
var ErrInvalidToken = errors.New("serial: invalid token")

// Signer mints and re-verifies serial tokens with a shared HS256 secret. It
// is immutable after construction and safe for concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{
		secret: secret,
		now:    time.Now,
	}
}

// Mint runs the derivation chain for ctx and wraps the output in a signed
// serial token.
func (s *Signer) Mint(ctx name.CheckedContext) (string, error) {
	out, err := BuildChain(ctx, s.secret)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := Claims{
		NameHash:   out.NameHash,
		Salt:       out.Salt,
		Encoded:    out.Encoded,
		Decoded:    out.Decoded,
		ForwardMAC: out.ForwardMAC,
		Serial:     true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(seriald.SerialTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{seriald.SerialAudience},
			Issuer:    seriald.SerialIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("serial: can't sign token: %w", err)
	}

	return token, nil
}

// Verify checks the token's outer signature, expiry, audience, and issuer,
// then re-derives every chain stage from the claims and demands exact
// equality. The re-derivation is deliberate defense in depth on top of the
// signature check: a corrupted claim fails at the stage it corrupts.
func (s *Signer) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(seriald.SerialAudience),
		jwt.WithIssuer(seriald.SerialIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return fmt.Errorf("%w: unexpected claims shape", ErrInvalidToken)
	}

	if !claims.Serial {
		return fmt.Errorf("%w: serial marker missing", ErrInvalidToken)
	}

	encoded := DeriveEncoded(claims.NameHash, claims.Salt, s.secret)
	if subtle.ConstantTimeCompare([]byte(encoded), []byte(claims.Encoded)) != 1 {
		return fmt.Errorf("%w: encoded stage mismatch", ErrInvalidToken)
	}

	decoded := DeriveDecoded(claims.Encoded, s.secret)
	if subtle.ConstantTimeCompare([]byte(decoded), []byte(claims.Decoded)) != 1 {
		return fmt.Errorf("%w: decoded stage mismatch", ErrInvalidToken)
	}

	forwardMAC := DeriveForwardMAC(claims.NameHash, claims.Salt, claims.Encoded, claims.Decoded, s.secret)
	if subtle.ConstantTimeCompare([]byte(forwardMAC), []byte(claims.ForwardMAC)) != 1 {
		return fmt.Errorf("%w: forward MAC mismatch", ErrInvalidToken)
	}

	return nil
}
