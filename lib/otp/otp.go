// Package otp implements the sealed one-time-passcode bundle: a short numeric
// code plus a chain of HMAC-sealed tokens that lets a later verifier prove the
// code came out of this pipeline without storing the code in the clear.
package otp

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const tokenPrefix = "srl"

var (
	ErrInvalidToken = errors.New("otp: invalid token")
	ErrMismatch     = errors.New("otp: code mismatch")
)

var oneMillion = big.NewInt(1_000_000)

// Generate draws a 6-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, oneMillion)
	if err != nil {
		return "", fmt.Errorf("otp: can't draw code: %w", err)
	}
	return fmt.Sprintf("%06d", n), nil
}

func seal(payload []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	tag := mac.Sum(nil)

	sealed := append(append(append([]byte{}, payload...), '.'), tag...)
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed)
}

func open(token string, secret []byte) ([]byte, error) {
	trimmed, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidToken, tokenPrefix)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// payloads never contain '.', so the first one starts the signature
	i := bytes.IndexByte(decoded, '.')
	if i < 0 {
		return nil, fmt.Errorf("%w: no signature separator", ErrInvalidToken)
	}
	payload, tag := decoded[:i], decoded[i+1:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	return payload, nil
}

// Seal signs a code into a transport token.
func Seal(code string, secret []byte) string {
	return seal([]byte(code), secret)
}

// Open validates a transport token and returns the code.
func Open(token string, secret []byte) (string, error) {
	payload, err := open(token, secret)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Forward wraps a verified code into the forwarding key handed to the final
// sealing stage.
func Forward(code string) string {
	return tokenPrefix + base64.RawURLEncoding.EncodeToString([]byte("validated:"+code))
}

// SealValidation signs a forwarding key into the final validation token.
func SealValidation(forwarded string, secret []byte) string {
	return seal([]byte("final:"+forwarded), secret)
}

// OpenValidation validates a final validation token and returns the
// forwarding key inside it.
func OpenValidation(token string, secret []byte) (string, error) {
	payload, err := open(token, secret)
	if err != nil {
		return "", err
	}

	forwarded, ok := strings.CutPrefix(string(payload), "final:")
	if !ok {
		return "", fmt.Errorf("%w: payload is not a validation token", ErrInvalidToken)
	}

	return forwarded, nil
}

// Bundle runs the full pipeline: generate a code, seal it for transport,
// open it back, and produce the final validation token.
func Bundle(secret []byte) (code, validationToken string, err error) {
	code, err = Generate()
	if err != nil {
		return "", "", err
	}

	sealed := Seal(code, secret)
	recovered, err := Open(sealed, secret)
	if err != nil {
		return "", "", err
	}

	return code, SealValidation(Forward(recovered), secret), nil
}

// VerifyBundle checks a validation token and that the code inside it matches
// expectedCode.
func VerifyBundle(validationToken, expectedCode string, secret []byte) error {
	forwarded, err := OpenValidation(validationToken, secret)
	if err != nil {
		return err
	}

	inner, ok := strings.CutPrefix(forwarded, tokenPrefix)
	if !ok {
		return fmt.Errorf("%w: forwarding key missing %s prefix", ErrInvalidToken, tokenPrefix)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(inner)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	code, ok := strings.CutPrefix(string(decoded), "validated:")
	if !ok {
		return fmt.Errorf("%w: forwarding key payload malformed", ErrInvalidToken)
	}

	if subtleNeq(code, expectedCode) {
		return ErrMismatch
	}

	return nil
}

func subtleNeq(a, b string) bool {
	return !hmac.Equal([]byte(a), []byte(b))
}
