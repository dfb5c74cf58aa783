// Package serial implements the derivation chain behind serial tokens and the
// signer that mints and re-verifies them.
//
// A serial token proves that a caller completed an authenticated name
// submission. Its payload is not a bare assertion but the full output of a
// one-way chain: name_hash -> encoded -> decoded -> forward_mac, each stage a
// pure function of earlier stages, a per-issuance salt, and the shared
// secret. Verification replays the chain and demands bit-for-bit equality
// with the claims, so a forged or spliced payload fails even if its outer
// signature were somehow acceptable.
package serial

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/minervahq/seriald/lib/name"
)

const saltBytes = 16

// Output is the complete derivation chain for one issuance.
type Output struct {
	NameHash   string
	Salt       string
	Encoded    string
	Decoded    string
	ForwardMAC string
}

// NewSalt draws the per-issuance random salt, hex-encoded.
func NewSalt() (string, error) {
	var buf [saltBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("serial: can't draw salt: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// DeriveNameHash computes the chain's first stage. The optional context
// fields enter the hash input only when present, so an absent user agent
// hashes differently from any recorded one.
func DeriveNameHash(canonicalName, userAgent, clientIP, salt string, secret []byte) string {
	h := sha256.New()
	h.Write([]byte(canonicalName))
	if userAgent != "" {
		h.Write([]byte(userAgent))
	}
	if clientIP != "" {
		h.Write([]byte(clientIP))
	}
	h.Write([]byte(salt))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveEncoded computes the second stage from the name hash and salt.
func DeriveEncoded(nameHash, salt string, secret []byte) string {
	h := sha256.New()
	h.Write([]byte(nameHash))
	h.Write([]byte(salt))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveDecoded computes the third stage from the encoded value alone.
func DeriveDecoded(encoded string, secret []byte) string {
	h := sha256.New()
	h.Write([]byte(encoded))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveForwardMAC seals the whole chain with an HMAC over every prior
// output. This is the final tamper seal before the claims are assembled.
func DeriveForwardMAC(nameHash, salt, encoded, decoded string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nameHash))
	mac.Write([]byte(salt))
	mac.Write([]byte(encoded))
	mac.Write([]byte(decoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildChain runs every stage in order for a checked context, drawing a fresh
// salt. The salt is the only randomness; re-running with the same salt and
// inputs reproduces the chain exactly.
func BuildChain(ctx name.CheckedContext, secret []byte) (Output, error) {
	salt, err := NewSalt()
	if err != nil {
		return Output{}, err
	}

	nameHash := DeriveNameHash(ctx.CanonicalName, ctx.UserAgent, ctx.ClientIP, salt, secret)
	encoded := DeriveEncoded(nameHash, salt, secret)
	decoded := DeriveDecoded(encoded, secret)
	forwardMAC := DeriveForwardMAC(nameHash, salt, encoded, decoded, secret)

	return Output{
		NameHash:   nameHash,
		Salt:       salt,
		Encoded:    encoded,
		Decoded:    decoded,
		ForwardMAC: forwardMAC,
	}, nil
}

// SignChallenge produces the keyed signature binding a challenge ID to a
// canonical name. Redemption recomputes this against the live secret as well
// as comparing it to the stored copy.
func SignChallenge(challengeID, canonicalName string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(challengeID))
	mac.Write([]byte(canonicalName))
	return hex.EncodeToString(mac.Sum(nil))
}
