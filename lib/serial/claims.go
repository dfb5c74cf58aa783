package serial

import "github.com/golang-jwt/jwt/v5"

// Claims is the serial token payload: the derivation chain, the serial
// marker, and the registered claims pinning expiry, audience, and issuer.
// Constructed once at issuance and never mutated; verification rebuilds the
// derivable fields independently and compares.
type Claims struct {
	NameHash   string `json:"name_hash"`
	Salt       string `json:"salt"`
	Encoded    string `json:"encoded"`
	Decoded    string `json:"decoded"`
	ForwardMAC string `json:"forward_mac"`
	Serial     bool   `json:"serial"`
	jwt.RegisteredClaims
}
