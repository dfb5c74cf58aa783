// Package seriald holds process-wide constants shared between the daemon and
// the library packages.
package seriald

import "time"

const (
	// APIPrefix is the URL prefix all seriald API routes are mounted under.
	APIPrefix = "/api/"

	// SerialHeader carries a serial token on verification requests. Serial
	// tokens live in their own header so they never collide with whatever the
	// surrounding system puts in Authorization.
	SerialHeader = "X-Serial-Token"

	// ChallengeTTL is how long a pending challenge stays redeemable.
	ChallengeTTL = 5 * time.Minute

	// SerialTokenTTL is how long an issued serial token verifies.
	SerialTokenTTL = 15 * time.Minute

	// SerialAudience and SerialIssuer pin the serial token family apart from
	// any other JWT family signed with the same secret.
	SerialAudience = "seriald-serial"
	SerialIssuer   = "seriald"

	// OTPTTL is how long an issued one-time passcode stays verifiable.
	OTPTTL = 5 * time.Minute
)

// Version is the seriald version, filled in at build time.
var Version = "devel"
