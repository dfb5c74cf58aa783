// Package challenge tracks pending name-submission challenges between the
// request and redemption calls.
package challenge

import "time"

// Challenge is a single pending submission. It is created when a caller
// submits an encrypted name, redeemed at most once, and garbage-collected
// after its deadline otherwise. Empty UserAgent or ClientIP means the caller
// presented none at request time.
type Challenge struct {
	ID            string    `json:"id"`                  // random hex identifier
	CanonicalName string    `json:"canonicalName"`       // canonical form of the submitted name
	Signature     string    `json:"signature"`           // keyed hash over ID and name
	ExpiresAt     time.Time `json:"expiresAt"`           // request time plus the challenge TTL
	UserAgent     string    `json:"userAgent,omitempty"` // captured caller context
	ClientIP      string    `json:"clientIP,omitempty"`  // captured caller context
}

// Expired reports whether the challenge's deadline has passed.
func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
