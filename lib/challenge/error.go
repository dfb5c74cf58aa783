package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("challenge: no such challenge")
	ErrExpired      = errors.New("challenge: challenge expired")
	ErrBadSignature = errors.New("challenge: signature mismatch")
	ErrContext      = errors.New("challenge: caller context mismatch")
)

// NewError wraps a redemption failure with the public face it should wear.
// Every redemption failure is answered with the same opaque unauthorized
// response; the private reason goes to the logs.
func NewError(verb string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  "unauthorized",
		PrivateReason: privateReason,
		StatusCode:    http.StatusUnauthorized,
	}
}

type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}
