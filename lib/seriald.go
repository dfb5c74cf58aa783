// Package lib wires the name validator, challenge store, keybox, and serial
// signer into the seriald HTTP surface.
package lib

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/minervahq/seriald"
	"github.com/minervahq/seriald/decaymap"
	"github.com/minervahq/seriald/internal"
	"github.com/minervahq/seriald/lib/challenge"
	"github.com/minervahq/seriald/lib/keybox"
	"github.com/minervahq/seriald/lib/name"
	"github.com/minervahq/seriald/lib/otp"
	"github.com/minervahq/seriald/lib/serial"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriald_challenges_issued",
		Help: "The total number of challenges issued",
	})

	challengesRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriald_challenges_redeemed",
		Help: "The total number of challenges redeemed for serial tokens",
	})

	serialTokensVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriald_serial_tokens_verified",
		Help: "The total number of serial tokens that verified",
	})

	failedValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seriald_failed_validations",
		Help: "The total number of failed validations",
	}, []string{"stage"})

	otpBundlesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriald_otp_bundles_issued",
		Help: "The total number of OTP bundles issued",
	})
)

type Server struct {
	mux    *http.ServeMux
	store  *challenge.Store
	signer *serial.Signer
	keys   *keybox.Keybox
	policy *name.Policy
	otps   *decaymap.Impl[string, string]
	secret []byte
	pubPEM []byte
	opts   Options
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

const challengeIDBytes = 12

func newChallengeID() (string, error) {
	var buf [challengeIDBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("lib: can't draw challenge id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// matchRecorded is the asymmetric context rule: a challenge that recorded no
// value matches any caller, a recorded value must match exactly.
func matchRecorded(recorded, current string) bool {
	if recorded == "" {
		return true
	}
	return recorded == current
}

// RequestChallenge accepts an RSA-encrypted name, validates it, and answers
// with a pending challenge for the caller to redeem.
func (s *Server) RequestChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req struct {
		EncryptedName string `json:"encrypted_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lg.Debug("bad challenge request body", "err", err)
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plainName, err := s.keys.Decrypt(req.EncryptedName)
	if err != nil {
		lg.Debug("can't decrypt name payload", "err", err)
		failedValidations.WithLabelValues("decrypt").Inc()
		s.respondError(w, http.StatusBadRequest, "invalid encrypted name payload")
		return
	}

	validated, err := name.Check(s.policy, name.Context{
		Name:      plainName,
		UserAgent: r.UserAgent(),
		ClientIP:  r.Header.Get("X-Real-Ip"),
	})
	if err != nil {
		failedValidations.WithLabelValues("name").Inc()

		var ive *name.InvalidError
		switch {
		case errors.As(err, &ive):
			lg.Debug("name rejected", "reason", ive.Reason)
			s.respondError(w, http.StatusBadRequest, ive.Reason)
		case errors.Is(err, name.ErrUnauthorized):
			lg.Info("submission refused", "err", err)
			s.respondUnauthorized(w)
		default:
			lg.Error("name validation failed unexpectedly", "err", err)
			s.respondInternalError(w)
		}
		return
	}

	checked := name.Canonicalize(validated)

	id, err := newChallengeID()
	if err != nil {
		lg.Error("can't create challenge", "err", err)
		s.respondInternalError(w)
		return
	}

	signature := serial.SignChallenge(id, checked.CanonicalName, s.secret)

	s.store.Add(challenge.Challenge{
		ID:            id,
		CanonicalName: checked.CanonicalName,
		Signature:     signature,
		ExpiresAt:     time.Now().Add(seriald.ChallengeTTL),
		UserAgent:     checked.UserAgent,
		ClientIP:      checked.ClientIP,
	})

	challengesIssued.Inc()
	lg.Debug("challenge issued", "challenge_id", id, "name", internal.FastHash(checked.CanonicalName))

	s.respondJSON(w, http.StatusOK, struct {
		ChallengeID string `json:"challenge_id"`
		Signature   string `json:"signature"`
	}{
		ChallengeID: id,
		Signature:   signature,
	})
}

// IssueSerial redeems a pending challenge for a signed serial token. Every
// failure collapses to the same unauthorized response.
func (s *Server) IssueSerial(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req struct {
		ChallengeID string `json:"challenge_id"`
		Signature   string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lg.Debug("bad redemption body", "err", err)
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.redeem(r, req.ChallengeID, req.Signature)
	if err != nil {
		failedValidations.WithLabelValues("redeem").Inc()
		lg.Debug("challenge redemption failed", "err", err)
		s.respondUnauthorized(w)
		return
	}

	token, err := s.signer.Mint(name.CheckedContext{
		CanonicalName: c.CanonicalName,
		UserAgent:     c.UserAgent,
		ClientIP:      c.ClientIP,
	})
	if err != nil {
		lg.Error("can't mint serial token", "err", err)
		s.respondInternalError(w)
		return
	}

	challengesRedeemed.Inc()
	lg.Debug("serial token issued", "challenge_id", c.ID, "name", internal.FastHash(c.CanonicalName))

	s.respondJSON(w, http.StatusOK, struct {
		SerialToken string `json:"serial_token"`
	}{
		SerialToken: token,
	})
}

// redeem removes the challenge first, then runs every redemption check. The
// removal up front makes redemption single-use no matter how the checks go.
func (s *Server) redeem(r *http.Request, id, signature string) (challenge.Challenge, error) {
	c, ok := s.store.Take(id)
	if !ok {
		return challenge.Challenge{}, challenge.NewError("redeem", fmt.Errorf("%w: %s", challenge.ErrNotFound, id))
	}

	if c.Expired(time.Now()) {
		return challenge.Challenge{}, challenge.NewError("redeem", challenge.ErrExpired)
	}

	if subtle.ConstantTimeCompare([]byte(c.Signature), []byte(signature)) != 1 {
		return challenge.Challenge{}, challenge.NewError("redeem", fmt.Errorf("%w: stored signature differs", challenge.ErrBadSignature))
	}

	// recompute against the live secret in case the stored copy was tampered
	// with after issuance
	recomputed := serial.SignChallenge(c.ID, c.CanonicalName, s.secret)
	if subtle.ConstantTimeCompare([]byte(recomputed), []byte(signature)) != 1 {
		return challenge.Challenge{}, challenge.NewError("redeem", fmt.Errorf("%w: recomputed signature differs", challenge.ErrBadSignature))
	}

	if !matchRecorded(c.UserAgent, r.UserAgent()) {
		return challenge.Challenge{}, challenge.NewError("redeem", fmt.Errorf("%w: user agent", challenge.ErrContext))
	}
	if !matchRecorded(c.ClientIP, r.Header.Get("X-Real-Ip")) {
		return challenge.Challenge{}, challenge.NewError("redeem", fmt.Errorf("%w: client ip", challenge.ErrContext))
	}

	return c, nil
}

// VerifySerial re-validates a presented serial token: outer signature,
// expiry, audience, and the full derivation chain.
func (s *Server) VerifySerial(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	token := r.Header.Get(seriald.SerialHeader)
	if token == "" {
		lg.Debug("verification request without serial token header")
		failedValidations.WithLabelValues("verify").Inc()
		s.respondUnauthorized(w)
		return
	}

	if err := s.signer.Verify(token); err != nil {
		lg.Debug("serial token rejected", "err", err)
		failedValidations.WithLabelValues("verify").Inc()
		s.respondUnauthorized(w)
		return
	}

	serialTokensVerified.Inc()
	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{
		Status: "ok",
	})
}

// PublicKey serves the process-local RSA public key so callers can encrypt
// name payloads. The key changes on every restart.
func (s *Server) PublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(s.pubPEM)
}

// OTPRequest issues a sealed one-time-passcode bundle. The code itself is
// delivered out of band; the response only carries the bundle handle and the
// validation token.
func (s *Server) OTPRequest(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	code, validationToken, err := otp.Bundle(s.secret)
	if err != nil {
		lg.Error("can't build otp bundle", "err", err)
		s.respondInternalError(w)
		return
	}

	id := uuid.NewString()
	s.otps.Set(id, code, seriald.OTPTTL)

	otpBundlesIssued.Inc()
	lg.Debug("otp bundle issued", "otp_id", id, "code", code)

	s.respondJSON(w, http.StatusOK, struct {
		OTPID           string `json:"otp_id"`
		ValidationToken string `json:"validation_token"`
	}{
		OTPID:           id,
		ValidationToken: validationToken,
	})
}

// OTPVerify consumes an issued passcode, checking both the presented code and
// the validation token. One attempt per bundle.
func (s *Server) OTPVerify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req struct {
		OTPID           string `json:"otp_id"`
		Code            string `json:"code"`
		ValidationToken string `json:"validation_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lg.Debug("bad otp verification body", "err", err)
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expected, ok := s.otps.Take(req.OTPID)
	if !ok {
		lg.Debug("otp bundle unknown or expired", "otp_id", req.OTPID)
		failedValidations.WithLabelValues("otp").Inc()
		s.respondUnauthorized(w)
		return
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Code)) != 1 {
		lg.Debug("otp code mismatch", "otp_id", req.OTPID)
		failedValidations.WithLabelValues("otp").Inc()
		s.respondUnauthorized(w)
		return
	}

	if err := otp.VerifyBundle(req.ValidationToken, expected, s.secret); err != nil {
		lg.Debug("otp validation token rejected", "otp_id", req.OTPID, "err", err)
		failedValidations.WithLabelValues("otp").Inc()
		s.respondUnauthorized(w)
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{
		Status: "ok",
	})
}
