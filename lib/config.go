package lib

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/minervahq/seriald"
	"github.com/minervahq/seriald/data"
	"github.com/minervahq/seriald/decaymap"
	"github.com/minervahq/seriald/lib/challenge"
	"github.com/minervahq/seriald/lib/keybox"
	"github.com/minervahq/seriald/lib/name"
	"github.com/minervahq/seriald/lib/serial"
)

type Options struct {
	// Secret is the shared secret behind the derivation chain, the challenge
	// signatures, and the serial token signature. When empty a random secret
	// is generated, which breaks multi-instance deployments.
	Secret []byte

	// Policy is the name policy. Required; see LoadPolicyOrDefault.
	Policy *name.Policy

	// RSABits sizes the process-local keypair. Zero means keybox.DefaultBits.
	RSABits int
}

// LoadPolicyOrDefault reads the name policy from fname, or the embedded
// default policy when fname is empty.
func LoadPolicyOrDefault(fname string) (*name.Policy, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't open policy file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/namePolicies.yaml"
		fin, err = data.NamePolicies.Open("namePolicies.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't open builtin policy file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		if err := fin.Close(); err != nil {
			slog.Error("failed to close policy file", "file", fname, "err", err)
		}
	}(fin)

	return name.ParseConfig(fin, fname)
}

func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		slog.Warn("opts.Secret not set, generating a random one, serial tokens will not survive restarts and other instances cannot verify them")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("lib: can't generate secret: %w", err)
		}
		opts.Secret = secret
	}

	if opts.Policy == nil {
		return nil, fmt.Errorf("lib: opts.Policy is required")
	}

	keys, err := keybox.New(opts.RSABits)
	if err != nil {
		return nil, err
	}

	pubPEM, err := keys.PublicPEM()
	if err != nil {
		return nil, err
	}

	result := &Server{
		secret: opts.Secret,
		policy: opts.Policy,
		keys:   keys,
		pubPEM: pubPEM,
		store:  challenge.NewStore(),
		signer: serial.NewSigner(opts.Secret),
		otps:   decaymap.New[string, string](),
		opts:   opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+seriald.APIPrefix+"request-challenge", result.RequestChallenge)
	mux.HandleFunc("POST "+seriald.APIPrefix+"issue-serial", result.IssueSerial)
	mux.HandleFunc("POST "+seriald.APIPrefix+"verify-serial", result.VerifySerial)
	mux.HandleFunc("GET "+seriald.APIPrefix+"public-key", result.PublicKey)
	mux.HandleFunc("POST "+seriald.APIPrefix+"otp/request", result.OTPRequest)
	mux.HandleFunc("POST "+seriald.APIPrefix+"otp/verify", result.OTPVerify)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	result.mux = mux

	return result, nil
}
