// Package keybox holds the process-local RSA keypair that callers encrypt
// name payloads against.
package keybox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

const DefaultBits = 2048

var ErrDecrypt = errors.New("keybox: can't decrypt payload")

// Keybox is an RSA keypair generated fresh at startup and never written
// anywhere. A restart makes any in-flight encrypted payload undecryptable;
// callers recover by fetching the new public key and starting over.
type Keybox struct {
	key *rsa.PrivateKey
}

func New(bits int) (*Keybox, error) {
	if bits == 0 {
		bits = DefaultBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keybox: can't generate keypair: %w", err)
	}

	return &Keybox{key: key}, nil
}

// Decrypt unwraps a base64 payload encrypted against the public key. It
// tries OAEP-SHA256 first and falls back to PKCS#1 v1.5 for older clients.
func (k *Keybox) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: payload is not base64: %w", ErrDecrypt, err)
	}

	plain, err := rsa.DecryptOAEP(sha256.New(), nil, k.key, raw, nil)
	if err != nil {
		plain, err = rsa.DecryptPKCS1v15(nil, k.key, raw)
		if err != nil {
			return "", fmt.Errorf("%w: not OAEP-SHA256 or PKCS#1v1.5", ErrDecrypt)
		}
	}

	return string(plain), nil
}

// Public returns the public half of the keypair.
func (k *Keybox) Public() *rsa.PublicKey {
	return &k.key.PublicKey
}

// PublicPEM renders the public key as a PEM block for the key endpoint.
func (k *Keybox) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public())
	if err != nil {
		return nil, fmt.Errorf("keybox: can't marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}
