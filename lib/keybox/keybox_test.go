package keybox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"testing"
)

func newKeybox(t *testing.T) *Keybox {
	t.Helper()

	k, err := New(DefaultBits)
	if err != nil {
		t.Fatalf("can't create keybox: %v", err)
	}

	return k
}

func TestDecryptOAEP(t *testing.T) {
	k := newKeybox(t)

	enc, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, k.Public(), []byte("Alice Doe"), nil)
	if err != nil {
		t.Fatalf("can't encrypt: %v", err)
	}

	got, err := k.Decrypt(base64.StdEncoding.EncodeToString(enc))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "Alice Doe" {
		t.Errorf("Decrypt = %q, want %q", got, "Alice Doe")
	}
}

func TestDecryptPKCS1v15Fallback(t *testing.T) {
	k := newKeybox(t)

	enc, err := rsa.EncryptPKCS1v15(rand.Reader, k.Public(), []byte("Alice Doe"))
	if err != nil {
		t.Fatalf("can't encrypt: %v", err)
	}

	got, err := k.Decrypt(base64.StdEncoding.EncodeToString(enc))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "Alice Doe" {
		t.Errorf("Decrypt = %q, want %q", got, "Alice Doe")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	k := newKeybox(t)

	if _, err := k.Decrypt("not base64 %%%"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt of non-base64 = %v, want ErrDecrypt", err)
	}

	garbage := base64.StdEncoding.EncodeToString(make([]byte, 256))
	if _, err := k.Decrypt(garbage); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt of garbage ciphertext = %v, want ErrDecrypt", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	k := newKeybox(t)
	other := newKeybox(t)

	enc, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, other.Public(), []byte("Alice Doe"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := k.Decrypt(base64.StdEncoding.EncodeToString(enc)); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt with foreign key = %v, want ErrDecrypt", err)
	}
}

func TestPublicPEMRoundtrip(t *testing.T) {
	k := newKeybox(t)

	pemBytes, err := k.PublicPEM()
	if err != nil {
		t.Fatalf("PublicPEM failed: %v", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		t.Fatalf("PublicPEM produced no PUBLIC KEY block: %q", pemBytes)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		t.Fatalf("can't parse PEM back: %v", err)
	}
	if !k.Public().Equal(pub) {
		t.Error("parsed public key does not match the keybox key")
	}
}
