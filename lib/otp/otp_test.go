package otp

import (
	"errors"
	"strings"
	"testing"
)

var testSecret = []byte("test-otp-secret")

func TestGenerate(t *testing.T) {
	for i := 0; i < 32; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("Generate returned %q, want 6 digits", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("Generate returned non-digit %q", code)
			}
		}
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	sealed := Seal("123456", testSecret)
	if !strings.HasPrefix(sealed, "srl") {
		t.Errorf("sealed token %q missing prefix", sealed)
	}

	code, err := Open(sealed, testSecret)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if code != "123456" {
		t.Errorf("Open = %q, want 123456", code)
	}
}

func TestOpenRejects(t *testing.T) {
	sealed := Seal("123456", testSecret)

	if _, err := Open(sealed, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Open with wrong secret = %v, want ErrInvalidToken", err)
	}
	if _, err := Open(strings.TrimPrefix(sealed, "srl"), testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Open without prefix = %v, want ErrInvalidToken", err)
	}
	if _, err := Open("srl!!!!", testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Open of junk = %v, want ErrInvalidToken", err)
	}
}

func TestBundleVerify(t *testing.T) {
	code, validation, err := Bundle(testSecret)
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}

	if err := VerifyBundle(validation, code, testSecret); err != nil {
		t.Errorf("VerifyBundle rejected its own bundle: %v", err)
	}

	if err := VerifyBundle(validation, "000000", testSecret); !errors.Is(err, ErrMismatch) {
		// the draw could legitimately be 000000 once in a million runs
		if code != "000000" {
			t.Errorf("VerifyBundle with wrong code = %v, want ErrMismatch", err)
		}
	}

	if err := VerifyBundle(validation, code, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyBundle with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyBundleTamper(t *testing.T) {
	code, validation, err := Bundle(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	tampered := validation[:len(validation)-2] + "AA"
	if tampered == validation {
		tampered = validation[:len(validation)-2] + "BB"
	}
	if err := VerifyBundle(tampered, code, testSecret); err == nil {
		t.Error("VerifyBundle accepted a tampered token")
	}
}
