package name

import (
	"errors"
	"strings"
	"testing"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()

	doc := `
banned_substrings:
  - admin
  - root
  - test
  - zebi
  - dummy
agent_signals:
  - curl
  - wget
  - python-requests
  - headless
blocked_networks:
  - 198.51.100.0/24
`

	p, err := ParseConfig(strings.NewReader(doc), "(test)")
	if err != nil {
		t.Fatalf("can't parse test policy: %v", err)
	}

	return p
}

func TestCheckAccepts(t *testing.T) {
	p := testPolicy(t)

	for _, tt := range []struct {
		name string
		want string
	}{
		{"Alice Doe", "Alice Doe"},
		{"  Alice   Doe  ", "Alice Doe"},
		{"Mary-Jane O'Neil", "Mary-Jane O'Neil"},
		{"J.R. Tolkien", "J.R. Tolkien"},
	} {
		got, err := Check(p, Context{Name: tt.name})
		if err != nil {
			t.Errorf("Check(%q) failed: %v", tt.name, err)
			continue
		}
		if got.Name != tt.want {
			t.Errorf("Check(%q).Name = %q, want %q", tt.name, got.Name, tt.want)
		}
	}
}

func TestCheckRejects(t *testing.T) {
	p := testPolicy(t)

	for _, bad := range []string{
		"",
		"   ",
		"Onlyone",
		"Three Part Name",
		"Same Same",
		"same SAME",
		"Bob123",
		"Root User",
		"zebi bad",
		"A Doe",
		"Bob <Weird>",
		"Bob Sm{th",
		"Ali`ce Doe",
		"awdwdawd awdawdawd", // degenerate alphabet
		strings.Repeat("a", 33) + " Doe",
	} {
		if _, err := Check(p, Context{Name: bad}); err == nil {
			t.Errorf("Check(%q) accepted, want rejection", bad)
		}
	}
}

func TestCheckRejectionClass(t *testing.T) {
	p := testPolicy(t)

	// validation failures carry a reason
	_, err := Check(p, Context{Name: "Bob123"})
	var ive *InvalidError
	if !errors.As(err, &ive) {
		t.Fatalf("Check(Bob123) error = %v, want *InvalidError", err)
	}
	if ive.Reason != "Name cannot contain numbers" {
		t.Errorf("reason = %q", ive.Reason)
	}

	// automation signatures are authorization failures
	_, err = Check(p, Context{Name: "Alice Doe", UserAgent: "curl/8.0"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Check with curl UA error = %v, want ErrUnauthorized", err)
	}

	// as are blocked networks
	_, err = Check(p, Context{Name: "Alice Doe", ClientIP: "198.51.100.7"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Check with blocked IP error = %v, want ErrUnauthorized", err)
	}
}

func TestCheckContextNormalization(t *testing.T) {
	p := testPolicy(t)

	got, err := Check(p, Context{Name: "Alice Doe", UserAgent: "   ", ClientIP: "  "})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if got.UserAgent != "" || got.ClientIP != "" {
		t.Errorf("blank context fields did not fold to absent: %+v", got)
	}

	if _, err := Check(p, Context{Name: "Alice Doe", UserAgent: strings.Repeat("x", 513)}); err == nil {
		t.Error("overlong user agent accepted")
	}
	if _, err := Check(p, Context{Name: "Alice Doe", ClientIP: strings.Repeat("1", 65)}); err == nil {
		t.Error("overlong client IP accepted")
	}
	if _, err := Check(p, Context{Name: "Alice Doe", ClientIP: "1.2.3.4\x00"}); err == nil {
		t.Error("client IP with control character accepted")
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	p := testPolicy(t)

	checked, err := Check(p, Context{Name: " Alice   Doe ", UserAgent: "Mozilla/5.0", ClientIP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	once := Canonicalize(checked)
	if once.CanonicalName != "alice doe" {
		t.Errorf("CanonicalName = %q, want %q", once.CanonicalName, "alice doe")
	}

	twice := Canonicalize(Context{Name: once.CanonicalName, UserAgent: once.UserAgent, ClientIP: once.ClientIP})
	if twice.CanonicalName != once.CanonicalName {
		t.Errorf("canonicalization is not idempotent: %q != %q", twice.CanonicalName, once.CanonicalName)
	}
}

func TestParseConfigRejectsBadNetwork(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("blocked_networks: [not-a-cidr]"), "(test)")
	if err == nil {
		t.Error("ParseConfig accepted an invalid CIDR")
	}
}
