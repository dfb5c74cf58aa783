// Package name validates and canonicalizes submitted display names together
// with the caller context they arrived with.
package name

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minNameLen  = 2
	maxNameLen  = 48
	maxTokenLen = 32
	maxAgentLen = 512
	maxIPLen    = 64
)

// ErrUnauthorized marks authorization-class rejections: automation signatures
// and blocked networks. Callers must not explain these to the client.
var ErrUnauthorized = errors.New("name: unauthorized")

// InvalidError is a user-correctable validation failure. Its reason is safe
// to return verbatim.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "name: " + e.Reason
}

func invalid(reason string) error {
	return &InvalidError{Reason: reason}
}

// Context is a raw name submission plus the caller metadata extracted from
// request headers. Empty UserAgent or ClientIP means the header was absent.
type Context struct {
	Name      string
	UserAgent string
	ClientIP  string
}

// CheckedContext is the canonical form the derivation chain consumes.
type CheckedContext struct {
	CanonicalName string
	UserAgent     string
	ClientIP      string
}

// Check applies every validation rule to ctx. On success it returns the
// submission with whitespace collapsed but letter case preserved, and the
// optional fields normalized. The first failing rule decides the error.
func Check(p *Policy, ctx Context) (Context, error) {
	trimmed := strings.TrimSpace(ctx.Name)
	if trimmed == "" {
		return Context{}, invalid("Name is required")
	}

	collapsed := strings.Join(strings.Fields(trimmed), " ")

	tokens := strings.Split(collapsed, " ")
	if len(tokens) != 2 {
		return Context{}, invalid("Please enter a first and last name with one space between")
	}
	if strings.EqualFold(tokens[0], tokens[1]) {
		return Context{}, invalid("First and last name cannot be identical")
	}
	for _, tok := range tokens {
		if n := utf8.RuneCountInString(tok); n < minNameLen || n > maxTokenLen {
			return Context{}, invalid("Each name part must be between 2 and 32 characters")
		}
	}

	if n := utf8.RuneCountInString(collapsed); n < minNameLen || n > maxNameLen {
		return Context{}, invalid("Name length is invalid")
	}
	if strings.ContainsFunc(collapsed, func(c rune) bool { return c >= '0' && c <= '9' }) {
		return Context{}, invalid("Name cannot contain numbers")
	}
	if strings.ContainsFunc(collapsed, unicode.IsControl) || strings.ContainsAny(collapsed, "<>{}`") {
		return Context{}, invalid("Name contains unsupported characters")
	}
	if strings.ContainsFunc(collapsed, func(c rune) bool {
		return !isASCIILetter(c) && c != ' ' && c != '-' && c != '.' && c != '\''
	}) {
		return Context{}, invalid("Name contains unsupported symbols")
	}

	lowered := strings.ToLower(collapsed)
	for _, bad := range p.BannedSubstrings {
		if strings.Contains(lowered, bad) {
			return Context{}, invalid("Name contains inappropriate content")
		}
	}

	// Repetition check for names like "test test test test". Unreachable
	// while the two-token rule above stands, kept in case that rule is ever
	// relaxed.
	loweredTokens := strings.Split(lowered, " ")
	if len(loweredTokens) >= 4 && distinct(loweredTokens) <= 2 {
		return Context{}, invalid("Name is too repetitive to be valid")
	}

	lettersOnly := strings.Map(func(c rune) rune {
		if isASCIILetter(c) {
			return c
		}
		return -1
	}, lowered)
	if len(lettersOnly) >= 10 && distinctRunes(lettersOnly) <= 4 {
		return Context{}, invalid("Name appears invalid; please enter a real name")
	}

	userAgent, err := normalizeAgent(p, ctx.UserAgent)
	if err != nil {
		return Context{}, err
	}
	clientIP, err := normalizeIP(p, ctx.ClientIP)
	if err != nil {
		return Context{}, err
	}

	return Context{
		Name:      collapsed,
		UserAgent: userAgent,
		ClientIP:  clientIP,
	}, nil
}

// Canonicalize turns a validated submission into the form the derivation
// chain hashes: whitespace collapsed and lowercased. It is total for
// validator-approved input and idempotent.
func Canonicalize(ctx Context) CheckedContext {
	canonical := strings.ToLower(strings.Join(strings.Fields(ctx.Name), " "))
	return CheckedContext{
		CanonicalName: canonical,
		UserAgent:     ctx.UserAgent,
		ClientIP:      ctx.ClientIP,
	}
}

func normalizeAgent(p *Policy, raw string) (string, error) {
	ua := strings.TrimSpace(raw)
	if ua == "" {
		return "", nil
	}
	if utf8.RuneCountInString(ua) > maxAgentLen {
		return "", invalid("User agent is too long")
	}

	lowered := strings.ToLower(ua)
	for _, sig := range p.AgentSignals {
		if strings.Contains(lowered, sig) {
			return "", ErrUnauthorized
		}
	}

	return ua, nil
}

func normalizeIP(p *Policy, raw string) (string, error) {
	ip := strings.TrimSpace(raw)
	if ip == "" {
		return "", nil
	}
	if utf8.RuneCountInString(ip) > maxIPLen || strings.ContainsFunc(ip, unicode.IsControl) {
		return "", invalid("Client IP is invalid")
	}
	if p.NetworkBlocked(ip) {
		return "", ErrUnauthorized
	}

	return ip, nil
}

func isASCIILetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func distinct(tokens []string) int {
	seen := map[string]struct{}{}
	for _, tok := range tokens {
		seen[tok] = struct{}{}
	}
	return len(seen)
}

func distinctRunes(s string) int {
	seen := map[rune]struct{}{}
	for _, c := range s {
		seen[c] = struct{}{}
	}
	return len(seen)
}
