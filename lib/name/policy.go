package name

import (
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"
	"gopkg.in/yaml.v3"
)

// Policy is the tunable half of name validation: the structural rules about
// token counts and lengths are fixed in code, the word and network lists come
// from a policy document.
type Policy struct {
	BannedSubstrings []string `yaml:"banned_substrings"`
	AgentSignals     []string `yaml:"agent_signals"`
	BlockedNetworks  []string `yaml:"blocked_networks"`

	blocked *bart.Table[struct{}]
}

// ParseConfig reads a YAML policy document and compiles its network list into
// a lookup table. fname is for error messages only.
func ParseConfig(fin io.Reader, fname string) (*Policy, error) {
	var result Policy

	dec := yaml.NewDecoder(fin)
	dec.KnownFields(true)
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("name: can't parse policy file %s: %w", fname, err)
	}

	result.blocked = &bart.Table[struct{}]{}
	for _, cidr := range result.BlockedNetworks {
		pfx, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("name: policy file %s has invalid blocked network %q: %w", fname, cidr, err)
		}
		result.blocked.Insert(pfx, struct{}{})
	}

	for i, sub := range result.BannedSubstrings {
		result.BannedSubstrings[i] = strings.ToLower(sub)
	}
	for i, sig := range result.AgentSignals {
		result.AgentSignals[i] = strings.ToLower(sig)
	}

	return &result, nil
}

// NetworkBlocked reports whether ip falls inside any blocked network. An
// address that doesn't parse is not blocked here; the validator has its own
// rules for malformed values.
func (p *Policy) NetworkBlocked(ip string) bool {
	if p.blocked == nil {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	_, ok := p.blocked.Lookup(addr)
	return ok
}
