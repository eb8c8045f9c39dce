package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
)

// ErrUnknownAddress is returned when an address has no bound
// subscriber. The gateway treats this as a trust-boundary violation.
var ErrUnknownAddress = errors.New("no subscriber bound to address")

// Resolver maps caller network addresses to subscriber identities and
// classifies addresses as trusted. Both tables are fixed at
// construction, so every call is deterministic and lock-free.
type Resolver struct {
	bindings map[string]string
	trusted  []netip.Prefix
}

// New creates a resolver from an address->subscriber binding table and
// a set of trusted prefixes.
func New(bindings map[string]string, trusted []netip.Prefix) *Resolver {
	copied := make(map[string]string, len(bindings))
	for addr, sub := range bindings {
		copied[addr] = sub
	}
	return &Resolver{bindings: copied, trusted: trusted}
}

// Resolve returns the subscriber identity bound to an address.
func (r *Resolver) Resolve(address string) (string, error) {
	subscriber, ok := r.bindings[address]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return subscriber, nil
}

// IsTrusted reports whether the address falls inside a trusted prefix.
// Unparseable addresses are never trusted.
func (r *Resolver) IsTrusted(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDR strings into trusted prefixes.
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted CIDR %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

// LoadBindings reads an address->subscriber table from a JSON file of
// the form {"10.0.0.7": "1042", ...}.
func LoadBindings(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file: %w", err)
	}

	var bindings map[string]string
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("failed to parse bindings file: %w", err)
	}
	return bindings, nil
}
