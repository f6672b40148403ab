package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// AllowList is a set of client address prefixes. A bare address in the
// source list becomes a single-host prefix.
type AllowList []netip.Prefix

// ParseAllowList parses IP and CIDR entries. It returns every valid entry
// together with an error naming each invalid one, so callers can choose
// between rejecting the list and skipping bad entries.
func ParseAllowList(entries []string) (AllowList, error) {
	list := make(AllowList, 0, len(entries))
	var errs []error
	for _, entry := range entries {
		p, err := parseAllowEntry(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		list = append(list, p)
	}
	return list, errors.Join(errs...)
}

func parseAllowEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q", entry)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP %q", entry)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Contains reports whether ip falls inside any prefix. An address that
// does not parse is never contained.
func (l AllowList) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
