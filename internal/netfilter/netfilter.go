// Package netfilter classifies upstream hosts as internal or external so
// the proxy can refuse to reach private network endpoints (SSRF guard).
//
// Classification is purely syntactic: IP literals are matched against
// private/reserved ranges and everything else is matched against a small
// set of private domain patterns. No DNS resolution is performed, so a
// public domain name that resolves to a private address is not caught.
package netfilter

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/koltyakov/passage/internal/netutil"
)

// Result is the outcome of classifying a single host.
type Result struct {
	Internal bool
	Reason   string
}

type ipRange struct {
	prefix netip.Prefix
	name   string
}

var privateV4Ranges = []ipRange{
	{netip.MustParsePrefix("10.0.0.0/8"), "class A private"},
	{netip.MustParsePrefix("172.16.0.0/12"), "class B private"},
	{netip.MustParsePrefix("192.168.0.0/16"), "class C private"},
	{netip.MustParsePrefix("127.0.0.0/8"), "loopback"},
	{netip.MustParsePrefix("169.254.0.0/16"), "link-local"},
	{netip.MustParsePrefix("224.0.0.0/4"), "multicast"},
	{netip.MustParsePrefix("240.0.0.0/4"), "reserved"},
	{netip.MustParsePrefix("0.0.0.0/8"), "this network"},
}

var privateV6Ranges = []ipRange{
	{netip.MustParsePrefix("::1/128"), "IPv6 loopback"},
	{netip.MustParsePrefix("fe80::/10"), "IPv6 link-local"},
	{netip.MustParsePrefix("fc00::/7"), "IPv6 unique local"},
	{netip.MustParsePrefix("fec0::/10"), "IPv6 site-local (deprecated)"},
	{netip.MustParsePrefix("::/128"), "IPv6 unspecified"},
}

// privateDomainExact lists names blocked as-is; privateDomainSuffixes are
// blocked both bare and as a dot-suffix (foo.internal, internal).
var privateDomainExact = []string{
	"localhost",
	"localhost.localdomain",
}

var privateDomainSuffixes = []string{
	"local",
	"localhost",
	"internal",
	"lan",
}

// Classify reports whether hostname points at an internal/private network
// location. Bracketed IPv6 literals and ports are stripped before matching.
// Malformed input never panics; anything unrecognized is external.
func Classify(hostname string) Result {
	host := netutil.NormalizeHost(hostname)
	if host == "" {
		return Result{}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is4() {
			return classifyV4(addr)
		}
		return classifyV6(addr)
	}

	return classifyDomain(host)
}

func classifyV4(addr netip.Addr) Result {
	for _, r := range privateV4Ranges {
		if r.prefix.Contains(addr) {
			return Result{
				Internal: true,
				Reason:   fmt.Sprintf("IP address %s is in %s range (%s)", addr, r.name, r.prefix),
			}
		}
	}
	return Result{}
}

func classifyV6(addr netip.Addr) Result {
	for _, r := range privateV6Ranges {
		if r.prefix.Contains(addr) {
			return Result{
				Internal: true,
				Reason:   fmt.Sprintf("%s address", r.name),
			}
		}
	}
	return Result{}
}

func classifyDomain(host string) Result {
	for _, name := range privateDomainExact {
		if host == name {
			return Result{
				Internal: true,
				Reason:   fmt.Sprintf("domain %s is a private domain", host),
			}
		}
	}
	for _, suffix := range privateDomainSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return Result{
				Internal: true,
				Reason:   fmt.Sprintf("domain %s matches private pattern *.%s", host, suffix),
			}
		}
	}
	return Result{}
}
