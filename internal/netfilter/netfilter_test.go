package netfilter

import (
	"strings"
	"testing"
)

func TestClassifyInternal(t *testing.T) {
	t.Parallel()

	internal := []string{
		"10.1.2.3",
		"10.255.255.255",
		"172.16.0.1",
		"172.31.255.255",
		"192.168.0.1",
		"192.168.255.254",
		"127.0.0.1",
		"127.255.255.255",
		"169.254.169.254",
		"224.0.0.1",
		"239.255.255.255",
		"240.0.0.1",
		"255.255.255.255",
		"0.1.2.3",
		"::1",
		"[::1]",
		"::",
		"fe80::1",
		"fc00::1",
		"fd12:3456::1",
		"fec0::1",
		"localhost",
		"LOCALHOST",
		"localhost.localdomain",
		"foo.internal",
		"internal",
		"printer.local",
		"nas.lan",
		"app.localhost",
	}
	for _, host := range internal {
		res := Classify(host)
		if !res.Internal {
			t.Fatalf("Classify(%q): expected internal", host)
		}
		if res.Reason == "" {
			t.Fatalf("Classify(%q): expected a reason", host)
		}
	}
}

func TestClassifyExternal(t *testing.T) {
	t.Parallel()

	external := []string{
		"8.8.8.8",
		"1.1.1.1",
		"172.15.0.1",
		"172.32.0.1",
		"11.0.0.1",
		"223.255.255.255",
		"2001:4860:4860::8888",
		"example.com",
		"internal.example.com",
		"my-lan-app.example.com",
		"sub.locally.dev",
	}
	for _, host := range external {
		if res := Classify(host); res.Internal {
			t.Fatalf("Classify(%q): expected external, got reason %q", host, res.Reason)
		}
	}
}

func TestClassifyMalformedInput(t *testing.T) {
	t.Parallel()

	// Invalid octets and junk must neither panic nor classify as internal.
	for _, host := range []string{"300.1.2.3", "10.0.0", "..", "", "  ", "a..b"} {
		if res := Classify(host); res.Internal {
			t.Fatalf("Classify(%q): expected external for malformed input", host)
		}
	}
}

func TestClassifyStripsPortAndBrackets(t *testing.T) {
	t.Parallel()

	res := Classify("[fe80::1]:8080")
	if !res.Internal {
		t.Fatal("expected bracketed link-local with port to classify as internal")
	}
	if !strings.Contains(res.Reason, "link-local") {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}

	if res := Classify("192.168.1.10:3000"); !res.Internal {
		t.Fatal("expected private IPv4 with port to classify as internal")
	}
}
