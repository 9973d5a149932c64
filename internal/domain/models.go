// Package domain defines the core data types shared across the passage
// proxy, stores, and admin layers.
package domain

import "time"

// NeverExpires is the sentinel expiry for entries that live until deleted.
const NeverExpires = -1

// RouteMapping is a single operator-configured rule pairing a URL path
// prefix with an upstream base URL. Prefixes are the map keys in the routes
// file, so the mapping itself carries everything but the prefix.
type RouteMapping struct {
	Name             string            `json:"name,omitempty"`
	TargetURL        string            `json:"target_url"`
	ExtraHeaders     map[string]string `json:"extra_headers,omitempty"`
	TimeoutMS        int64             `json:"timeout,omitempty"`
	ConnectTimeoutMS int64             `json:"connect_timeout,omitempty"`
}

// TempRedirect is an ephemeral, randomly-keyed forwarding or redirect rule.
// Timestamps are unix milliseconds; ExpiresAt == NeverExpires means the
// entry never expires on its own.
//
// ConnectTimeoutMS is accepted from configuration and surfaced over the
// admin API but not independently enforced; only the overall request
// deadline binds.
type TempRedirect struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Path             string            `json:"path"`
	TargetURL        string            `json:"target_url"`
	ExtraHeaders     map[string]string `json:"extra_headers,omitempty"`
	TimeoutMS        int64             `json:"timeout,omitempty"`
	ConnectTimeoutMS int64             `json:"connect_timeout,omitempty"`
	RedirectOnly     bool              `json:"redirect_only"`
	CreatedAt        int64             `json:"created_at"`
	ExpiresAt        int64             `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given unix
// millisecond timestamp.
func (r TempRedirect) Expired(nowMS int64) bool {
	return r.ExpiresAt != NeverExpires && nowMS > r.ExpiresAt
}

// AuditEntry records one completed proxy attempt on a static mapping route.
type AuditEntry struct {
	Timestamp       string            `json:"timestamp"`
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	TargetURL       string            `json:"targetUrl"`
	Status          int               `json:"status"`
	DurationMS      int64             `json:"duration"`
	RequestHeaders  HeaderDiff        `json:"requestHeaders"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	Metadata        AuditMetadata     `json:"metadata"`
}

// HeaderDiff captures how the proxy rewrote request headers: the original
// inbound set, the set actually sent upstream, and the headers the proxy
// added or modified along the way.
type HeaderDiff struct {
	Original map[string]string `json:"original"`
	Proxy    map[string]string `json:"proxy"`
	Added    map[string]string `json:"added"`
	Modified map[string]string `json:"modified"`
}

// AuditMetadata carries size and client context for an audit entry.
type AuditMetadata struct {
	RequestSize  int64  `json:"requestSize"`
	ResponseSize int64  `json:"responseSize"`
	ContentType  string `json:"contentType"`
	UserAgent    string `json:"userAgent"`
}

// APIKey represents a server-managed admin authentication key.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}
