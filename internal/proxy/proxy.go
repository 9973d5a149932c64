// Package proxy implements the request-routing and forwarding surface:
// temporary redirect ids first, then static prefix mappings, with an SSRF
// guard in front of every upstream call.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/koltyakov/passage/internal/audit"
	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/domain"
	"github.com/koltyakov/passage/internal/netfilter"
	"github.com/koltyakov/passage/internal/redirect"
)

// Temporary redirect ids are exactly five alphanumerics at the path root.
var tempPathRE = regexp.MustCompile(`^/([A-Za-z0-9]{5})$`)

// Proxy routes incoming requests to upstreams per the live routing table
// and the temporary redirect store.
type Proxy struct {
	routes    *config.Table
	redirects *redirect.Store
	audit     *audit.Log
	log       *slog.Logger

	classify func(string) netfilter.Result
	client   *http.Client
	now      func() time.Time
}

// New creates a proxy. The HTTP client follows upstream redirects and has
// no global timeout; per-request deadlines come from the routing config.
func New(routes *config.Table, redirects *redirect.Store, auditLog *audit.Log, logger *slog.Logger) *Proxy {
	return &Proxy{
		routes:    routes,
		redirects: redirects,
		audit:     auditLog,
		log:       logger,
		classify:  netfilter.Classify,
		client:    &http.Client{},
		now:       time.Now,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Opportunistic cleanup so expired links die on the routing path even
	// between janitor ticks.
	p.redirects.Sweep()

	pathname := r.URL.Path
	if m := tempPathRE.FindStringSubmatch(pathname); m != nil {
		if entry, ok := p.redirects.Get(m[1]); ok {
			p.serveTempRedirect(w, r, entry)
			return
		}
	}

	routes := p.routes.Current()
	if prefix, mapping, ok := routes.Resolve(pathname); ok {
		p.serveMapped(w, r, routes, prefix, mapping)
		return
	}

	p.log.Warn("path not found", "path", pathname)
	writeTextError(w, http.StatusNotFound, "Path not configured")
}

func (p *Proxy) serveTempRedirect(w http.ResponseWriter, r *http.Request, entry domain.TempRedirect) {
	if entry.Expired(p.now().UnixMilli()) {
		p.redirects.DeleteExpired(entry.ID)
		writeTextError(w, http.StatusGone, "Temporary redirect has expired")
		return
	}

	target := entry.TargetURL + rawQuery(r)
	u, err := url.Parse(entry.TargetURL)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "Temporary Redirect Failed: invalid target URL")
		return
	}
	if res := p.classify(u.Host); res.Internal {
		p.log.Warn("blocked internal target", "path", r.URL.Path, "target", entry.TargetURL, "reason", res.Reason)
		writeTextError(w, http.StatusForbidden, "Access blocked: "+res.Reason)
		return
	}

	if entry.RedirectOnly {
		p.log.Info("redirecting", "path", r.URL.Path, "target", entry.TargetURL)
		w.Header().Set("Location", target)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusFound)
		return
	}

	p.log.Info("proxying temp redirect", "path", r.URL.Path, "target", target)
	timeout := p.routes.Current().RequestTimeout(entry.TimeoutMS)
	outbound := buildOutboundHeaders(r, u.Host, entry.ExtraHeaders)

	// Temporary redirect traffic is not audited.
	resp, err := p.doForward(r, target, outbound, timeout)
	if err != nil {
		status, msg := classifyForwardError(err, timeout)
		if status == http.StatusGatewayTimeout {
			p.log.Warn("temp redirect timeout", "path", r.URL.Path, "timeout", timeout)
		} else {
			p.log.Error("temp redirect failed", "path", r.URL.Path, "err", err)
		}
		writeTextError(w, status, "Temporary Redirect Failed: "+msg)
		return
	}
	defer resp.Body.Close()
	p.relayResponse(w, resp, target)
}

func (p *Proxy) serveMapped(w http.ResponseWriter, r *http.Request, routes *config.Routes, prefix string, mapping domain.RouteMapping) {
	target := mapping.TargetURL + r.URL.Path[len(prefix):] + rawQuery(r)
	u, err := url.Parse(mapping.TargetURL)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "API Connection Failed: invalid target URL")
		return
	}
	if res := p.classify(u.Host); res.Internal {
		p.log.Warn("blocked internal target", "path", r.URL.Path, "target", mapping.TargetURL, "reason", res.Reason)
		writeTextError(w, http.StatusForbidden, "Access blocked: "+res.Reason)
		return
	}

	p.log.Info("proxying", "path", r.URL.Path, "target", target)
	timeout := routes.RequestTimeout(mapping.TimeoutMS)
	outbound := buildOutboundHeaders(r, u.Host, mapping.ExtraHeaders)

	start := p.now()
	resp, err := p.doForward(r, target, outbound, timeout)
	duration := p.now().Sub(start).Milliseconds()

	entry := domain.AuditEntry{
		Timestamp:      start.UTC().Format(time.RFC3339),
		Method:         r.Method,
		Path:           r.URL.Path + rawQuery(r),
		TargetURL:      target,
		DurationMS:     duration,
		RequestHeaders: audit.Diff(r.Header, outbound),
		Metadata: domain.AuditMetadata{
			RequestSize: nonNegative(r.ContentLength),
			UserAgent:   r.Header.Get("User-Agent"),
		},
	}

	if err != nil {
		status, msg := classifyForwardError(err, timeout)
		if status == http.StatusGatewayTimeout {
			p.log.Warn("request timeout", "path", r.URL.Path, "timeout", timeout)
		} else {
			p.log.Error("upstream request failed", "path", r.URL.Path, "err", err)
		}
		entry.Status = status
		entry.ResponseHeaders = map[string]string{}
		p.audit.Record(prefix, entry)
		writeTextError(w, status, "API Connection Failed: "+msg)
		return
	}
	defer resp.Body.Close()

	entry.Status = resp.StatusCode
	entry.ResponseHeaders = audit.FlattenHeaders(resp.Header)
	entry.Metadata.ResponseSize = nonNegative(resp.ContentLength)
	entry.Metadata.ContentType = resp.Header.Get("Content-Type")
	p.audit.Record(prefix, entry)

	p.relayResponse(w, resp, target)
}

func rawQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func writeTextError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
