package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/passage/internal/audit"
	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/domain"
	"github.com/koltyakov/passage/internal/log"
	"github.com/koltyakov/passage/internal/netfilter"
	"github.com/koltyakov/passage/internal/redirect"
)

type testProxy struct {
	proxy     *Proxy
	table     *config.Table
	redirects *redirect.Store
	audit     *audit.Log
}

// newTestProxy builds a proxy whose network filter admits everything, since
// httptest upstreams listen on loopback.
func newTestProxy(t *testing.T) *testProxy {
	t.Helper()
	dir := t.TempDir()
	logger := log.New("error")

	table := config.NewTable(filepath.Join(dir, "config.json"), logger)
	if err := table.Load(); err != nil {
		t.Fatalf("table load: %v", err)
	}
	store := redirect.NewStore(filepath.Join(dir, "temp-redirects.json"), logger)
	auditLog := audit.NewLog()

	p := New(table, store, auditLog, logger)
	p.classify = func(string) netfilter.Result { return netfilter.Result{} }

	return &testProxy{proxy: p, table: table, redirects: store, audit: auditLog}
}

func (tp *testProxy) setRoutes(t *testing.T, mappings map[string]domain.RouteMapping) {
	t.Helper()
	routes := config.DefaultRoutes()
	for prefix, m := range mappings {
		routes.Mappings[prefix] = m
	}
	if err := tp.table.Replace(routes); err != nil {
		t.Fatalf("replace routes: %v", err)
	}
}

func TestUnmappedPathReturns404(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing/here", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Body.String() != "Path not configured" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestStaticMappingForwards(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "host=%s path=%s query=%s auth=%s", r.Host, r.URL.Path, r.URL.RawQuery, r.Header.Get("X-Api-Token"))
	}))
	defer upstream.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/api": {
			Name:         "api",
			TargetURL:    upstream.URL,
			ExtraHeaders: map[string]string{"X-Api-Token": "secret"},
		},
	})

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users?page=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	wantHost := strings.TrimPrefix(upstream.URL, "http://")
	for _, want := range []string{"host=" + wantHost, "path=/users", "query=page=2", "auth=secret"} {
		if !strings.Contains(body, want) {
			t.Fatalf("upstream saw %q, want %q in it", body, want)
		}
	}

	entries := tp.audit.Entries("/api")
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != http.StatusOK || e.Method != http.MethodGet {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e.Path != "/api/users?page=2" {
		t.Fatalf("audit path: %q", e.Path)
	}
	if e.RequestHeaders.Added["X-Api-Token"] != "secret" {
		t.Fatalf("extra header missing from added set: %+v", e.RequestHeaders.Added)
	}
	if _, ok := e.RequestHeaders.Added["Host"]; !ok {
		t.Fatalf("Host must appear in added set: %+v", e.RequestHeaders.Added)
	}
}

func TestHeaderDiffRecordsModified(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/api": {
			Name:         "api",
			TargetURL:    upstream.URL,
			ExtraHeaders: map[string]string{"B": "3", "C": "4"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("A", "1")
	req.Header.Set("B", "2")
	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, req)

	entries := tp.audit.Entries("/api")
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	diff := entries[0].RequestHeaders
	if diff.Modified["B"] != "3" || len(diff.Modified) != 1 {
		t.Fatalf("unexpected modified set: %+v", diff.Modified)
	}
	if diff.Added["C"] != "4" {
		t.Fatalf("unexpected added set: %+v", diff.Added)
	}
	if _, ok := diff.Added["A"]; ok {
		t.Fatalf("untouched header must not be in added: %+v", diff.Added)
	}
}

func TestFirstMatchingPrefixWins(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "upstream-a")
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "upstream-b")
	}))
	defer b.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/api":    {Name: "a", TargetURL: a.URL},
		"/api/v2": {Name: "b", TargetURL: b.URL},
	})

	// Sorted prefix order puts /api first, shadowing /api/v2.
	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/users", nil))
	if got := rec.Body.String(); got != "upstream-a" {
		t.Fatalf("expected first-match upstream-a, got %q", got)
	}
}

func TestTempRedirectBeatsStaticPrefix(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "static upstream")
	}))
	defer static.Close()

	entry, err := tp.redirects.Create("https://elsewhere.example.com", domain.NeverExpires,
		redirect.CreateOptions{RedirectOnly: true})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}
	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/" + entry.ID: {Name: "collision", TargetURL: static.URL},
	})

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID, nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected temp redirect to win with 302, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRedirectOnlyResponse(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	entry, err := tp.redirects.Create("https://dl.example.com/file.zip", domain.NeverExpires,
		redirect.CreateOptions{RedirectOnly: true})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID+"?token=abc", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://dl.example.com/file.zip?token=abc" {
		t.Fatalf("unexpected location: %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "0" {
		t.Fatalf("expected explicit zero content-length, got %q", got)
	}
}

func TestTempRedirectForwards(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "temp=%s", r.Header.Get("X-Temp"))
	}))
	defer upstream.Close()

	entry, err := tp.redirects.Create(upstream.URL+"/payload", domain.NeverExpires,
		redirect.CreateOptions{ExtraHeaders: map[string]string{"X-Temp": "yes"}})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "temp=yes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	// Temporary redirect traffic leaves no audit trail.
	if got := tp.audit.Prefixes(); len(got) != 0 {
		t.Fatalf("temp redirect traffic must not be audited: %v", got)
	}
}

func TestExpiredTempRedirectIsGoneAndDeleted(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	entry, err := tp.redirects.Create("https://dl.example.com/file.zip", 60, redirect.CreateOptions{})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}

	// The routing clock moves past the expiry while the store's sweep clock
	// stays put, exercising the lazy expiry path.
	tp.proxy.now = func() time.Time { return time.UnixMilli(entry.ExpiresAt + 1) }

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID, nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
	if rec.Body.String() != "Temporary redirect has expired" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if _, ok := tp.redirects.Get(entry.ID); ok {
		t.Fatal("expired entry must be deleted on detection")
	}

	// A repeat request now misses routing entirely.
	rec = httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after deletion, got %d", rec.Code)
	}
}

func TestTimeoutReturns504(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	release := make(chan struct{})
	defer close(release)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/slow": {Name: "slow", TargetURL: upstream.URL, TimeoutMS: 50},
	})

	start := time.Now()
	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow/op", nil))
	elapsed := time.Since(start)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "API Connection Failed: Request timeout after 50ms" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout did not abort the call promptly: %s", elapsed)
	}

	entries := tp.audit.Entries("/slow")
	if len(entries) != 1 || entries[0].Status != http.StatusGatewayTimeout {
		t.Fatalf("expected audited 504, got %+v", entries)
	}
	if len(entries[0].ResponseHeaders) != 0 {
		t.Fatalf("error entries carry no response headers: %+v", entries[0].ResponseHeaders)
	}
}

func TestUpstreamFailureReturns502(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	// A server that is immediately closed leaves a refused port behind.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/down": {Name: "down", TargetURL: deadURL},
	})

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down/ping", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "API Connection Failed: ") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	entries := tp.audit.Entries("/down")
	if len(entries) != 1 || entries[0].Status != http.StatusBadGateway {
		t.Fatalf("expected audited 502, got %+v", entries)
	}
}

func TestInternalTargetBlocked(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)
	tp.proxy.classify = netfilter.Classify

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/meta": {Name: "meta", TargetURL: "http://169.254.169.254/latest"},
	})

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/meta/creds", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Access blocked: ") {
		t.Fatalf("expected reason in body, got %q", rec.Body.String())
	}
}

func TestInternalTempRedirectBlocked(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	entry, err := tp.redirects.Create("http://192.168.1.10:8080/admin", domain.NeverExpires, redirect.CreateOptions{})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}
	tp.proxy.classify = netfilter.Classify

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+entry.ID, nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUpstreamDispositionSurvivesRelay(t *testing.T) {
	t.Parallel()
	tp := newTestProxy(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `inline; filename="orig.bin"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, "data")
	}))
	defer upstream.Close()

	tp.setRoutes(t, map[string]domain.RouteMapping{
		"/files": {Name: "files", TargetURL: upstream.URL},
	})

	rec := httptest.NewRecorder()
	tp.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/pkg.zip", nil))

	if got := rec.Header().Get("Content-Disposition"); got != `inline; filename="orig.bin"` {
		t.Fatalf("upstream disposition lost: %q", got)
	}
}
