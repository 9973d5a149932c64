package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koltyakov/passage/internal/netutil"
)

// buildOutboundHeaders clones the client's headers, strips hop-by-hop
// headers, overwrites Host with the upstream's, and applies the route's
// extra headers. The returned set is what the audit diff compares against;
// the transport-level request carries Host via Request.Host instead.
func buildOutboundHeaders(r *http.Request, targetHost string, extra map[string]string) http.Header {
	h := r.Header.Clone()
	netutil.RemoveHopByHopHeaders(h)
	h.Set("Host", targetHost)
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

// doForward issues the upstream request with a hard deadline. The caller
// owns the response body.
func (p *Proxy) doForward(r *http.Request, targetURL string, outbound http.Header, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	body := io.Reader(r.Body)
	if r.ContentLength == 0 {
		// Avoid chunked encoding on bodiless requests.
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vv := range outbound {
		// The Go transport derives the wire-level Host from Request.Host.
		if strings.EqualFold(k, "Host") {
			continue
		}
		req.Header[k] = vv
	}
	req.Host = outbound.Get("Host")
	req.ContentLength = r.ContentLength

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnCloseBody{body: resp.Body, cancel: cancel}
	return resp, nil
}

// relayResponse copies the upstream response downstream, applying download
// header post-processing first.
func (p *Proxy) relayResponse(w http.ResponseWriter, resp *http.Response, targetURL string) {
	header := resp.Header.Clone()
	netutil.RemoveHopByHopHeaders(header)
	rewriteDownloadHeaders(header, targetURL)

	dst := w.Header()
	for k, vv := range header {
		dst[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug("response body copy interrupted", "err", err)
	}
}

// classifyForwardError maps an upstream failure to a status and a message:
// deadline exceeded becomes 504, everything else 502.
func classifyForwardError(err error, timeout time.Duration) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, fmt.Sprintf("Request timeout after %dms", timeout.Milliseconds())
	}
	return http.StatusBadGateway, err.Error()
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// cancelOnCloseBody ties the request's timeout context to the response body
// so the deadline stays armed while the body streams.
type cancelOnCloseBody struct {
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Read(p []byte) (int, error) { return b.body.Read(p) }

func (b *cancelOnCloseBody) Close() error {
	b.cancel()
	return b.body.Close()
}
