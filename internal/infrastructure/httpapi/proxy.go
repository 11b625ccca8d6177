package httpapi

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"reqlens/internal/domain"
)

// handleProxy is a capturing reverse proxy. Requests to /proxy/* are
// forwarded to `target` (query param, falling back to the configured
// upstream) and the exchange is fed into the normalizer as capture
// events, so proxied traffic lands in the store like any other capture.
func (d *Deps) handleProxy(w http.ResponseWriter, r *http.Request) {
	tgt := r.URL.Query().Get("target")
	if tgt == "" {
		if d.Cfg.ProxyTarget != "" {
			tgt = d.Cfg.ProxyTarget
		} else {
			writeError(w, http.StatusBadRequest, "MISSING_TARGET", "missing target", nil)
			return
		}
	}
	u, err := url.Parse(tgt)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", "invalid target", map[string]any{"target": tgt})
		return
	}

	// Join the path suffix after /proxy onto the target path.
	suffix := strings.TrimPrefix(r.URL.Path, "/proxy")
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	upstream := *u
	upstream.Path = strings.TrimRight(upstream.Path, "/") + suffix

	qp := r.URL.Query()
	qp.Del("target")
	upstream.RawQuery = qp.Encode()

	corr := "proxy-" + uuid.NewString()
	start := time.Now()
	d.Norm.Feed(domain.CaptureEvent{
		CorrelationID: corr,
		Phase:         domain.PhaseStarted,
		Method:        r.Method,
		URL:           upstream.String(),
		Ts:            start.UTC(),
	})
	d.Norm.Feed(domain.CaptureEvent{
		CorrelationID: corr,
		Phase:         domain.PhaseHeaders,
		Direction:     domain.DirectionRequest,
		Headers:       headerPairs(r.Header),
	})

	// Peek the request body up to the configured cap and keep the stream
	// intact for the upstream.
	if r.Body != nil {
		if peek := peekBody(&r.Body, d.Cfg.BodyMaxBytes); len(peek) > 0 {
			d.Norm.Feed(domain.CaptureEvent{
				CorrelationID: corr,
				Phase:         domain.PhaseBodyChunk,
				Direction:     domain.DirectionRequest,
				BodyChunk:     peek,
			})
		}
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL = &upstream
			req.Host = upstream.Host
			removeHopHeaders(req.Header)
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
				req.Header.Set("X-Forwarded-For", host)
			}
			if r.TLS != nil {
				req.Header.Set("X-Forwarded-Proto", "https")
			} else {
				req.Header.Set("X-Forwarded-Proto", "http")
			}
			req.Header.Set("Via", "reqlens")
		},
		ModifyResponse: func(resp *http.Response) error {
			d.Norm.Feed(domain.CaptureEvent{
				CorrelationID: corr,
				Phase:         domain.PhaseHeaders,
				Direction:     domain.DirectionResponse,
				Headers:       headerPairs(resp.Header),
			})
			if resp.Body != nil {
				if peek := peekBody(&resp.Body, d.Cfg.BodyMaxBytes); len(peek) > 0 {
					d.Norm.Feed(domain.CaptureEvent{
						CorrelationID: corr,
						Phase:         domain.PhaseBodyChunk,
						Direction:     domain.DirectionResponse,
						BodyChunk:     peek,
					})
				}
			}
			d.Norm.Feed(domain.CaptureEvent{
				CorrelationID: corr,
				Phase:         domain.PhaseCompleted,
				StatusCode:    resp.StatusCode,
				DurationMs:    time.Since(start).Milliseconds(),
				Ts:            time.Now().UTC(),
			})
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			d.Norm.Feed(domain.CaptureEvent{
				CorrelationID: corr,
				Phase:         domain.PhaseFailed,
				Error:         err.Error(),
				Ts:            time.Now().UTC(),
			})
			d.Logger.Error().Err(err).Str("target", upstream.String()).Msg("reverse proxy error")
			writeError(rw, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), map[string]any{"target": upstream.String()})
		},
	}
	proxy.ServeHTTP(w, r)
}

// peekBody reads up to max bytes from *body and reattaches the read
// prefix so the downstream consumer still sees the full stream.
func peekBody(body *io.ReadCloser, max int) []byte {
	if max <= 0 {
		max = 64 << 10
	}
	peek := make([]byte, max)
	n, _ := io.ReadFull(*body, peek)
	if n == 0 {
		return nil
	}
	rest := *body
	*body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(peek[:n]), rest), rest}
	return peek[:n]
}

// headerPairs converts net/http's header map into ordered pairs; names
// are sorted because the map does not preserve wire order.
func headerPairs(h http.Header) []domain.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.Header, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, domain.Header{Name: name, Value: v})
		}
	}
	return out
}

func removeHopHeaders(h http.Header) {
	hop := []string{"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade"}
	for _, k := range hop {
		h.Del(k)
	}
}
