package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// maxProxyBytes caps the size of a proxied image.
const maxProxyBytes = 10 << 20

// errNonPublicAddress is returned when a proxy target resolves to a
// loopback, private, link-local or otherwise non-routable address.
var errNonPublicAddress = errors.New("address is not public")

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598).
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// newProxyClient returns the default image-proxy client. Its dialer checks
// every resolved address, redirects included.
func newProxyClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnly}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: 15 * time.Second, Transport: transport}
}

// publicOnly is a net.Dialer Control func refusing non-public addresses.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("dialing %s: %w", ip, errNonPublicAddress)
	}
	return nil
}

// handleImageProxy handles GET /api/image-proxy?url=. It re-serves a remote
// image with CORS headers so that browsers may draw it onto a canvas.
func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid URL scheme")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	resp, err := s.opts.ProxyClient.Do(req)
	if errors.Is(err, errNonPublicAddress) {
		slog.Warn("image proxy refused non-public target", "url", u.Redacted())
		writeError(w, http.StatusForbidden, "url not allowed")
		return
	}
	if err != nil {
		slog.Warn("image proxy fetch failed", "url", u.Redacted(), "error", err)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream fetch failed: %d", resp.StatusCode))
		return
	}
	if resp.ContentLength > maxProxyBytes {
		writeError(w, http.StatusBadGateway, "upstream response too large")
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream read failed")
		return
	}
	if len(body) > maxProxyBytes {
		writeError(w, http.StatusBadGateway, "upstream response too large")
		return
	}

	ct := resp.Header.Get("Content-Type")
	if strings.TrimSpace(ct) == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
