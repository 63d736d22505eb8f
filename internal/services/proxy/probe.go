// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Prober checks whether a proxy endpoint can actually reach the open
// internet. Selection runs every candidate through this before handing
// it to a browser session.
type Prober interface {
	// Probe attempts a request through the proxy. A nil return means
	// the proxy is usable.
	Probe(ctx context.Context, proxyURL string) error
}

// httpProber issues a HEAD request through the candidate proxy against
// a known-good endpoint. Works for http, https and socks5 proxy
// schemes via the stdlib transport.
type httpProber struct {
	targetURL string
	timeout   time.Duration
}

// NewHTTPProber creates a prober that HEADs targetURL through each
// candidate
func NewHTTPProber(targetURL string, timeout time.Duration) Prober {
	return &httpProber{
		targetURL: targetURL,
		timeout:   timeout,
	}
}

func (p *httpProber) Probe(ctx context.Context, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   p.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy: http.ProxyURL(parsed),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: p.timeout / 2,
		DisableKeepAlives:   true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.targetURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe received status %d", resp.StatusCode)
	}

	return nil
}
