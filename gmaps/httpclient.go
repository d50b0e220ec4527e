package gmaps

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/khushsoniamparo/Google-Extractor/proxy"
)

const requestTimeout = 15 * time.Second

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

func randomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// HTTPClient issues lightweight-tier requests. Direct egress uses a Chrome
// TLS fingerprint; proxied egress keeps one pooled client per endpoint so
// connections and DNS caching are reused across tasks.
type HTTPClient struct {
	pool *proxy.Pool

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPClient(pool *proxy.Pool) *HTTPClient {
	return &HTTPClient{
		pool:    pool,
		clients: make(map[string]*http.Client),
	}
}

// Do fetches rawURL through the next egress identity with the given session
// cookie and a randomized user agent. A transport failure evicts the proxy
// that caused it.
func (c *HTTPClient) Do(ctx context.Context, rawURL, cookie string) (int, []byte, error) {
	endpoint := ""
	if c.pool != nil {
		endpoint, _ = c.pool.Next()
	}

	client := c.clientFor(endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		if endpoint != "" {
			c.pool.ReportFailure(endpoint)
			c.dropClient(endpoint)
		}

		return 0, nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading body: %w", err)
	}

	return resp.StatusCode, body, nil
}

func (c *HTTPClient) clientFor(endpoint string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[endpoint]; ok {
		return client
	}

	client := &http.Client{
		Transport: newTransport(endpoint),
		Timeout:   requestTimeout,
	}

	c.clients[endpoint] = client

	return client
}

func (c *HTTPClient) dropClient(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.clients, endpoint)
}

func newTransport(proxyEndpoint string) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        150,
		MaxIdleConnsPerHost: 150,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxyEndpoint != "" {
		// The proxy terminates the connection; standard TLS is fine there.
		if proxyURL, err := url.Parse(proxyEndpoint); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // rotating proxies routinely MITM TLS
		}

		return transport
	}

	// Direct egress: present a Chrome TLS fingerprint, pinned to HTTP/1.1.
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			conn.Close()

			return nil, err
		}

		for i, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
				spec.Extensions[i] = alpn

				break
			}
		}

		tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloCustom)

		if err := tlsConn.ApplyPreset(&spec); err != nil {
			conn.Close()

			return nil, err
		}

		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()

			return nil, err
		}

		return tlsConn, nil
	}

	return transport
}
