// Package proxy rotates egress identities for the lightweight tier.
package proxy

import (
	"log"
	"os"
	"strings"
	"sync"
)

// Pool is a round-robin cycle over alive proxy endpoints. Endpoints are
// health-checked lazily: a caller-reported failure evicts the endpoint and
// rebuilds the cycle. An empty pool means direct egress.
type Pool struct {
	mu        sync.Mutex
	endpoints []string
	next      int
}

func New(endpoints []string) *Pool {
	alive := make([]string, 0, len(endpoints))

	for _, e := range endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		if !strings.Contains(e, "://") {
			e = "http://" + e
		}

		alive = append(alive, e)
	}

	return &Pool{endpoints: alive}
}

// FromEnv loads endpoints from the PROXY_LIST environment variable (comma
// separated) or, failing that, from a flat file (one endpoint per line).
func FromEnv(proxyFile string) *Pool {
	if env := os.Getenv("PROXY_LIST"); env != "" {
		pool := New(strings.Split(env, ","))
		log.Printf("proxy pool: loaded %d endpoints from PROXY_LIST", pool.Len())

		return pool
	}

	if proxyFile != "" {
		if data, err := os.ReadFile(proxyFile); err == nil {
			pool := New(strings.Split(string(data), "\n"))
			log.Printf("proxy pool: loaded %d endpoints from %s", pool.Len(), proxyFile)

			return pool
		}
	}

	log.Printf("proxy pool: no proxies configured, using direct egress")

	return New(nil)
}

// Next returns the next alive endpoint, or ok=false when the pool is empty
// and the caller should use direct egress.
func (p *Pool) Next() (endpoint string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return "", false
	}

	endpoint = p.endpoints[p.next%len(p.endpoints)]
	p.next++

	return endpoint, true
}

// ReportFailure evicts an endpoint the caller found dead and rebuilds the
// cycle over the remaining ones.
func (p *Pool) ReportFailure(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.endpoints {
		if e == endpoint {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			p.next = 0

			log.Printf("proxy pool: removed %s (%d left)", endpoint, len(p.endpoints))

			return
		}
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.endpoints)
}
