// Package proxy intercepts outbound read requests and applies a per-class
// caching policy in front of the origin.
//
// Static assets and the root document are served cache-first: a cached copy
// goes out immediately and a background fetch refreshes it. Dynamic API
// resources are network-first: the origin is always tried, with the cache
// as the offline fallback. Mutating requests and the live-update websocket
// are never intercepted — mutations stay under the sync engine's sole
// authority, and the push stream's semantics do not fit request/response
// caching at all.
//
// Every cached row is tagged with the build's cache version; Activate()
// purges rows from older builds so no stale-schema cache survives a
// deployment.
package proxy

import (
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rackline/scoresync/internal/store"
)

// Config holds configuration for the proxy.
type Config struct {
	// Origin is the authoritative server's base URL.
	Origin string

	// Version tags every cache row written by this build.
	Version string

	// APIPrefixes classify network-first resources. Default ["/api/"].
	APIPrefixes []string

	// PushPath is the live-update endpoint, always passed through.
	// Default "/ws".
	PushPath string

	// FetchTimeout bounds one origin fetch. Default 10s.
	FetchTimeout time.Duration

	// Logger for proxy activity.
	Logger *log.Logger
}

// Proxy is the caching front. It implements http.Handler.
type Proxy struct {
	config  *Config
	store   *store.Store
	origin  *url.URL
	client  *http.Client
	forward *httputil.ReverseProxy

	// refreshWG tracks background cache refreshes so Close can drain them.
	refreshWG sync.WaitGroup
}

// New creates a proxy in front of the configured origin.
func New(config *Config, st *store.Store) (*Proxy, error) {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[proxy] ", log.LstdFlags)
	}
	if len(config.APIPrefixes) == 0 {
		config.APIPrefixes = []string{"/api/"}
	}
	if config.PushPath == "" {
		config.PushPath = "/ws"
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}

	origin, err := url.Parse(config.Origin)
	if err != nil {
		return nil, err
	}

	return &Proxy{
		config:  config,
		store:   st,
		origin:  origin,
		client:  &http.Client{Timeout: config.FetchTimeout},
		forward: httputil.NewSingleHostReverseProxy(origin),
	}, nil
}

// Activate purges caches written by other builds. Call once at startup.
func (p *Proxy) Activate() {
	if purged := p.store.PurgeResourcesExcept(p.config.Version); purged > 0 {
		p.config.Logger.Printf("purged %d cache row(s) from older builds", purged)
	}
}

// Close waits for in-flight background refreshes to finish.
func (p *Proxy) Close() {
	p.refreshWG.Wait()
}

// ServeHTTP routes each request to its policy.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only reads are interceptable. Everything else goes straight through,
	// as does the push channel (including its upgrade handshake).
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		p.forward.ServeHTTP(w, r)
		return
	}
	if r.URL.Path == p.config.PushPath || isUpgrade(r) {
		p.forward.ServeHTTP(w, r)
		return
	}

	if p.isAPI(r.URL.Path) {
		p.networkFirst(w, r)
		return
	}
	p.cacheFirst(w, r)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (p *Proxy) isAPI(path string) bool {
	for _, prefix := range p.config.APIPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// cacheKey identifies one cacheable resource.
func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// cacheFirst serves the cached copy immediately when present, refreshing it
// in the background regardless. A miss fetches, caches, and returns; a miss
// that also fails on the network falls back to the cached root document for
// navigation requests.
func (p *Proxy) cacheFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	if res, ok := p.store.GetResource(key); ok {
		p.writeResource(w, r, res, http.StatusOK)

		p.refreshWG.Add(1)
		go func() {
			defer p.refreshWG.Done()
			if _, _, err := p.fetchAndCache(key); err != nil {
				p.config.Logger.Printf("background refresh of %s failed: %v", key, err)
			}
		}()
		return
	}

	res, status, err := p.fetchAndCache(key)
	if err == nil {
		p.writeResource(w, r, res, status)
		return
	}

	if isNavigation(r) {
		if root, ok := p.store.GetResource("/"); ok {
			p.config.Logger.Printf("serving cached root document for %s: %v", key, err)
			p.writeResource(w, r, root, http.StatusOK)
			return
		}
	}
	http.Error(w, "origin unreachable and no cached copy", http.StatusBadGateway)
}

// networkFirst always tries the origin; a fresh response refreshes the
// cache, a dead origin falls back to the last cached copy, and with
// neither the failure propagates.
func (p *Proxy) networkFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	res, status, err := p.fetchAndCache(key)
	if err == nil {
		p.writeResource(w, r, res, status)
		return
	}

	if cached, ok := p.store.GetResource(key); ok {
		p.config.Logger.Printf("origin unreachable, serving cached %s", key)
		p.writeResource(w, r, cached, http.StatusOK)
		return
	}
	http.Error(w, "origin unreachable and no cached copy", http.StatusBadGateway)
}

// isNavigation detects a document-navigation request.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// fetchAndCache retrieves key from the origin and, on a 200, overwrites the
// cached copy under the current version tag. The origin's status code is
// returned so non-cacheable responses still reach the client unchanged.
func (p *Proxy) fetchAndCache(key string) (store.Resource, int, error) {
	req, err := http.NewRequest(http.MethodGet, p.origin.String()+key, nil)
	if err != nil {
		return store.Resource{}, 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return store.Resource{}, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return store.Resource{}, 0, err
	}

	res := store.Resource{
		URL:          key,
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		CacheVersion: p.config.Version,
		FetchedAt:    time.Now().UTC(),
	}

	if resp.StatusCode == http.StatusOK {
		p.store.PutResource(key, body, res.ContentType, p.config.Version)
	}
	return res, resp.StatusCode, nil
}

// writeResource writes a cached or fetched resource to the client.
func (p *Proxy) writeResource(w http.ResponseWriter, r *http.Request, res store.Resource, status int) {
	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Body)
	}
}
