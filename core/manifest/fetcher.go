package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
)

var (
	// ErrManifestNotFound means no candidate location served the manifest.
	ErrManifestNotFound = errors.New("manifest not found")
	errUpstreamDown     = errors.New("upstream unavailable")
	errTooLarge         = errors.New("manifest exceeds size limit")
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultMaxBytes     = 1 << 20
	defaultUserAgent    = "extension-registry-validator/1.0"
)

// Fetched is a retrieved manifest and the exact URL it came from.
type Fetched struct {
	Text   string
	URL    string
	Branch string
}

// Fetcher retrieves manifests by trying candidate locations in order.
type Fetcher struct {
	client    *http.Client
	settings  Settings
	timeout   time.Duration
	maxBytes  int64
	userAgent string

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout bounds each candidate retrieval.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBytes caps the manifest body size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// NewFetcher creates a Fetcher whose transport caches DNS lookups.
func NewFetcher(settings Settings, opts ...Option) *Fetcher {
	f := &Fetcher{
		settings:  settings,
		timeout:   defaultFetchTimeout,
		maxBytes:  defaultMaxBytes,
		userAgent: defaultUserAgent,
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = newCachingClient()
	}
	return f
}

func newCachingClient() *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved IP")
			},
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Fetch tries each candidate in order and returns the first successful body.
// Every failure, including timeouts and open breakers, moves on to the next
// candidate. Cancellation of ctx itself is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, repo Repo) (*Fetched, error) {
	for _, cand := range Candidates(repo, f.settings) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := f.fetchCandidate(ctx, cand.URL)
		if err == nil {
			return &Fetched{Text: text, URL: cand.URL, Branch: cand.Branch}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logging.Info("fetcher", "candidate failed", "repo", repo.String(), "branch", cand.Branch, "error", err)
	}
	return nil, fmt.Errorf("%s: %w", repo, ErrManifestNotFound)
}

func (f *Fetcher) fetchCandidate(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	host := hostOf(rawURL)
	breaker := f.breaker(host)
	if !breaker.Ready() {
		return "", fmt.Errorf("circuit breaker open for %s: %w", host, errUpstreamDown)
	}

	var (
		status int
		body   []byte
	)
	err := breaker.Call(func() error {
		var callErr error
		status, body, callErr = f.get(ctx, rawURL)
		if callErr != nil {
			return callErr
		}
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("upstream status %d: %w", status, errUpstreamDown)
		}
		return nil
	}, 0)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("status %d", status)
	}
	return string(body), nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return resp.StatusCode, nil, errTooLarge
	}
	return resp.StatusCode, body, nil
}

// breaker returns the per-host breaker; it trips after 5 consecutive failures.
func (f *Fetcher) breaker(host string) *circuit.Breaker {
	f.mu.RLock()
	b, ok := f.breakers[host]
	f.mu.RUnlock()
	if ok {
		return b
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[host]; ok {
		return b
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	f.breakers[host] = b
	return b
}

// BreakerStates reports open/closed per upstream host.
func (f *Fetcher) BreakerStates() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.breakers))
	for host, b := range f.breakers {
		if b.Tripped() {
			out[host] = "open"
		} else {
			out[host] = "closed"
		}
	}
	return out
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
