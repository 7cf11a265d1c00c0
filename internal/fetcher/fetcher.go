// Package fetcher is the HTTP collaborator spec.md §1 lists as an
// external interface: given a source URL, return its raw bytes. It
// carries the fixed ~60s per-request timeout spec.md §5 calls for and
// an HTTP/2-tuned transport.
//
// Grounded on the teacher's internal/storage/drivers/s3.go
// (createOptimizedHTTPClient) for connection-pool tuning and HTTP/2
// negotiation via golang.org/x/net/http2, generalized from an
// S3-specific client builder into a general-purpose origin fetcher.
// s3:// URLs are delegated to internal/originstore when one is
// configured, matching the teacher's storage/factory.go driver-dispatch
// idiom.
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/imaged/imaged-go/internal/logger"
)

// DefaultTimeout matches spec.md §5's "fixed per-request timeout (order
// of 60s)".
const DefaultTimeout = 60 * time.Second

// OriginStore delegates s3:// URLs to an object-storage backend.
// internal/originstore.Store satisfies this; nil disables s3:// support.
type OriginStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Config tunes the HTTP transport. Zero values fall back to the same
// defaults as the teacher's S3HTTPConfig.
type Config struct {
	Timeout               time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ConnectTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	Origin                OriginStore
}

// Fetcher implements pipeline.Fetcher over HTTP(S), with an optional
// s3:// escape hatch.
type Fetcher struct {
	client *http.Client
	origin OriginStore
}

func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxIdleConns := orDefault(cfg.MaxIdleConns, 100)
	maxIdleConnsPerHost := orDefault(cfg.MaxIdleConnsPerHost, 100)
	idleConnTimeout := orDefaultDuration(cfg.IdleConnTimeout, 90*time.Second)
	connectTimeout := orDefaultDuration(cfg.ConnectTimeout, 10*time.Second)
	tlsHandshakeTimeout := orDefaultDuration(cfg.TLSHandshakeTimeout, 10*time.Second)
	responseHeaderTimeout := orDefaultDuration(cfg.ResponseHeaderTimeout, 10*time.Second)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warnf("fetcher: failed to configure HTTP/2: %v", err)
	}

	return &Fetcher{
		client: &http.Client{Transport: transport, Timeout: timeout},
		origin: cfg.Origin,
	}
}

// Fetch retrieves the bytes at rawURL, satisfying pipeline.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: parsing url %q: %w", rawURL, err)
	}

	if u.Scheme == "s3" {
		if f.origin == nil {
			return nil, fmt.Errorf("fetcher: s3:// origin requested but no origin store configured")
		}
		bucket := u.Host
		key := strings.TrimPrefix(u.Path, "/")
		return f.origin.Get(ctx, bucket, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: building request for %q: %w", rawURL, err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: requesting %q: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetcher: received status code: %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("fetcher: reading body of %q: %w", rawURL, err)
	}
	return body, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
