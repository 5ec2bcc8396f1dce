// ABOUTME: Source opener for local assets and http(s) URLs
// ABOUTME: Remote bodies are cached with a TTL and concurrent fetches of one URL are shared
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/harperreed/stagesound/pkg/audio/output"
)

var (
	// ErrStatus is returned for non-2xx HTTP responses
	ErrStatus = errors.New("fetch: unexpected status")

	// ErrTooLarge is returned when a remote body exceeds MaxBytes
	ErrTooLarge = errors.New("fetch: body too large")
)

// Config holds fetcher configuration
type Config struct {
	Root     string        // asset root for local sources
	Timeout  time.Duration // per request (default 30s)
	CacheTTL time.Duration // remote body lifetime (default 5m)
	MaxBytes int64         // remote body limit (default 64 MiB)
	Client   *http.Client  // default: http.Client with Timeout
	Logger   *slog.Logger
}

// Stats counts remote cache activity
type Stats struct {
	Hits    uint64
	Misses  uint64
	Fetches uint64
	Errors  uint64
}

// Fetcher opens sources for the playback device
type Fetcher struct {
	config Config
	logger *slog.Logger
	local  output.DirOpener
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group

	hits, misses, fetches, errs atomic.Uint64
}

// New creates a fetcher
func New(config Config) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 << 20
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: config.Timeout}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Fetcher{
		config: config,
		logger: config.Logger.With("module", "fetch"),
		local:  output.DirOpener{Root: config.Root},
		client: config.Client,
		cache:  cache.New(config.CacheTTL, config.CacheTTL*2),
	}
}

// IsRemote reports whether src is an http(s) URL
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Open implements output.Opener
func (f *Fetcher) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !IsRemote(src) {
		return f.local.Open(ctx, strings.TrimPrefix(src, "file://"))
	}

	if cached, ok := f.cache.Get(src); ok {
		f.hits.Add(1)
		return io.NopCloser(bytes.NewReader(cached.([]byte))), nil
	}
	f.misses.Add(1)

	ch := f.group.DoChan(src, func() (any, error) {
		// Shared by every waiter, so not bound to one caller's context
		reqCtx, cancel := context.WithTimeout(context.Background(), f.config.Timeout)
		defer cancel()
		return f.get(reqCtx, src)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return io.NopCloser(bytes.NewReader(res.Val.([]byte))), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	f.fetches.Add(1)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.errs.Add(1)
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.errs.Add(1)
		f.logger.Error("request failed", "url", url, "error", err)
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.errs.Add(1)
		return nil, fmt.Errorf("%w: %s: %d", ErrStatus, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		f.errs.Add(1)
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		f.errs.Add(1)
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, f.config.MaxBytes)
	}

	f.cache.SetDefault(url, body)
	f.logger.Debug("fetched", "url", url, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

// Invalidate drops the cached body of src
func (f *Fetcher) Invalidate(src string) {
	f.cache.Delete(src)
}

// Stats returns remote cache counters
func (f *Fetcher) Stats() Stats {
	return Stats{
		Hits:    f.hits.Load(),
		Misses:  f.misses.Load(),
		Fetches: f.fetches.Load(),
		Errors:  f.errs.Load(),
	}
}
