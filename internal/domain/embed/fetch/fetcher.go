package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"streamhive-server-go/internal/platform/errors"
)

// Config controls outbound embed requests.
type Config struct {
	// Timeout bounds the whole request, connect through body read.
	Timeout time.Duration
	// MaxRedirects caps redirect chains before the fetch is abandoned.
	MaxRedirects int
	// MaxBodyBytes caps how much of the upstream body is read.
	MaxBodyBytes int64
	// UserAgent is sent on every request. Providers serve degraded or empty
	// pages to clients that do not look like browsers.
	UserAgent string
	// AcceptLanguage is sent alongside the browser headers.
	AcceptLanguage string
	// Transport overrides the HTTP transport, e.g. for an egress proxy.
	Transport http.RoundTripper
}

// Result carries a successful upstream response.
type Result struct {
	Body        string
	StatusCode  int
	ContentType string
	FinalURL    string
	Elapsed     time.Duration
}

// Fetcher retrieves embed documents from upstream providers with
// browser-like request headers. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

// New creates a Fetcher. Zero config fields fall back to conservative
// defaults.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}

	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Fetch retrieves rawURL. The URL must already have passed validation; the
// fetcher does no safety checking of its own. Upstream non-2xx statuses and
// transport failures both return KindFetch errors so the caller can collapse
// them into a single upstream-failure response.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	const op = "fetch.Fetch"

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindFetch, op, "build request", err)
	}

	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	req.Header.Set("Referer", rawURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindFetch, op, "upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.KindFetch, op,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.KindFetch, op, "read upstream body", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Body:        string(body),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
		Elapsed:     time.Since(start),
	}, nil
}
