// Package upstream implements the authenticated HTTP client for the
// upstream OData-flavored MLS feed: request construction, gzip
// decompression, the error taxonomy in SPEC_FULL.md §3.1, and the internal
// 429 retry loop. Every request is routed through a caller-supplied rate
// governor before it is issued.
package upstream

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Governor is the subset of internal/ratelimit.Governor the client needs.
// Declared here (rather than importing internal/ratelimit) to keep the
// dependency direction pointing from ratelimit -> nothing and
// upstream -> this interface only.
type Governor interface {
	Await(ctx context.Context) error
}

// Page is one decoded response page from the feed.
type Page struct {
	Value      []map[string]any
	NextLink   string
	RawContext string
}

// Client is the authenticated upstream HTTP client.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	governor    Governor
	log         zerolog.Logger

	maxRetries int
}

// NewClient builds a client that routes every request through governor
// before issuing it.
func NewClient(baseURL, bearerToken string, governor Governor, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		governor:    governor,
		log:         log.With().Str("component", "upstream").Logger(),
		maxRetries:  5,
	}
}

// Fetch issues a single request for the given page request.
func (c *Client) Fetch(ctx context.Context, req PageRequest) (*Page, error) {
	return c.fetchPath(ctx, req.path())
}

// FetchNext follows an absolute @odata.nextLink from a prior page.
func (c *Client) FetchNext(ctx context.Context, nextLink string) (*Page, error) {
	rel, err := stripVersionPrefix(c.baseURL, nextLink)
	if err != nil {
		return nil, err
	}
	return c.fetchPath(ctx, rel)
}

// FetchOne fetches a single-object resource, e.g. a listing's media
// manifest: GET /Property('key')?$expand=Media&$select=ListingKey
func (c *Client) FetchOne(ctx context.Context, path string) (map[string]any, error) {
	page, err := c.fetchPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(page.Value) == 0 {
		return nil, &StatusError{Kind: ErrNotFound, StatusCode: 404, Body: "empty value array"}
	}
	return page.Value[0], nil
}

func (c *Client) fetchPath(ctx context.Context, path string) (*Page, error) {
	op := func() (*Page, error) {
		if err := c.governor.Await(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("awaiting rate governor: %w", err))
		}
		page, err := c.doRequest(ctx, path)
		if err != nil {
			var se *StatusError
			if asStatusError(err, &se) && se.Kind == ErrRateLimited {
				return nil, err
			}
			return page, backoff.Permanent(err)
		}
		return page, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff(func(b *backoff.ExponentialBackOff) {
			b.InitialInterval = 60 * time.Second
			b.Multiplier = 2
			b.MaxInterval = 10 * time.Minute
		})),
		backoff.WithMaxTries(uint(c.maxRetries)),
	)
	if err != nil {
		var se *StatusError
		if asStatusError(err, &se) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, path string) (*Page, error) {
	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "mls-sync-core/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrTransient, err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					c.log.Warn().Int("retry_after_s", secs).Msg("upstream asked for explicit retry-after")
					select {
					case <-time.After(time.Duration(secs) * time.Second):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
			}
		}
		return nil, classify(resp.StatusCode, string(body))
	}

	var decoded struct {
		Value    []map[string]any `json:"value"`
		NextLink string           `json:"@odata.nextLink"`
		Context  string           `json:"@odata.context"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	// Single-object responses (e.g. GET /Property('key')) aren't wrapped in
	// a "value" array; normalize them into one.
	if decoded.Value == nil {
		var single map[string]any
		if err := json.Unmarshal(body, &single); err == nil && len(single) > 0 {
			decoded.Value = []map[string]any{single}
		}
	}

	return &Page{Value: decoded.Value, NextLink: decoded.NextLink, RawContext: decoded.Context}, nil
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
