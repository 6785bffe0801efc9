package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rennietech/mls-sync-core/internal/upstream"
)

// HTTPDownloader fetches asset bytes directly from the upstream media CDN
// (not through the OData client — these are pre-signed blob URLs, not API
// calls). 30s header timeout, 60s body timeout per the spec's media
// download bounds.
type HTTPDownloader struct {
	client *http.Client
}

func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, assetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building asset request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", upstream.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading asset body: %v", upstream.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := upstream.ErrPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = upstream.ErrRateLimited
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
			kind = upstream.ErrNotFound
		case resp.StatusCode >= 500:
			kind = upstream.ErrTransient
		}
		return nil, "", &upstream.StatusError{Kind: kind, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("empty asset body")
	}

	contentType := resp.Header.Get("Content-Type")
	return body, contentType, nil
}
