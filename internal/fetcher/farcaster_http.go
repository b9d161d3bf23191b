package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// farcasterClient reads casts from the free hub API. No authentication, but
// the endpoint throttles aggressively; the processor's per-kind delays keep
// us under the limit.
type farcasterClient struct {
	baseURL string
	client  *http.Client
}

type FarcasterOptions struct {
	BaseURL string
	Timeout time.Duration
}

func NewFarcasterClient(opts FarcasterOptions) (CastSource, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("farcaster base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "invalid farcaster base url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &farcasterClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *farcasterClient) CastsByHandle(ctx context.Context, handle string, limit int) ([]Item, error) {
	endpoint := fmt.Sprintf("%s/v2/casts?username=%s&limit=%d",
		c.baseURL, url.QueryEscape(handle), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building casts request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "casts request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.New("rate limited by farcaster api")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("casts returned status %d", resp.StatusCode)
	}

	var body struct {
		Casts []struct {
			Hash      string    `json:"hash"`
			Text      string    `json:"text"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"casts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding casts response")
	}

	items := make([]Item, 0, len(body.Casts))
	for _, cast := range body.Casts {
		items = append(items, Item{
			ExternalID: cast.Hash,
			Text:       cast.Text,
			Timestamp:  cast.Timestamp,
			URL:        fmt.Sprintf("https://warpcast.com/%s/%s", handle, cast.Hash),
		})
	}
	return items, nil
}
