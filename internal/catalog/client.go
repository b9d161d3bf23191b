package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Project is one catalog entry. The same project may appear under several
// causes; the synchronizer deduplicates by ID.
type Project struct {
	ID              string `json:"id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	TwitterHandle   string `json:"twitter_handle,omitempty"`
	FarcasterHandle string `json:"farcaster_handle,omitempty"`
	Score           int    `json:"score,omitempty" validate:"gte=0,lte=100"`
}

// Cause is one catalog grouping of projects.
type Cause struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Projects []Project `json:"projects"`
}

// Client pages through the upstream catalog. An empty page means the
// catalog is exhausted.
type Client interface {
	ListCauses(ctx context.Context, offset, limit int) ([]Cause, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(opts ClientOptions) Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL: opts.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) ListCauses(ctx context.Context, offset, limit int) ([]Cause, error) {
	endpoint, err := url.JoinPath(c.baseURL, "api", "v1", "causes")
	if err != nil {
		return nil, errors.Wrap(err, "building catalog url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating catalog request")
	}
	q := req.URL.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "listing causes")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var causes []Cause
	if err := json.NewDecoder(resp.Body).Decode(&causes); err != nil {
		return nil, errors.Wrap(err, "decoding catalog response")
	}
	return causes, nil
}
