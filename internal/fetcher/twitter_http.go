package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// scraperClient drives the authenticated scraping target over its private
// JSON endpoints. The target rotates session tokens and returns 401 once a
// token goes stale, which surfaces through Timeline.Valid.
type scraperClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

type ScraperOptions struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

func NewScraperSessionProvider(opts ScraperOptions) (SessionProvider, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("scraper base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "invalid scraper base url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &scraperClient{
		baseURL:  strings.TrimRight(base, "/"),
		username: opts.Username,
		password: opts.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (c *scraperClient) Login(ctx context.Context) (Timeline, error) {
	payload, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "login request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding login response")
	}
	if body.Token == "" {
		return nil, errors.New("login response carried no token")
	}

	return &scraperSession{client: c, token: body.Token, valid: true}, nil
}

type scraperSession struct {
	client *scraperClient
	token  string
	valid  bool
}

func (s *scraperSession) Valid() bool {
	return s.valid
}

func (s *scraperSession) UserTimeline(ctx context.Context, handle string, limit int) ([]Item, error) {
	endpoint := fmt.Sprintf("%s/api/timeline?screen_name=%s&count=%d",
		s.client.baseURL, url.QueryEscape(handle), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building timeline request")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "timeline request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		s.valid = false
		return nil, errors.Errorf("session rejected with status %d", resp.StatusCode)
	default:
		return nil, errors.Errorf("timeline returned status %d", resp.StatusCode)
	}

	var body struct {
		Tweets []struct {
			ID        string    `json:"id"`
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"created_at"`
			Pinned    bool      `json:"pinned"`
		} `json:"tweets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding timeline response")
	}

	items := make([]Item, 0, len(body.Tweets))
	for _, t := range body.Tweets {
		items = append(items, Item{
			ExternalID: t.ID,
			Text:       t.Text,
			Timestamp:  t.CreatedAt,
			URL:        fmt.Sprintf("https://twitter.com/%s/status/%s", handle, t.ID),
			Pinned:     t.Pinned,
		})
	}
	return items, nil
}
