package pota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURL     = "https://api.pota.app/v1/spots"
	DefaultTimeout = 15 * time.Second

	// Upper bound for a response body; the live feed is well under this.
	maxBodyBytes = 8 << 20
)

type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the current spot list. Each element is returned undecoded
// so a single malformed record does not fail the whole fetch.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "potamesh"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) URL() string { return c.cfg.URL }

// Fetch returns the raw records of the spot list in upstream order.
func (c *Client) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("spot api: http %d", resp.StatusCode)
	}

	var out []json.RawMessage
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("spot api: empty body")
		}
		return nil, fmt.Errorf("spot api: decode: %w", err)
	}
	return out, nil
}
