package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scribe/log"
)

// Probe reports whether the API is reachable. A 401 counts as reachable: the
// server answered and only wants credentials. One attempt, bounded to 10s.
func (c *Client) Probe(ctx context.Context) bool {
	cfg := c.config()
	url := cfg.BaseURL + "/v1/models"

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Warnf("probe: build request: %v", err)
		return false
	}
	c.setHeaders(req.Header, cfg)

	resp, _, err := c.client.Open(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Warnf("probe: %s timed out after %s", url, c.probeTimeout)
		} else {
			log.Warnf("probe: %s: %v", url, err)
		}
		return false
	}
	// The status line decides; a body that never finishes must not.
	resp.Body.Close()

	connected := isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusUnauthorized
	log.Probe(url, resp.StatusCode, connected, time.Since(start))
	return connected
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Models lists the model identifiers the server offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	cfg := c.config()
	url := cfg.BaseURL + "/v1/models"

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	c.setHeaders(req.Header, cfg)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, transmissionError(resp.StatusCode, resp.Status, resp.Body)
	}

	var list modelList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
