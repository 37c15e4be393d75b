package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lysyi3m/vod-comb/app/database"
)

// Client performs one bounded-time fetch for one source and query. It has
// no side effects on health state; callers feed results into the health
// monitor themselves.
type Client struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewClient(userAgent string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// FetchPage requests one catalog page from a source and parses it
// according to the source's pinned format, falling back to detection
// when the format is auto.
func (c *Client) FetchPage(ctx context.Context, src database.Source, q Query) (*Page, *FetchError) {
	data, ferr := c.fetch(ctx, src, q)
	if ferr != nil {
		return nil, ferr
	}

	page, err := parsePayload(data, src.Format, src.ID)
	if err != nil {
		return nil, newFetchError(ErrKindParse, src.ID, err)
	}

	return page, nil
}

func (c *Client) fetch(ctx context.Context, src database.Source, q Query) ([]byte, *FetchError) {
	requestURL, err := buildURL(src.Endpoint, q)
	if err != nil {
		return nil, newFetchError(ErrKindNetwork, src.ID, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", requestURL, nil)
	if err != nil {
		return nil, newFetchError(ErrKindNetwork, src.ID, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newFetchError(ErrKindHTTP, src.ID, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(src.ID, fmt.Errorf("failed to read response body: %w", err))
	}

	return data, nil
}

func buildURL(endpoint string, q Query) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	params := u.Query()
	params.Set("ac", "videolist")
	if q.Page > 0 {
		params.Set("pg", strconv.Itoa(q.Page))
	}
	if q.Hours > 0 {
		params.Set("h", strconv.Itoa(q.Hours))
	}
	if q.TypeID != "" {
		params.Set("t", q.TypeID)
	}
	if q.Keyword != "" {
		params.Set("wd", q.Keyword)
	}
	if q.Shorts {
		params.Set("duration", "short")
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}
