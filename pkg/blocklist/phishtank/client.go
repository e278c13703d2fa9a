// Package phishtank provides a client for the Phishtank check-url API, the
// pipeline's community-maintained secondary threat source.
package phishtank

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/serrors"
)

const defaultEndpoint = "https://checkurl.phishtank.com/checkurl/"

// Client talks to the Phishtank check-url API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	appKey     string // appKey is optional; anonymous requests get a lower quota
	endpoint   string
	userAgent  string
}

// New constructs a Client using the provided http.Client and application key.
func New(httpClient *http.Client, appKey string) *Client {
	return &Client{
		httpClient: httpClient,
		appKey:     appKey,
		endpoint:   defaultEndpoint,
		userAgent:  "phishtank/wbscanner",
	}
}

// NewWithEndpoint is like New but targets a custom endpoint. Used by tests.
func NewWithEndpoint(httpClient *http.Client, appKey, endpoint string) *Client {
	c := New(httpClient, appKey)
	c.endpoint = endpoint

	return c
}

// Lookup checks whether the URL is in the Phishtank database.
func (c *Client) Lookup(ctx context.Context, URL string) (domain.PhishtankResult, error) {
	// https://phishtank.org/api_info.php
	form := url.Values{}
	form.Set("url", URL)
	form.Set("format", "json")
	if c.appKey != "" {
		form.Set("app_key", c.appKey)
	}

	req, err := http.NewRequestWithContext(ctx,
		http.MethodPost,
		c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.PhishtankResult{}, serrors.Wrap(serrors.ErrUpstream, err, "could not create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.PhishtankResult{}, serrors.Wrap(serrors.ErrTimeout, err, "phishtank lookup timed out")
		}

		return domain.PhishtankResult{}, serrors.Wrap(serrors.ErrUpstream, err, "could not send request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PhishtankResult{}, serrors.Wrap(serrors.ErrUpstream, err, "could not read response body")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.PhishtankResult{}, serrors.With(serrors.ErrRateLimited,
			"rate limited: %s", strings.TrimSpace(string(b)))
	}
	if resp.StatusCode >= 500 {
		return domain.PhishtankResult{}, serrors.With(serrors.ErrUpstream,
			"lookup failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.PhishtankResult{}, serrors.With(serrors.ErrBadRequest,
			"lookup failed with status %d", resp.StatusCode)
	}

	// successful
	var lookupResp struct {
		Results struct {
			InDatabase bool   `json:"in_database"`
			Verified   bool   `json:"verified"`
			PhishID    int64  `json:"phish_id"`
			DetailsURL string `json:"phish_detail_page"`
		} `json:"results"`
	}
	if err := json.Unmarshal(b, &lookupResp); err != nil {
		return domain.PhishtankResult{}, serrors.Wrap(serrors.ErrUpstream, err, "could not decode response")
	}

	return domain.PhishtankResult{
		InDatabase: lookupResp.Results.InDatabase,
		Verified:   lookupResp.Results.Verified,
		PhishID:    lookupResp.Results.PhishID,
		DetailsURL: lookupResp.Results.DetailsURL,
	}, nil
}
