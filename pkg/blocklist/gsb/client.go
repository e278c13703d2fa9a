// Package gsb provides a client for the Google Safe Browsing v4 Lookup API
// (threatMatches:find), the pipeline's primary threat source.
package gsb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/serrors"
)

const defaultEndpoint = "https://safebrowsing.googleapis.com/v4/threatMatches:find"

// threatTypes queried per lookup. These are the categories the composer
// treats as authoritative.
var threatTypes = []string{ //nolint: gochecknoglobals
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
}

// Client talks to the Safe Browsing REST API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client // httpClient performs HTTP requests to the lookup endpoint
	apiKey     string       // apiKey is the Google API key
	endpoint   string       // endpoint overrides the lookup URL in tests
}

// New constructs a Client using the provided http.Client and API key.
func New(httpClient *http.Client, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
	}
}

// NewWithEndpoint is like New but targets a custom endpoint. Used by tests.
func NewWithEndpoint(httpClient *http.Client, apiKey, endpoint string) *Client {
	c := New(httpClient, apiKey)
	c.endpoint = endpoint

	return c
}

// KeyPresent reports whether the client was configured with an API key. The
// redundancy policy treats a missing key as "primary unusable".
func (c *Client) KeyPresent() bool { return c.apiKey != "" }

// Lookup submits the URL to threatMatches:find and returns any matches.
// Non-2xx statuses and malformed bodies are classified into the semantic
// error taxonomy, never surfaced as raw failures.
func (c *Client) Lookup(ctx context.Context, URL string) ([]domain.ThreatMatch, error) {
	// https://developers.google.com/safe-browsing/v4/lookup-api
	type threatEntry struct {
		URL string `json:"url"`
	}
	body := struct {
		Client struct {
			ClientID      string `json:"clientId"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
		ThreatInfo struct {
			ThreatTypes      []string      `json:"threatTypes"`
			PlatformTypes    []string      `json:"platformTypes"`
			ThreatEntryTypes []string      `json:"threatEntryTypes"`
			ThreatEntries    []threatEntry `json:"threatEntries"`
		} `json:"threatInfo"`
	}{}
	body.Client.ClientID = "wbscanner"
	body.Client.ClientVersion = "1.0"
	body.ThreatInfo.ThreatTypes = threatTypes
	body.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	body.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	body.ThreatInfo.ThreatEntries = []threatEntry{{URL: URL}}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx,
		http.MethodPost,
		c.endpoint+"?key="+c.apiKey,
		bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, serrors.Wrap(serrors.ErrTimeout, err, "safe browsing lookup timed out")
		}

		return nil, serrors.Wrap(serrors.ErrUpstream, err, "could not send request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrUpstream, err, "could not read response body")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, serrors.With(serrors.ErrRateLimited, "rate limited: %s", strings.TrimSpace(string(b)))
	}
	if resp.StatusCode >= 500 {
		return nil, serrors.With(serrors.ErrUpstream, "lookup failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serrors.With(serrors.ErrBadRequest, "lookup failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(b)))
	}

	// successful
	var lookupResp struct {
		Matches []struct {
			ThreatType      string `json:"threatType"`
			PlatformType    string `json:"platformType"`
			ThreatEntryType string `json:"threatEntryType"`
			Threat          struct {
				URL string `json:"url"`
			} `json:"threat"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(b, &lookupResp); err != nil {
		return nil, serrors.Wrap(serrors.ErrUpstream, err, "could not decode response")
	}

	matches := make([]domain.ThreatMatch, 0, len(lookupResp.Matches))
	for _, m := range lookupResp.Matches {
		matches = append(matches, domain.ThreatMatch{
			ThreatType:      m.ThreatType,
			PlatformType:    m.PlatformType,
			ThreatEntryType: m.ThreatEntryType,
			URL:             m.Threat.URL,
		})
	}

	return matches, nil
}
