package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"wbscanner/pkg/serrors"
	"wbscanner/pkg/urlx"
)

// ExpansionClient talks to a link-expansion service with an unshorten.me
// style API: GET {endpoint}/{url} returning the resolved target.
type ExpansionClient struct {
	httpClient *http.Client
	endpoint   string
}

type expandResponse struct {
	RequestedURL string `json:"requested_url"`
	ResolvedURL  string `json:"resolved_url"`
	Success      *bool  `json:"success"`
	Error        string `json:"error"`
}

// NewExpansionClient creates a client for the given expansion endpoint.
func NewExpansionClient(httpClient *http.Client, endpoint string) *ExpansionClient {
	return &ExpansionClient{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
}

// Expand asks the expansion service for the final URL behind a shortened
// link. The returned URL is normalized when possible.
func (c *ExpansionClient) Expand(ctx context.Context, shortened string) (string, error) {
	requestURL := c.endpoint + "/" + url.QueryEscape(shortened)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not create expansion request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", serrors.Wrap(serrors.ErrTimeout, err, "expansion service call timed out")
		}

		return "", serrors.Wrap(serrors.ErrUpstream, err, "could not call expansion service")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return "", serrors.With(serrors.ErrUpstream, "expansion service returned status %d", res.StatusCode)
	}

	var body expandResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", serrors.Wrap(serrors.ErrUpstream, err, "could not decode expansion service response")
	}
	if body.ResolvedURL == "" || (body.Success != nil && !*body.Success) {
		return "", serrors.With(serrors.ErrExpansionFailed, "expansion service could not resolve url: %s", body.Error)
	}

	if normalized, err := urlx.Normalize(body.ResolvedURL); err == nil {
		return normalized, nil
	}

	return body.ResolvedURL, nil
}
