// Package resolver expands shortened URLs into their final destination while
// holding every hop to the SSRF policy. It prefers a dedicated expansion
// service and falls back to direct hop-by-hop resolution; every failure mode
// is represented in the returned ResolutionResult, never as an error.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/metrics"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/urlx"

	"go.uber.org/zap"
)

// HostChecker validates a hostname against the SSRF policy before any
// request is made to it.
type HostChecker interface {
	CheckHost(ctx context.Context, hostname string) error
}

// Options bound a single resolution.
type Options struct {
	MaxRedirects     int
	Timeout          time.Duration
	MaxContentLength int64
	// ExpansionRetries is how many times the expansion service is tried
	// before falling back to direct resolution.
	ExpansionRetries int
}

// Resolver expands shortened URLs. The http client must not follow
// redirects on its own; the resolver inspects every hop itself.
type Resolver struct {
	opts       Options
	guard      HostChecker
	expansion  *ExpansionClient
	httpClient *http.Client
}

// New creates a Resolver. expansion may be nil to skip the expansion-service
// path entirely.
func New(opts Options, guard HostChecker, expansion *ExpansionClient, httpClient *http.Client) *Resolver {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Second
	}
	if opts.ExpansionRetries <= 0 {
		opts.ExpansionRetries = 1
	}

	return &Resolver{opts: opts, guard: guard, expansion: expansion, httpClient: httpClient}
}

// NoRedirectClient returns an http client suitable for the Resolver: it
// never follows redirects on its own and dials through the given dialer,
// which is how the SSRF guard's rebinding-safe dialing is wired in.
func NoRedirectClient(timeout time.Duration, dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	transport, _ := http.DefaultTransport.(*http.Transport)
	transport = transport.Clone()
	if dial != nil {
		transport.DialContext = dial
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Resolve expands rawURL through its redirect chain. The result is closed:
// all failures are expressed via Expanded=false plus a Reason, and the chain
// never ends in a hop the SSRF guard rejected.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) domain.ResolutionResult {
	normalized, err := urlx.Normalize(rawURL)
	if err != nil {
		return domain.ResolutionResult{
			FinalURL: rawURL,
			Chain:    []string{},
			Provider: domain.ProviderOriginal,
			Reason:   domain.ReasonExpansionFailed,
			Error:    err.Error(),
		}
	}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return domain.ResolutionResult{
			FinalURL: rawURL,
			Chain:    []string{},
			Provider: domain.ProviderOriginal,
			Reason:   domain.ReasonExpansionFailed,
			Error:    err.Error(),
		}
	}

	if !urlx.IsShortener(parsed.Hostname()) {
		// nothing to expand; the input already is the destination
		return domain.ResolutionResult{
			FinalURL: normalized,
			Chain:    []string{},
			Provider: domain.ProviderOriginal,
		}
	}

	if r.expansion != nil {
		if result, ok := r.resolveWithService(ctx, normalized); ok {
			return result
		}
	}

	return r.resolveDirectly(ctx, normalized)
}

// resolveWithService tries the expansion service. It reports ok=false when
// the service could not produce a usable final URL so the caller falls back
// to direct resolution; an SSRF rejection of the returned URL is final.
func (r *Resolver) resolveWithService(ctx context.Context, normalized string) (domain.ResolutionResult, bool) {
	var lastErr error
	for attempt := 0; attempt < r.opts.ExpansionRetries; attempt++ {
		resolved, err := r.expansion.Expand(ctx, normalized)
		if err != nil {
			lastErr = err

			continue
		}

		finalParsed, err := url.Parse(resolved)
		if err != nil {
			lastErr = err

			continue
		}
		if err := r.guard.CheckHost(ctx, finalParsed.Hostname()); err != nil {
			metrics.ExpansionOutcomes.WithLabelValues("expansion-service", "ssrf_blocked").Inc()

			return domain.ResolutionResult{
				FinalURL:     normalized,
				Chain:        []string{normalized},
				Provider:     domain.ProviderOriginal,
				WasShortened: true,
				Reason:       domain.ReasonSSRFBlocked,
				Error:        err.Error(),
			}, true
		}

		metrics.ExpansionOutcomes.WithLabelValues("expansion-service", "success").Inc()

		return domain.ResolutionResult{
			FinalURL:     resolved,
			Chain:        []string{normalized, resolved},
			Provider:     domain.ProviderExpansionService,
			WasShortened: true,
			Expanded:     resolved != normalized,
		}, true
	}

	metrics.ExpansionOutcomes.WithLabelValues("expansion-service", "error").Inc()
	logger.Debug(ctx, "expansion service failed, falling back to direct resolution",
		zap.String("url", normalized), zap.Error(lastErr))

	return domain.ResolutionResult{}, false
}

// resolveDirectly follows redirects one hop at a time, re-validating each
// hop target against the SSRF guard before requesting it.
func (r *Resolver) resolveDirectly(ctx context.Context, start string) domain.ResolutionResult {
	failed := func(reason domain.FailureReason, msg string) domain.ResolutionResult {
		metrics.ExpansionOutcomes.WithLabelValues("direct", string(reason)).Inc()

		return domain.ResolutionResult{
			FinalURL:     start,
			Chain:        []string{start},
			Provider:     domain.ProviderOriginal,
			WasShortened: true,
			Reason:       reason,
			Error:        msg,
		}
	}

	current := start
	chain := make([]string, 0, r.opts.MaxRedirects)

	for hop := 0; hop < r.opts.MaxRedirects; hop++ {
		normalized, err := urlx.Normalize(current)
		if err != nil {
			normalized = current
		}
		parsed, err := url.Parse(normalized)
		if err != nil {
			return failed(domain.ReasonExpansionFailed, err.Error())
		}

		if err := r.guard.CheckHost(ctx, parsed.Hostname()); err != nil {
			return failed(domain.ReasonSSRFBlocked, err.Error())
		}

		if len(chain) == 0 || chain[len(chain)-1] != normalized {
			chain = append(chain, normalized)
		}

		next, final, err := r.fetchHop(ctx, normalized)
		if err != nil {
			return failed(reasonOf(err), err.Error())
		}
		if final {
			metrics.ExpansionOutcomes.WithLabelValues("direct", "success").Inc()

			return domain.ResolutionResult{
				FinalURL:     normalized,
				Chain:        chain,
				Provider:     domain.ProviderDirect,
				WasShortened: true,
				Expanded:     len(chain) > 1 || normalized != start,
			}
		}

		current = next
	}

	// redirect budget exhausted; last safe hop wins
	if len(chain) > 0 {
		metrics.ExpansionOutcomes.WithLabelValues("direct", "success").Inc()

		return domain.ResolutionResult{
			FinalURL:     chain[len(chain)-1],
			Chain:        chain,
			Provider:     domain.ProviderDirect,
			WasShortened: true,
			Expanded:     len(chain) > 1,
		}
	}

	return failed(domain.ReasonExpansionFailed, "no hops resolved")
}

// fetchHop performs one manual-redirect request. It returns either the next
// hop target or final=true when the chain ends here.
func (r *Resolver) fetchHop(ctx context.Context, hopURL string) (next string, final bool, err error) {
	hopCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, hopURL, nil)
	if err != nil {
		return "", false, serrors.Wrap(serrors.ErrExpansionFailed, err, "could not create hop request")
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		if hopCtx.Err() != nil {
			return "", false, serrors.With(serrors.ErrTimeout, "hop timed out after %s", r.opts.Timeout)
		}

		return "", false, serrors.Wrap(serrors.ErrExpansionFailed, err, "hop request failed")
	}
	defer func() { _ = res.Body.Close() }()

	if r.opts.MaxContentLength > 0 {
		if raw := res.Header.Get("Content-Length"); raw != "" {
			if length, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil && length > r.opts.MaxContentLength {
				return "", false, serrors.With(serrors.ErrContentTooLarge, "content too large: %d bytes", length)
			}
		}
	}

	// a dead or error destination is an expansion failure, not a final hop
	if res.StatusCode >= http.StatusBadRequest {
		return "", false, serrors.With(serrors.ErrExpansionFailed, "hop returned status %d", res.StatusCode)
	}
	if res.StatusCode >= http.StatusMultipleChoices && res.StatusCode < http.StatusBadRequest {
		location := res.Header.Get("Location")
		if location == "" {
			return "", true, nil
		}
		base, parseErr := url.Parse(hopURL)
		if parseErr != nil {
			return "", false, serrors.Wrap(serrors.ErrExpansionFailed, parseErr, "could not parse hop url")
		}
		ref, parseErr := url.Parse(strings.TrimSpace(location))
		if parseErr != nil {
			return "", false, serrors.Wrap(serrors.ErrExpansionFailed, parseErr, "could not parse redirect location")
		}

		return base.ResolveReference(ref).String(), false, nil
	}

	return "", true, nil
}

// reasonOf maps a classified resolution error to its failure reason.
func reasonOf(err error) domain.FailureReason {
	switch {
	case errors.Is(err, serrors.ErrSSRFBlocked):
		return domain.ReasonSSRFBlocked
	case errors.Is(err, serrors.ErrTimeout):
		return domain.ReasonTimeout
	case errors.Is(err, serrors.ErrContentTooLarge):
		return domain.ReasonMaxContentLength
	default:
		return domain.ReasonExpansionFailed
	}
}
