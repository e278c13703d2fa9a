// Package artifacts validates and fetches scan artifacts (screenshots, DOM
// snapshots) from the trusted scan provider. Identifiers are validated
// before any path or URL is derived from them, and candidate URLs that do
// not resolve to the pinned trusted host are rejected without a fetch.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/metrics"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/urlx"

	"go.uber.org/zap"
)

var (
	scanIDPattern  = regexp.MustCompile(`^[a-fA-F0-9-]{36}$`)
	urlHashPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

const defaultFetchTimeout = 10 * time.Second

// TaskPayload is the subset of the provider's task result that carries
// artifact locations. Any of the fields may be empty or point off-host;
// candidates are validated individually.
type TaskPayload struct {
	ScreenshotURL string `json:"screenshotURL"`
	DOMURL        string `json:"domURL"`
	Task          struct {
		ScreenshotURL string `json:"screenshotURL"`
		DOMURL        string `json:"domURL"`
	} `json:"task"`
}

// Manager fetches artifacts into a local directory.
type Manager struct {
	dir        string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewManager creates a Manager storing artifacts under dir and trusting only
// hosts of baseURL (and its subdomains).
func NewManager(dir, baseURL string, httpClient *http.Client) *Manager {
	return &Manager{
		dir:        dir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    defaultFetchTimeout,
	}
}

// ValidateIdentifiers rejects malformed scan ids and url hashes before any
// path or URL is built from them.
func ValidateIdentifiers(scanID, urlHash string) error {
	if !scanIDPattern.MatchString(scanID) {
		return serrors.With(serrors.ErrInvalidIdentifier, "invalid scan id")
	}
	if !urlHashPattern.MatchString(urlHash) {
		return serrors.With(serrors.ErrInvalidIdentifier, "invalid url hash")
	}

	return nil
}

// NormalizeCandidate resolves one artifact location against the trusted
// base. Relative paths are resolved against the base; absolute URLs must
// land on the trusted host or a subdomain of it, anything else is invalid.
// An empty candidate is neither valid nor invalid, just absent.
func NormalizeCandidate(candidate, baseURL string) (string, bool) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return "", false
	}

	sanitizedBase := strings.TrimRight(baseURL, "/")
	base, err := url.Parse(sanitizedBase)
	if err != nil || base.Hostname() == "" {
		return "", true
	}
	trustedHost := strings.ToLower(base.Hostname())

	raw := trimmed
	if !strings.HasPrefix(strings.ToLower(trimmed), "http://") &&
		!strings.HasPrefix(strings.ToLower(trimmed), "https://") {
		raw = sanitizedBase + "/" + strings.TrimLeft(trimmed, "/")
	}

	normalized, err := urlx.Normalize(raw)
	if err != nil {
		return "", true
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", true
	}

	host := strings.ToLower(parsed.Hostname())
	if host != trustedHost && !strings.HasSuffix(host, "."+trustedHost) {
		return "", true
	}

	return normalized, false
}

// BuildCandidates lists the artifact URLs for a scan, combining locations
// reported in the task payload with the provider's well-known paths.
// Off-host candidates are kept in the list marked Invalid so callers can
// account for them, but they are never fetched.
func (m *Manager) BuildCandidates(scanID string, payload TaskPayload) []domain.ArtifactCandidate {
	var candidates []domain.ArtifactCandidate
	seen := make(map[string]struct{})

	add := func(artifactType domain.ArtifactType, source string) {
		resolved, invalid := NormalizeCandidate(source, m.baseURL)
		if invalid {
			candidates = append(candidates, domain.ArtifactCandidate{
				Type:    artifactType,
				URL:     strings.TrimSpace(source),
				Invalid: true,
			})

			return
		}
		if resolved == "" {
			return
		}
		key := string(artifactType) + ":" + resolved
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, domain.ArtifactCandidate{Type: artifactType, URL: resolved})
	}

	add(domain.ArtifactScreenshot, payload.ScreenshotURL)
	add(domain.ArtifactScreenshot, payload.Task.ScreenshotURL)
	add(domain.ArtifactScreenshot, fmt.Sprintf("%s/screenshots/%s.png", m.baseURL, scanID))

	add(domain.ArtifactDOM, payload.DOMURL)
	add(domain.ArtifactDOM, payload.Task.DOMURL)
	add(domain.ArtifactDOM, fmt.Sprintf("%s/dom/%s/", m.baseURL, scanID))

	return candidates
}

// Paths derives the local artifact file paths for a scan. The url hash is
// used verbatim (it is validated hex) and the scan id is re-hashed so no
// provider-controlled bytes reach the filesystem. Both paths are checked to
// stay inside the artifact directory.
func (m *Manager) Paths(scanID, urlHash string) (screenshotPath, domPath string, err error) {
	if err := ValidateIdentifiers(scanID, urlHash); err != nil {
		return "", "", err
	}

	scanIDDigest := sha256.Sum256([]byte(scanID))
	stem := urlHash + "_" + hex.EncodeToString(scanIDDigest[:])

	screenshotPath = filepath.Join(m.dir, stem+".png")
	domPath = filepath.Join(m.dir, stem+".html")

	for _, target := range []string{screenshotPath, domPath} {
		if err := assertWithinDir(m.dir, target); err != nil {
			return "", "", err
		}
	}

	return screenshotPath, domPath, nil
}

// Fetch downloads the artifacts for a scan. Identifier validation failures
// are returned; individual download failures only null out that artifact's
// path. Screenshot and DOM fetches are independent.
func (m *Manager) Fetch(ctx context.Context, scanID, urlHash string, payload TaskPayload) (domain.ArtifactPaths, error) {
	screenshotPath, domPath, err := m.Paths(scanID, urlHash)
	if err != nil {
		return domain.ArtifactPaths{}, err
	}

	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return domain.ArtifactPaths{}, fmt.Errorf("could not create artifact directory: %w", err)
	}

	var paths domain.ArtifactPaths
	for _, candidate := range m.BuildCandidates(scanID, payload) {
		if candidate.Invalid {
			continue
		}

		target := screenshotPath
		done := paths.ScreenshotPath != ""
		if candidate.Type == domain.ArtifactDOM {
			target = domPath
			done = paths.DOMPath != ""
		}
		if done {
			continue
		}

		if err := m.download(ctx, candidate, target); err != nil {
			logger.Warn(ctx, "artifact download failed",
				zap.String("scanId", scanID),
				zap.String("artifact", string(candidate.Type)),
				zap.Error(err))

			continue
		}

		if candidate.Type == domain.ArtifactScreenshot {
			paths.ScreenshotPath = target
		} else {
			paths.DOMPath = target
		}
	}

	return paths, nil
}

func (m *Manager) download(ctx context.Context, candidate domain.ArtifactCandidate, target string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, candidate.URL, nil)
	if err != nil {
		metrics.ArtifactFailures.WithLabelValues(string(candidate.Type), "request").Inc()

		return fmt.Errorf("could not create artifact request: %w", err)
	}

	res, err := m.httpClient.Do(req)
	if err != nil {
		metrics.ArtifactFailures.WithLabelValues(string(candidate.Type), "network").Inc()

		return fmt.Errorf("could not fetch artifact: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		metrics.ArtifactFailures.WithLabelValues(string(candidate.Type), fmt.Sprintf("http_%d", res.StatusCode)).Inc()

		return serrors.With(serrors.ErrUpstream, "artifact fetch returned status %d", res.StatusCode)
	}

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		metrics.ArtifactFailures.WithLabelValues(string(candidate.Type), "filesystem").Inc()

		return fmt.Errorf("could not create artifact file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, res.Body); err != nil {
		metrics.ArtifactFailures.WithLabelValues(string(candidate.Type), "filesystem").Inc()

		return fmt.Errorf("could not write artifact file: %w", err)
	}

	return nil
}

// assertWithinDir rejects any target path that escapes dir.
func assertWithinDir(dir, target string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("could not resolve artifact directory: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("could not resolve artifact path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return serrors.With(serrors.ErrInvalidIdentifier, "artifact path escapes artifact directory")
	}

	return nil
}
