package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wbscanner/internal/pipeline"
	"wbscanner/pkg/artifacts"
	"wbscanner/pkg/cache"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/storage"
	mockstorage "wbscanner/pkg/storage/mock"
	"wbscanner/pkg/urlx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const rawURL = "https://example.com/"

type stubResolver struct {
	res domain.ResolutionResult
}

func (s stubResolver) Resolve(_ context.Context, _ string) domain.ResolutionResult {
	return s.res
}

type stubChecker struct {
	res domain.BlocklistCheckResult
}

func (s stubChecker) Check(_ context.Context, _, _ string) domain.BlocklistCheckResult {
	return s.res
}

type stubScorer struct {
	res domain.HeuristicResult
}

func (s stubScorer) Score(_ context.Context, _ domain.ResolutionResult) domain.HeuristicResult {
	return s.res
}

type stubArtifacts struct {
	paths domain.ArtifactPaths
	err   error
	calls int
}

func (s *stubArtifacts) Fetch(_ context.Context, _, _ string, _ artifacts.TaskPayload) (domain.ArtifactPaths, error) {
	s.calls++

	return s.paths, s.err
}

type testPipeline struct {
	ctrl      *gomock.Controller
	storage   *mockstorage.MockStorage
	cache     *cache.Memory
	hasher    *urlx.Hasher
	resolver  *stubResolver
	checker   *stubChecker
	scorer    *stubScorer
	artifacts *stubArtifacts
	pipe      pipeline.Pipeline
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	ctrl := gomock.NewController(t)
	tp := &testPipeline{
		ctrl:      ctrl,
		storage:   mockstorage.NewMockStorage(ctrl),
		cache:     cache.NewMemory(),
		hasher:    urlx.NewHasher("test-key"),
		resolver:  &stubResolver{res: domain.ResolutionResult{FinalURL: rawURL}},
		checker:   &stubChecker{},
		scorer:    &stubScorer{},
		artifacts: &stubArtifacts{},
	}
	tp.pipe = pipeline.New(
		pipeline.Options{MaxAttempts: 3, UniqueJobPeriod: 24 * time.Hour},
		tp.storage, tp.cache, tp.hasher,
		tp.resolver, tp.checker, tp.scorer, tp.artifacts,
	)

	return tp
}

// helper to wire Storage.WithTx to execute the callback with a MockAllStorage.
func expectWithTx(
	t *testing.T,
	ctrl *gomock.Controller,
	m *mockstorage.MockStorage,
	fn func(tx *mockstorage.MockAllStorage)) {
	t.Helper()

	m.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cb func(storage.AllStorage) error) error {
			tx := mockstorage.NewMockAllStorage(ctrl)
			if fn != nil {
				fn(tx)
			}

			return cb(tx)
		},
	)
}

func (tp *testPipeline) target(t *testing.T) domain.ScanTarget {
	t.Helper()

	target, err := tp.hasher.Target(rawURL)
	require.NoError(t, err)

	return target
}

func TestPipeline_Enqueue_JobAdded(t *testing.T) {
	tp := newTestPipeline(t)

	expectWithTx(t, tp.ctrl, tp.storage, func(tx *mockstorage.MockAllStorage) {
		tx.EXPECT().StoreScans(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, scans ...domain.Scan) ([]domain.Scan, error) {
				require.Len(t, scans, 1)
				scans[0].ID = domain.ScanID(uuid.New())

				return scans, nil
			},
		)
		tx.EXPECT().AddJob(gomock.Any(), gomock.Any(), gomock.Nil()).Return(true, nil)
	})

	scan, err := tp.pipe.Enqueue(context.Background(), rawURL)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStatusPending, scan.Status)
	assert.Equal(t, tp.target(t).URLHash, scan.URLHash)
	assert.Equal(t, tp.target(t).NormalizedURL, scan.URL)
}

func TestPipeline_Enqueue_DuplicateReusesFreshVerdict(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	last := &domain.Scan{
		URLHash: target.URLHash,
		Status:  domain.ScanStatusCompleted,
		Verdict: domain.Verdict{
			Level:           domain.VerdictBenign,
			CacheTTLSeconds: 86400,
		},
		UpdatedAt: time.Now().Add(-time.Hour),
	}

	expectWithTx(t, tp.ctrl, tp.storage, func(tx *mockstorage.MockAllStorage) {
		tx.EXPECT().StoreScans(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, scans ...domain.Scan) ([]domain.Scan, error) {
				scans[0].ID = domain.ScanID(uuid.New())

				return scans, nil
			},
		)
		// duplicate job for the same hash
		tx.EXPECT().AddJob(gomock.Any(), gomock.Any(), gomock.Nil()).Return(false, nil)
		tx.EXPECT().LastCompletedScanByHash(gomock.Any(), target.URLHash).Return(last, nil)
		tx.EXPECT().UpdateScanByID(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, id domain.ScanID, updates storage.ScanUpdates) (*domain.Scan, error) {
				assert.Equal(t, domain.ScanStatusCompleted, updates.Status)
				require.NotNil(t, updates.Verdict)
				assert.Equal(t, domain.VerdictBenign, updates.Verdict.Level)

				return &domain.Scan{
					ID:      id,
					URLHash: target.URLHash,
					Status:  domain.ScanStatusCompleted,
					Verdict: *updates.Verdict,
				}, nil
			},
		)
	})

	scan, err := tp.pipe.Enqueue(context.Background(), rawURL)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStatusCompleted, scan.Status)
	assert.Equal(t, domain.VerdictBenign, scan.Verdict.Level)
}

func TestPipeline_Enqueue_DuplicateStaleVerdictStaysPending(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	// completed long past its own TTL; the queued job must run again
	last := &domain.Scan{
		URLHash: target.URLHash,
		Status:  domain.ScanStatusCompleted,
		Verdict: domain.Verdict{
			Level:           domain.VerdictSuspicious,
			CacheTTLSeconds: 3600,
		},
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}

	expectWithTx(t, tp.ctrl, tp.storage, func(tx *mockstorage.MockAllStorage) {
		tx.EXPECT().StoreScans(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, scans ...domain.Scan) ([]domain.Scan, error) {
				scans[0].ID = domain.ScanID(uuid.New())

				return scans, nil
			},
		)
		tx.EXPECT().AddJob(gomock.Any(), gomock.Any(), gomock.Nil()).Return(false, nil)
		tx.EXPECT().LastCompletedScanByHash(gomock.Any(), target.URLHash).Return(last, nil)
		// no UpdateScanByID: the stale verdict must not be reused
	})

	scan, err := tp.pipe.Enqueue(context.Background(), rawURL)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStatusPending, scan.Status)
}

func TestPipeline_Enqueue_InvalidURL(t *testing.T) {
	tp := newTestPipeline(t)

	_, err := tp.pipe.Enqueue(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.True(t, errors.Is(err, serrors.ErrBadRequest))
}

func TestPipeline_Process_SkipsWhenNoPendingScans(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(0), nil)

	payload, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash: target.URLHash,
		URL:     target.NormalizedURL,
	})
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestPipeline_Process_CachedVerdictShortCircuits(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	cached := domain.VerdictPayload{
		URLHash: target.URLHash,
		Verdict: domain.Verdict{
			Level:           domain.VerdictMalicious,
			Score:           12,
			CacheTTLSeconds: 900,
		},
		Resolution: domain.ResolutionResult{FinalURL: rawURL},
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, tp.cache.Set(context.Background(), "verdict:"+target.URLHash, string(raw), time.Hour))

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(1), nil)
	tp.storage.EXPECT().UpdatePendingScansByHash(gomock.Any(), target.URLHash, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, updates storage.ScanUpdates) error {
			assert.Equal(t, domain.ScanStatusCompleted, updates.Status)
			require.NotNil(t, updates.Verdict)
			assert.Equal(t, domain.VerdictMalicious, updates.Verdict.Level)

			return nil
		},
	)

	payload, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash: target.URLHash,
		URL:     target.NormalizedURL,
	})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, domain.VerdictMalicious, payload.Verdict.Level)
}

func TestPipeline_Process_FullRun(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.resolver.res = domain.ResolutionResult{FinalURL: "https://landing.example.net/", Expanded: true}
	tp.checker.res = domain.BlocklistCheckResult{
		GsbResult: domain.GsbFetchResult{
			Matches: []domain.ThreatMatch{{ThreatType: "SOCIAL_ENGINEERING"}},
		},
	}
	tp.scorer.res = domain.HeuristicResult{Score: 2, Reasons: []string{"Bare IP host"}}

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(1), nil)
	tp.storage.EXPECT().UpdatePendingScansByHash(gomock.Any(), target.URLHash, gomock.Any()).Return(nil)

	payload, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash: target.URLHash,
		URL:     target.NormalizedURL,
	})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, domain.VerdictMalicious, payload.Verdict.Level)
	assert.Equal(t, "https://landing.example.net/", payload.Resolution.FinalURL)
	assert.Contains(t, payload.Verdict.Reasons, "Google Safe Browsing: SOCIAL_ENGINEERING")

	// the composed verdict must now be cached for the next job
	raw, ok, err := tp.cache.Get(context.Background(), "verdict:"+target.URLHash)
	require.NoError(t, err)
	require.True(t, ok)

	var cached domain.VerdictPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, domain.VerdictMalicious, cached.Verdict.Level)
}

func TestPipeline_Process_ArtifactsAttachedOnSuccess(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.artifacts.paths = domain.ArtifactPaths{ScreenshotPath: "/tmp/scan.png"}

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(1), nil)
	tp.storage.EXPECT().UpdatePendingScansByHash(gomock.Any(), target.URLHash, gomock.Any()).Return(nil)

	payload, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash:   target.URLHash,
		URL:       target.NormalizedURL,
		ScanID:    "abc123",
		Artifacts: &artifacts.TaskPayload{},
	})
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.NotNil(t, payload.Artifacts)
	assert.Equal(t, "/tmp/scan.png", payload.Artifacts.ScreenshotPath)
	assert.Equal(t, 1, tp.artifacts.calls)
}

func TestPipeline_Process_ArtifactFailureDoesNotFailScan(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.artifacts.err = errors.New("host mismatch")

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(1), nil)
	tp.storage.EXPECT().UpdatePendingScansByHash(gomock.Any(), target.URLHash, gomock.Any()).Return(nil)

	payload, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash:   target.URLHash,
		URL:       target.NormalizedURL,
		ScanID:    "abc123",
		Artifacts: &artifacts.TaskPayload{},
	})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Nil(t, payload.Artifacts)
}

func TestPipeline_Process_PersistFailure(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.storage.EXPECT().PendingScanCountByHash(gomock.Any(), target.URLHash).Return(int64(1), nil)
	tp.storage.EXPECT().UpdatePendingScansByHash(gomock.Any(), target.URLHash, gomock.Any()).
		Return(errors.New("connection reset"))

	_, err := tp.pipe.Process(context.Background(), pipeline.JobArgs{
		URLHash: target.URLHash,
		URL:     target.NormalizedURL,
	})
	require.Error(t, err)
}

func TestPipeline_VerdictByHash(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	want := &domain.Scan{
		URLHash: target.URLHash,
		Status:  domain.ScanStatusCompleted,
		Verdict: domain.Verdict{Level: domain.VerdictBenign},
	}
	tp.storage.EXPECT().LastCompletedScanByHash(gomock.Any(), target.URLHash).Return(want, nil)

	scan, err := tp.pipe.VerdictByHash(context.Background(), target.URLHash)
	require.NoError(t, err)
	assert.Equal(t, want, scan)
}

func TestPipeline_VerdictByHash_NotFound(t *testing.T) {
	tp := newTestPipeline(t)
	target := tp.target(t)

	tp.storage.EXPECT().LastCompletedScanByHash(gomock.Any(), target.URLHash).Return(nil, nil)

	_, err := tp.pipe.VerdictByHash(context.Background(), target.URLHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, serrors.ErrNotFound))
}
