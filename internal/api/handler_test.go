package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wbscanner/internal/api"
	mockpipeline "wbscanner/internal/pipeline/mock"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/storage"
	mockstorage "wbscanner/pkg/storage/mock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

const testHash = "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2"

func newTestServer(t *testing.T) (*mockpipeline.MockPipeline, *mockstorage.MockStorage, http.Handler) {
	t.Helper()

	ctrl := gomock.NewController(t)
	pipe := mockpipeline.NewMockPipeline(ctrl)
	strg := mockstorage.NewMockStorage(ctrl)
	srv := api.NewServer(api.Deps{Pipeline: pipe, Storage: strg}, api.Options{
		Addr:           ":0",
		RequestTimeout: 5 * time.Second,
		MetricsPath:    "/metrics",
	})

	return pipe, strg, srv.Handler
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandler_Health(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CreateScan_Accepted(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().Enqueue(gomock.Any(), "https://example.com/").Return(&domain.Scan{
		ID:        domain.ScanID(uuid.New()),
		URLHash:   testHash,
		URL:       "https://example.com/",
		Status:    domain.ScanStatusPending,
		CreatedAt: time.Now(),
	}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testHash, resp.URLHash)
	assert.Equal(t, domain.ScanStatusPending, resp.Status)
	assert.Nil(t, resp.Verdict)
}

func TestHandler_CreateScan_FreshVerdictReturnsOK(t *testing.T) {
	pipe, _, h := newTestServer(t)

	now := time.Now()
	pipe.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(&domain.Scan{
		ID:      domain.ScanID(uuid.New()),
		URLHash: testHash,
		URL:     "https://example.com/",
		Status:  domain.ScanStatusCompleted,
		Verdict: domain.Verdict{
			Level:           domain.VerdictBenign,
			CacheTTLSeconds: 86400,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Verdict)
	assert.Equal(t, domain.VerdictBenign, resp.Verdict.Level)
}

func TestHandler_CreateScan_InvalidBody(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateScan_MissingURL(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateScan_RejectedURL(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		Return(nil, serrors.With(serrors.ErrBadRequest, "invalid URL"))

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", `{"url":"ftp://example.com/"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateMessageScans(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().Enqueue(gomock.Any(), "https://example.com/offer").Return(&domain.Scan{
		ID:        domain.ScanID(uuid.New()),
		URLHash:   testHash,
		URL:       "https://example.com/offer",
		Status:    domain.ScanStatusPending,
		CreatedAt: time.Now(),
	}, nil)
	pipe.EXPECT().Enqueue(gomock.Any(), "http://www.short.test/x").Return(&domain.Scan{
		ID:        domain.ScanID(uuid.New()),
		URLHash:   strings.Repeat("ab", 32),
		URL:       "http://www.short.test/x",
		Status:    domain.ScanStatusPending,
		CreatedAt: time.Now(),
	}, nil)

	body := `{"text":"hey check https://example.com/offer and www.short.test/x now"}`
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateMessageScansResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Scans, 2)
	assert.Equal(t, "https://example.com/offer", resp.Scans[0].URL)
	assert.Equal(t, "http://www.short.test/x", resp.Scans[1].URL)
}

func TestHandler_CreateMessageScans_SkipsRejectedURLs(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().Enqueue(gomock.Any(), "https://bad.test/x").
		Return(nil, serrors.With(serrors.ErrBadRequest, "invalid URL"))
	pipe.EXPECT().Enqueue(gomock.Any(), "https://good.test/y").Return(&domain.Scan{
		ID:        domain.ScanID(uuid.New()),
		URLHash:   testHash,
		URL:       "https://good.test/y",
		Status:    domain.ScanStatusPending,
		CreatedAt: time.Now(),
	}, nil)

	body := `{"text":"https://bad.test/x then https://good.test/y"}`
	rec := doRequest(t, h, http.MethodPost, "/v1/messages", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateMessageScansResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Scans, 1)
	assert.Equal(t, "https://good.test/y", resp.Scans[0].URL)
}

func TestHandler_CreateMessageScans_NoURLs(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{"text":"nothing to see"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateMessageScans_MissingText(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/messages", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetScan(t *testing.T) {
	_, strg, h := newTestServer(t)

	id := uuid.New()
	strg.EXPECT().ScanByID(gomock.Any(), domain.ScanID(id)).Return(&domain.Scan{
		ID:      domain.ScanID(id),
		URLHash: testHash,
		Status:  domain.ScanStatusPending,
	}, nil)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_GetScan_InvalidID(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetScan_NotFound(t *testing.T) {
	_, strg, h := newTestServer(t)

	strg.EXPECT().ScanByID(gomock.Any(), gomock.Any()).Return(nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetVerdict(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().VerdictByHash(gomock.Any(), testHash).Return(&domain.Scan{
		URLHash: testHash,
		Status:  domain.ScanStatusCompleted,
		Verdict: domain.Verdict{Level: domain.VerdictMalicious, Score: 12},
	}, nil)

	rec := doRequest(t, h, http.MethodGet, "/v1/verdicts/"+testHash, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Verdict)
	assert.Equal(t, domain.VerdictMalicious, resp.Verdict.Level)
}

func TestHandler_GetVerdict_InvalidHash(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/verdicts/NOT-A-HASH", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetVerdict_NotFound(t *testing.T) {
	pipe, _, h := newTestServer(t)

	pipe.EXPECT().VerdictByHash(gomock.Any(), testHash).
		Return(nil, serrors.With(serrors.ErrNotFound, "no completed scan for hash"))

	rec := doRequest(t, h, http.MethodGet, "/v1/verdicts/"+testHash, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ListScans(t *testing.T) {
	_, strg, h := newTestServer(t)

	next := time.Now().Add(-time.Hour).UTC()
	strg.EXPECT().RecentScans(gomock.Any(), domain.ScanStatusCompleted, gomock.Any(), uint(2)).DoAndReturn(
		func(_ context.Context, _ domain.ScanStatus, cursor time.Time, _ uint) (storage.ScanPage, error) {
			assert.True(t, cursor.IsZero())

			return storage.ScanPage{
				Scans: []domain.Scan{
					{ID: domain.ScanID(uuid.New()), URLHash: testHash, Status: domain.ScanStatusCompleted},
					{ID: domain.ScanID(uuid.New()), URLHash: testHash, Status: domain.ScanStatusCompleted},
				},
				NextCursor: &next,
			}, nil
		},
	)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans?status=COMPLETED&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ListScansResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Scans, 2)
	require.NotNil(t, resp.NextCursor)
	assert.WithinDuration(t, next, *resp.NextCursor, time.Second)
}

func TestHandler_ListScans_BadStatus(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans?status=BOGUS", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListScans_BadLimit(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/scans?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
