package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wbscanner/internal/pipeline"
	mockpipeline "wbscanner/internal/pipeline/mock"
	"wbscanner/internal/worker"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/storage"
	mockstorage "wbscanner/pkg/storage/mock"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

const testHash = "a1b2c3"

func makeJob(id int64, urlHash string) *river.Job[pipeline.JobArgs] {
	return &river.Job[pipeline.JobArgs]{
		JobRow: &rivertype.JobRow{ID: id},
		Args:   pipeline.JobArgs{URLHash: urlHash, URL: "https://example.com/"},
	}
}

func newTestWorker(t *testing.T) (*mockpipeline.MockPipeline, *mockstorage.MockStorage, *worker.VerdictWorker) {
	t.Helper()

	ctrl := gomock.NewController(t)
	pipe := mockpipeline.NewMockPipeline(ctrl)
	strg := mockstorage.NewMockStorage(ctrl)
	w := worker.NewVerdictWorker(pipe, strg, worker.Options{MaxAttempts: 3, JobTimeout: time.Minute})

	return pipe, strg, w
}

func TestVerdictWorker_Work_Success(t *testing.T) {
	pipe, _, w := newTestWorker(t)

	pipe.EXPECT().Process(gomock.Any(), gomock.Any()).Return(&domain.VerdictPayload{
		URLHash: testHash,
		Verdict: domain.Verdict{Level: domain.VerdictBenign, Score: 1},
	}, nil)

	require.NoError(t, w.Work(context.Background(), makeJob(1, testHash)))
}

func TestVerdictWorker_Work_NoPendingScans(t *testing.T) {
	pipe, _, w := newTestWorker(t)

	pipe.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, nil)

	require.NoError(t, w.Work(context.Background(), makeJob(2, testHash)))
}

func TestVerdictWorker_Work_RateLimitedSnoozes(t *testing.T) {
	pipe, _, w := newTestWorker(t)

	pipe.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(nil, serrors.With(serrors.ErrRateLimited, "gsb quota exhausted"))

	err := w.Work(context.Background(), makeJob(3, testHash))
	require.Error(t, err)
	var snoozeErr *river.JobSnoozeError
	require.ErrorAs(t, err, &snoozeErr)
	require.Equal(t, time.Minute, snoozeErr.Duration)
}

func TestVerdictWorker_Work_FailureRecordedAgainstPendingScans(t *testing.T) {
	pipe, strg, w := newTestWorker(t)

	cause := errors.New("resolver exploded")
	pipe.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, cause)
	strg.EXPECT().UpdatePendingScansByHash(gomock.Any(), testHash, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, updates storage.ScanUpdates) error {
			require.Equal(t, domain.ScanStatusFailed, updates.Status)
			require.NotNil(t, updates.LastError)
			require.Equal(t, cause.Error(), *updates.LastError)
			require.Equal(t, 3, updates.MaxAttempts)

			return nil
		},
	)

	err := w.Work(context.Background(), makeJob(4, testHash))
	require.Error(t, err)
	require.ErrorIs(t, err, cause)
	var snoozeErr *river.JobSnoozeError
	require.NotErrorAs(t, err, &snoozeErr, "did not expect JobSnoozeError")
}

func TestVerdictWorker_Work_FailureRecordingIsBestEffort(t *testing.T) {
	pipe, strg, w := newTestWorker(t)

	cause := errors.New("resolver exploded")
	pipe.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, cause)
	strg.EXPECT().UpdatePendingScansByHash(gomock.Any(), testHash, gomock.Any()).
		Return(errors.New("db down"))

	// recording failures must not mask the processing error
	err := w.Work(context.Background(), makeJob(5, testHash))
	require.ErrorIs(t, err, cause)
}

func TestVerdictWorker_Timeout(t *testing.T) {
	_, _, w := newTestWorker(t)
	require.Equal(t, time.Minute, w.Timeout(makeJob(6, testHash)))

	ctrl := gomock.NewController(t)
	short := worker.NewVerdictWorker(
		mockpipeline.NewMockPipeline(ctrl),
		mockstorage.NewMockStorage(ctrl),
		worker.Options{JobTimeout: 10 * time.Second},
	)
	require.Equal(t, 10*time.Second, short.Timeout(makeJob(7, testHash)))
}
