package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"transcribe-api/config"
	"transcribe-api/constant"
	"transcribe-api/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) JobRepository {
	t.Helper()
	db, err := config.NewDatabase(config.Database{
		Driver: constant.DatabaseDriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := NewRepo(db)
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func createJob(t *testing.T, r JobRepository, filename string) *entities.Job {
	t.Helper()
	job := &entities.Job{Filename: filename, Language: "auto", AudioPath: "/uploads/" + filename}
	require.NoError(t, r.CreateJob(context.Background(), job))
	return job
}

func TestCreateJob_AssignsPendingState(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	job := createJob(t, r, "a.wav")
	require.NotZero(t, job.ID)

	got, err := r.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusPending, got.Status)
	assert.Equal(t, "a.wav", got.Filename)
	assert.Nil(t, got.UpdatedAt)
	assert.Nil(t, got.TranscriptText)
	assert.Nil(t, got.TranscriptFilePath)
	assert.False(t, got.CreatedAt.IsZero())

	second := createJob(t, r, "a.wav")
	assert.Greater(t, second.ID, job.ID)
}

func TestFindJobById_NotFound(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.FindJobById(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestListJobs_NewestFirstWithPagination(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first := createJob(t, r, "1.wav")
	second := createJob(t, r, "2.wav")
	third := createJob(t, r, "3.wav")

	all, err := r.ListJobs(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint{third.ID, second.ID, first.ID}, []uint{all[0].ID, all[1].ID, all[2].ID})

	page, err := r.ListJobs(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, third.ID, page[0].ID)

	rest, err := r.ListJobs(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, first.ID, rest[0].ID)

	none, err := r.ListJobs(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = r.ListJobs(ctx, -1, 10)
	assert.Error(t, err)
}

func TestTransitions_FollowLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := createJob(t, r, "a.wav")

	applied, err := r.MarkCompleted(ctx, job.ID, "text", "/t/transcript_1.txt")
	require.NoError(t, err)
	assert.False(t, applied, "pending job must not complete without processing")

	applied, err = r.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = r.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied, "processing must be claimed once")

	applied, err = r.MarkCompleted(ctx, job.ID, "hello", "/t/transcript_1.txt")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := r.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusCompleted, got.Status)
	require.NotNil(t, got.TranscriptText)
	assert.Equal(t, "hello", *got.TranscriptText)
	require.NotNil(t, got.TranscriptFilePath)
	require.NotNil(t, got.UpdatedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	applied, err = r.MarkFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied, "terminal state must not change")
}

func TestMarkFailed_FromPendingAndProcessing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	pending := createJob(t, r, "p.wav")
	applied, err := r.MarkFailed(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	processing := createJob(t, r, "q.wav")
	_, err = r.MarkProcessing(ctx, processing.ID)
	require.NoError(t, err)
	applied, err = r.MarkFailed(ctx, processing.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := r.FindJobById(ctx, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
	assert.Nil(t, got.TranscriptText)

	applied, err = r.MarkProcessing(ctx, processing.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkProcessing_ConcurrentClaimsOnlyOneWins(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := createJob(t, r, "race.wav")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := r.MarkProcessing(ctx, job.ID)
			assert.NoError(t, err)
			if applied {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDeleteJob(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := createJob(t, r, "a.wav")

	existed, err := r.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = r.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	applied, err := r.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied, "updates against a deleted job are no-ops")
}

func TestFailInterrupted(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	stuck := createJob(t, r, "stuck.wav")
	waiting := createJob(t, r, "waiting.wav")
	_, err := r.MarkProcessing(ctx, stuck.ID)
	require.NoError(t, err)

	n, err := r.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindJobById(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)

	pending, err := r.ListPendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, waiting.ID, pending[0].ID)
}

func TestTransaction_RollsBack(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := createJob(t, r, "a.wav")

	boom := errors.New("boom")
	err := r.Transaction(ctx, func(ctx context.Context) error {
		existed, err := r.DeleteJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, existed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = r.FindJobById(ctx, job.ID)
	assert.NoError(t, err)
}

func TestSweeperLookups(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := createJob(t, r, "a.wav")

	existing, err := r.ExistingJobIDs(ctx, []uint{job.ID, job.ID + 100})
	require.NoError(t, err)
	assert.True(t, existing[job.ID])
	assert.False(t, existing[job.ID+100])

	paths, err := r.ListAudioPaths(ctx)
	require.NoError(t, err)
	assert.True(t, paths["/uploads/a.wav"])
}

func TestCreateJob_TimestampsAreUTC(t *testing.T) {
	r := newTestRepo(t)
	job := createJob(t, r, "a.wav")
	assert.Equal(t, time.UTC, job.CreatedAt.Location())
}
