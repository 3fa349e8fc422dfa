package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"transcribe-api/config"
	"transcribe-api/constant"
	"transcribe-api/repository"
	"transcribe-api/storage"
	"transcribe-api/transcriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_CompletesJobAndWritesTranscripts(t *testing.T) {
	env := newTestEnv(t)
	env.tr.result = &transcriber.Result{
		Text:     "hello world",
		Language: "en",
		Duration: 2.5,
		Model:    "base",
		Segments: []transcriber.Segment{
			{ID: 0, Start: 0, End: 1.2, Text: "hello"},
			{ID: 1, Start: 1.2, End: 2.5, Text: "world"},
		},
	}
	job := env.createJob(t, "meeting.wav", "auto")
	ctx := context.Background()

	require.NoError(t, env.worker().Process(ctx, messageFor(job)))

	got, err := env.repo.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusCompleted, got.Status)
	require.NotNil(t, got.TranscriptText)
	assert.Equal(t, "hello world", *got.TranscriptText)
	require.NotNil(t, got.TranscriptFilePath)
	require.NotNil(t, got.UpdatedAt)

	textPath, err := env.store.TranscriptPath(job.ID, constant.TranscriptFormatText)
	require.NoError(t, err)
	assert.Equal(t, textPath, *got.TranscriptFilePath)
	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(text))

	fullPath, err := env.store.TranscriptPath(job.ID, constant.TranscriptFormatFull)
	require.NoError(t, err)
	raw, err := os.ReadFile(fullPath)
	require.NoError(t, err)
	var full FullResult
	require.NoError(t, json.Unmarshal(raw, &full))
	assert.Equal(t, "hello world", full.Text)
	assert.Equal(t, "en", full.Language)
	assert.Len(t, full.Segments, 2)
	assert.Equal(t, job.ID, full.Metadata.JobID)
	assert.Equal(t, "meeting.wav", full.Metadata.Filename)
	assert.Equal(t, "auto", full.Metadata.RequestedLanguage)
	assert.False(t, full.Metadata.TranscribedAt.IsZero())

	segPath, err := env.store.TranscriptPath(job.ID, constant.TranscriptFormatSegments)
	require.NoError(t, err)
	raw, err = os.ReadFile(segPath)
	require.NoError(t, err)
	var segments []transcriber.Segment
	require.NoError(t, json.Unmarshal(raw, &segments))
	assert.Equal(t, env.tr.result.Segments, segments)

	_, staged, err := env.store.TranscriptJobIDs()
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Equal(t, []uint{job.ID}, env.mirror.mirrored)

	require.Len(t, env.tr.calls, 1)
	assert.Equal(t, transcriber.Options{}, env.tr.calls[0])
}

func TestProcess_AppliesLanguageHint(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "talk.mp3", "hi")

	require.NoError(t, env.worker().Process(context.Background(), messageFor(job)))

	require.Len(t, env.tr.calls, 1)
	assert.Equal(t, "hi", env.tr.calls[0].Language)
	assert.Equal(t, config.DefaultHints["hi"], env.tr.calls[0].InitialPrompt)
}

func TestProcess_RequestedLanguageFillsResult(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "talk.mp3", "de")

	require.NoError(t, env.worker().Process(context.Background(), messageFor(job)))

	path, err := env.store.TranscriptPath(job.ID, constant.TranscriptFormatFull)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var full FullResult
	require.NoError(t, json.Unmarshal(raw, &full))
	assert.Equal(t, "de", full.Language)
	assert.Empty(t, env.tr.calls[0].InitialPrompt)
}

func TestProcess_FailuresMarkJobFailed(t *testing.T) {
	cases := map[string]func(env *testEnv){
		"transcriber error": func(env *testEnv) { env.tr.err = errors.New("decode error") },
		"transcriber panic": func(env *testEnv) { env.tr.panics = true },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			setup(env)
			job := env.createJob(t, "a.wav", "auto")
			ctx := context.Background()

			require.NoError(t, env.worker().Process(ctx, messageFor(job)))

			got, err := env.repo.FindJobById(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, constant.JobStatusFailed, got.Status)
			assert.Nil(t, got.TranscriptText)
			assert.Nil(t, got.TranscriptFilePath)

			committed, staged, err := env.store.TranscriptJobIDs()
			require.NoError(t, err)
			assert.Empty(t, committed)
			assert.Empty(t, staged)
			assert.Empty(t, env.mirror.mirrored)
		})
	}
}

func TestProcess_UnavailableCapabilityFailsJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "a.wav", "auto")
	ctx := context.Background()
	worker := NewService(env.repo, env.store, transcriber.Unavailable(errors.New("model missing")), nil, config.Transcriber{})

	require.NoError(t, worker.Process(ctx, messageFor(job)))

	got, err := env.repo.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
}

func TestProcess_SkipsMissingAndNonPendingJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	worker := env.worker()

	job := env.createJob(t, "a.wav", "auto")
	msg := messageFor(job)
	msg.JobId = job.ID + 100
	require.NoError(t, worker.Process(ctx, msg))

	applied, err := env.repo.MarkFailed(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, worker.Process(ctx, messageFor(job)))

	assert.Zero(t, env.tr.callCount())
	got, err := env.repo.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
}

func TestProcess_DuplicateDispatchRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "a.wav", "auto")
	worker := env.worker()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, worker.Process(context.Background(), messageFor(job)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.tr.callCount())
	got, err := env.repo.FindJobById(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusCompleted, got.Status)
}

func TestProcess_JobDeletedWhileTranscribing(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "a.wav", "auto")
	ctx := context.Background()
	env.tr.during = func() {
		_, err := env.repo.DeleteJob(ctx, job.ID)
		require.NoError(t, err)
	}

	require.NoError(t, env.worker().Process(ctx, messageFor(job)))

	_, err := env.repo.FindJobById(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	committed, staged, err := env.store.TranscriptJobIDs()
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Empty(t, staged)
	assert.Empty(t, env.mirror.mirrored)
}

func TestProcess_JobLoadFailureMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "a.wav", "auto")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, env.worker().Process(ctx, messageFor(job)))

	got, err := env.repo.FindJobById(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
	assert.Zero(t, env.tr.callCount())
}

type failingStageStore struct {
	*storage.FileStore
}

func (failingStageStore) StageTranscriptSet(uint, storage.TranscriptSet) (*storage.StagedSet, error) {
	return nil, errors.New("disk full")
}

func TestProcess_TranscriptWriteFailureMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "a.wav", "auto")
	ctx := context.Background()
	worker := NewService(env.repo, failingStageStore{env.store}, env.tr, env.mirror, config.Transcriber{})

	require.NoError(t, worker.Process(ctx, messageFor(job)))

	got, err := env.repo.FindJobById(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
	assert.Nil(t, got.TranscriptText)
	assert.Nil(t, got.TranscriptFilePath)
	assert.Equal(t, 1, env.tr.callCount())

	committed, staged, err := env.store.TranscriptJobIDs()
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Empty(t, staged)
	assert.Empty(t, env.mirror.mirrored)
}
