package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"transcribe-api/config"
	"transcribe-api/constant"
	"transcribe-api/dto"
	"transcribe-api/entities"
	"transcribe-api/repository"
	"transcribe-api/storage"
	"transcribe-api/transcriber"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	repo   repository.JobRepository
	store  *storage.FileStore
	tr     *fakeTranscriber
	mirror *fakeMirror
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := config.NewDatabase(config.Database{
		Driver: constant.DatabaseDriverSQLite,
		DSN:    filepath.Join(dir, "jobs.db"),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewRepo(db)
	require.NoError(t, repo.Migrate(context.Background()))

	store, err := storage.NewFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "transcripts"))
	require.NoError(t, err)

	return &testEnv{
		repo:   repo,
		store:  store,
		tr:     &fakeTranscriber{result: &transcriber.Result{Text: "hello world"}},
		mirror: &fakeMirror{},
		dir:    dir,
	}
}

func (e *testEnv) worker() TranscriptionService {
	return NewService(e.repo, e.store, e.tr, e.mirror, config.Transcriber{})
}

func (e *testEnv) createJob(t *testing.T, filename, language string) *entities.Job {
	t.Helper()
	upload, err := e.store.SaveUpload(filename, strings.NewReader("RIFF....WAVEfmt "))
	require.NoError(t, err)
	job := &entities.Job{Filename: filename, Language: language, AudioPath: upload.Path, MediaType: upload.MediaType}
	require.NoError(t, e.repo.CreateJob(context.Background(), job))
	return job
}

func messageFor(job *entities.Job) dto.JobMessage {
	return dto.JobMessage{JobId: job.ID, AudioPath: job.AudioPath, FileName: job.Filename}
}

type fakeTranscriber struct {
	mu     sync.Mutex
	calls  []transcriber.Options
	result *transcriber.Result
	err    error
	panics bool
	// during runs inside Transcribe before it returns.
	during func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, opts transcriber.Options) (*transcriber.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	if f.panics {
		panic("model crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMirror struct {
	mu       sync.Mutex
	mirrored []uint
	removed  []uint
}

func (m *fakeMirror) MirrorTranscripts(_ context.Context, jobID uint, _ map[constant.TranscriptFormat]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrored = append(m.mirrored, jobID)
	return nil
}

func (m *fakeMirror) RemoveTranscripts(_ context.Context, jobID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, jobID)
	return nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []dto.JobMessage
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, msg dto.JobMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}
