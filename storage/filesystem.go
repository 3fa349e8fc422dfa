package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"transcribe-api/constant"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrArtifactNotFound = errors.New("artifact not found")

const (
	stagedSuffix = ".tmp"
	sniffLen     = 3072
)

var transcriptNamePattern = regexp.MustCompile(`^transcript_(\d+)(_segments)?\.(txt|json)(\.tmp)?$`)

// Upload describes a stored audio file.
type Upload struct {
	Path      string
	Size      int64
	MediaType string
}

// TranscriptSet is the content persisted for one completed job.
type TranscriptSet struct {
	Text     string
	Full     any
	Segments any
}

// UploadFile is a stored upload as seen by the sweeper.
type UploadFile struct {
	Path    string
	ModTime time.Time
}

type FileStore struct {
	uploadsDir     string
	transcriptsDir string
}

func NewFileStore(uploadsDir, transcriptsDir string) (*FileStore, error) {
	for _, dir := range []string{uploadsDir, transcriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FileStore{
		uploadsDir:     uploadsDir,
		transcriptsDir: transcriptsDir,
	}, nil
}

// SaveUpload stores r under a fresh uuid keeping only the extension of originalFilename.
func (s *FileStore) SaveUpload(originalFilename string, r io.Reader) (*Upload, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalFilename)))
	path := filepath.Join(s.uploadsDir, uuid.NewString()+ext)

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	mediaType := mimetype.Detect(head).String()

	size, err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, br)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	return &Upload{Path: path, Size: size, MediaType: mediaType}, nil
}

func (s *FileStore) RemoveUpload(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Uploads lists stored audio files.
func (s *FileStore) Uploads() ([]UploadFile, error) {
	entries, err := os.ReadDir(s.uploadsDir)
	if err != nil {
		return nil, err
	}
	ret := make([]UploadFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), stagedSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ret = append(ret, UploadFile{
			Path:    filepath.Join(s.uploadsDir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return ret, nil
}

func (s *FileStore) transcriptPath(jobID uint, format constant.TranscriptFormat) string {
	switch format {
	case constant.TranscriptFormatFull:
		return filepath.Join(s.transcriptsDir, fmt.Sprintf("transcript_%d.json", jobID))
	case constant.TranscriptFormatSegments:
		return filepath.Join(s.transcriptsDir, fmt.Sprintf("transcript_%d_segments.json", jobID))
	default:
		return filepath.Join(s.transcriptsDir, fmt.Sprintf("transcript_%d.txt", jobID))
	}
}

var transcriptFormats = []constant.TranscriptFormat{
	constant.TranscriptFormatText,
	constant.TranscriptFormatFull,
	constant.TranscriptFormatSegments,
}

// StagedSet is a transcript set written under temporary names.
type StagedSet struct {
	JobID uint
	// Paths holds the final location of each artifact.
	Paths map[constant.TranscriptFormat]string
}

// StageTranscriptSet writes text, full result and segments, in that order, under
// temporary names. On failure nothing staged is left behind.
func (s *FileStore) StageTranscriptSet(jobID uint, set TranscriptSet) (*StagedSet, error) {
	staged := &StagedSet{JobID: jobID, Paths: make(map[constant.TranscriptFormat]string, len(transcriptFormats))}

	writers := map[constant.TranscriptFormat]func(w io.Writer) error{
		constant.TranscriptFormatText: func(w io.Writer) error {
			_, err := io.WriteString(w, set.Text)
			return err
		},
		constant.TranscriptFormatFull: func(w io.Writer) error {
			return writeJSON(w, set.Full)
		},
		constant.TranscriptFormatSegments: func(w io.Writer) error {
			return writeJSON(w, set.Segments)
		},
	}

	for _, format := range transcriptFormats {
		final := s.transcriptPath(jobID, format)
		if err := writeFile(final+stagedSuffix, writers[format]); err != nil {
			staged.Discard()
			return nil, fmt.Errorf("write %s transcript: %w", format, err)
		}
		staged.Paths[format] = final
	}
	return staged, nil
}

// Commit moves the staged files into place.
func (s *StagedSet) Commit() error {
	for _, format := range transcriptFormats {
		final, ok := s.Paths[format]
		if !ok {
			continue
		}
		if err := os.Rename(final+stagedSuffix, final); err != nil {
			return fmt.Errorf("commit %s transcript: %w", format, err)
		}
	}
	return nil
}

func (s *StagedSet) Discard() {
	for _, final := range s.Paths {
		_ = os.Remove(final + stagedSuffix)
	}
}

// Restage returns the staged set left for jobID by an interrupted run.
func (s *FileStore) Restage(jobID uint) *StagedSet {
	staged := &StagedSet{JobID: jobID, Paths: make(map[constant.TranscriptFormat]string)}
	for _, format := range transcriptFormats {
		final := s.transcriptPath(jobID, format)
		if _, err := os.Stat(final + stagedSuffix); err == nil {
			staged.Paths[format] = final
		}
	}
	return staged
}

// TranscriptPath resolves the artifact for format. A missing segments artifact falls
// back to the full result.
func (s *FileStore) TranscriptPath(jobID uint, format constant.TranscriptFormat) (string, error) {
	path := s.transcriptPath(jobID, format)
	if fileExists(path) {
		return path, nil
	}
	if format == constant.TranscriptFormatSegments {
		fallback := s.transcriptPath(jobID, constant.TranscriptFormatFull)
		if fileExists(fallback) {
			return fallback, nil
		}
	}
	return "", ErrArtifactNotFound
}

// RemoveTranscripts deletes every committed or staged artifact of jobID.
func (s *FileStore) RemoveTranscripts(jobID uint) error {
	var errs []error
	for _, format := range transcriptFormats {
		final := s.transcriptPath(jobID, format)
		for _, p := range []string{final, final + stagedSuffix} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// TranscriptJobIDs returns the job ids owning committed artifacts and those owning
// staged ones.
func (s *FileStore) TranscriptJobIDs() (committed []uint, staged []uint, err error) {
	entries, err := os.ReadDir(s.transcriptsDir)
	if err != nil {
		return nil, nil, err
	}
	seenCommitted := make(map[uint]bool)
	seenStaged := make(map[uint]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := transcriptNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		id := uint(n)
		if m[4] != "" {
			if !seenStaged[id] {
				seenStaged[id] = true
				staged = append(staged, id)
			}
			continue
		}
		if !seenCommitted[id] {
			seenCommitted[id] = true
			committed = append(committed, id)
		}
	}
	return committed, staged, nil
}

func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func writeFileAtomic(path string, write func(w io.Writer) error) (int64, error) {
	tmp := path + stagedSuffix
	counter := &countingWriter{}
	err := writeFile(tmp, func(w io.Writer) error {
		counter.w = w
		return write(counter)
	})
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
