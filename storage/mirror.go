package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"transcribe-api/constant"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// Mirror replicates committed transcript sets to object storage.
type Mirror interface {
	MirrorTranscripts(ctx context.Context, jobID uint, paths map[constant.TranscriptFormat]string) error
	RemoveTranscripts(ctx context.Context, jobID uint) error
}

type objectPutRemover interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type minioMirror struct {
	client objectPutRemover
	bucket string
}

// NewMinIOMirror returns nil when client is nil so callers can skip mirroring.
func NewMinIOMirror(client *minio.Client, bucket string) Mirror {
	if client == nil {
		return nil
	}
	return &minioMirror{client: client, bucket: bucket}
}

func objectPrefix(jobID uint) string {
	return path.Join("transcripts", fmt.Sprint(jobID))
}

func contentType(format constant.TranscriptFormat) string {
	if format == constant.TranscriptFormatText {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

func (m *minioMirror) MirrorTranscripts(ctx context.Context, jobID uint, paths map[constant.TranscriptFormat]string) error {
	formats := make([]string, 0, len(paths))
	for format := range paths {
		formats = append(formats, string(format))
	}
	sort.Strings(formats)

	for _, f := range formats {
		format := constant.TranscriptFormat(f)
		local := paths[format]
		objectName := path.Join(objectPrefix(jobID), filepath.Base(local))
		_, err := m.client.FPutObject(ctx, m.bucket, objectName, local, minio.PutObjectOptions{
			ContentType: contentType(format),
		})
		if err != nil {
			return fmt.Errorf("mirror %s: %w", objectName, err)
		}
		zerolog.Ctx(ctx).Debug().Str("object", objectName).Msg("mirrored transcript")
	}
	return nil
}

func (m *minioMirror) RemoveTranscripts(ctx context.Context, jobID uint) error {
	names := []string{
		fmt.Sprintf("transcript_%d.txt", jobID),
		fmt.Sprintf("transcript_%d.json", jobID),
		fmt.Sprintf("transcript_%d_segments.json", jobID),
	}
	for _, name := range names {
		objectName := path.Join(objectPrefix(jobID), name)
		if err := m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", objectName, err)
		}
	}
	return nil
}
