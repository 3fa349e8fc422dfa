package config

import (
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinIOClient returns nil when no endpoint is configured.
func NewMinIOClient(cfg MinIO) (*minio.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
}
