package update

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

// Archive keeps a copy of verified artifacts outside the host.
type Archive interface {
	Store(ctx context.Context, version string, a *Artifact) (string, error)
}

type MinioArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioArchive(client *minio.Client, bucket string) *MinioArchive {
	return &MinioArchive{client: client, bucket: bucket}
}

func (m *MinioArchive) Store(ctx context.Context, version string, a *Artifact) (string, error) {
	object := fmt.Sprintf("releases/%s/%s", sanitize(version), filepath.Base(a.Path))
	_, err := m.client.FPutObject(ctx, m.bucket, object, a.Path, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"sha256": a.SHA256},
	})
	if err != nil {
		return "", err
	}
	return object, nil
}
