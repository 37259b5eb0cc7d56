package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"cloud.google.com/go/storage"
)

// GCSBlobStore keeps attachment bytes in a private bucket. Reads go through
// V4 signed URLs.
type GCSBlobStore struct {
	client *storage.Client
}

func NewGCSBlobStore(ctx context.Context) (*GCSBlobStore, error) {
	client, err := utils.GetGCSClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCSBlobStore{client: client}, nil
}

func (s *GCSBlobStore) Put(ctx context.Context, data []byte, meta aftersales.BlobMeta) (string, error) {
	key := utils.GenerateObjectKey(meta.Prefix, meta.Filename)
	if err := utils.UploadBytesToGCS(ctx, s.client, key, data, meta.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *GCSBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return utils.SignDownload(ctx, key, ttl)
}

func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

// ImagingThumbnailer renders JPEG previews for image attachments.
type ImagingThumbnailer struct{}

func (ImagingThumbnailer) Thumbnail(data []byte) ([]byte, error) {
	return utils.MakeThumbnail(data)
}
