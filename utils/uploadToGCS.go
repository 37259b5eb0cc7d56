package utils

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

// UploadBytesToGCS writes a private object. Objects are read back through signed URLs only.
func UploadBytesToGCS(ctx context.Context, client *storage.Client, objectName string, data []byte, contentType string) error {
	bucketName, err := gcsBucket()
	if err != nil {
		return err
	}

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", objectName, err)
	}
	return nil
}
