// Package storage archives generated images into S3 and purges
// soft-deleted ones. Provider-hosted image URLs expire after a couple of
// hours; archiving keeps the history page working.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"
)

type Archiver struct {
	Uploader   s3manageriface.UploaderAPI
	S3Client   s3iface.S3API
	Bucket     string
	HTTPClient *http.Client
}

func NewArchiver(uploader s3manageriface.UploaderAPI, client s3iface.S3API, bucket string) *Archiver {
	return &Archiver{
		Uploader:   uploader,
		S3Client:   client,
		Bucket:     bucket,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Archive downloads the provider-hosted image and stores a copy under a
// per-user key, returning the key.
func (a *Archiver) Archive(ctx context.Context, userID uuid.UUID, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	key := fmt.Sprintf("generated/%s/%s.png", userID, uuid.New())

	_, err = a.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        resp.Body,
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image to S3: %w", err)
	}

	return key, nil
}

// Delete removes an archived object. Missing objects are not an error.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	_, err := a.S3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
	})
	return err
}
