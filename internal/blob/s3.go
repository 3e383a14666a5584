// Package blob stores uploaded product images in S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/shivam349/codex1/internal/aws"
)

// ErrNoBucket is returned when uploads are not configured.
var ErrNoBucket = errors.New("uploads bucket is not configured")

// S3Store writes objects to one bucket and returns their public URL.
type S3Store struct {
	client        aws.S3API
	bucket        string
	publicBaseURL string
}

// NewS3Store returns a store for bucket. When publicBaseURL is empty, URLs
// use the virtual-hosted S3 form.
func NewS3Store(client aws.S3API, bucket, publicBaseURL string) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Put uploads body under key and returns the URL it can be fetched from.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if s.bucket == "" {
		return "", ErrNoBucket
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &s.bucket,
		Key:          &key,
		Body:         body,
		ContentType:  &contentType,
		CacheControl: awsString("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public address of key.
func (s *S3Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// ProductImageKey returns a fresh object key for a product image. ext
// includes the leading dot, e.g. ".png".
func ProductImageKey(ext string) string {
	return "products/" + uuid.NewString() + strings.ToLower(ext)
}

func awsString(s string) *string { return &s }
