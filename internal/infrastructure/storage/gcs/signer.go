// Package gcs signs short-lived read URLs for objects in a Cloud Storage
// bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

type Signer struct {
	client *storage.Client
	bucket string
}

func NewSigner(ctx context.Context, bucket string) (*Signer, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &Signer{client: client, bucket: bucket}, nil
}

func (s *Signer) Close() error {
	return s.client.Close()
}

func (s *Signer) SignedURL(_ context.Context, storagePath string, ttl time.Duration) (string, error) {
	object := strings.TrimPrefix(storagePath, "/")
	object = strings.TrimPrefix(object, s.bucket+"/")
	u, err := s.client.Bucket(s.bucket).SignedURL(object, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", object, err)
	}
	return u, nil
}
