package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ImageStoreConfig holds configuration for the captured-image bucket.
type ImageStoreConfig struct {
	// Bucket is the bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO, Supabase storage). Empty uses the
	// default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required configuration is present.
func (c *ImageStoreConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("image bucket is required")
	}
	return nil
}

// s3API is the slice of the S3 client the store uses. Narrowed for tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ImageStore uploads captured product photos to object storage, keyed
// by content hash so a retried upload of the same bytes is idempotent.
type ImageStore struct {
	s3     s3API
	bucket string
	prefix string
}

// NewImageStore creates an image store against the configured bucket.
// Uses the AWS SDK default credential chain (env vars, shared config,
// IAM role).
func NewImageStore(ctx context.Context, cfg ImageStoreConfig) (*ImageStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &ImageStore{
		s3:     s3.NewFromConfig(awsConfig, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// HashImage returns the content hash used as the storage key for an
// image. The same bytes always map to the same key.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Upload stores an image and returns its content hash. Re-uploading
// identical bytes overwrites the same key, so retries are safe.
func (s *ImageStore) Upload(ctx context.Context, data []byte) (string, error) {
	hash := HashImage(data)
	key := s.key(hash)
	contentType := "image/jpeg"

	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", &APIError{Kind: ErrNetwork, Op: "upload_image", Err: err}
	}
	return hash, nil
}

// Delete removes an uploaded image by content hash. Used when the user
// discards a capture before submitting the scan.
func (s *ImageStore) Delete(ctx context.Context, hash string) error {
	key := s.key(hash)
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return &APIError{Kind: ErrNetwork, Op: "delete_image", Err: err}
	}
	return nil
}

func (s *ImageStore) key(hash string) string {
	if s.prefix != "" {
		return s.prefix + "/" + hash + ".jpg"
	}
	return hash + ".jpg"
}
