package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "github.com/fedutinova/finsight/internal/config"
	"github.com/fedutinova/finsight/internal/common"
)

type S3Storage struct {
	client *s3.Client
	bucket string
}

func NewS3Storage(ctx context.Context, cfg appconfig.Config) (*S3Storage, error) {
	var awsCfg aws.Config
	var err error

	slog.Info("initializing S3 storage",
		"endpoint", cfg.S3Endpoint,
		"bucket", cfg.S3Bucket,
		"region", cfg.S3Region,
		"force_path_style", cfg.S3ForcePathStyle)

	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	return &S3Storage{
		client: client,
		bucket: cfg.S3Bucket,
	}, nil
}

func (s *S3Storage) SaveArtifact(ctx context.Context, fileID string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", common.WrapStorage("read artifact content", err)
	}

	key := ArtifactKey(fileID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", common.WrapStorage("upload artifact to S3", err)
	}

	slog.Info("artifact uploaded to S3", "key", key, "bucket", s.bucket, "size", len(data))
	return key, nil
}

func (s *S3Storage) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("artifact %s: %w", key, common.ErrNotFound)
		}
		return nil, common.WrapStorage("get artifact from S3", err)
	}

	return result.Body, nil
}

func (s *S3Storage) DeleteArtifact(ctx context.Context, key string) error {
	// S3 DeleteObject is a no-op for missing keys, which is exactly the
	// idempotence the cleanup guarantee needs
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return common.WrapStorage("delete artifact from S3", err)
	}

	slog.Info("artifact deleted from S3", "key", key, "bucket", s.bucket)
	return nil
}
