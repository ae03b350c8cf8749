// Package s3 stores artifacts as objects in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
)

// Store writes artifacts to one bucket. Credentials come from the default
// AWS chain (environment, shared config, instance role).
type Store struct {
	client *awss3.Client
	bucket string
	logger arbor.ILogger
}

// NewStore loads the AWS configuration for cfg.Region and builds the client.
// optFns are applied after the endpoint settings from cfg.
func NewStore(ctx context.Context, cfg common.S3Config, logger arbor.ILogger, optFns ...func(*awss3.Options)) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", interfaces.ErrConfig)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	opts := []func(*awss3.Options){func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}}
	opts = append(opts, optFns...)

	logger.Debug().
		Str("bucket", cfg.Bucket).
		Str("region", awsCfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 artifact store ready")

	return &Store{
		client: awss3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Put uploads data and returns s3://<bucket>/<key>
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get downloads the object stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// List pages through every object under prefix
func (s *Store) List(ctx context.Context, prefix string) ([]interfaces.ArtifactInfo, error) {
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var infos []interfaces.ArtifactInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := interfaces.ArtifactInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.UpdatedAt = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
