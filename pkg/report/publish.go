package report

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/qalab/browserflow/pkg/logger"
)

// S3Target is a bucket plus key prefix, written as "bucket/prefix".
type S3Target struct {
	Bucket string
	Prefix string
}

// ParseS3Target parses "bucket", "bucket/prefix" or "s3://bucket/prefix".
func ParseS3Target(s string) (S3Target, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "s3://")
	bucket, prefix, _ := strings.Cut(s, "/")
	if bucket == "" {
		return S3Target{}, fmt.Errorf("invalid s3 target %q: bucket is required", s)
	}
	return S3Target{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

func (t S3Target) String() string {
	if t.Prefix == "" {
		return "s3://" + t.Bucket
	}
	return "s3://" + t.Bucket + "/" + t.Prefix
}

// PutObjectAPI is the slice of the S3 client used for publishing.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PublishOptions configures the S3 client.
type PublishOptions struct {
	Region   string // Empty uses the default AWS chain
	Endpoint string // S3-compatible endpoint (MinIO, LocalStack)
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, opts PublishOptions) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Publish uploads every file under reportDir to the target and returns the
// number of objects written. Keys mirror the relative paths.
func Publish(ctx context.Context, client PutObjectAPI, reportDir string, target S3Target) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(reportDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(reportDir, p)
		if err != nil {
			return err
		}
		key := path.Join(target.Prefix, filepath.ToSlash(rel))

		if err := putFile(ctx, client, p, target.Bucket, key); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		logger.Debug("published %s to s3://%s/%s", rel, target.Bucket, key)
		uploaded++
		return nil
	})
	return uploaded, err
}

func putFile(ctx context.Context, client PutObjectAPI, p, bucket, key string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	return err
}
