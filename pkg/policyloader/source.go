// Package policyloader fetches compiled policy programs from local files or
// object storage and keeps the process-wide program behind a swappable handle.
package policyloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrUnknownSource is returned for URIs with an unsupported scheme.
var ErrUnknownSource = errors.New("policyloader: unknown source")

// Source yields the raw bytes of a compiled policy document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// FileSource reads a policy from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("policyloader: read %s: %w", s.Path, err)
	}
	return data, nil
}

func (s FileSource) String() string { return "file://" + s.Path }

// S3GetObjectAPI is the subset of the S3 client used to fetch policies.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads a policy object from S3 (or an S3-compatible endpoint).
type S3Source struct {
	Client S3GetObjectAPI
	Bucket string
	Key    string
}

// S3Config configures the client built by NewS3Source.
type S3Config struct {
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
}

// NewS3Source builds an S3 client from the default AWS credential chain.
func NewS3Source(ctx context.Context, bucket, key string, cfg S3Config) (*S3Source, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("policyloader: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Source{Client: client, Bucket: bucket, Key: key}, nil
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("policyloader: s3 get %s: %w", s, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("policyloader: s3 read %s: %w", s, err)
	}
	return data, nil
}

func (s *S3Source) String() string { return "s3://" + s.Bucket + "/" + s.Key }

// SourceOptions carries backend settings used by ParseSource.
type SourceOptions struct {
	S3 S3Config
}

// ParseSource resolves a policy URI:
//
//	/etc/policy.yaml, file:///etc/policy.yaml
//	s3://bucket/path/policy.json
//	gs://bucket/path/policy.json   (requires the gcp build tag)
func ParseSource(ctx context.Context, uri string, opts SourceOptions) (Source, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrUnknownSource)
	}
	if !strings.Contains(uri, "://") {
		return FileSource{Path: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "file":
		return FileSource{Path: u.Path}, nil
	case "s3":
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("%w: s3 uri needs bucket and key: %s", ErrUnknownSource, uri)
		}
		region := opts.S3.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Source(ctx, u.Host, key, S3Config{Region: region, Endpoint: opts.S3.Endpoint})
	case "gs":
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("%w: gs uri needs bucket and object: %s", ErrUnknownSource, uri)
		}
		return newGCSSource(ctx, u.Host, key)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnknownSource, u.Scheme)
	}
}
