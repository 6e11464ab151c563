package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures S3Fetcher.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// ObjectGetter is the part of the S3 client S3Fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher opens import files stored in S3 or an S3 compatible store.
type S3Fetcher struct {
	client ObjectGetter
}

// NewS3Fetcher builds a fetcher with static credentials.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Fetcher{client: s3.New(opts)}, nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client ObjectGetter) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// IsS3URL reports whether location has the form s3://bucket/key.
func IsS3URL(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", location, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("missing object key in %q", location)
	}
	return u.Host, key, nil
}

// Open returns the object body and its base name. The caller closes the body.
func (f *S3Fetcher) Open(ctx context.Context, location string) (io.ReadCloser, string, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, "", err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, path.Base(key), nil
}

// ReadS3 fetches and reads an import file from S3. It also returns the
// object's base name.
func (f *S3Fetcher) ReadS3(ctx context.Context, location string, opts Options) (importer.Table, string, error) {
	body, name, err := f.Open(ctx, location)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	table, err := Read(ctx, name, body, opts)
	if err != nil {
		return nil, name, err
	}
	return table, name, nil
}
