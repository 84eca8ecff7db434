package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gatotkota/internal/config"
	"gatotkota/internal/upload"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrMissingBucket = errors.New("s3 bucket not configured")

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores files in a private bucket with credentialed PutObject calls.
type S3Uploader struct {
	client        putObjectAPI
	bucket        string
	region        string
	folder        string
	publicBaseURL string
	now           func() time.Time
}

// loadAWSConfig is swapped in tests.
var loadAWSConfig = awsconfig.LoadDefaultConfig

// NewS3Uploader builds an S3 client from cfg. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewS3Uploader(folder string, cfg config.S3) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadAWSConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, folder, cfg), nil
}

func newS3Uploader(client putObjectAPI, folder string, cfg config.S3) *S3Uploader {
	return &S3Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		folder:        folder,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:           time.Now,
	}
}

func (u *S3Uploader) Upload(ctx context.Context, src upload.Source, onProgress func(int)) (upload.Remote, error) {
	rc, err := src.Open()
	if err != nil {
		return upload.Remote{}, fmt.Errorf("open source: %w", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return upload.Remote{}, fmt.Errorf("read source: %w", err)
	}

	key := objectKey(u.folder, uuid.NewString(), src.Name(), u.now())
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          newProgressReader(bytes.NewReader(data), int64(len(data)), onProgress),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(src.ContentType()),
		Metadata:      map[string]string{"filename": src.Name()},
	})
	if err != nil {
		return upload.Remote{}, fmt.Errorf("s3 put object: %w", err)
	}
	return upload.Remote{URL: u.publicURL(key), PublicID: key}, nil
}

func (u *S3Uploader) publicURL(key string) string {
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}
