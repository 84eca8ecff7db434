package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gatotkota/internal/config"
	"gatotkota/internal/upload"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutObject) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

func TestS3UploaderPutsObject(t *testing.T) {
	fake := &fakePutObject{}
	u := newS3Uploader(fake, "reports", config.S3{Bucket: "photos", Region: "ap-southeast-3"})
	u.now = fixedNow

	var last int
	remote, err := u.Upload(context.Background(), upload.NewBytesSource("Pothole.JPG", []byte("\xff\xd8\xff\xe0data")), func(p int) { last = p })
	require.NoError(t, err)

	require.NotNil(t, fake.in)
	assert.Equal(t, "photos", aws.ToString(fake.in.Bucket))
	assert.Regexp(t, `^reports/2026/03/[0-9a-f-]{36}\.jpg$`, aws.ToString(fake.in.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(fake.in.ContentType))
	assert.Equal(t, "\xff\xd8\xff\xe0data", string(fake.body))
	assert.Equal(t, 100, last)

	assert.Equal(t, aws.ToString(fake.in.Key), remote.PublicID)
	assert.Equal(t, "https://photos.s3.ap-southeast-3.amazonaws.com/"+remote.PublicID, remote.URL)
}

func TestS3UploaderPublicBaseURL(t *testing.T) {
	u := newS3Uploader(&fakePutObject{}, "", config.S3{Bucket: "b", PublicBaseURL: "https://cdn.example/"})
	u.now = fixedNow
	remote, err := u.Upload(context.Background(), upload.NewBytesSource("a.png", []byte("x")), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+remote.PublicID, remote.URL)
}

func TestS3UploaderWrapsError(t *testing.T) {
	boom := errors.New("access denied")
	u := newS3Uploader(&fakePutObject{err: boom}, "", config.S3{Bucket: "b"})
	_, err := u.Upload(context.Background(), upload.NewBytesSource("a.png", []byte("x")), nil)
	require.ErrorIs(t, err, boom)
}

func TestNewS3UploaderUsesStaticCredentials(t *testing.T) {
	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })

	var lo awsconfig.LoadOptions
	loadAWSConfig = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region}, nil
	}

	u, err := NewS3Uploader("reports", config.S3{
		Bucket: "b", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000",
		AccessKey: "minioadmin", SecretKey: "minioadmin",
	})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "us-east-1", lo.Region)
	require.NotNil(t, lo.Credentials)

	creds, err := lo.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minioadmin", creds.AccessKeyID)

	_, err = NewS3Uploader("", config.S3{})
	require.ErrorIs(t, err, ErrMissingBucket)
}

func TestNewSelectsBackend(t *testing.T) {
	u, err := New(config.Storage{Backend: "preset", Endpoint: "https://api.example/upload", UploadPreset: "p"})
	require.NoError(t, err)
	assert.IsType(t, &PresetUploader{}, u)

	_, err = New(config.Storage{Backend: "ftp"})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "reports/2026/03/id.png", objectKey("/reports/", "id", "x.PNG", fixedNow()))
	assert.Equal(t, "2026/03/id", objectKey("", "id", "noext", fixedNow()))
}
