package datastore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/icelake/utils"
	"github.com/rs/zerolog"
)

type (
	S3DataStore struct {
		bucket     string
		uploader   *s3manager.Uploader
		downloader *s3manager.Downloader
	}

	countingReader struct {
		r io.Reader
		n int64
	}
)

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func NewS3DataStore(bucket string) (*S3DataStore, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	return &S3DataStore{
		bucket:     bucket,
		uploader:   s3manager.NewUploader(s3Session),
		downloader: s3manager.NewDownloader(s3Session),
	}, nil
}

func (sds *S3DataStore) WriteFile(ctx context.Context, path string, data io.Reader) (int64, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	cr := &countingReader{r: data}
	input := &s3manager.UploadInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(path),
		Body:   cr,
	}

	s := time.Now()
	_, err := sds.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("path", path).Int64("bytes", cr.n).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return cr.n, nil
}

func (sds *S3DataStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	buf := &aws.WriteAtBuffer{}

	s := time.Now()
	_, err := sds.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("path", path).Str("durationHuman", d.String()).Msg("downloaded file from s3")

	return buf.Bytes(), nil
}

func (sds *S3DataStore) Shutdown(_ context.Context) error {
	return nil
}
