package objectstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/defaults"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"io"
	"net/http"
	"os"
	"time"
)

type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Profile from the shared credentials file, used when no static keys
	// are configured.
	Profile string
	UseSSL  bool
}

// S3Store talks to AWS S3 or any S3-compatible endpoint.
type S3Store struct {
	svc      s3iface.S3API
	uploader *s3manager.Uploader
}

func NewS3Session(opts S3Options) (*session.Session, error) {
	cfg := &aws.Config{
		Region: aws.String(opts.Region),
	}
	switch {
	case opts.AccessKey != "":
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	case opts.Profile != "":
		cfg.Credentials = credentials.NewSharedCredentials(defaults.SharedCredentialsFilename(), opts.Profile)
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
		cfg.DisableSSL = aws.Bool(!opts.UseSSL)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AWS session: %w", err)
	}
	return sess, nil
}

func NewS3Store(sess *session.Session) *S3Store {
	svc := s3.New(sess)
	return &S3Store{
		svc:      svc,
		uploader: s3manager.NewUploaderWithClient(svc),
	}
}

func (s *S3Store) Put(ctx context.Context, bucket, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return classifyS3(fmt.Sprintf("put s3://%s/%s", bucket, key), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, classifyS3(fmt.Sprintf("get s3://%s/%s", bucket, key), err)
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

func (s *S3Store) PresignedURL(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	u, err := req.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", bucket, key, err)
	}
	return u, nil
}

func classifyS3(op string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %v", op, ErrAccessDenied, err)
		}
	}

	var aErr awserr.Error
	if errors.As(err, &aErr) {
		switch aErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w: %v", op, ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
