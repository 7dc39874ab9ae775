package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	// MaxBytes defaults to MaxObjectBytes.
	MaxBytes int64
}

type S3Store struct {
	api      *s3.S3
	bucket   string
	maxBytes int64
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 store: bucket is required")
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3 store: create session: %w", err)
	}

	return &S3Store{
		api:      s3.New(sess),
		bucket:   cfg.Bucket,
		maxBytes: cfg.MaxBytes,
	}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3 %s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 %s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := readAll(out.Body, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("s3 %s/%s: %w", s.bucket, key, err)
	}

	return &Object{
		Data:        data,
		ContentType: aws.StringValue(out.ContentType),
	}, nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
