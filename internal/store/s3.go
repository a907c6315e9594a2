package store

import (
	"bytes"
	"context"
	"fmt"

	"event-attach/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI 는 s3.Client 중 PutObject 만 떼어낸 것이다. 테스트에서 fake 로 교체한다.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend 는 첨부를 S3 object 로 저장한다.
// SDK 자체 retry 는 끄고, 재시도는 Dispatcher 의 backoff 에 맡긴다.
type S3Backend struct {
	bucket string
	client putObjectAPI
}

// NewS3Backend 는 AWS 기본 credential chain 과 AWS_REGION 으로 client 를 만든다.
func NewS3Backend(ctx context.Context, cfg config.Config) (*S3Backend, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("store: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return newS3Backend(cfg.S3Bucket, client), nil
}

func newS3Backend(bucket string, client putObjectAPI) *S3Backend {
	return &S3Backend{bucket: bucket, client: client}
}

func (b *S3Backend) Name() string { return "s3" }

// Put 은 PutObject 를 1회 호출한다.
// body 는 시도마다 새 reader 로 감싸므로 retry 시 rewind 가 필요 없다.
func (b *S3Backend) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("store: s3 put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Close() error { return nil }
