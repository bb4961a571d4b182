package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/packetkeeper/packetkeeper/internal/common"
)

// S3Config points the transport at a bucket. BaseEndpoint is set for
// S3-compatible stores (MinIO and friends) and left empty for AWS proper.
type S3Config struct {
	Region       string
	BaseEndpoint string
	Bucket       string
	AccessKey    string
	SecretKey    string
	// Prefix namespaces this device's blobs within the bucket.
	Prefix       string
	UsePathStyle bool
}

// s3API is the slice of the S3 client the transport uses; tests substitute
// a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Transport stores snapshot blobs in one S3 bucket under a prefix.
type S3Transport struct {
	api    s3API
	bucket string
	prefix string
}

// NewS3Transport builds a transport with static credentials, matching how
// self-hosted S3-compatible stores are provisioned.
func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Transport{api: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (t *S3Transport) key(name string) string {
	if t.prefix == "" {
		return name
	}
	return strings.TrimSuffix(t.prefix, "/") + "/" + name
}

func (t *S3Transport) Upload(ctx context.Context, name string, data []byte) error {
	_, err := t.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", common.ErrTransportFailure, name, err)
	}
	return nil
}

func (t *S3Transport) Download(ctx context.Context, name string) ([]byte, error) {
	out, err := t.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: download %s: %v", common.ErrTransportFailure, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrTransportFailure, name, err)
	}
	return data, nil
}

func (t *S3Transport) List(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := t.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(t.bucket),
			Prefix:            aws.String(t.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", common.ErrTransportFailure, err)
		}
		for _, obj := range out.Contents {
			name := aws.ToString(obj.Key)
			if t.prefix != "" {
				name = strings.TrimPrefix(name, strings.TrimSuffix(t.prefix, "/")+"/")
			}
			names = append(names, name)
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func (t *S3Transport) Ping(ctx context.Context) error {
	_, err := t.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return nil
}
