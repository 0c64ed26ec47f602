// Package s3store implements the store contracts over the S3 API, for AWS S3
// and S3 compatible services such as Wasabi.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/store"
)

// Params ...
type Params struct {
	// Endpoint overrides the service endpoint, e.g. https://s3.wasabisys.com. Empty means AWS S3.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store ...
type Store struct {
	client *s3.Client
	bucket string
	logger log.Logger
}

// New creates a Store for params. Without static credentials the default
// credential chain of the SDK is used.
func New(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	})

	return NewWithClient(client, params.Bucket, logger), nil
}

// NewWithClient ...
func NewWithClient(client *s3.Client, bucket string, logger log.Logger) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// Bucket ...
func (s *Store) Bucket() string {
	return s.bucket
}

// PutObject ...
func (s *Store) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentMD5 string) (string, error) {
	const op = "PutObject"

	output, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentMD5:    aws.String(contentMD5),
	})
	if err != nil {
		return "", wrapError(op, err)
	}

	s.logger.Debugf("[%s] Key=%s ETag=%s", op, key, aws.ToString(output.ETag))
	return aws.ToString(output.ETag), nil
}

// HeadObject requests checksum metadata along with the object metadata.
func (s *Store) HeadObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	const op = "HeadObject"

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return store.ObjectInfo{}, wrapError(op, err)
	}

	return store.ObjectInfo{
		ETag:           aws.ToString(output.ETag),
		Size:           aws.ToInt64(output.ContentLength),
		ChecksumCRC32C: aws.ToString(output.ChecksumCRC32C),
	}, nil
}

// InitiateMultipart ...
func (s *Store) InitiateMultipart(ctx context.Context, key string, algorithm checksum.Algorithm) (string, error) {
	const op = "CreateMultipartUpload"

	checksumAlgorithm, err := sdkAlgorithm(algorithm)
	if err != nil {
		return "", store.NewError(op, store.KindTransport, "", err)
	}

	output, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		ChecksumAlgorithm: checksumAlgorithm,
	})
	if err != nil {
		return "", wrapError(op, err)
	}

	return aws.ToString(output.UploadId), nil
}

// UploadPart sends the declared checksum as is. The SDK does not compute one
// itself when the value is already set.
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.ReadSeeker, size int64, declared store.Checksum) (string, error) {
	const op = "UploadPart"

	input := &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if err := setPartChecksum(input, declared); err != nil {
		return "", store.NewError(op, store.KindTransport, "", err)
	}

	output, err := s.client.UploadPart(ctx, input)
	if err != nil {
		return "", wrapError(op, err)
	}

	return aws.ToString(output.ETag), nil
}

// CompleteMultipart ...
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []store.CompletedPart) (store.CompletedObject, error) {
	const op = "CompleteMultipartUpload"

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		part := types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
		if p.Checksum.Algorithm == checksum.CRC32C {
			part.ChecksumCRC32C = aws.String(p.Checksum.Value)
		}
		completed = append(completed, part)
	}

	output, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return store.CompletedObject{}, wrapError(op, err)
	}

	return store.CompletedObject{
		ETag:     aws.ToString(output.ETag),
		Location: aws.ToString(output.Location),
		Checksum: aws.ToString(output.ChecksumCRC32C),
	}, nil
}

// AbortMultipart ...
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	const op = "AbortMultipartUpload"

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return wrapError(op, err)
	}

	return nil
}

func sdkAlgorithm(algorithm checksum.Algorithm) (types.ChecksumAlgorithm, error) {
	switch algorithm {
	case checksum.CRC32C:
		return types.ChecksumAlgorithmCrc32c, nil
	default:
		return "", fmt.Errorf("checksum algorithm %s is not supported for multipart uploads", algorithm)
	}
}

func setPartChecksum(input *s3.UploadPartInput, declared store.Checksum) error {
	switch declared.Algorithm {
	case checksum.CRC32C:
		input.ChecksumCRC32C = aws.String(declared.Value)
		return nil
	default:
		return fmt.Errorf("checksum algorithm %s is not supported for parts", declared.Algorithm)
	}
}

// wrapError classifies SDK errors by their S3 error code.
func wrapError(op string, err error) error {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return store.NewError(op, store.KindNotFound, "NotFound", err)
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		code := apiError.ErrorCode()
		return store.NewError(op, store.KindForCode(code), code, err)
	}

	return store.NewError(op, store.KindTransport, "", err)
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("Using static credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("Static credentials not defined, using the default credential chain")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	return &cfg, nil
}
