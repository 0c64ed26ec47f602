// Package miniostore implements the store contracts with the minio-go client,
// for MinIO and other S3 compatible services.
package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/store"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Params ...
type Params struct {
	// Endpoint is a host[:port] or a URL. An http:// URL disables TLS.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store ...
type Store struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	logger log.Logger
}

// New ...
func New(params Params, logger log.Logger) (*Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	host, secure, err := parseEndpoint(params.Endpoint)
	if err != nil {
		return nil, err
	}

	lookup := minio.BucketLookupAuto
	if params.UsePathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(params.AccessKeyID, params.SecretAccessKey, ""),
		Secure:       secure,
		Region:       params.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return NewWithClient(client, params.Bucket, logger), nil
}

// NewWithClient ...
func NewWithClient(client *minio.Client, bucket string, logger log.Logger) *Store {
	return &Store{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: bucket,
		logger: logger,
	}
}

// PutObject ...
func (s *Store) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentMD5 string) (string, error) {
	const op = "PutObject"

	info, err := s.core.PutObject(ctx, s.bucket, key, body, size, contentMD5, "", minio.PutObjectOptions{
		DisableContentSha256: true,
	})
	if err != nil {
		return "", wrapError(op, err)
	}

	s.logger.Debugf("[%s] Key=%s ETag=%s", op, key, info.ETag)
	return info.ETag, nil
}

// HeadObject ...
func (s *Store) HeadObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	const op = "HeadObject"

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{Checksum: true})
	if err != nil {
		return store.ObjectInfo{}, wrapError(op, err)
	}

	return store.ObjectInfo{
		ETag:           info.ETag,
		Size:           info.Size,
		ChecksumCRC32C: info.ChecksumCRC32C,
	}, nil
}

// InitiateMultipart declares the checksum algorithm through an amz header,
// which minio-go passes through unprefixed.
func (s *Store) InitiateMultipart(ctx context.Context, key string, algorithm checksum.Algorithm) (string, error) {
	const op = "CreateMultipartUpload"

	if algorithm != checksum.CRC32C {
		return "", store.NewError(op, store.KindTransport, "",
			fmt.Errorf("checksum algorithm %s is not supported for multipart uploads", algorithm))
	}

	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		UserMetadata: map[string]string{
			"x-amz-checksum-algorithm": "CRC32C",
		},
	})
	if err != nil {
		return "", wrapError(op, err)
	}

	return uploadID, nil
}

// UploadPart ...
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.ReadSeeker, size int64, declared store.Checksum) (string, error) {
	const op = "UploadPart"

	if declared.Algorithm != checksum.CRC32C {
		return "", store.NewError(op, store.KindTransport, "",
			fmt.Errorf("checksum algorithm %s is not supported for parts", declared.Algorithm))
	}

	header := make(http.Header)
	header.Set("x-amz-checksum-crc32c", declared.Value)

	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber, body, size, minio.PutObjectPartOptions{
		CustomHeader: header,
	})
	if err != nil {
		return "", wrapError(op, err)
	}

	return part.ETag, nil
}

// CompleteMultipart ...
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []store.CompletedPart) (store.CompletedObject, error) {
	const op = "CompleteMultipartUpload"

	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		part := minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       strings.Trim(p.ETag, `"`),
		}
		if p.Checksum.Algorithm == checksum.CRC32C {
			part.ChecksumCRC32C = p.Checksum.Value
		}
		completeParts = append(completeParts, part)
	}

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return store.CompletedObject{}, wrapError(op, err)
	}

	return store.CompletedObject{
		ETag:     info.ETag,
		Location: info.Location,
		Checksum: info.ChecksumCRC32C,
	}, nil
}

// AbortMultipart ...
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	const op = "AbortMultipartUpload"

	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return wrapError(op, err)
	}

	s.logger.Debugf("[%s] Key=%s UploadId=%s", op, key, uploadID)
	return nil
}

// wrapError classifies minio errors by their S3 error code.
func wrapError(op string, err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "" {
		return store.NewError(op, store.KindTransport, "", err)
	}
	return store.NewError(op, store.KindForCode(code), code, err)
}

func parseEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint must not be empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint %s: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %s", u.Scheme)
	}
}
