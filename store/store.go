// Package store defines the object-storage operations the uploaders consume and
// the error kinds the stores report.
package store

import (
	"context"
	"io"

	"github.com/lilpacy/verify-test/checksum"
)

// Checksum is a declared checksum as sent on the wire. It is kept apart from
// checksum.Digest because the declared value is not necessarily the correct one.
type Checksum struct {
	Algorithm checksum.Algorithm
	Value     string
}

// CompletedPart is one entry of the completion request.
type CompletedPart struct {
	PartNumber int
	ETag       string
	Checksum   Checksum
}

// CompletedObject is what the store returns for a finalized multipart upload.
type CompletedObject struct {
	ETag     string
	Location string
	Checksum string
}

// ObjectInfo is the metadata returned by HeadObject.
type ObjectInfo struct {
	ETag           string
	Size           int64
	ChecksumCRC32C string
}

// ObjectStore covers single-shot writes and metadata lookups.
type ObjectStore interface {
	// PutObject writes body under key. The store recomputes the MD5 of the
	// received bytes and rejects the write with a DigestMismatch error when it
	// differs from contentMD5.
	PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentMD5 string) (string, error)
	// HeadObject returns a NotFound error when no object exists under key.
	HeadObject(ctx context.Context, key string) (ObjectInfo, error)
}

// MultipartStore covers the multipart upload lifecycle.
type MultipartStore interface {
	InitiateMultipart(ctx context.Context, key string, algorithm checksum.Algorithm) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.ReadSeeker, size int64, declared Checksum) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (CompletedObject, error)
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// RemoteStore ...
type RemoteStore interface {
	ObjectStore
	MultipartStore
}
