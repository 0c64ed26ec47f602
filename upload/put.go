package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/store"
)

var md5ETag = regexp.MustCompile(`^[0-9a-f]{32}$`)

// PutResult ...
type PutResult struct {
	Key    string
	ETag   string
	Digest checksum.Digest
	Size   int64
	// ETagVerified is true when the returned ETag is the hex MD5 of the payload.
	// Stores that encrypt objects return ETags that are not MD5s, so false is not an error.
	ETagVerified bool
}

// DigestOverride replaces the Content-MD5 declared for a single-shot write.
type DigestOverride func(digest checksum.Digest) string

// ZeroedDigest declares an all-zero MD5, which never matches real content.
func ZeroedDigest(checksum.Digest) string {
	return "AAAAAAAAAAAAAAAAAAAAAA=="
}

// Putter uploads whole objects with a declared Content-MD5 in one store call.
type Putter struct {
	store       store.ObjectStore
	logger      log.Logger
	callTimeout time.Duration
	override    DigestOverride
}

// PutterOption ...
type PutterOption func(*Putter)

// WithDigestOverride ...
func WithDigestOverride(override DigestOverride) PutterOption {
	return func(p *Putter) {
		p.override = override
	}
}

// WithPutTimeout sets the deadline of the write call.
func WithPutTimeout(d time.Duration) PutterOption {
	return func(p *Putter) {
		p.callTimeout = d
	}
}

// NewPutter ...
func NewPutter(objectStore store.ObjectStore, logger log.Logger, opts ...PutterOption) *Putter {
	p := &Putter{
		store:  objectStore,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Put uploads payload under key. A digest disagreement is reported as an error
// matching store.ErrDigestMismatch and leaves nothing behind at key.
func (p *Putter) Put(ctx context.Context, key string, payload []byte) (PutResult, error) {
	digest := checksum.Compute(checksum.MD5, payload)
	return p.put(ctx, key, bytes.NewReader(payload), int64(len(payload)), digest)
}

// PutReader hashes r, rewinds it and uploads its content. Only the hash state
// and the transport's buffers are held in memory.
func (p *Putter) PutReader(ctx context.Context, key string, r io.ReadSeeker) (PutResult, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return PutResult{}, fmt.Errorf("get current offset: %w", err)
	}

	digest, size, err := checksum.ComputeReader(checksum.MD5, r)
	if err != nil {
		return PutResult{}, err
	}

	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return PutResult{}, fmt.Errorf("seek to position %d: %w", start, err)
	}

	return p.put(ctx, key, io.NewSectionReader(readerAt{r}, start, size), size, digest)
}

func (p *Putter) put(ctx context.Context, key string, body io.ReadSeeker, size int64, digest checksum.Digest) (PutResult, error) {
	declared := digest.Wire()
	if p.override != nil {
		declared = p.override(digest)
	}
	if declared != digest.Wire() {
		p.logger.Warnf("Declaring Content-MD5 %s instead of %s", declared, digest.Wire())
	}

	callCtx, cancel := withCallTimeout(ctx, p.callTimeout)
	defer cancel()

	p.logger.Debugf("PutObject Key=%s Size=%d ContentMD5=%s", key, size, declared)
	etag, err := p.store.PutObject(callCtx, key, body, size, declared)
	if err != nil {
		return PutResult{}, fmt.Errorf("put object %s: %w", key, err)
	}

	result := PutResult{
		Key:          key,
		ETag:         etag,
		Digest:       digest,
		Size:         size,
		ETagVerified: ETagMatches(etag, digest),
	}
	if !result.ETagVerified {
		p.logger.Warnf("ETag %s is not the MD5 of the uploaded content (%s)", etag, digest.Hex())
	}

	return result, nil
}

// ETagMatches reports whether a single-part ETag carries the hex MD5 of digest.
func ETagMatches(etag string, digest checksum.Digest) bool {
	trimmed := strings.ToLower(strings.Trim(etag, `"`))
	if !md5ETag.MatchString(trimmed) {
		return false
	}
	return digest.Algorithm() == checksum.MD5 && trimmed == digest.Hex()
}

// readerAt adapts a ReadSeeker for io.NewSectionReader. Section readers are
// used sequentially here, so seeking before each read is safe.
type readerAt struct {
	r io.ReadSeeker
}

func (ra readerAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := ra.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(ra.r, p)
}
