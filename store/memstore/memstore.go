// Package memstore is an in-memory object store that verifies declared
// checksums the way S3 does. It backs tests and dry runs.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/store"
)

const (
	// DefaultMinPartSize is the smallest size S3 accepts for any part but the last.
	DefaultMinPartSize = 5 * 1024 * 1024
	// MaxParts is the highest part number S3 accepts.
	MaxParts = 10000
)

type object struct {
	data           []byte
	etag           string
	checksumCRC32C string
}

type part struct {
	data     []byte
	etag     string
	md5      []byte
	checksum checksum.Digest
}

type upload struct {
	key       string
	algorithm checksum.Algorithm
	parts     map[int]part
}

// Store ...
type Store struct {
	minPartSize int64

	mu      sync.Mutex
	objects map[string]object
	uploads map[string]*upload
}

// Option ...
type Option func(*Store)

// WithMinPartSize overrides DefaultMinPartSize.
func WithMinPartSize(size int64) Option {
	return func(s *Store) {
		s.minPartSize = size
	}
}

// New ...
func New(opts ...Option) *Store {
	s := &Store{
		minPartSize: DefaultMinPartSize,
		objects:     map[string]object{},
		uploads:     map[string]*upload{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutObject ...
func (s *Store) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentMD5 string) (string, error) {
	const op = "PutObject"
	if err := ctx.Err(); err != nil {
		return "", store.NewError(op, store.KindTransport, "", err)
	}

	data, err := readBody(body, size)
	if err != nil {
		return "", store.NewError(op, store.KindTransport, "IncompleteBody", err)
	}

	declared, err := checksum.ParseWire(checksum.MD5, contentMD5)
	if err != nil {
		return "", store.NewError(op, store.KindDigestMismatch, "InvalidDigest", err)
	}
	actual := checksum.Compute(checksum.MD5, data)
	if !actual.Equal(declared) {
		return "", store.NewError(op, store.KindDigestMismatch, "BadDigest",
			errors.New("the Content-MD5 you specified did not match what we received"))
	}

	etag := quote(actual.Hex())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data: data,
		etag: etag,
	}

	return etag, nil
}

// HeadObject ...
func (s *Store) HeadObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	const op = "HeadObject"
	if err := ctx.Err(); err != nil {
		return store.ObjectInfo{}, store.NewError(op, store.KindTransport, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return store.ObjectInfo{}, store.NewError(op, store.KindNotFound, "NotFound", fmt.Errorf("key %s", key))
	}

	return store.ObjectInfo{
		ETag:           obj.etag,
		Size:           int64(len(obj.data)),
		ChecksumCRC32C: obj.checksumCRC32C,
	}, nil
}

// InitiateMultipart ...
func (s *Store) InitiateMultipart(ctx context.Context, key string, algorithm checksum.Algorithm) (string, error) {
	const op = "CreateMultipartUpload"
	if err := ctx.Err(); err != nil {
		return "", store.NewError(op, store.KindTransport, "", err)
	}
	if !algorithm.Streaming() {
		return "", store.NewError(op, store.KindTransport, "InvalidRequest",
			fmt.Errorf("checksum algorithm %s is not supported for multipart uploads", algorithm))
	}

	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = &upload{
		key:       key,
		algorithm: algorithm,
		parts:     map[int]part{},
	}

	return id, nil
}

// UploadPart ...
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.ReadSeeker, size int64, declared store.Checksum) (string, error) {
	const op = "UploadPart"
	if err := ctx.Err(); err != nil {
		return "", store.NewError(op, store.KindTransport, "", err)
	}
	if partNumber < 1 || partNumber > MaxParts {
		return "", store.NewError(op, store.KindTransport, "InvalidArgument",
			fmt.Errorf("part number must be an integer between 1 and %d, got %d", MaxParts, partNumber))
	}

	data, err := readBody(body, size)
	if err != nil {
		return "", store.NewError(op, store.KindTransport, "IncompleteBody", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.lookupUpload(op, key, uploadID)
	if err != nil {
		return "", err
	}
	if declared.Algorithm != u.algorithm {
		return "", store.NewError(op, store.KindTransport, "InvalidRequest",
			fmt.Errorf("upload was initiated with %s, part declares %s", u.algorithm, declared.Algorithm))
	}

	want, err := checksum.ParseWire(u.algorithm, declared.Value)
	if err != nil {
		return "", store.NewError(op, store.KindDigestMismatch, "InvalidDigest", err)
	}
	actual := checksum.Compute(u.algorithm, data)
	if !actual.Equal(want) {
		return "", store.NewError(op, store.KindDigestMismatch, "BadDigest",
			fmt.Errorf("the %s you specified did not match the calculated checksum", u.algorithm))
	}

	sum := md5.Sum(data)
	etag := quote(hex.EncodeToString(sum[:]))
	u.parts[partNumber] = part{
		data:     data,
		etag:     etag,
		md5:      sum[:],
		checksum: actual,
	}

	return etag, nil
}

// CompleteMultipart ...
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []store.CompletedPart) (store.CompletedObject, error) {
	const op = "CompleteMultipartUpload"
	if err := ctx.Err(); err != nil {
		return store.CompletedObject{}, store.NewError(op, store.KindTransport, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.lookupUpload(op, key, uploadID)
	if err != nil {
		return store.CompletedObject{}, err
	}
	if len(parts) == 0 {
		return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "MalformedXML",
			errors.New("the XML you provided did not validate: at least one part is required"))
	}

	var data bytes.Buffer
	var md5s bytes.Buffer
	digests := make([]checksum.Digest, 0, len(parts))
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "InvalidPartOrder",
				errors.New("the list of parts was not in ascending order"))
		}

		stored, ok := u.parts[p.PartNumber]
		if !ok || unquote(stored.etag) != unquote(p.ETag) {
			return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "InvalidPart",
				fmt.Errorf("part %d could not be found or its entity tag did not match", p.PartNumber))
		}
		if p.Checksum.Algorithm != u.algorithm || p.Checksum.Value != stored.checksum.Wire() {
			return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "InvalidPart",
				fmt.Errorf("part %d checksum did not match the uploaded part", p.PartNumber))
		}
		if i < len(parts)-1 && int64(len(stored.data)) < s.minPartSize {
			return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "EntityTooSmall",
				fmt.Errorf("part %d is %d bytes, smaller than the minimum allowed size %d", p.PartNumber, len(stored.data), s.minPartSize))
		}

		data.Write(stored.data)
		md5s.Write(stored.md5)
		digests = append(digests, stored.checksum)
	}

	composite, err := checksum.Composite(digests)
	if err != nil {
		return store.CompletedObject{}, store.NewError(op, store.KindReconciliation, "InvalidPart", err)
	}
	etagSum := md5.Sum(md5s.Bytes())
	etag := quote(fmt.Sprintf("%s-%d", hex.EncodeToString(etagSum[:]), len(parts)))

	s.objects[key] = object{
		data:           data.Bytes(),
		etag:           etag,
		checksumCRC32C: composite,
	}
	delete(s.uploads, uploadID)

	return store.CompletedObject{
		ETag:     etag,
		Location: fmt.Sprintf("memstore:///%s", key),
		Checksum: composite,
	}, nil
}

// AbortMultipart ...
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	const op = "AbortMultipartUpload"
	if err := ctx.Err(); err != nil {
		return store.NewError(op, store.KindTransport, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupUpload(op, key, uploadID); err != nil {
		return err
	}
	delete(s.uploads, uploadID)

	return nil
}

// Object returns a copy of the stored object data.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys returns the keys of all stored objects in lexical order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// PendingUploads returns the number of uploads that were neither completed nor aborted.
func (s *Store) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// AcceptedParts returns the part numbers the store holds for an open upload.
func (s *Store) AcceptedParts(uploadID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return nil
	}
	var numbers []int
	for n := 1; n <= MaxParts && len(numbers) < len(u.parts); n++ {
		if _, ok := u.parts[n]; ok {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

func (s *Store) lookupUpload(op, key, uploadID string) (*upload, error) {
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, store.NewError(op, store.KindNotFound, "NoSuchUpload",
			fmt.Errorf("upload %s does not exist", uploadID))
	}
	return u, nil
}

func readBody(body io.ReadSeeker, size int64) ([]byte, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("declared content length %d, received %d bytes", size, len(data))
	}
	return data, nil
}

func quote(s string) string {
	return `"` + s + `"`
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
