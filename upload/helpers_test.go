package upload

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/chunk"
	"github.com/lilpacy/verify-test/store"
	"github.com/lilpacy/verify-test/store/memstore"
)

const mib = 1024 * 1024

// recordingLogger keeps warnings for assertions and forwards everything to a real logger.
type recordingLogger struct {
	log.Logger

	mu       sync.Mutex
	warnings []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{Logger: log.NewLogger()}
}

func (l *recordingLogger) Warnf(format string, v ...interface{}) {
	l.mu.Lock()
	l.warnings = append(l.warnings, fmt.Sprintf(format, v...))
	l.mu.Unlock()
	l.Logger.Warnf(format, v...)
}

func (l *recordingLogger) warned(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// faultyStore wraps a memstore, counting calls and injecting failures.
type faultyStore struct {
	*memstore.Store

	initiateErr error
	partErr     map[int]error
	slowPart    int
	completeErr error
	abortErr    error
	headErrs    []error
	slowHead    bool
	headInfo    *store.ObjectInfo

	initiateCalls int
	partCalls     int
	completeCalls int
	abortCalls    int
	headCalls     int
}

func newFaultyStore(opts ...memstore.Option) *faultyStore {
	return &faultyStore{Store: memstore.New(opts...)}
}

func (s *faultyStore) InitiateMultipart(ctx context.Context, key string, algorithm checksum.Algorithm) (string, error) {
	s.initiateCalls++
	if s.initiateErr != nil {
		return "", s.initiateErr
	}
	return s.Store.InitiateMultipart(ctx, key, algorithm)
}

func (s *faultyStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.ReadSeeker, size int64, declared store.Checksum) (string, error) {
	s.partCalls++
	if partNumber == s.slowPart {
		<-ctx.Done()
		return "", store.NewError("UploadPart", store.KindTransport, "", ctx.Err())
	}
	if err, ok := s.partErr[partNumber]; ok {
		return "", err
	}
	return s.Store.UploadPart(ctx, key, uploadID, partNumber, body, size, declared)
}

func (s *faultyStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []store.CompletedPart) (store.CompletedObject, error) {
	s.completeCalls++
	if s.completeErr != nil {
		return store.CompletedObject{}, s.completeErr
	}
	return s.Store.CompleteMultipart(ctx, key, uploadID, parts)
}

func (s *faultyStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.abortCalls++
	if s.abortErr != nil {
		return s.abortErr
	}
	return s.Store.AbortMultipart(ctx, key, uploadID)
}

func (s *faultyStore) HeadObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	s.headCalls++
	if s.slowHead {
		<-ctx.Done()
		return store.ObjectInfo{}, store.NewError("HeadObject", store.KindTransport, "", ctx.Err())
	}
	if len(s.headErrs) > 0 {
		err := s.headErrs[0]
		s.headErrs = s.headErrs[1:]
		return store.ObjectInfo{}, err
	}
	if s.headInfo != nil {
		return *s.headInfo, nil
	}
	return s.Store.HeadObject(ctx, key)
}

func randomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return data
}

func chunksOf(data []byte, size int) []chunk.Chunk {
	var chunks []chunk.Chunk
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, chunk.Chunk{Number: len(chunks) + 1, Data: data[i:end]})
	}
	return chunks
}
