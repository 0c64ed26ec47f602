package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/bitrise-io/go-utils/v2/mocks"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPutter_Put(t *testing.T) {
	ctx := context.Background()
	payload := []byte("wasabi-md5-verify-demo:payload")
	digest := checksum.Compute(checksum.MD5, payload)

	tests := []struct {
		name     string
		opts     []PutterOption
		wantErr  bool
		wantCode string
	}{
		{name: "correct digest"},
		{name: "zeroed digest", opts: []PutterOption{WithDigestOverride(ZeroedDigest)}, wantErr: true, wantCode: "BadDigest"},
		{
			name:     "digest of other content",
			opts:     []PutterOption{WithDigestOverride(func(checksum.Digest) string { return checksum.Compute(checksum.MD5, []byte("other")).Wire() })},
			wantErr:  true,
			wantCode: "BadDigest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFaultyStore()
			logger := newRecordingLogger()
			putter := NewPutter(remote, logger, tt.opts...)

			result, err := putter.Put(ctx, "objects/payload.bin", payload)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, store.ErrDigestMismatch)
				assert.Equal(t, tt.wantCode, store.CodeOf(err))
				assert.Contains(t, err.Error(), "objects/payload.bin")
				assert.True(t, logger.warned("Declaring Content-MD5"))

				_, ok := remote.Object("objects/payload.bin")
				assert.False(t, ok, "rejected write must not be stored")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "objects/payload.bin", result.Key)
			assert.Equal(t, digest, result.Digest)
			assert.Equal(t, int64(len(payload)), result.Size)
			assert.True(t, result.ETagVerified)

			stored, ok := remote.Object("objects/payload.bin")
			require.True(t, ok)
			assert.Equal(t, payload, stored)
		})
	}
}

func TestPutter_PutReader(t *testing.T) {
	ctx := context.Background()
	remote := newFaultyStore()
	putter := NewPutter(remote, newRecordingLogger())

	r := bytes.NewReader([]byte("header|body of the object"))
	_, err := r.Seek(int64(len("header|")), 0)
	require.NoError(t, err)

	result, err := putter.PutReader(ctx, "objects/body", r)
	require.NoError(t, err)
	assert.Equal(t, int64(len("body of the object")), result.Size)
	assert.Equal(t, checksum.Compute(checksum.MD5, []byte("body of the object")), result.Digest)
	assert.True(t, result.ETagVerified)

	stored, ok := remote.Object("objects/body")
	require.True(t, ok)
	assert.Equal(t, "body of the object", string(stored))
}

func TestPutter_EmptyPayload(t *testing.T) {
	remote := newFaultyStore()
	putter := NewPutter(remote, newRecordingLogger())

	result, err := putter.Put(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.Equal(t, "1B2M2Y8AsgTpgAmY7PhCfg==", result.Digest.Wire())
	assert.True(t, result.ETagVerified)
}

func TestETagMatches(t *testing.T) {
	digest := checksum.Compute(checksum.MD5, []byte("hello"))

	tests := []struct {
		name   string
		etag   string
		digest checksum.Digest
		want   bool
	}{
		{name: "quoted", etag: `"5d41402abc4b2a76b9719d911017c592"`, digest: digest, want: true},
		{name: "unquoted upper case", etag: "5D41402ABC4B2A76B9719D911017C592", digest: digest, want: true},
		{name: "other content", etag: `"d41d8cd98f00b204e9800998ecf8427e"`, digest: digest, want: false},
		{name: "multipart etag", etag: `"5d41402abc4b2a76b9719d911017c592-2"`, digest: digest, want: false},
		{name: "not md5", etag: `"5d41402abc4b2a76b9719d911017c592"`, digest: checksum.Compute(checksum.CRC32C, []byte("hello")), want: false},
		{name: "empty", etag: "", digest: digest, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ETagMatches(tt.etag, tt.digest))
		})
	}
}

func TestPutter_LogsDeclaredDigest(t *testing.T) {
	mockLogger := new(mocks.Logger)
	mockLogger.On("Warnf", "Declaring Content-MD5 %s instead of %s", "AAAAAAAAAAAAAAAAAAAAAA==", mock.Anything).Once()
	mockLogger.On("Debugf", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once()

	putter := NewPutter(newFaultyStore(), mockLogger, WithDigestOverride(ZeroedDigest))
	_, err := putter.Put(context.Background(), "objects/zeroed.bin", []byte("payload"))

	assert.ErrorIs(t, err, store.ErrDigestMismatch)
	mockLogger.AssertExpectations(t)
}
