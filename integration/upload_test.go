//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"testing"

	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/chunk"
	"github.com/lilpacy/verify-test/store"
	"github.com/lilpacy/verify-test/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func TestPut(t *testing.T) {
	for backend, remote := range remoteStores(t) {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			payload := append([]byte("wasabi-md5-verify-demo:"), randomData(2048)...)
			confirmer := upload.NewConfirmer(remote, logger)

			// Given
			putter := upload.NewPutter(remote, logger)
			badPutter := upload.NewPutter(remote, logger, upload.WithDigestOverride(upload.ZeroedDigest))

			// When
			result, err := putter.Put(ctx, testKey(""), payload)
			require.NoError(t, err)
			badKey := testKey("-bad")
			_, badErr := badPutter.Put(ctx, badKey, payload)

			// Then
			assert.True(t, result.ETagVerified)
			info, err := confirmer.Head(ctx, result.Key)
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), info.Size)

			assert.ErrorIs(t, badErr, store.ErrDigestMismatch)
			assert.Equal(t, "BadDigest", store.CodeOf(badErr))
			exists, err := confirmer.Exists(ctx, badKey)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestMultipart(t *testing.T) {
	data := randomData(20 * mib)
	parts := [][]byte{data[:8*mib], data[8*mib : 16*mib], data[16*mib:]}
	digests := make([]checksum.Digest, 0, len(parts))
	for _, p := range parts {
		digests = append(digests, checksum.Compute(checksum.CRC32C, p))
	}
	expectedChecksum, err := checksum.Composite(digests)
	require.NoError(t, err)

	for backend, remote := range remoteStores(t) {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()

			// Given
			uploader, err := upload.NewMultipartUploader(remote, upload.DefaultConfig(), logger)
			require.NoError(t, err)

			// When
			source, err := chunk.NewSource(bytes.NewReader(data), upload.DefaultPartSize)
			require.NoError(t, err)
			result, err := uploader.Upload(ctx, testKey(""), source)

			// Then
			require.NoError(t, err)
			assert.Len(t, result.Parts, 3)
			assert.Equal(t, expectedChecksum, result.Checksum)
			assert.Equal(t, int64(len(data)), result.Size)
		})

		t.Run(backend+" corrupt part 2", func(t *testing.T) {
			ctx := context.Background()

			// Given
			uploader, err := upload.NewMultipartUploader(remote, upload.DefaultConfig(), logger)
			require.NoError(t, err)
			uploader = uploader.WithChecksumOverride(upload.CorruptPart(2))

			// When
			key := testKey("-bad")
			source, err := chunk.NewSource(bytes.NewReader(data), upload.DefaultPartSize)
			require.NoError(t, err)
			_, err = uploader.Upload(ctx, key, source)

			// Then
			var chunkErr *upload.ChunkError
			require.ErrorAs(t, err, &chunkErr)
			assert.Equal(t, 2, chunkErr.PartNumber)
			assert.Nil(t, chunkErr.Cleanup)
			assert.ErrorIs(t, err, store.ErrDigestMismatch)

			exists, err := upload.NewConfirmer(remote, logger).Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}
