package compression

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		level string
		data  []byte
	}{
		{name: "empty file", level: "default", data: nil},
		{name: "repetitive payload", level: "default", data: bytes.Repeat([]byte("wasabi-md5-verify-demo:"), 50000)},
		{name: "fastest level", level: "fastest", data: bytes.Repeat([]byte{0x42}, 1<<20)},
		{name: "best level", level: "best", data: []byte("small")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "payload.bin")
			require.NoError(t, os.WriteFile(src, tt.data, 0600))

			compressor, err := NewCompressor(log.NewLogger()).WithLevel(tt.level)
			require.NoError(t, err)

			result, err := compressor.CompressFile(src, src+Extension)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.data)), result.OriginalSize)
			assert.Equal(t, src+Extension, result.Path)
			assert.Positive(t, result.CompressedSize)

			restored := filepath.Join(dir, "restored.bin")
			require.NoError(t, compressor.DecompressFile(result.Path, restored))

			got, err := os.ReadFile(restored)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestCompressor_ShrinksRepetitiveData(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("abcdefgh"), 1<<17), 0600))

	result, err := NewCompressor(log.NewLogger()).CompressFile(src, src+Extension)
	require.NoError(t, err)
	assert.Less(t, result.CompressedSize, result.OriginalSize/10)
}

func TestCompressor_Errors(t *testing.T) {
	compressor := NewCompressor(log.NewLogger())

	_, err := compressor.CompressFile(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)

	_, err = compressor.WithLevel("ultra")
	assert.Error(t, err)

	notZstd := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(notZstd, []byte("not a zstd frame"), 0600))
	assert.Error(t, compressor.DecompressFile(notZstd, filepath.Join(t.TempDir(), "out")))
}
