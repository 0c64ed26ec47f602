package chunk

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Source) ([][]byte, []int) {
	t.Helper()

	var chunks [][]byte
	var numbers []int
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return chunks, numbers
		}
		require.NoError(t, err)

		data := make([]byte, len(c.Data))
		copy(data, c.Data)
		chunks = append(chunks, data)
		numbers = append(numbers, c.Number)
	}
}

func TestSource_Next(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int64
		wantSizes []int
	}{
		{name: "empty stream", size: 0, chunkSize: 4, wantSizes: nil},
		{name: "smaller than one chunk", size: 3, chunkSize: 4, wantSizes: []int{3}},
		{name: "exact multiple", size: 8, chunkSize: 4, wantSizes: []int{4, 4}},
		{name: "short last chunk", size: 10, chunkSize: 4, wantSizes: []int{4, 4, 2}},
		{name: "single byte chunks", size: 3, chunkSize: 1, wantSizes: []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			_, err := rand.Read(data)
			require.NoError(t, err)

			s, err := NewSource(bytes.NewReader(data), tt.chunkSize)
			require.NoError(t, err)

			chunks, numbers := collect(t, s)

			var sizes []int
			for i, c := range chunks {
				sizes = append(sizes, len(c))
				assert.Equal(t, i+1, numbers[i])
			}
			assert.Equal(t, tt.wantSizes, sizes)
			assert.True(t, bytes.Equal(data, bytes.Join(chunks, nil)))
			assert.Equal(t, len(tt.wantSizes), PartCount(int64(tt.size), tt.chunkSize))

			_, err = s.Next()
			assert.ErrorIs(t, err, io.EOF, "exhausted source keeps returning EOF")
		})
	}
}

func TestSource_TwentyMiBInEightMiBChunks(t *testing.T) {
	const mib = 1024 * 1024
	data := make([]byte, 20*mib)
	_, err := rand.Read(data)
	require.NoError(t, err)

	s, err := NewSource(bytes.NewReader(data), 8*mib)
	require.NoError(t, err)

	var sizes []int64
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, c.Size())
	}

	assert.Equal(t, []int64{8 * mib, 8 * mib, 4 * mib}, sizes)
}

func TestSource_OneByteReader(t *testing.T) {
	data := []byte("0123456789")

	s, err := NewSource(iotest.OneByteReader(bytes.NewReader(data)), 4)
	require.NoError(t, err)

	chunks, _ := collect(t, s)

	assert.Equal(t, [][]byte{[]byte("0123"), []byte("4567"), []byte("89")}, chunks)
}

func TestSource_ReadError(t *testing.T) {
	s, err := NewSource(iotest.ErrReader(errors.New("disk on fire")), 4)
	require.NoError(t, err)

	_, err = s.Next()

	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "read chunk 1")
}

func TestSource_Reset(t *testing.T) {
	data := []byte("0123456789")
	s, err := NewSource(bytes.NewReader(data), 4)
	require.NoError(t, err)

	first, _ := collect(t, s)
	require.NoError(t, s.Reset())
	second, numbers := collect(t, s)

	assert.Equal(t, first, second)
	assert.Equal(t, []int{1, 2, 3}, numbers)
}

func TestSource_ResetFromOffset(t *testing.T) {
	r := bytes.NewReader([]byte("headerPAYLOAD"))
	_, err := r.Seek(6, io.SeekStart)
	require.NoError(t, err)

	s, err := NewSource(r, 4)
	require.NoError(t, err)
	_, _ = collect(t, s)

	require.NoError(t, s.Reset())
	chunks, _ := collect(t, s)

	assert.Equal(t, [][]byte{[]byte("PAYL"), []byte("OAD")}, chunks)
}

func TestSource_ResetNotRestartable(t *testing.T) {
	s, err := NewSource(io.LimitReader(bytes.NewReader([]byte("data")), 4), 2)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Reset(), ErrNotRestartable)
}

func TestNewSource_InvalidChunkSize(t *testing.T) {
	_, err := NewSource(bytes.NewReader(nil), 0)
	assert.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	data := bytes.Repeat([]byte("abc"), 7)
	require.NoError(t, os.WriteFile(path, data, 0600))

	f, err := OpenFile(path, 5)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	assert.Equal(t, int64(21), f.Size())
	assert.Equal(t, 5, f.NumChunks())

	chunks, _ := collect(t, f.Source)
	assert.Equal(t, data, bytes.Join(chunks, nil))
	assert.Len(t, chunks[4], 1)
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing"), 5)
	assert.Error(t, err)
}
