// Package chunk splits a byte stream into the fixed-size parts of a multipart upload.
package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotRestartable is returned by Reset when the underlying reader cannot seek.
var ErrNotRestartable = errors.New("chunk source is not restartable")

// Chunk is one part of the stream. Number starts at 1.
type Chunk struct {
	Number int
	Data   []byte
}

// Size ...
func (c Chunk) Size() int64 {
	return int64(len(c.Data))
}

// Source is a finite, pull-based sequence of chunks over a reader. Only one
// chunk is resident at a time: the Data of a returned chunk is valid until the
// next call to Next or Reset.
type Source struct {
	reader    io.Reader
	chunkSize int64
	start     int64
	next      int
	buf       []byte
	done      bool
}

// NewSource creates a Source reading chunkSize bytes per chunk. The last chunk
// may be shorter. If r is an io.Seeker the current offset is remembered so
// Reset can rewind to it.
func NewSource(r io.Reader, chunkSize int64) (*Source, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	s := &Source{
		reader:    r,
		chunkSize: chunkSize,
		next:      1,
	}

	if seeker, ok := r.(io.Seeker); ok {
		offset, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("get current offset: %w", err)
		}
		s.start = offset
	}

	return s, nil
}

// ChunkSize ...
func (s *Source) ChunkSize() int64 {
	return s.chunkSize
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// An empty stream yields no chunks.
func (s *Source) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	if s.buf == nil {
		s.buf = make([]byte, s.chunkSize)
	}

	n, err := io.ReadFull(s.reader, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return Chunk{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		return Chunk{}, fmt.Errorf("read chunk %d: %w", s.next, err)
	}

	c := Chunk{
		Number: s.next,
		Data:   s.buf[:n],
	}
	s.next++

	return c, nil
}

// Reset rewinds the source to where it started.
func (s *Source) Reset() error {
	seeker, ok := s.reader.(io.Seeker)
	if !ok {
		return ErrNotRestartable
	}
	if _, err := seeker.Seek(s.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to position %d: %w", s.start, err)
	}
	s.next = 1
	s.done = false
	return nil
}

// FileSource is a Source over a file on disk.
type FileSource struct {
	*Source
	file *os.File
	size int64
}

// OpenFile opens path and returns a restartable Source over it.
func OpenFile(path string, chunkSize int64) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}

	source, err := NewSource(file, chunkSize)
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, err
	}

	return &FileSource{
		Source: source,
		file:   file,
		size:   info.Size(),
	}, nil
}

// Size is the size of the file when it was opened.
func (f *FileSource) Size() int64 {
	return f.size
}

// NumChunks ...
func (f *FileSource) NumChunks() int {
	return PartCount(f.size, f.chunkSize)
}

// Close closes the underlying file.
func (f *FileSource) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// PartCount returns how many chunks a stream of totalSize bytes splits into.
func PartCount(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}
