package compression

import (
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/klauspost/compress/zstd"
)

// Extension is appended to the name of compressed files and object keys.
const Extension = ".zst"

// Result ...
type Result struct {
	Path           string
	OriginalSize   int64
	CompressedSize int64
}

// Compressor compresses upload payloads with zstd before they are hashed and sent.
type Compressor struct {
	logger log.Logger
	level  zstd.EncoderLevel
}

// NewCompressor ...
func NewCompressor(logger log.Logger) *Compressor {
	return &Compressor{
		logger: logger,
		level:  zstd.SpeedDefault,
	}
}

// WithLevel returns a copy of the Compressor that uses the named zstd level
// ("fastest", "default", "better", "best").
func (c *Compressor) WithLevel(name string) (*Compressor, error) {
	ok, level := zstd.EncoderLevelFromString(name)
	if !ok {
		return nil, fmt.Errorf("unknown zstd level: %s", name)
	}
	cc := *c
	cc.level = level
	return &cc, nil
}

// CompressFile streams src into dst through a zstd encoder.
func (c *Compressor) CompressFile(src, dst string) (Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, fmt.Errorf("open source file: %w", err)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return Result{}, fmt.Errorf("create compressed file: %w", err)
	}

	encoder, err := zstd.NewWriter(out, zstd.WithEncoderLevel(c.level), zstd.WithZeroFrames(true))
	if err != nil {
		out.Close() //nolint:errcheck
		return Result{}, fmt.Errorf("create zstd writer: %w", err)
	}

	originalSize, err := io.Copy(encoder, in)
	if err != nil {
		encoder.Close() //nolint:errcheck
		out.Close()     //nolint:errcheck
		return Result{}, fmt.Errorf("compress file: %w", err)
	}
	if err := encoder.Close(); err != nil {
		out.Close() //nolint:errcheck
		return Result{}, fmt.Errorf("close zstd writer: %w", err)
	}
	if err := out.Close(); err != nil {
		return Result{}, fmt.Errorf("close compressed file: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return Result{}, fmt.Errorf("stat compressed file: %w", err)
	}

	result := Result{
		Path:           dst,
		OriginalSize:   originalSize,
		CompressedSize: info.Size(),
	}
	c.logger.Debugf("Compressed %s: %s -> %s", src,
		units.HumanSizeWithPrecision(float64(result.OriginalSize), 3),
		units.HumanSizeWithPrecision(float64(result.CompressedSize), 3))

	return result, nil
}

// DecompressFile restores a file written by CompressFile.
func (c *Compressor) DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open compressed file: %w", err)
	}
	defer in.Close() //nolint:errcheck

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer decoder.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, decoder); err != nil {
		out.Close() //nolint:errcheck
		return fmt.Errorf("decompress file: %w", err)
	}

	return out.Close()
}
