package upload

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/lilpacy/verify-test/checksum"
)

const (
	// MinPartSize is the smallest part size stores accept for all but the last part.
	MinPartSize int64 = 5 * 1024 * 1024
	// DefaultPartSize ...
	DefaultPartSize int64 = 8 * 1024 * 1024
	// MaxParts is the highest part number a multipart upload may use.
	MaxParts = 10000
)

// Config holds configuration for multipart uploads.
type Config struct {
	// PartSize is the size of every part but the last.
	// Default: 8 MiB. Values below MinPartSize are raised to MinPartSize.
	PartSize int64

	// Algorithm is the streaming checksum declared at initiation and sent with every part.
	// Default: CRC32C
	Algorithm checksum.Algorithm

	// CallTimeout bounds every single store call. Expiry is treated as a transport failure.
	// Default: 5 minutes, 0 disables the deadline.
	CallTimeout time.Duration

	// VerifyAfterComplete issues a HeadObject after completion and compares the
	// reported checksum with the locally computed composite checksum.
	VerifyAfterComplete bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PartSize:            DefaultPartSize,
		Algorithm:           checksum.CRC32C,
		CallTimeout:         5 * time.Minute,
		VerifyAfterComplete: true,
	}
}

// ParsePartSize parses human sizes such as "8MiB", "16mb" or "5242880".
func ParsePartSize(s string) (int64, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse part size %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("part size must be positive, got %q", s)
	}
	return size, nil
}

// normalized fills defaults and enforces the part size floor.
func (c Config) normalized() (Config, error) {
	if c.PartSize == 0 {
		c.PartSize = DefaultPartSize
	}
	if c.PartSize < 0 {
		return Config{}, fmt.Errorf("part size must be positive, got %d", c.PartSize)
	}
	if c.PartSize < MinPartSize {
		c.PartSize = MinPartSize
	}
	if c.Algorithm == 0 {
		c.Algorithm = checksum.CRC32C
	}
	if !c.Algorithm.Streaming() {
		return Config{}, fmt.Errorf("%s cannot be used as a per-part checksum", c.Algorithm)
	}
	if c.CallTimeout < 0 {
		return Config{}, fmt.Errorf("call timeout must not be negative, got %s", c.CallTimeout)
	}
	return c, nil
}
