// Package checksum computes the content digests the object store verifies uploads against
// and encodes them in the form the store expects in request headers.
package checksum

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// Algorithm ...
type Algorithm int

const (
	// MD5 is the whole-object hash sent as Content-MD5 on single-shot writes.
	MD5 Algorithm = iota + 1
	// CRC32C is the streaming checksum declared per part of a multipart upload.
	CRC32C
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// String returns the name the S3 API uses for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case MD5:
		return "MD5"
	case CRC32C:
		return "CRC32C"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Size is the length of the raw digest in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case CRC32C:
		return crc32.Size
	default:
		return 0
	}
}

// Streaming reports whether the algorithm can be declared for multipart parts.
func (a Algorithm) Streaming() bool {
	return a == CRC32C
}

// New returns a fresh hash for the algorithm. CRC32C sums are big-endian, so
// Sum matches the wire layout.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case CRC32C:
		return crc32.New(castagnoli)
	default:
		panic(fmt.Sprintf("checksum: unsupported algorithm %d", int(a)))
	}
}

// Digest is an immutable digest value. Two digests are equal iff their
// algorithm and raw bytes are equal.
type Digest struct {
	algorithm Algorithm
	raw       string
}

// Compute digests data. Empty input yields the algorithm's empty-input value.
func Compute(algorithm Algorithm, data []byte) Digest {
	h := algorithm.New()
	h.Write(data) //nolint:errcheck
	return Digest{algorithm: algorithm, raw: string(h.Sum(nil))}
}

// ComputeReader digests everything readable from r and returns the number of bytes read.
func ComputeReader(algorithm Algorithm, r io.Reader) (Digest, int64, error) {
	h := algorithm.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("read content: %w", err)
	}
	return Digest{algorithm: algorithm, raw: string(h.Sum(nil))}, n, nil
}

// FromBytes wraps an already computed raw digest.
func FromBytes(algorithm Algorithm, raw []byte) (Digest, error) {
	if len(raw) != algorithm.Size() {
		return Digest{}, fmt.Errorf("%s digest must be %d bytes, got %d", algorithm, algorithm.Size(), len(raw))
	}
	return Digest{algorithm: algorithm, raw: string(raw)}, nil
}

// ParseWire decodes a base64 wire value back into a digest.
func ParseWire(algorithm Algorithm, wire string) (Digest, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return Digest{}, fmt.Errorf("base64 decode checksum: %w", err)
	}
	return FromBytes(algorithm, raw)
}

// Algorithm ...
func (d Digest) Algorithm() Algorithm {
	return d.algorithm
}

// Bytes returns a copy of the raw digest.
func (d Digest) Bytes() []byte {
	return []byte(d.raw)
}

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool {
	return d.algorithm == 0
}

// Wire is the base64 encoding of the raw digest, as sent in Content-MD5 and
// x-amz-checksum-* headers.
func (d Digest) Wire() string {
	return base64.StdEncoding.EncodeToString([]byte(d.raw))
}

// Hex is the lower-case hex encoding. For MD5 this is what single-part ETags carry.
func (d Digest) Hex() string {
	return hex.EncodeToString([]byte(d.raw))
}

// Uint32 returns the CRC32C value. It is zero for other algorithms.
func (d Digest) Uint32() uint32 {
	if d.algorithm != CRC32C || len(d.raw) != crc32.Size {
		return 0
	}
	return binary.BigEndian.Uint32([]byte(d.raw))
}

// Equal ...
func (d Digest) Equal(other Digest) bool {
	return d.algorithm == other.algorithm && d.raw == other.raw
}

// Flipped returns a digest that is guaranteed to differ from d: every bit of
// the raw value is inverted.
func (d Digest) Flipped() Digest {
	raw := []byte(d.raw)
	for i := range raw {
		raw[i] ^= 0xFF
	}
	return Digest{algorithm: d.algorithm, raw: string(raw)}
}

// String ...
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", d.algorithm, d.Wire())
}

// Composite returns the checksum S3 reports for a completed multipart object:
// the digest of the concatenated raw part digests, suffixed with the part count.
func Composite(parts []Digest) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no parts")
	}
	algorithm := parts[0].algorithm
	var buf bytes.Buffer
	for i, part := range parts {
		if part.algorithm != algorithm {
			return "", fmt.Errorf("part %d uses %s, expected %s", i+1, part.algorithm, algorithm)
		}
		buf.WriteString(part.raw)
	}
	return fmt.Sprintf("%s-%d", Compute(algorithm, buf.Bytes()).Wire(), len(parts)), nil
}
