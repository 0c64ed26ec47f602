package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/chunk"
	"github.com/lilpacy/verify-test/store"
)

// MultipartResult describes a completed multipart upload.
type MultipartResult struct {
	Key      string
	UploadID string
	ETag     string
	Location string
	// Checksum is the composite checksum computed from the local part digests.
	Checksum string
	Size     int64
	Parts    []PartRecord
}

// MultipartUploader streams a chunk source through an upload session.
type MultipartUploader struct {
	store     store.RemoteStore
	config    Config
	logger    log.Logger
	confirmer *Confirmer
	override  ChecksumOverride
}

// NewMultipartUploader ...
func NewMultipartUploader(remoteStore store.RemoteStore, config Config, logger log.Logger) (*MultipartUploader, error) {
	normalized, err := config.normalized()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if normalized.PartSize != config.PartSize && config.PartSize != 0 {
		logger.Warnf("Part size %s is below the minimum, using %s",
			units.BytesSize(float64(config.PartSize)), units.BytesSize(float64(normalized.PartSize)))
	}

	return &MultipartUploader{
		store:     remoteStore,
		config:    normalized,
		logger:    logger,
		confirmer: NewConfirmer(remoteStore, logger, WithHeadTimeout(normalized.CallTimeout)),
	}, nil
}

// Config returns the effective configuration.
func (u *MultipartUploader) Config() Config {
	return u.config
}

// WithChecksumOverride makes every following upload declare part checksums
// through override. Used for negative tests only.
func (u *MultipartUploader) WithChecksumOverride(override ChecksumOverride) *MultipartUploader {
	c := *u
	c.override = override
	return &c
}

// UploadFile uploads the file at path under key.
func (u *MultipartUploader) UploadFile(ctx context.Context, key, path string) (*MultipartResult, error) {
	source, err := chunk.OpenFile(path, u.config.PartSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := source.Close(); err != nil {
			u.logger.Warnf("Failed to close file: %s", err)
		}
	}()

	if n := source.NumChunks(); n > MaxParts {
		return nil, fmt.Errorf("%w: %s in %s parts needs %d parts", ErrPartLimit,
			units.BytesSize(float64(source.Size())), units.BytesSize(float64(u.config.PartSize)), n)
	}
	u.logger.Debugf("Uploading %s in %d part(s) of %s", units.HumanSizeWithPrecision(float64(source.Size()), 3),
		source.NumChunks(), units.BytesSize(float64(u.config.PartSize)))

	return u.Upload(ctx, key, source.Source)
}

// Upload drains source into a new session. Chunks are submitted one at a
// time. Completion is only requested after every chunk was accepted, and any
// failure leaves the session aborted. An empty source fails with ErrNoParts
// before a session is created.
func (u *MultipartUploader) Upload(ctx context.Context, key string, source *chunk.Source) (*MultipartResult, error) {
	if source.ChunkSize() < u.config.PartSize {
		return nil, fmt.Errorf("chunk size %d is below the configured part size %d", source.ChunkSize(), u.config.PartSize)
	}

	first, err := source.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("upload %s: %w", key, ErrNoParts)
	}
	if err != nil {
		return nil, err
	}

	opts := []SessionOption{WithCallTimeout(u.config.CallTimeout)}
	if u.override != nil {
		opts = append(opts, WithChecksumOverride(u.override))
	}
	session := NewSession(u.store, key, u.config.Algorithm, u.logger, opts...)

	if _, err := session.Initiate(ctx); err != nil {
		return nil, err
	}
	u.logger.Infof("Multipart upload initiated, UploadId: %s", session.ID())

	// Any exit that leaves the session open must abort it.
	defer func() {
		if !session.State().Terminal() {
			if err := session.Abort(ctx); err != nil {
				u.logger.Warnf("%s", err)
			}
		}
	}()

	var size int64
	for c := first; ; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload cancelled before part %d: %w", c.Number, err)
		}

		if _, err := session.SubmitChunk(ctx, c); err != nil {
			return nil, err
		}
		size += c.Size()

		c, err = source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	stats := session.Stats()
	u.logger.Debugf("%d part(s) accepted in %s (avg %s)", stats.FinishedCount(),
		stats.TotalDuration().Round(time.Millisecond), stats.Average().Round(time.Millisecond))

	obj, err := session.Complete(ctx)
	if err != nil {
		return nil, err
	}

	parts := session.Parts()
	digests := make([]checksum.Digest, 0, len(parts))
	for _, p := range parts {
		digests = append(digests, p.Digest)
	}
	composite, err := checksum.Composite(digests)
	if err != nil {
		return nil, fmt.Errorf("compute composite checksum: %w", err)
	}

	result := &MultipartResult{
		Key:      key,
		UploadID: session.ID(),
		ETag:     obj.ETag,
		Location: obj.Location,
		Checksum: composite,
		Size:     size,
		Parts:    parts,
	}

	if obj.Checksum != "" && obj.Checksum != composite {
		u.logger.Warnf("Store reported checksum %s, computed %s", obj.Checksum, composite)
	}
	if u.config.VerifyAfterComplete {
		if _, err := u.confirmer.ConfirmChecksum(ctx, key, composite); err != nil {
			u.logger.Warnf("Post-upload confirmation failed: %s", err)
		}
	}

	return result, nil
}
