package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/lilpacy/verify-test/store"
)

const numConfirmRetries = 3

// ErrChecksumDiffers is returned when the store reports a different object checksum than expected.
var ErrChecksumDiffers = errors.New("stored checksum differs from the local one")

// Confirmer looks objects up after an upload as a second, client-side check.
// It is not part of the upload contract: a failed confirmation never undoes an upload.
type Confirmer struct {
	store       store.ObjectStore
	logger      log.Logger
	wait        time.Duration
	callTimeout time.Duration
}

// ConfirmerOption ...
type ConfirmerOption func(*Confirmer)

// WithHeadTimeout bounds every single HeadObject attempt. 0 disables the deadline.
func WithHeadTimeout(d time.Duration) ConfirmerOption {
	return func(c *Confirmer) {
		c.callTimeout = d
	}
}

// NewConfirmer ...
func NewConfirmer(objectStore store.ObjectStore, logger log.Logger, opts ...ConfirmerOption) *Confirmer {
	c := &Confirmer{
		store:       objectStore,
		logger:      logger,
		wait:        5 * time.Second,
		callTimeout: DefaultConfig().CallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Head returns the object's metadata, retrying transport failures.
// A missing object is reported immediately with an error matching store.ErrNotFound.
func (c *Confirmer) Head(ctx context.Context, key string) (store.ObjectInfo, error) {
	var info store.ObjectInfo
	err := retry.Times(numConfirmRetries).Wait(c.wait).TryWithAbort(func(attempt uint) (error, bool) {
		callCtx, cancel := withCallTimeout(ctx, c.callTimeout)
		result, err := c.store.HeadObject(callCtx, key)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return err, true
			}
			c.logger.Debugf("head object %s (attempt %d): %s", key, attempt+1, err)
			return fmt.Errorf("head object: %w", err), false
		}
		info = result
		return nil, true
	})

	return info, err
}

// Exists reports whether an object is stored under key.
func (c *Confirmer) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ConfirmChecksum compares the CRC32C checksum the store reports for key with
// expected. Stores that do not report a checksum are not treated as a mismatch.
func (c *Confirmer) ConfirmChecksum(ctx context.Context, key, expected string) (store.ObjectInfo, error) {
	info, err := c.Head(ctx, key)
	if err != nil {
		return store.ObjectInfo{}, err
	}

	c.logger.Debugf("[head] ETag=%s ChecksumCRC32C=%s Size=%d", info.ETag, info.ChecksumCRC32C, info.Size)

	if info.ChecksumCRC32C == "" {
		c.logger.Warnf("Store did not report a checksum for %s, skipping checksum confirmation", key)
		return info, nil
	}
	if info.ChecksumCRC32C != expected {
		return info, fmt.Errorf("%w: store reports %s, expected %s", ErrChecksumDiffers, info.ChecksumCRC32C, expected)
	}

	return info, nil
}
