package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/lilpacy/verify-test/internal/multierror"
	"github.com/lilpacy/verify-test/store"
	"github.com/lilpacy/verify-test/upload"
)

const demoPrefix = "wasabi-md5-verify-demo:"

// DemoCmd uploads the same content once with correct digests and once with a
// corrupted one, in both upload modes.
type DemoCmd struct {
	Path     string `arg:"" optional:"" help:"File for the multipart runs. A random file of --size is generated when omitted."`
	Size     string `help:"Size of the generated file." default:"20MiB"`
	PartSize string `name:"part-size" help:"Size of every part but the last, at least 5MiB." default:"8MiB"`
	BadPart  int    `name:"bad-part" help:"Part that carries the wrong CRC32C in the negative multipart run." default:"2"`
}

// Run ...
func (c *DemoCmd) Run(r *runner) error {
	var errs multierror.Error

	r.logger.Infof("Single-shot upload, correct Content-MD5")
	payload, err := randomPayload(2048)
	if err != nil {
		return err
	}
	putter := upload.NewPutter(r.store, r.logger, upload.WithPutTimeout(r.callTimeout))
	multierror.Append(&errs, r.expectSuccess(func() error {
		result, err := putter.Put(r.ctx, r.newKey(""), payload)
		if err == nil {
			r.logger.Donef("Uploaded %s, ETag: %s", result.Key, result.ETag)
		}
		return err
	}))
	r.logger.Println()

	r.logger.Infof("Single-shot upload, zeroed Content-MD5")
	badPutter := upload.NewPutter(r.store, r.logger, upload.WithPutTimeout(r.callTimeout), upload.WithDigestOverride(upload.ZeroedDigest))
	multierror.Append(&errs, r.expectRejection(func() error {
		_, err := badPutter.Put(r.ctx, r.newKey("-bad"), payload)
		return err
	}))
	r.logger.Println()

	path, err := c.sourceFile(r)
	if err != nil {
		return err
	}
	uploader, err := r.multipartUploader(c.PartSize, true)
	if err != nil {
		return err
	}

	r.logger.Infof("Multipart upload, correct CRC32C for every part")
	multierror.Append(&errs, r.expectSuccess(func() error {
		_, err := r.multipartFile(uploader, path, r.newKey(""))
		return err
	}))
	r.logger.Println()

	r.logger.Infof("Multipart upload, wrong CRC32C for part %d", c.BadPart)
	badKey := r.newKey("-bad")
	multierror.Append(&errs, r.expectRejection(func() error {
		_, err := r.multipartFile(uploader.WithChecksumOverride(upload.CorruptPart(c.BadPart)), path, badKey)
		return err
	}))
	exists, err := upload.NewConfirmer(r.store, r.logger, upload.WithHeadTimeout(r.callTimeout)).Exists(r.ctx, badKey)
	switch {
	case err != nil:
		r.logger.Warnf("Head check failed: %s", err)
	case exists:
		multierror.Append(&errs, fmt.Errorf("object %s exists after a rejected upload", badKey))
	default:
		r.logger.Donef("No object under %s", badKey)
	}

	return errs.ErrorOrNil()
}

func (c *DemoCmd) sourceFile(r *runner) (string, error) {
	if c.Path != "" {
		paths, err := r.resolvePaths([]string{c.Path})
		if err != nil {
			return "", err
		}
		return paths[0], nil
	}

	size, err := units.RAMInBytes(c.Size)
	if err != nil {
		return "", fmt.Errorf("parse size %q: %w", c.Size, err)
	}
	dir, err := r.tempDir("verifyupload-demo")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "payload.bin")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		f.Close() //nolint:errcheck
		return "", fmt.Errorf("write random data: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.logger.Printf("Generated %s of random data", units.HumanSize(float64(size)))

	return path, nil
}

func (r *runner) expectSuccess(run func() error) error {
	if err := run(); err != nil {
		r.describe(err)
		return fmt.Errorf("expected upload to succeed: %w", err)
	}
	return nil
}

func (r *runner) expectRejection(run func() error) error {
	err := run()
	if err == nil {
		r.logger.Errorf("Upload succeeded unexpectedly")
		return errors.New("expected the store to reject the upload")
	}
	if !errors.Is(err, store.ErrDigestMismatch) {
		r.describe(err)
		return fmt.Errorf("expected a digest mismatch: %w", err)
	}
	r.logger.Donef("Rejected as expected: %s (code: %s)", store.KindOf(err), codeOrNone(err))
	return nil
}

func randomPayload(n int) ([]byte, error) {
	payload := make([]byte, len(demoPrefix)+n)
	copy(payload, demoPrefix)
	if _, err := rand.Read(payload[len(demoPrefix):]); err != nil {
		return nil, fmt.Errorf("generate payload: %w", err)
	}
	return payload, nil
}
