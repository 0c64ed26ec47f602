package main

import (
	"fmt"
	"os"

	"github.com/lilpacy/verify-test/internal/multierror"
	"github.com/lilpacy/verify-test/upload"
)

// PutCmd ...
type PutCmd struct {
	Paths     []string `arg:"" name:"path" help:"Files or glob patterns such as data/**/*.bin."`
	ZeroedMD5 bool     `name:"zeroed-md5" help:"Declare 16 zero bytes as Content-MD5 so the store rejects the write."`
}

// Run ...
func (c *PutCmd) Run(r *runner) error {
	paths, err := r.resolvePaths(c.Paths)
	if err != nil {
		return err
	}

	opts := []upload.PutterOption{upload.WithPutTimeout(r.callTimeout)}
	suffix := ""
	if c.ZeroedMD5 {
		opts = append(opts, upload.WithDigestOverride(upload.ZeroedDigest))
		suffix = "-bad"
	}
	putter := upload.NewPutter(r.store, r.logger, opts...)

	var errs multierror.Error
	for _, path := range paths {
		_, err := r.putFile(putter, path, r.newKey(suffix))
		if err != nil {
			r.describe(err)
		}
		multierror.Append(&errs, err)
	}
	return errs.ErrorOrNil()
}

func (r *runner) putFile(putter *upload.Putter, path, key string) (upload.PutResult, error) {
	r.logger.Infof("Uploading %s as %s", path, key)

	uploadPath, err := r.prepare(path)
	if err != nil {
		return upload.PutResult{}, err
	}

	f, err := os.Open(uploadPath)
	if err != nil {
		return upload.PutResult{}, fmt.Errorf("open %s: %w", uploadPath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Warnf("Failed to close %s: %s", uploadPath, err)
		}
	}()

	result, err := putter.PutReader(r.ctx, key, f)
	if err != nil {
		return upload.PutResult{}, err
	}
	r.logger.Donef("Uploaded %s (%d bytes), ETag: %s, Content-MD5: %s", key, result.Size, result.ETag, result.Digest.Wire())

	info, err := upload.NewConfirmer(r.store, r.logger, upload.WithHeadTimeout(r.callTimeout)).Head(r.ctx, key)
	if err != nil {
		r.logger.Warnf("Head check failed: %s", err)
	} else {
		r.logger.Printf("Head ETag: %s", info.ETag)
	}

	return result, nil
}
