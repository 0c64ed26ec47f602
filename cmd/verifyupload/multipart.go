package main

import (
	"github.com/docker/go-units"
	"github.com/lilpacy/verify-test/internal/multierror"
	"github.com/lilpacy/verify-test/upload"
)

// MultipartCmd ...
type MultipartCmd struct {
	Paths       []string `arg:"" name:"path" help:"Files or glob patterns such as data/**/*.bin."`
	PartSize    string   `name:"part-size" help:"Size of every part but the last, at least 5MiB." default:"8MiB"`
	CorruptPart int      `name:"corrupt-part" help:"Declare a wrong CRC32C for this part number so the store rejects it."`
	NoVerify    bool     `name:"no-verify" help:"Skip the head check after completion."`
}

// Run ...
func (c *MultipartCmd) Run(r *runner) error {
	paths, err := r.resolvePaths(c.Paths)
	if err != nil {
		return err
	}

	uploader, err := r.multipartUploader(c.PartSize, !c.NoVerify)
	if err != nil {
		return err
	}
	suffix := ""
	if c.CorruptPart > 0 {
		uploader = uploader.WithChecksumOverride(upload.CorruptPart(c.CorruptPart))
		suffix = "-bad"
	}

	var errs multierror.Error
	for _, path := range paths {
		_, err := r.multipartFile(uploader, path, r.newKey(suffix))
		if err != nil {
			r.describe(err)
		}
		multierror.Append(&errs, err)
	}
	return errs.ErrorOrNil()
}

func (r *runner) multipartUploader(partSize string, verify bool) (*upload.MultipartUploader, error) {
	size, err := upload.ParsePartSize(partSize)
	if err != nil {
		return nil, err
	}

	cfg := upload.DefaultConfig()
	cfg.PartSize = size
	cfg.CallTimeout = r.callTimeout
	cfg.VerifyAfterComplete = verify

	return upload.NewMultipartUploader(r.store, cfg, r.logger)
}

func (r *runner) multipartFile(uploader *upload.MultipartUploader, path, key string) (*upload.MultipartResult, error) {
	r.logger.Infof("Uploading %s as %s in parts of %s", path, key, units.BytesSize(float64(uploader.Config().PartSize)))

	uploadPath, err := r.prepare(path)
	if err != nil {
		return nil, err
	}

	result, err := uploader.UploadFile(r.ctx, key, uploadPath)
	if err != nil {
		return nil, err
	}

	for _, part := range result.Parts {
		r.logger.Debugf("Part %d: ETag %s, CRC32C %s", part.PartNumber, part.ETag, part.Digest.Wire())
	}
	r.logger.Donef("Completed %s (%s in %d parts), ETag: %s, Location: %s, CRC32C: %s",
		key, units.HumanSize(float64(result.Size)), len(result.Parts), result.ETag, result.Location, result.Checksum)

	return result, nil
}
