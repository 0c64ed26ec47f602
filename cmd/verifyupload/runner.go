package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/lilpacy/verify-test/compression"
	"github.com/lilpacy/verify-test/config"
	"github.com/lilpacy/verify-test/store"
	"github.com/lilpacy/verify-test/store/memstore"
	"github.com/lilpacy/verify-test/store/miniostore"
	"github.com/lilpacy/verify-test/store/s3store"
	"github.com/lilpacy/verify-test/upload"
)

// runner holds what every command needs once flags and configuration are resolved.
type runner struct {
	ctx          context.Context
	logger       log.Logger
	store        store.RemoteStore
	keyPrefix    string
	callTimeout  time.Duration
	compressor   *compression.Compressor
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	pathProvider pathutil.PathProvider
	tmpDirs      []string
	compressDir  string
}

func newRunner(ctx context.Context, globals Globals, logger log.Logger) (*runner, error) {
	r := &runner{
		ctx:          ctx,
		logger:       logger,
		keyPrefix:    strings.Trim(globals.KeyPrefix, "/"),
		callTimeout:  globals.CallTimeout,
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
		pathProvider: pathutil.NewPathProvider(),
	}

	if globals.DryRun {
		logger.Warnf("Dry run: objects are kept in memory and discarded on exit")
		r.store = memstore.New()
	} else {
		if err := config.LoadDotEnv(logger, globals.EnvFile...); err != nil {
			return nil, err
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg.Print(logger)
		logger.Println()

		r.store, err = openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	if globals.Zstd {
		compressor, err := compression.NewCompressor(logger).WithLevel(globals.ZstdLevel)
		if err != nil {
			return nil, err
		}
		r.compressor = compressor
	}

	return r, nil
}

func openStore(ctx context.Context, cfg config.Storage, logger log.Logger) (store.RemoteStore, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		return miniostore.New(miniostore.Params{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
			UsePathStyle:    cfg.UsePathStyle,
		}, logger)
	case config.BackendS3, "":
		return s3store.New(ctx, s3store.Params{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
			UsePathStyle:    cfg.UsePathStyle,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

func (r *runner) cleanup() {
	for _, dir := range r.tmpDirs {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warnf("Failed to remove %s: %s", dir, err)
		}
	}
	r.tmpDirs = nil
	r.compressDir = ""
}

// tempDir creates a directory that cleanup removes.
func (r *runner) tempDir(prefix string) (string, error) {
	dir, err := r.pathProvider.CreateTempDir(prefix)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	r.tmpDirs = append(r.tmpDirs, dir)
	return dir, nil
}

// newKey returns <prefix>/<uuid><suffix>.bin, with the compression extension
// appended when files are compressed.
func (r *runner) newKey(suffix string) string {
	key := uuid.NewString() + suffix + ".bin"
	if r.compressor != nil {
		key += compression.Extension
	}
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + "/" + key
}

// resolvePaths expands glob patterns and drops paths that are missing or not regular files.
func (r *runner) resolvePaths(patterns []string) ([]string, error) {
	var expandedPaths []string
	for _, path := range patterns {
		if !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := r.pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern)
		if err != nil {
			r.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if matches == nil {
			r.logger.Warnf("No match for path pattern: %s", path)
			continue
		}
		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(base, match))
		}
	}

	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := r.pathModifier.AbsPath(path)
		if err != nil {
			r.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		exists, err := r.pathChecker.IsPathExists(absPath)
		if err != nil {
			r.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			r.logger.Warnf("Path doesn't exist: %s", path)
			continue
		}
		if isDir, _ := r.pathChecker.IsDirExists(absPath); isDir {
			r.logger.Warnf("Skipping directory: %s", path)
			continue
		}
		finalPaths = append(finalPaths, absPath)
	}

	if len(finalPaths) == 0 {
		return nil, errors.New("no files to upload")
	}
	return finalPaths, nil
}

// prepare returns the path that is actually uploaded for path.
func (r *runner) prepare(path string) (string, error) {
	if r.compressor == nil {
		return path, nil
	}
	if r.compressDir == "" {
		dir, err := r.tempDir("verifyupload")
		if err != nil {
			return "", err
		}
		r.compressDir = dir
	}

	result, err := r.compressor.CompressFile(path, filepath.Join(r.compressDir, uuid.NewString()+compression.Extension))
	if err != nil {
		return "", err
	}
	return result.Path, nil
}

// describe logs what kind of failure err is, so corruption and connectivity
// problems read differently.
func (r *runner) describe(err error) {
	var chunkErr *upload.ChunkError
	var completionErr *upload.CompletionError
	var cleanupErr *upload.CleanupError

	switch {
	case errors.As(err, &chunkErr):
		r.logger.Errorf("Part %d failed: %s (code: %s)", chunkErr.PartNumber, chunkErr.Kind, codeOrNone(err))
	case errors.As(err, &completionErr):
		r.logger.Errorf("Completion failed: %s (code: %s)", completionErr.Kind, codeOrNone(err))
	default:
		r.logger.Errorf("Upload failed: %s (code: %s)", store.KindOf(err), codeOrNone(err))
	}
	if errors.As(err, &cleanupErr) {
		r.logger.Warnf("Multipart upload %s may still hold uploaded parts", cleanupErr.UploadID)
	}
}

func codeOrNone(err error) string {
	if code := store.CodeOf(err); code != "" {
		return code
	}
	return "none"
}
