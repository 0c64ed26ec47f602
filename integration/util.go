//go:build integration
// +build integration

package integration

import (
	"context"
	"math/rand"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/lilpacy/verify-test/config"
	"github.com/lilpacy/verify-test/store"
	"github.com/lilpacy/verify-test/store/miniostore"
	"github.com/lilpacy/verify-test/store/s3store"
)

var logger = log.NewLogger()

// remoteStores returns one store per backend for the bucket configured in the
// WASABI_* environment. Tests are skipped when no bucket is configured.
func remoteStores(t *testing.T) map[string]store.RemoteStore {
	if err := config.LoadDotEnv(logger, "../.env"); err != nil {
		t.Fatal(err)
	}
	if env.NewRepository().Get("WASABI_BUCKET") == "" {
		t.Skip("WASABI_BUCKET is not set")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}

	s3Store, err := s3store.New(context.Background(), s3store.Params{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: string(cfg.SecretAccessKey),
		UsePathStyle:    cfg.UsePathStyle,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]store.RemoteStore{config.BackendS3: s3Store}

	if cfg.Endpoint != "" {
		minioStore, err := miniostore.New(miniostore.Params{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
			UsePathStyle:    cfg.UsePathStyle,
		}, logger)
		if err != nil {
			t.Fatal(err)
		}
		stores[config.BackendMinio] = minioStore
	}

	return stores
}

func testKey(suffix string) string {
	return "verify-test-integration/" + uuid.NewString() + suffix + ".bin"
}

func randomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return data
}
