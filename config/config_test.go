package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storageKeys = []string{
	"WASABI_ENDPOINT",
	"WASABI_REGION",
	"WASABI_ACCESS_KEY_ID",
	"WASABI_SECRET_ACCESS_KEY",
	"WASABI_BUCKET",
	"WASABI_BACKEND",
	"WASABI_USE_PATH_STYLE",
}

// setStorageEnv replaces every WASABI_* variable with envVars for the duration of the test.
func setStorageEnv(t *testing.T, envVars map[string]string) {
	for _, key := range storageKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    Storage
		wantErr string
	}{
		{
			name: "defaults",
			envVars: map[string]string{
				"WASABI_BUCKET": "bucket",
			},
			want: Storage{Region: "us-east-1", Bucket: "bucket", Backend: "s3"},
		},
		{
			name: "all variables",
			envVars: map[string]string{
				"WASABI_ENDPOINT":          "https://s3.ap-northeast-1.wasabisys.com",
				"WASABI_REGION":            "ap-northeast-1",
				"WASABI_ACCESS_KEY_ID":     "AKID",
				"WASABI_SECRET_ACCESS_KEY": "secret",
				"WASABI_BUCKET":            "bucket",
				"WASABI_BACKEND":           "minio",
				"WASABI_USE_PATH_STYLE":    "true",
			},
			want: Storage{
				Endpoint:        "https://s3.ap-northeast-1.wasabisys.com",
				Region:          "ap-northeast-1",
				AccessKeyID:     "AKID",
				SecretAccessKey: "secret",
				Bucket:          "bucket",
				Backend:         "minio",
				UsePathStyle:    true,
			},
		},
		{
			name:    "missing bucket",
			envVars: map[string]string{},
			wantErr: "WASABI_BUCKET",
		},
		{
			name:    "unknown backend",
			envVars: map[string]string{"WASABI_BUCKET": "bucket", "WASABI_BACKEND": "gcs"},
			wantErr: "WASABI_BACKEND",
		},
		{
			name:    "invalid bool",
			envVars: map[string]string{"WASABI_BUCKET": "bucket", "WASABI_USE_PATH_STYLE": "maybe"},
			wantErr: "WASABI_USE_PATH_STYLE",
		},
		{
			name:    "minio without endpoint",
			envVars: map[string]string{"WASABI_BUCKET": "bucket", "WASABI_BACKEND": "minio"},
			wantErr: "WASABI_ENDPOINT",
		},
		{
			name:    "key id without secret",
			envVars: map[string]string{"WASABI_BUCKET": "bucket", "WASABI_ACCESS_KEY_ID": "AKID"},
			wantErr: "must be set together",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setStorageEnv(t, tt.envVars)

			got, err := Load()

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("secret").String())
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "*****", fmt.Sprintf("%s", Secret("secret")))
}

type printLogger struct {
	log.Logger

	mu    sync.Mutex
	lines []string
}

func (l *printLogger) Infof(format string, v ...interface{}) {
	l.record(format, v...)
}

func (l *printLogger) Printf(format string, v ...interface{}) {
	l.record(format, v...)
}

func (l *printLogger) record(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestStorage_Print(t *testing.T) {
	logger := &printLogger{Logger: log.NewLogger()}
	cfg := Storage{
		Region:          "us-east-1",
		AccessKeyID:     "AKID",
		SecretAccessKey: "super secret",
		Bucket:          "bucket",
		Backend:         "s3",
	}

	cfg.Print(logger)

	expected := `Storage:
- WASABI_ENDPOINT: <unset>
- WASABI_REGION: us-east-1
- WASABI_ACCESS_KEY_ID: AKID
- WASABI_SECRET_ACCESS_KEY: *****
- WASABI_BUCKET: bucket
- WASABI_BACKEND: s3
- WASABI_USE_PATH_STYLE: false`
	assert.Equal(t, expected, strings.Join(logger.lines, "\n"))
}

func TestLoadDotEnv(t *testing.T) {
	setStorageEnv(t, nil)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WASABI_BUCKET=from-dotenv\nWASABI_BACKEND=s3\n"), 0600))

	err := LoadDotEnv(log.NewLogger(), filepath.Join(t.TempDir(), "missing.env"), path)
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Bucket)
}

func TestLoadDotEnv_KeepsExisting(t *testing.T) {
	setStorageEnv(t, map[string]string{"WASABI_REGION": "from-environment"})
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WASABI_REGION=from-dotenv\n"), 0600))

	require.NoError(t, LoadDotEnv(log.NewLogger(), path))
	assert.Equal(t, "from-environment", os.Getenv("WASABI_REGION"))
}
