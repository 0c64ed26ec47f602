// Package config reads the storage connection settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backends
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// DefaultRegion ...
const DefaultRegion = "us-east-1"

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Storage ...
type Storage struct {
	Endpoint        string `envconfig:"WASABI_ENDPOINT"`
	Region          string `envconfig:"WASABI_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"WASABI_ACCESS_KEY_ID"`
	SecretAccessKey Secret `envconfig:"WASABI_SECRET_ACCESS_KEY"`
	Bucket          string `envconfig:"WASABI_BUCKET" required:"true"`
	Backend         string `envconfig:"WASABI_BACKEND" default:"s3"`
	UsePathStyle    bool   `envconfig:"WASABI_USE_PATH_STYLE" default:"false"`
}

// Load reads Storage from the process environment.
func Load() (Storage, error) {
	var cfg Storage
	if err := envconfig.Process("", &cfg); err != nil {
		return Storage{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Storage{}, err
	}
	return cfg, nil
}

// Validate checks the values envconfig cannot express as tags.
func (s Storage) Validate() error {
	switch s.Backend {
	case BackendS3, BackendMinio:
	default:
		return fmt.Errorf("WASABI_BACKEND: value %q is not one of [%s %s]", s.Backend, BackendS3, BackendMinio)
	}
	if s.Backend == BackendMinio && s.Endpoint == "" {
		return fmt.Errorf("WASABI_ENDPOINT: required for the %s backend", BackendMinio)
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return errors.New("WASABI_ACCESS_KEY_ID and WASABI_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

// Print logs the settings, masking the secret key.
func (s Storage) Print(logger log.Logger) {
	logger.Infof("Storage:")
	logger.Printf("- WASABI_ENDPOINT: %s", orUnset(s.Endpoint))
	logger.Printf("- WASABI_REGION: %s", orUnset(s.Region))
	logger.Printf("- WASABI_ACCESS_KEY_ID: %s", orUnset(s.AccessKeyID))
	logger.Printf("- WASABI_SECRET_ACCESS_KEY: %s", orUnset(s.SecretAccessKey.String()))
	logger.Printf("- WASABI_BUCKET: %s", orUnset(s.Bucket))
	logger.Printf("- WASABI_BACKEND: %s", orUnset(s.Backend))
	logger.Printf("- WASABI_USE_PATH_STYLE: %t", s.UsePathStyle)
}

func orUnset(value string) string {
	if value == "" {
		return "<unset>"
	}
	return value
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables already set are kept, missing files are skipped.
func LoadDotEnv(logger log.Logger, paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debugf("%s not found, skipping", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		logger.Debugf("Loaded %s", path)
	}
	return nil
}
