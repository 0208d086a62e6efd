package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/loadrunner/internal/platform/env"
)

// Config describes an S3-compatible endpoint. An empty Bucket disables
// artifact upload and report links.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  strings.TrimSpace(env.String("S3_ENDPOINT", "s3.amazonaws.com")),
		AccessKey: strings.TrimSpace(env.String("S3_ACCESS_KEY", "")),
		SecretKey: strings.TrimSpace(env.String("S3_SECRET_KEY", "")),
		Region:    strings.TrimSpace(env.String("AWS_REGION", "us-east-1")),
		UseSSL:    useSSL,
		Bucket:    strings.TrimSpace(env.String("S3_BUCKET", "")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}
