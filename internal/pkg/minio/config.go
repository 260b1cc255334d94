package minio

import (
	"errors"
	"time"
)

// BucketLookupType represents the type of bucket lookup
type BucketLookupType string

const (
	BucketLookupAuto BucketLookupType = "auto"
	BucketLookupDNS  BucketLookupType = "dns"  // bucket.endpoint
	BucketLookupPath BucketLookupType = "path" // endpoint/bucket
)

// Config represents the configuration for MinIO client
type Config struct {
	// Endpoint is host[:port] of the S3-compatible server, e.g. "localhost:9000"
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`

	// Bucket receives every finalized upload
	Bucket string `mapstructure:"bucket"`
	// CreateBucket creates Bucket on startup when it is missing
	CreateBucket bool `mapstructure:"create_bucket"`

	BucketLookup BucketLookupType `mapstructure:"bucket_lookup"`
	TraceEnabled bool             `mapstructure:"trace_enabled"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}
	if err := ValidateBucketName(c.Bucket); err != nil {
		return WrapErrorWithMessage("Validate", ErrInvalidBucketName, err.Error())
	}

	switch c.BucketLookup {
	case "", BucketLookupAuto, BucketLookupDNS, BucketLookupPath:
	default:
		return errors.New("minio: invalid bucket lookup type")
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.BucketLookup == "" {
		c.BucketLookup = BucketLookupAuto
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:9000",
		Bucket:         "uploads",
		CreateBucket:   true,
		BucketLookup:   BucketLookupAuto,
		ConnectTimeout: 10 * time.Second,
	}
}
