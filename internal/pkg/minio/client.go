package minio

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client wraps the MinIO client with additional functionality
type Client struct {
	client *minio.Client
	core   *minio.Core
	config *Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new MinIO client
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidArgument
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "invalid configuration")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}

	switch cfg.BucketLookup {
	case BucketLookupDNS:
		opts.BucketLookup = minio.BucketLookupDNS
	case BucketLookupPath:
		opts.BucketLookup = minio.BucketLookupPath
	default:
		opts.BucketLookup = minio.BucketLookupAuto
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	opts.Transport = transport

	minioClient, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "failed to create minio client")
	}
	if cfg.TraceEnabled {
		minioClient.TraceOn(os.Stderr)
	}

	logger.Info("minio client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", cfg.Region),
		zap.String("bucket", cfg.Bucket),
		zap.Bool("use_ssl", cfg.UseSSL),
	)

	return &Client{
		client: minioClient,
		core:   &minio.Core{Client: minioClient},
		config: cfg,
		logger: logger,
	}, nil
}

// Bucket returns the configured upload bucket
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// Ping checks the configured bucket is reachable
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.BucketExists(ctx, c.config.Bucket)
	return err
}

// Close marks the client closed, further calls fail with ErrClientClosed
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("minio client closed")
	return nil
}

// GetUnderlyingClient returns the underlying MinIO client
func (c *Client) GetUnderlyingClient() *minio.Client {
	return c.client
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}
