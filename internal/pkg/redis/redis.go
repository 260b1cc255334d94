package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client Redis 客户端封装
type Client struct {
	config *Config
	logger *logger.Logger

	master redis.UniversalClient   // 写操作
	slaves []redis.UniversalClient // 读操作（read-write 模式）

	slaveIndex atomic.Uint32
}

// New 创建 Redis 客户端并做一次健康检查
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	client := &Client{
		config: cfg,
		logger: log.Named("redis"),
	}

	var tlsConfig *tls.Config
	if cfg.EnableTLS {
		var err error
		if tlsConfig, err = cfg.loadTLSConfig(); err != nil {
			return nil, err
		}
	}

	switch cfg.Mode {
	case ModeSingle:
		client.master = redis.NewClient(cfg.nodeOptions(cfg.MasterAddr, tlsConfig))
	case ModeReadWrite:
		client.master = redis.NewClient(cfg.nodeOptions(cfg.MasterAddr, tlsConfig))
		for _, addr := range cfg.SlaveAddrs {
			client.slaves = append(client.slaves, redis.NewClient(cfg.nodeOptions(addr, tlsConfig)))
		}
	case ModeSentinel:
		opts := cfg.nodeOptions("", tlsConfig)
		client.master = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:      cfg.MasterName,
			SentinelAddrs:   cfg.SentinelAddrs,
			Username:        opts.Username,
			Password:        opts.Password,
			DB:              opts.DB,
			PoolSize:        opts.PoolSize,
			MinIdleConns:    opts.MinIdleConns,
			DialTimeout:     opts.DialTimeout,
			ReadTimeout:     opts.ReadTimeout,
			WriteTimeout:    opts.WriteTimeout,
			PoolTimeout:     opts.PoolTimeout,
			MaxRetries:      opts.MaxRetries,
			MinRetryBackoff: opts.MinRetryBackoff,
			MaxRetryBackoff: opts.MaxRetryBackoff,
			ConnMaxIdleTime: opts.ConnMaxIdleTime,
			ConnMaxLifetime: opts.ConnMaxLifetime,
			TLSConfig:       tlsConfig,
		})
	case ModeCluster:
		client.master = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           cfg.ClusterAddrs,
			Username:        cfg.Username,
			Password:        cfg.Password,
			PoolSize:        cfg.PoolSize,
			MinIdleConns:    cfg.MinIdleConns,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			PoolTimeout:     cfg.PoolTimeout,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			TLSConfig:       tlsConfig,
		})
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	client.logger.Info("redis client initialized successfully",
		zap.String("mode", string(cfg.Mode)),
		zap.String("master_addr", cfg.MasterAddr),
		zap.Int("slaves", len(client.slaves)),
	)
	return client, nil
}

func (c *Config) nodeOptions(addr string, tlsConfig *tls.Config) *redis.Options {
	return &redis.Options{
		Addr:            addr,
		Username:        c.Username,
		Password:        c.Password,
		DB:              c.DB,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolTimeout:     c.PoolTimeout,
		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
		TLSConfig:       tlsConfig,
	}
}

// loadTLSConfig 加载TLS配置
func (c *Config) loadTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		ServerName:         c.TLSServerName,
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert failed: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file failed: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("append CA cert failed")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// readClient 轮询从节点，没有从节点时读主节点
func (c *Client) readClient() redis.UniversalClient {
	if len(c.slaves) == 0 {
		return c.master
	}
	idx := int(c.slaveIndex.Add(1)) % len(c.slaves)
	return c.slaves[idx]
}

// Ping 健康检查，从节点失败不影响结果
func (c *Client) Ping(ctx context.Context) error {
	if c.master == nil {
		return ErrNotInitialized
	}
	if err := c.master.Ping(ctx).Err(); err != nil {
		c.logger.Error("redis master ping failed", zap.Error(err))
		return err
	}
	for i, slave := range c.slaves {
		if err := slave.Ping(ctx).Err(); err != nil {
			c.logger.Warn("redis slave ping failed", zap.Int("index", i), zap.Error(err))
		}
	}
	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	var firstErr error
	for _, cl := range append([]redis.UniversalClient{c.master}, c.slaves...) {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		c.logger.Error("close redis client failed", zap.Error(firstErr))
		return firstErr
	}
	c.logger.Info("redis client closed")
	return nil
}

// GetMasterClient 获取主节点客户端（用于高级操作）
func (c *Client) GetMasterClient() redis.UniversalClient {
	return c.master
}
