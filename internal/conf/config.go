package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-multierror"
	"github.com/lk2023060901/resumable-upload/internal/pkg/database"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/pkg/minio"
	"github.com/lk2023060901/resumable-upload/internal/pkg/redis"
	"github.com/spf13/viper"
)

// 驱动名称
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverMinIO    = "minio"
	DriverS3       = "s3"
)

// minChunkSize S3 兼容存储要求除最后一片外每片至少 5MiB
const minChunkSize = 5 * units.MiB

// LockTTLMargin lock_ttl 相对两次后端调用的最小余量
const LockTTLMargin = 10 * time.Second

type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Log      *logger.Config   `mapstructure:"log"`
	Redis    *redis.Config    `mapstructure:"redis"`
	MinIO    *minio.Config    `mapstructure:"minio"`
	S3       S3Config         `mapstructure:"s3"`
	Database *database.Config `mapstructure:"database"`
	Upload   UploadConfig     `mapstructure:"upload"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// S3Config AWS S3 后端配置，access key 为空时使用默认凭证链
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// UploadConfig 上传协调器配置
type UploadConfig struct {
	Backend string `mapstructure:"backend"` // minio, s3, memory
	Ledger  string `mapstructure:"ledger"`  // redis, postgres, memory
	Locker  string `mapstructure:"locker"`  // redis, memory

	ChunkSize        string `mapstructure:"chunk_size"`     // e.g. "5MiB"
	MaxChunkBody     string `mapstructure:"max_chunk_body"` // e.g. "64MiB"
	AllowSmallChunks bool   `mapstructure:"allow_small_chunks"`

	KeyPrefix string        `mapstructure:"key_prefix"`
	RecordTTL time.Duration `mapstructure:"record_ttl"`

	// postgres/memory 账本没有原生过期，由后台清理任务按 record_ttl 回收
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	ReapBatch    int           `mapstructure:"reap_batch"`
	ReapWorkers  int           `mapstructure:"reap_workers"`

	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockRetries    int           `mapstructure:"lock_retries"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`

	BackendTimeout time.Duration `mapstructure:"backend_timeout"`

	EventKeepAlive time.Duration `mapstructure:"event_keep_alive"` // 进度事件流心跳
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:      logger.DefaultConfig(),
		Redis:    redis.DefaultConfig(),
		MinIO:    minio.DefaultConfig(),
		S3:       S3Config{Region: "us-east-1"},
		Database: database.DefaultConfig(),
		Upload: UploadConfig{
			Backend:        DriverMinIO,
			Ledger:         DriverRedis,
			ChunkSize:      "5MiB",
			MaxChunkBody:   "64MiB",
			KeyPrefix:      "upload:",
			ReapInterval:   time.Minute,
			ReapBatch:      100,
			ReapWorkers:    8,
			LockTTL:        150 * time.Second,
			LockRetries:    50,
			LockRetryDelay: 100 * time.Millisecond,
			BackendTimeout: time.Minute,
			EventKeepAlive: 15 * time.Second,
		},
	}
}

// LoadConfig 读取 YAML 配置，环境变量覆盖同名键（upload.chunk_size -> UPLOAD_CHUNK_SIZE）
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// SetDefaults 填充依赖其它配置项的默认值
func (c *Config) SetDefaults() {
	if c.Upload.Locker == "" {
		if c.Upload.Ledger == DriverRedis {
			c.Upload.Locker = DriverRedis
		} else {
			c.Upload.Locker = DriverMemory
		}
	}
	if c.MinIO != nil {
		c.MinIO.SetDefaults()
	}
}

// Validate 只校验被选用的驱动对应的配置段
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if err := c.Log.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("log: %w", err))
	}
	if err := c.Upload.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Upload.Ledger == DriverRedis || c.Upload.Locker == DriverRedis {
		if err := c.Redis.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis: %w", err))
		}
	}
	if c.Upload.Ledger == DriverPostgres {
		if err := c.Database.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("database: %w", err))
		}
	}
	switch c.Upload.Backend {
	case DriverMinIO:
		if err := c.MinIO.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	case DriverS3:
		if c.S3.Bucket == "" {
			result = multierror.Append(result, errors.New("s3: bucket is required"))
		}
		if c.S3.Region == "" {
			result = multierror.Append(result, errors.New("s3: region is required"))
		}
	}

	return result.ErrorOrNil()
}

// Validate 校验上传配置
func (u *UploadConfig) Validate() error {
	var result *multierror.Error

	switch u.Backend {
	case DriverMinIO, DriverS3, DriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("upload: unknown backend %q", u.Backend))
	}
	switch u.Ledger {
	case DriverRedis, DriverPostgres, DriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("upload: unknown ledger %q", u.Ledger))
	}
	switch u.Locker {
	case DriverRedis, DriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("upload: unknown locker %q", u.Locker))
	}

	chunkSize, err := u.ChunkSizeBytes()
	switch {
	case err != nil:
		result = multierror.Append(result, err)
	case chunkSize <= 0:
		result = multierror.Append(result, errors.New("upload: chunk_size must be positive"))
	case chunkSize < minChunkSize && !u.AllowSmallChunks:
		result = multierror.Append(result, fmt.Errorf("upload: chunk_size must be at least %s", units.BytesSize(minChunkSize)))
	}

	maxBody, err := u.MaxChunkBodyBytes()
	switch {
	case err != nil:
		result = multierror.Append(result, err)
	case chunkSize > 0 && maxBody < chunkSize:
		result = multierror.Append(result, errors.New("upload: max_chunk_body must not be smaller than chunk_size"))
	}

	if u.RecordTTL < 0 {
		result = multierror.Append(result, errors.New("upload: record_ttl must be >= 0"))
	}
	if u.RecordTTL > 0 && u.Ledger != DriverRedis {
		if u.ReapInterval <= 0 {
			result = multierror.Append(result, errors.New("upload: reap_interval must be positive"))
		}
		if u.ReapBatch <= 0 {
			result = multierror.Append(result, errors.New("upload: reap_batch must be positive"))
		}
		if u.ReapWorkers <= 0 {
			result = multierror.Append(result, errors.New("upload: reap_workers must be positive"))
		}
	}
	if u.LockTTL <= 0 {
		result = multierror.Append(result, errors.New("upload: lock_ttl must be positive"))
	}
	if u.LockRetries < 0 {
		result = multierror.Append(result, errors.New("upload: lock_retries must be >= 0"))
	}
	if u.BackendTimeout < 0 {
		result = multierror.Append(result, errors.New("upload: backend_timeout must be >= 0"))
	}
	// 一次 drive 最多串行两次后端调用（上传分片 + 合并），锁必须覆盖
	if u.Locker == DriverRedis && u.BackendTimeout > 0 && u.LockTTL <= 2*u.BackendTimeout+LockTTLMargin {
		result = multierror.Append(result, fmt.Errorf(
			"upload: lock_ttl (%s) must exceed 2*backend_timeout + %s (%s)",
			u.LockTTL, LockTTLMargin, 2*u.BackendTimeout+LockTTLMargin))
	}

	return result.ErrorOrNil()
}

// ChunkSizeBytes 解析 chunk_size（支持 "5MiB"、"8MB" 等写法，按 1024 进制）
func (u *UploadConfig) ChunkSizeBytes() (int64, error) {
	n, err := units.RAMInBytes(u.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("upload: invalid chunk_size %q: %w", u.ChunkSize, err)
	}
	return n, nil
}

// MaxChunkBodyBytes 解析 max_chunk_body
func (u *UploadConfig) MaxChunkBodyBytes() (int64, error) {
	n, err := units.RAMInBytes(u.MaxChunkBody)
	if err != nil {
		return 0, fmt.Errorf("upload: invalid max_chunk_body %q: %w", u.MaxChunkBody, err)
	}
	return n, nil
}

// Addr 返回 HTTP 监听地址
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
