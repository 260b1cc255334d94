package data

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/lk2023060901/resumable-upload/internal/conf"
	"github.com/lk2023060901/resumable-upload/internal/pkg/database"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/pkg/minio"
	"github.com/lk2023060901/resumable-upload/internal/pkg/redis"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	uploaddata "github.com/lk2023060901/resumable-upload/internal/upload/data"
	"go.uber.org/zap"
)

// Data 持有按配置选出的上传驱动及其底层客户端
type Data struct {
	Ledger  biz.Ledger
	Backend biz.StorageBackend
	Locker  biz.Locker
	// Stale 非 nil 时账本需要后台清理过期记录（redis 依赖原生 TTL，为 nil）
	Stale biz.StaleLister

	RedisClient *redis.Client
	DB          *database.DB
	MinIOClient *minio.Client

	logger  *logger.Logger
	closers []func() error
}

// NewData 按 upload 配置初始化账本、存储后端和锁，返回的 cleanup 关闭所有客户端
func NewData(ctx context.Context, config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Data{logger: log.Named("data")}

	if err := d.init(ctx, config); err != nil {
		if cerr := d.close(); cerr != nil {
			d.logger.Warn("failed to release partially initialized data layer", zap.Error(cerr))
		}
		return nil, nil, err
	}

	cleanup := func() {
		d.logger.Info("cleaning up data resources")
		if err := d.close(); err != nil {
			d.logger.Error("failed to clean up data resources", zap.Error(err))
		}
	}
	return d, cleanup, nil
}

func (d *Data) init(ctx context.Context, config *conf.Config) error {
	up := config.Upload

	if up.Ledger == conf.DriverRedis || up.Locker == conf.DriverRedis {
		client, err := redis.New(config.Redis, d.logger)
		if err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
		d.RedisClient = client
		d.closers = append(d.closers, client.Close)
	}

	ledger, err := d.newLedger(config)
	if err != nil {
		return err
	}
	d.Ledger = uploaddata.NewLedgerMetricsWrapper(ledger, up.Ledger)
	if lister, ok := ledger.(biz.StaleLister); ok {
		d.Stale = lister
	}

	backend, err := d.newBackend(ctx, config)
	if err != nil {
		return err
	}
	d.Backend = uploaddata.NewBackendMetricsWrapper(backend, up.Backend)

	switch up.Locker {
	case conf.DriverRedis:
		d.Locker = uploaddata.NewRedisLocker(d.RedisClient, uploaddata.LockOptions{
			Prefix:     up.KeyPrefix + "lock:",
			TTL:        up.LockTTL,
			Retries:    up.LockRetries,
			RetryDelay: up.LockRetryDelay,
		}, d.logger)
	default:
		d.Locker = uploaddata.NewMemoryLocker()
	}

	d.logger.Info("upload drivers initialized",
		zap.String("ledger", up.Ledger),
		zap.String("backend", up.Backend),
		zap.String("locker", up.Locker),
	)
	return nil
}

func (d *Data) newLedger(config *conf.Config) (biz.Ledger, error) {
	switch config.Upload.Ledger {
	case conf.DriverRedis:
		return uploaddata.NewRedisLedger(d.RedisClient, config.Upload.KeyPrefix, config.Upload.RecordTTL), nil

	case conf.DriverPostgres:
		db, err := database.New(config.Database, d.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init database: %w", err)
		}
		d.DB = db
		d.closers = append(d.closers, db.Close)

		if config.Database.AutoMigrate {
			if err := db.AutoMigrate(&uploaddata.UploadRecordPO{}); err != nil {
				return nil, fmt.Errorf("failed to auto migrate: %w", err)
			}
		}
		return uploaddata.NewPostgresLedger(db.DB), nil

	case conf.DriverMemory:
		return uploaddata.NewMemoryLedger(), nil
	}
	return nil, fmt.Errorf("unknown ledger driver %q", config.Upload.Ledger)
}

func (d *Data) newBackend(ctx context.Context, config *conf.Config) (biz.StorageBackend, error) {
	switch config.Upload.Backend {
	case conf.DriverMinIO:
		client, err := minio.NewClient(config.MinIO, d.logger.Named("minio").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init minio: %w", err)
		}
		d.MinIOClient = client
		d.closers = append(d.closers, client.Close)

		if config.MinIO.CreateBucket {
			if err := client.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
			}
		}
		return uploaddata.NewMinIOBackend(client), nil

	case conf.DriverS3:
		client, err := uploaddata.NewS3Client(ctx, uploaddata.S3Options{
			Region:          config.S3.Region,
			Bucket:          config.S3.Bucket,
			Endpoint:        config.S3.Endpoint,
			AccessKeyID:     config.S3.AccessKeyID,
			SecretAccessKey: config.S3.SecretAccessKey,
			UsePathStyle:    config.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3: %w", err)
		}
		return uploaddata.NewS3Backend(client, config.S3.Bucket, d.logger), nil

	case conf.DriverMemory:
		return uploaddata.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", config.Upload.Backend)
}

// HealthCheck 检查所有已初始化的外部依赖
func (d *Data) HealthCheck(ctx context.Context) error {
	var result *multierror.Error
	if d.RedisClient != nil {
		if err := d.RedisClient.Ping(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis: %w", err))
		}
	}
	if d.DB != nil {
		if err := d.DB.HealthCheck(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("database: %w", err))
		}
	}
	if d.MinIOClient != nil {
		if err := d.MinIOClient.Ping(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("minio: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// close 按初始化的逆序关闭客户端
func (d *Data) close() error {
	var result *multierror.Error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	d.closers = nil
	return result.ErrorOrNil()
}
