package data

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/resumable-upload/internal/conf"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	uploaddata "github.com/lk2023060901/resumable-upload/internal/upload/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *conf.Config {
	cfg := conf.Default()
	cfg.Upload.Backend = conf.DriverMemory
	cfg.Upload.Ledger = conf.DriverMemory
	cfg.SetDefaults()
	return cfg
}

func TestNewDataMemory(t *testing.T) {
	ctx := context.Background()
	d, cleanup, err := NewData(ctx, memoryConfig(), logger.NewNop())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, d.RedisClient)
	assert.IsType(t, &uploaddata.LedgerMetricsWrapper{}, d.Ledger)
	assert.IsType(t, &uploaddata.BackendMetricsWrapper{}, d.Backend)
	assert.IsType(t, &uploaddata.MemoryLocker{}, d.Locker)
	assert.IsType(t, &uploaddata.MemoryLedger{}, d.Stale)
	assert.NoError(t, d.HealthCheck(ctx))
}

func TestNewDataRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Upload.Ledger = conf.DriverRedis
	cfg.Upload.Locker = ""
	cfg.SetDefaults()
	cfg.Redis.MasterAddr = mr.Addr()

	d, cleanup, err := NewData(ctx, cfg, nil)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, d.RedisClient)
	assert.IsType(t, &uploaddata.RedisLocker{}, d.Locker)
	assert.Nil(t, d.Stale)
	assert.NoError(t, d.HealthCheck(ctx))

	mr.Close()
	assert.Error(t, d.HealthCheck(ctx))
}

func TestNewDataUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Upload.Backend = "ftp"

	_, _, err := NewData(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestCloseCollectsErrors(t *testing.T) {
	var order []int
	d := &Data{logger: logger.NewNop()}
	d.closers = []func() error{
		func() error { order = append(order, 1); return errors.New("first") },
		func() error { order = append(order, 2); return nil },
		func() error { order = append(order, 3); return errors.New("third") },
	}

	err := d.close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "third")
	assert.Equal(t, []int{3, 2, 1}, order)
}
