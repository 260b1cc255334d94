package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(c *Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "missing user", mutate: func(c *Config) { c.User = "" }, wantErr: true},
		{name: "missing dbname", mutate: func(c *Config) { c.DBName = "" }, wantErr: true},
		{name: "invalid SSL mode", mutate: func(c *Config) { c.SSLMode = "invalid" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.LogLevel = "debug" }, wantErr: true},
		{name: "idle exceeds open", mutate: func(c *Config) { c.MaxIdleConns = 100 }, wantErr: true},
		{name: "unbounded open", mutate: func(c *Config) { c.MaxOpenConns = 0; c.MaxIdleConns = 100 }},
		{name: "negative lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreferSimpleProtocol = true

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=uploads sslmode=disable TimeZone=UTC prefer_simple_protocol=true",
		cfg.DSN())

	cfg.Timezone = ""
	cfg.PreferSimpleProtocol = false
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=uploads sslmode=disable", cfg.DSN())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestIsRecordNotFoundError(t *testing.T) {
	assert.True(t, IsRecordNotFoundError(gorm.ErrRecordNotFound))
	assert.True(t, IsRecordNotFoundError(fmt.Errorf("get: %w", gorm.ErrRecordNotFound)))
	assert.False(t, IsRecordNotFoundError(errors.New("boom")))
	assert.False(t, IsRecordNotFoundError(nil))
}

func TestGormLogger(t *testing.T) {
	ctx := context.Background()
	l := NewGormLogger(logger.NewNop(), "info", time.Millisecond)
	assert.Equal(t, gormlogger.Info, l.(*gormLogger).logLevel)

	silent := l.LogMode(gormlogger.Silent)
	assert.Equal(t, gormlogger.Silent, silent.(*gormLogger).logLevel)
	assert.Equal(t, gormlogger.Info, l.(*gormLogger).logLevel)

	sql := func() (string, int64) { return "SELECT 1", 1 }
	l.Trace(ctx, time.Now(), sql, nil)
	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	l.Trace(ctx, time.Now(), sql, errors.New("boom"))
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	silent.Trace(ctx, time.Now(), sql, nil)
	l.Info(ctx, "%d", 1)
	l.Warn(ctx, "%d", 2)
	l.Error(ctx, "%d", 3)

	assert.Equal(t, gormlogger.Warn, NewGormLogger(logger.NewNop(), "bogus", 0).(*gormLogger).logLevel)
}
