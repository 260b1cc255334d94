package data

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.2, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var ledgerHistograms = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "upload_ledger_request_duration_seconds",
		Help:    "request durations for the upload ledger",
		Buckets: durationBuckets,
	},
	[]string{"type", "operation", "success"})

var backendHistograms = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "upload_backend_request_duration_seconds",
		Help:    "request durations for the upload storage backend",
		Buckets: durationBuckets,
	},
	[]string{"type", "operation", "success"})

var backendConcurrentOps = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "upload_backend_concurrent_operations",
		Help: "number of in-flight storage backend operations",
	},
	[]string{"type", "operation"})

var backendPartBytes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upload_backend_part_bytes_total",
		Help: "bytes sent to the storage backend as parts",
	},
	[]string{"type"})

// LedgerMetricsWrapper wraps any Ledger with metrics
type LedgerMetricsWrapper struct {
	Ledger     biz.Ledger
	ledgerType string
}

func NewLedgerMetricsWrapper(ledger biz.Ledger, ledgerType string) *LedgerMetricsWrapper {
	return &LedgerMetricsWrapper{Ledger: ledger, ledgerType: ledgerType}
}

func (l *LedgerMetricsWrapper) observe(op string, start time.Time, err error) {
	// 记录不存在是正常结果
	success := err == nil || errors.Is(err, biz.ErrRecordNotFound)
	ledgerHistograms.WithLabelValues(l.ledgerType, op, strconv.FormatBool(success)).
		Observe(time.Since(start).Seconds())
}

func (l *LedgerMetricsWrapper) Get(ctx context.Context, key string) (*biz.UploadRecord, error) {
	start := time.Now()
	rec, err := l.Ledger.Get(ctx, key)
	l.observe("Get", start, err)
	return rec, err
}

func (l *LedgerMetricsWrapper) Set(ctx context.Context, key string, rec *biz.UploadRecord) error {
	start := time.Now()
	err := l.Ledger.Set(ctx, key, rec)
	l.observe("Set", start, err)
	return err
}

func (l *LedgerMetricsWrapper) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := l.Ledger.Delete(ctx, key)
	l.observe("Delete", start, err)
	return err
}

// BackendMetricsWrapper wraps any StorageBackend with metrics
type BackendMetricsWrapper struct {
	Backend     biz.StorageBackend
	backendType string
}

func NewBackendMetricsWrapper(backend biz.StorageBackend, backendType string) *BackendMetricsWrapper {
	return &BackendMetricsWrapper{Backend: backend, backendType: backendType}
}

func (b *BackendMetricsWrapper) track(op string) func(err error) {
	start := time.Now()
	gauge := backendConcurrentOps.WithLabelValues(b.backendType, op)
	gauge.Inc()
	return func(err error) {
		gauge.Dec()
		backendHistograms.WithLabelValues(b.backendType, op, strconv.FormatBool(err == nil)).
			Observe(time.Since(start).Seconds())
	}
}

func (b *BackendMetricsWrapper) BeginSession(ctx context.Context, name string) (string, error) {
	done := b.track("BeginSession")
	sessionID, err := b.Backend.BeginSession(ctx, name)
	done(err)
	return sessionID, err
}

func (b *BackendMetricsWrapper) UploadPart(ctx context.Context, name, sessionID string, partNumber int, data []byte) (string, error) {
	done := b.track("UploadPart")
	tag, err := b.Backend.UploadPart(ctx, name, sessionID, partNumber, data)
	done(err)
	if err == nil {
		backendPartBytes.WithLabelValues(b.backendType).Add(float64(len(data)))
	}
	return tag, err
}

func (b *BackendMetricsWrapper) Finalize(ctx context.Context, name, sessionID string, parts []biz.Part) error {
	done := b.track("Finalize")
	err := b.Backend.Finalize(ctx, name, sessionID, parts)
	done(err)
	return err
}

func (b *BackendMetricsWrapper) Abort(ctx context.Context, name, sessionID string) error {
	done := b.track("Abort")
	err := b.Backend.Abort(ctx, name, sessionID)
	done(err)
	return err
}
