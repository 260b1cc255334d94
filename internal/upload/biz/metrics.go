package biz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// transition results
const (
	resultApplied       = "applied"
	resultNoop          = "noop"
	resultRejected      = "rejected"
	resultAbandoned     = "abandoned"
	resultAbsorbed      = "absorbed"
	resultSelfCorrected = "self_corrected"
	resultRerouted      = "rerouted" // 带分片的 received 步骤回到 idle 后重新规划
	resultFailed        = "failed"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upload_transitions_total",
		Help: "state machine transitions requested against upload records",
	},
	[]string{"from", "action", "result"})

var completionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "upload_completions_total",
		Help: "uploads that reached merged and were purged from the ledger",
	})

var recordsReapedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "upload_records_reaped_total",
		Help: "stale upload records expired by the reaper",
	})
