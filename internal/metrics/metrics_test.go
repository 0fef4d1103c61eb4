package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
)

func TestVersionMode_SingleActiveLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetVersionMode("optimistic")
	m.SetVersionMode("transactional")

	n, err := testutil.GatherAndCount(reg, "docauth_version_creation_mode")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.LedgerWriteFailure()
	m.LedgerWriteFailure()
	m.Verification("HASH_MISMATCH")
	m.ChainVerified("ledger", false)

	n, err := testutil.GatherAndCount(reg,
		"docauth_ledger_write_failures_total",
		"docauth_verifications_total",
		"docauth_chain_verifications_total")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Upload("transactional")
		m.SetVersionMode("optimistic")
		m.ChainVerified("versions", true)
	})
}
