package database

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func describeAll(c prometheus.Collector) []string {
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var out []string
	for d := range ch {
		out = append(out, d.String())
	}
	return out
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	descs := describeAll(NewPoolStatsCollector(nil, "account-service"))
	assert.Len(t, descs, 12)

	joined := strings.Join(descs, "\n")
	for _, name := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_max_idle_destroy_total",
	} {
		assert.Contains(t, joined, `fqName: "`+name+`"`)
	}
}

func TestRegisterPoolMetrics_RejectsDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()

	assert.NoError(t, RegisterPoolMetrics(reg, nil, "account-service"))
	assert.Error(t, RegisterPoolMetrics(reg, nil, "account-service"))
}
