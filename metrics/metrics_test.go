package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sghaida/zoned/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics_IsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	require.Nil(t, metrics.New(nil))

	assert.NotPanics(t, func() {
		m.ZoneOpened()
		m.ZoneClosed()
		m.UnitCreated()
		m.UnitDestroyed()
		m.Leak()
		m.Isolation("ok", time.Millisecond)
		m.Instantiated("svc")
		m.Destroyed("svc")
		m.CleanupFailures(3)
	})
}

func TestMetrics_Records(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ZoneOpened()
	m.ZoneOpened()
	m.ZoneClosed()
	m.Leak()
	m.Instantiated("counter")
	m.Instantiated("counter")
	m.Destroyed("counter")
	m.CleanupFailures(2)
	m.CleanupFailures(0)
	m.Isolation("ok", 2*time.Millisecond)

	expected := `
# HELP zoned_zones_active Number of zones with live async units
# TYPE zoned_zones_active gauge
zoned_zones_active 1
# HELP zoned_zone_leaks_total Isolations torn down while async units tagged with their zone were still live
# TYPE zoned_zone_leaks_total counter
zoned_zone_leaks_total 1
# HELP zoned_cleanup_failures_total Total number of cleanup callbacks that panicked
# TYPE zoned_cleanup_failures_total counter
zoned_cleanup_failures_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"zoned_zones_active", "zoned_zone_leaks_total", "zoned_cleanup_failures_total"))

	count, err := testutil.GatherAndCount(reg, "zoned_service_instantiations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
