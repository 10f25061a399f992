package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitStatusTransitions(t *testing.T) {
	m := NewMasterMetrics()

	m.SetUnitStatus("api", "", "starting")
	m.SetUnitStatus("api", "starting", "running")
	m.SetUnitStatus("api", "running", "unhealthy")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.unitStatus.WithLabelValues("api", "starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.unitStatus.WithLabelValues("api", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitStatus.WithLabelValues("api", "unhealthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitTransitions.WithLabelValues("api", "running", "unhealthy")))
}

func TestCountersAndRemoval(t *testing.T) {
	m := NewMasterMetrics()

	m.IncUnitRestarts("db", "crash")
	m.IncUnitRestarts("db", "crash")
	m.ObserveHealthCheck("db", true, 10*time.Millisecond)
	m.ObserveHealthCheck("db", false, time.Second)
	m.IncResourceViolation("db", "memory", "warning")
	m.IncUnitCalls("db", nil)
	m.IncUnitCalls("db", fmt.Errorf("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.unitRestarts.WithLabelValues("db", "crash")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthChecks.WithLabelValues("db", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitCalls.WithLabelValues("db", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.healthChecks))

	m.RemoveUnit("db")
	assert.Equal(t, 0, testutil.CollectAndCount(m.healthChecks))
	assert.Equal(t, 0, testutil.CollectAndCount(m.unitRestarts))
}

func TestHandlerExposesMasterState(t *testing.T) {
	m := NewMasterMetrics()
	m.SetMasterState("", "initializing")
	m.SetMasterState("initializing", "serving")

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `hsu_master_state{state="serving"} 1`)
	assert.Contains(t, string(body), `hsu_master_state{state="initializing"} 0`)
}
