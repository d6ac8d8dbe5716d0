// SPDX-License-Identifier: MIT
package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeVecValue(t *testing.T, gaugeVec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gaugeVec.WithLabelValues(labels...).Write(metric))
	return metric.GetGauge().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counterVec.WithLabelValues(labels...).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestRecordTransition(t *testing.T) {
	before := getCounterVecValue(t, transitionsTotal, "core", "Active")

	RecordTransition("sched", "Core", "Initializing", "Active")

	assert.Equal(t, before+1, getCounterVecValue(t, transitionsTotal, "core", "Active"))
	assert.Equal(t, 1.0, getGaugeVecValue(t, subsystemState, "sched", "Active"))
	assert.Equal(t, 0.0, getGaugeVecValue(t, subsystemState, "sched", "Initializing"))
}

func TestRecordFailure_NormalizesLabels(t *testing.T) {
	before := getCounterVecValue(t, initFailuresTotal, "unknown", "unknown")
	RecordFailure("warp", "cosmic-ray")
	assert.Equal(t, before+1, getCounterVecValue(t, initFailuresTotal, "unknown", "unknown"))

	before = getCounterVecValue(t, initFailuresTotal, "late", "hardware")
	RecordFailure("Late", "HARDWARE")
	assert.Equal(t, before+1, getCounterVecValue(t, initFailuresTotal, "late", "hardware"))
}

func TestRecordRollbackAction(t *testing.T) {
	before := getCounterVecValue(t, rollbackActionsTotal, "phase", "failure")
	RecordRollbackAction("phase", false)
	assert.Equal(t, before+1, getCounterVecValue(t, rollbackActionsTotal, "phase", "failure"))
}

func TestSetPhaseStatus(t *testing.T) {
	SetPhaseStatus("Early", 2, 1500*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(phaseStatus.WithLabelValues("early")))
	assert.InDelta(t, 1.5, testutil.ToFloat64(phaseDuration.WithLabelValues("early")), 1e-9)
}

func TestObserveInitAndControlOps(t *testing.T) {
	before := testutil.CollectAndCount(initDuration)
	ObserveInit("boot", true, time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(initDuration), before)

	c := getCounterVecValue(t, controlOpsTotal, "suspend", "success")
	RecordControlOp("suspend", true)
	assert.Equal(t, c+1, getCounterVecValue(t, controlOpsTotal, "suspend", "success"))

	r := getCounterVecValue(t, initRetriesTotal, "core")
	RecordRetry("core")
	assert.Equal(t, r+1, getCounterVecValue(t, initRetriesTotal, "core"))

	a := getCounterVecValue(t, bootAbortsTotal, "resource")
	RecordBootAbort("resource")
	assert.Equal(t, a+1, getCounterVecValue(t, bootAbortsTotal, "resource"))
}
