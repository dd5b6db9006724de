package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRecorderIsSingleton(t *testing.T) {
	r1, reg1 := InitializeRecorder()
	r2, reg2 := InitializeRecorder()
	assert.Same(t, r1, r2)
	assert.Same(t, reg1, reg2)
}

func TestIncreaseCountRegistersOnFirstUse(t *testing.T) {
	r, _ := InitializeRecorder()
	r.IncreaseCount(RPCRequestErrors, RPCRequestErrorsHelpText, map[string]string{"method": "CreateVolume", "code": "NotFound"})
	r.IncreaseCount(RPCRequestErrors, RPCRequestErrorsHelpText, map[string]string{"method": "CreateVolume", "code": "NotFound"})

	cv, ok := r.metrics[RPCRequestErrors].(*prometheus.CounterVec)
	require.True(t, ok)
	assert.NotNil(t, cv)
}

func TestObserveHistogramRegistersOnFirstUse(t *testing.T) {
	r, _ := InitializeRecorder()
	r.ObserveHistogram(HostOpDuration, HostOpDurationHelpText, 0.5, map[string]string{"op": "Mount"}, nil)
	require.NotNil(t, r.metrics[HostOpDuration])
}

func TestInitializeRPCMetricsPreRegistersMethods(t *testing.T) {
	r, _ := InitializeRecorder()
	r.InitializeRPCMetrics()
	require.NotNil(t, r.metrics[RPCRequestDuration])
}
