package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, AnalysesTotal)
	assert.NotNil(t, AnalysesInFlight)
	assert.NotNil(t, CapacityRejections)
	assert.NotNil(t, EventsNormalized)
	assert.NotNil(t, EventsSkipped)
	assert.NotNil(t, AnomaliesDetected)
	assert.NotNil(t, StageDuration)
	assert.NotNil(t, LedgerFailures)
	assert.NotNil(t, IngestRecords)
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(LedgerFailures.WithLabelValues("test"))
	LedgerFailures.WithLabelValues("test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerFailures.WithLabelValues("test")))
}
