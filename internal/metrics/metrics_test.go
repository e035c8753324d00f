package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchOutcomesTotal)
	require.NotNil(t, pacingDelaySeconds)
	require.NotNil(t, checkpointSavesTotal)
}

func TestObserveFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchOutcomesTotal.WithLabelValues("homepage", "ok"))
	beforeBytes := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("homepage"))

	ObserveFetch("homepage", "ok", 512, 200*time.Millisecond)
	ObserveFetch("homepage", "timeout", 0, 0)

	assert.Equal(t, before+1, testutil.ToFloat64(fetchOutcomesTotal.WithLabelValues("homepage", "ok")))
	assert.Equal(t, beforeBytes+512, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("homepage")))
}

func TestInFlightGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchesInFlight)
	IncInFlight()
	assert.Equal(t, before+1, testutil.ToFloat64(fetchesInFlight))
	DecInFlight()
	assert.Equal(t, before, testutil.ToFloat64(fetchesInFlight))
}

func TestObserveCheckpointSave(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("error"))

	ObserveCheckpointSave(nil, time.Millisecond)
	ObserveCheckpointSave(errors.New("disk full"), time.Millisecond)
	ObservePacingDelay(100 * time.Millisecond)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(checkpointSavesTotal.WithLabelValues("error")))
}
