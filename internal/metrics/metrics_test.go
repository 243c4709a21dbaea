package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchTotal)
	require.NotNil(t, fallbackTotal)
	require.NotNil(t, jobsFiredTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchTotal.WithLabelValues("venue", "success"))
	ObserveFetch("venue", "success", 150*time.Millisecond)
	ObserveFetch("venue", "http_error", 0)

	require.InDelta(t, before+1, testutil.ToFloat64(fetchTotal.WithLabelValues("venue", "success")), 0.001)
	require.InDelta(t, 1, testutil.ToFloat64(fetchTotal.WithLabelValues("venue", "http_error")), 0.001)
	require.Positive(t, testutil.CollectAndCount(fetchDurationSeconds))
}

func TestSetQuota(t *testing.T) {
	SetQuota(7, 50, false)
	require.InDelta(t, 7, testutil.ToFloat64(quotaUsed), 0.001)
	require.InDelta(t, 50, testutil.ToFloat64(quotaLimit), 0.001)
	require.InDelta(t, 0, testutil.ToFloat64(cacheOnly), 0.001)

	SetQuota(7, 50, true)
	require.InDelta(t, 1, testutil.ToFloat64(cacheOnly), 0.001)
}

func TestObserveFallbackAndJobs(t *testing.T) {
	ObserveFallback("race_entries", "quota_exceeded")
	ObserveJob("one_shot", "success")
	ObserveJob("one_shot", "success")
	SetJobsRegistered(3)
	ObserveRefreshCandidates(2)

	require.InDelta(t, 1, testutil.ToFloat64(fallbackTotal.WithLabelValues("race_entries", "quota_exceeded")), 0.001)
	require.InDelta(t, 2, testutil.ToFloat64(jobsFiredTotal.WithLabelValues("one_shot", "success")), 0.001)
	require.InDelta(t, 3, testutil.ToFloat64(jobsRegistered), 0.001)
	require.InDelta(t, 2, testutil.ToFloat64(refreshCandidatesTotal), 0.001)
}
