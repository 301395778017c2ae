package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// registering twice is tolerated
	require.NoError(t, Register(reg))

	p := NewPrometheus()
	before := testutil.ToFloat64(EventsTotal.WithLabelValues("govuk_index.elasticsearch.index"))
	p.Increment("govuk_index.elasticsearch.index")
	p.Increment("govuk_index.elasticsearch.index")

	after := testutil.ToFloat64(EventsTotal.WithLabelValues("govuk_index.elasticsearch.index"))
	assert.Equal(t, before+2, after)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Increment("a")
	r.Increment("a")
	r.Increment("b")

	assert.Equal(t, 2, r.Count("a"))
	assert.Equal(t, 1, r.Count("b"))
	assert.Equal(t, 0, r.Count("c"))
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}

func TestObserveJob(t *testing.T) {
	before := testutil.CollectAndCount(JobDuration)
	ObserveJob("amend_test", 10*time.Millisecond, nil)
	ObserveJob("amend_test", time.Second, errors.New("locked"))

	assert.Equal(t, before+2, testutil.CollectAndCount(JobDuration))
}
