package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives named counter increments such as
// "govuk_index.elasticsearch.index".
type Sink interface {
	Increment(name string)
}

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchindex",
			Name:      "events_total",
			Help:      "Total number of indexing and search events by name",
		},
		[]string{"event"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchindex",
			Name:      "job_duration_seconds",
			Help:      "Worker job duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"queue", "status"},
	)
)

// Register adds the collectors to reg, or to the default registerer when nil.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{EventsTotal, JobDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Prometheus is the production Sink.
type Prometheus struct {
	events *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	return &Prometheus{events: EventsTotal}
}

func (p *Prometheus) Increment(name string) {
	p.events.WithLabelValues(name).Inc()
}

// ObserveJob records the duration of a worker job.
func ObserveJob(queue string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobDuration.WithLabelValues(queue, status).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder counts increments in memory.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int)}
}

func (r *Recorder) Increment(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Names returns every counter that has been incremented at least once.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counts))
	for n := range r.counts {
		names = append(names, n)
	}
	return names
}
