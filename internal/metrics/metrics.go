package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracetrigger/internal/logger"
)

// Registry holds the trigger metric families.
type Registry struct {
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	starts       *prometheus.CounterVec
	orphans      *prometheus.CounterVec
	fired        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	open         *prometheus.GaugeVec
	threshold    *prometheus.GaugeVec
	counterValue *prometheus.GaugeVec
}

// New registers the trigger metric families with reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracetrigger",
			Name:      "events_total",
			Help:      "Events delivered to a trigger.",
		}, []string{"trigger"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracetrigger",
			Name:      "events_dropped_total",
			Help:      "Events rejected before matching, by reason.",
		}, []string{"trigger", "reason"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracetrigger",
			Name:      "starts_total",
			Help:      "Start events that opened a tracking record.",
		}, []string{"trigger"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracetrigger",
			Name:      "orphan_stops_total",
			Help:      "Stop events without an open start record.",
		}, []string{"trigger"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracetrigger",
			Name:      "fired_total",
			Help:      "Triggers that fired.",
		}, []string{"trigger"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracetrigger",
			Name:      "pair_duration_msec",
			Help:      "Start to stop durations in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"trigger"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracetrigger",
			Name:      "open_starts",
			Help:      "Start records waiting for a stop event.",
		}, []string{"trigger"}),
		threshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracetrigger",
			Name:      "effective_threshold",
			Help:      "Current decayed threshold.",
		}, []string{"trigger"}),
		counterValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracetrigger",
			Name:      "counter_value",
			Help:      "Last sampled counter value.",
		}, []string{"trigger"}),
	}
	if reg != nil {
		reg.MustRegister(r.events, r.dropped, r.starts, r.orphans, r.fired, r.duration, r.open, r.threshold, r.counterValue)
	}
	return r
}

// ForTrigger returns the metric handles for one trigger.
func (r *Registry) ForTrigger(name string) *Trigger {
	if r == nil {
		return nil
	}
	return &Trigger{
		events:       r.events.WithLabelValues(name),
		droppedVec:   r.dropped,
		name:         name,
		starts:       r.starts.WithLabelValues(name),
		orphans:      r.orphans.WithLabelValues(name),
		fired:        r.fired.WithLabelValues(name),
		duration:     r.duration.WithLabelValues(name),
		open:         r.open.WithLabelValues(name),
		threshold:    r.threshold.WithLabelValues(name),
		counterValue: r.counterValue.WithLabelValues(name),
	}
}

// Trigger records metrics for a single trigger. A nil *Trigger is valid and
// records nothing.
type Trigger struct {
	name         string
	events       prometheus.Counter
	droppedVec   *prometheus.CounterVec
	starts       prometheus.Counter
	orphans      prometheus.Counter
	fired        prometheus.Counter
	duration     prometheus.Observer
	open         prometheus.Gauge
	threshold    prometheus.Gauge
	counterValue prometheus.Gauge
}

func (m *Trigger) Event() {
	if m != nil {
		m.events.Inc()
	}
}

func (m *Trigger) Dropped(reason string) {
	if m != nil {
		m.droppedVec.WithLabelValues(m.name, reason).Inc()
	}
}

func (m *Trigger) Started(open int) {
	if m != nil {
		m.starts.Inc()
		m.open.Set(float64(open))
	}
}

func (m *Trigger) Orphan() {
	if m != nil {
		m.orphans.Inc()
	}
}

func (m *Trigger) Pair(durationMSec float64, open int, threshold float64) {
	if m != nil {
		m.duration.Observe(durationMSec)
		m.open.Set(float64(open))
		m.threshold.Set(threshold)
	}
}

func (m *Trigger) Sample(value, threshold float64) {
	if m != nil {
		m.counterValue.Set(value)
		m.threshold.Set(threshold)
	}
}

func (m *Trigger) Fired() {
	if m != nil {
		m.fired.Inc()
	}
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Metrics server shutdown: %v", err)
		}
	}()

	logger.Infof("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
