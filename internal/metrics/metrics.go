package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"newsletter/internal/apperr"
)

const defaultNamespace = "newsletter"

// Ingest outcomes.
const (
	OutcomeAdded     = "added"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFetch     = "fetch_error"
	OutcomeStorage   = "storage_error"
	OutcomeOther     = "error"
)

// Observer exports ingestion, query and HTTP metrics. A nil *Observer records
// nothing.
type Observer struct {
	ingestTotal     *prometheus.CounterVec
	keywordsStored  prometheus.Counter
	fetchDuration   prometheus.Histogram
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewObserver registers the collectors on reg, or on the default registerer
// when reg is nil. Collectors already registered under the same name are
// reused.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{}
	var err error

	if o.ingestTotal, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_total",
		Help:      "Article ingestion attempts by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if o.keywordsStored, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keywords_stored_total",
		Help:      "Keyword occurrences written with ingested articles.",
	})); err != nil {
		return nil, err
	}
	if o.fetchDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Latency of article page fetch and extraction.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})); err != nil {
		return nil, err
	}
	if o.queryDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Latency of read operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.queryErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_errors_total",
		Help:      "Failed read operations.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.requestDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// Outcome maps an ingestion error to its outcome label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeAdded
	}
	switch apperr.KindOf(err) {
	case apperr.KindDuplicate:
		return OutcomeDuplicate
	case apperr.KindValidation:
		return OutcomeInvalid
	case apperr.KindFetch:
		return OutcomeFetch
	case apperr.KindStorage:
		return OutcomeStorage
	default:
		return OutcomeOther
	}
}

func (o *Observer) RecordIngest(keywords int, err error) {
	if o == nil {
		return
	}
	o.ingestTotal.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		o.keywordsStored.Add(float64(keywords))
	}
}

func (o *Observer) RecordFetch(duration time.Duration) {
	if o == nil {
		return
	}
	o.fetchDuration.Observe(duration.Seconds())
}

func (o *Observer) RecordQuery(operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.queryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		o.queryErrors.WithLabelValues(operation).Inc()
	}
}

func (o *Observer) RecordRequest(method, route string, status int, duration time.Duration) {
	if o == nil {
		return
	}
	o.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
