// Package metrics exposes generator activity as Prometheus metrics.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paraglidehq/snowflake"
)

// Collector holds the metric vectors. One Collector serves any number of
// instrumented generators, told apart by the worker label.
type Collector struct {
	generated   *prometheus.CounterVec
	regressions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	behind      *prometheus.GaugeVec
}

// Instrument is shorthand for NewCollector(reg).Instrument(src, workerID).
func Instrument(src snowflake.Source, reg prometheus.Registerer, workerID uint16) snowflake.Source {
	return NewCollector(reg).Instrument(src, workerID)
}

// NewCollector registers the metrics with reg. A nil reg skips registration.
// Vectors already registered with reg are reused.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowflake",
			Name:      "ids_generated_total",
			Help:      "IDs issued.",
		}, []string{"worker"}),
		regressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowflake",
			Name:      "clock_regressions_total",
			Help:      "Generate calls rejected because the clock moved backwards.",
		}, []string{"worker"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowflake",
			Name:      "generate_errors_total",
			Help:      "Generate calls that failed for any reason.",
		}, []string{"worker"}),
		behind: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snowflake",
			Name:      "clock_regression_milliseconds",
			Help:      "Size of the most recent clock regression.",
		}, []string{"worker"}),
	}
	if reg != nil {
		c.generated = register(reg, c.generated)
		c.regressions = register(reg, c.regressions)
		c.errors = register(reg, c.errors)
		c.behind = register(reg, c.behind)
	}
	return c
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Instrument wraps src so every Generate call is counted under workerID.
func (c *Collector) Instrument(src snowflake.Source, workerID uint16) snowflake.Source {
	w := strconv.Itoa(int(workerID))
	return &instrumented{
		src:         src,
		generated:   c.generated.WithLabelValues(w),
		regressions: c.regressions.WithLabelValues(w),
		errors:      c.errors.WithLabelValues(w),
		behind:      c.behind.WithLabelValues(w),
	}
}

type instrumented struct {
	src         snowflake.Source
	generated   prometheus.Counter
	regressions prometheus.Counter
	errors      prometheus.Counter
	behind      prometheus.Gauge
}

func (i *instrumented) Generate() (snowflake.ID, error) {
	id, err := i.src.Generate()
	if err != nil {
		i.errors.Inc()
		var cre *snowflake.ClockRegressionError
		if errors.As(err, &cre) {
			i.regressions.Inc()
			i.behind.Set(float64(cre.Behind()))
		}
		return id, err
	}
	i.generated.Inc()
	return id, nil
}
