package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"panshare/internal"
)

// Observer receives telemetry for orchestrated operations
type Observer interface {
	RecordStore(provider internal.ProviderIdentity, duration time.Duration, err error)
	RecordDelete(provider internal.ProviderIdentity, duration time.Duration, err error)
}

// PrometheusObserver exports store and delete metrics
type PrometheusObserver struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	gatherer   prometheus.Gatherer
}

// NewPrometheusObserver registers the transfer metrics on reg. A nil reg
// gets a private registry, which WriteTextfile can still export.
func NewPrometheusObserver(namespace string, reg *prometheus.Registry) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "panshare"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Store and delete operations by provider and outcome.",
	}, []string{"provider", "operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of store and delete operations, remote polling included.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"provider", "operation"})

	var err error
	if operations, err = register(reg, operations); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &PrometheusObserver{operations: operations, duration: duration, gatherer: reg}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register transfer metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) RecordStore(provider internal.ProviderIdentity, duration time.Duration, err error) {
	o.record(provider, "store", duration, err)
}

func (o *PrometheusObserver) RecordDelete(provider internal.ProviderIdentity, duration time.Duration, err error) {
	o.record(provider, "delete", duration, err)
}

func (o *PrometheusObserver) record(provider internal.ProviderIdentity, op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(provider.Name(), op).Observe(duration.Seconds())
	o.operations.WithLabelValues(provider.Name(), op, outcomeLabel(err)).Inc()
}

// WriteTextfile dumps the current metrics in the text exposition format,
// for pickup by a node exporter textfile collector
func (o *PrometheusObserver) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, o.gatherer)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case internal.IsType(err, internal.ErrPartialSuccess):
		return "partial"
	default:
		pe := internal.AsPanError(err, internal.ErrTransport)
		return pe.Type.String()
	}
}

type nopObserver struct{}

func (nopObserver) RecordStore(internal.ProviderIdentity, time.Duration, error) {}

func (nopObserver) RecordDelete(internal.ProviderIdentity, time.Duration, error) {}
