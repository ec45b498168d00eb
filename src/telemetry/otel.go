package telemetry

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

// RegisterGauges publishes every engine metric as an OpenTelemetry
// observable gauge backed by a single snapshot per collection.
func RegisterGauges(meter metric.Meter, source Source) (metric.Registration, error) {
	gauges := make([]metric.Float64ObservableGauge, len(metricDefs))
	observables := make([]metric.Observable, len(metricDefs))

	for i, def := range metricDefs {
		g, err := meter.Float64ObservableGauge(namespace+"."+def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, errors.Wrapf(err, "create gauge %s", def.name)
		}

		gauges[i] = g
		observables[i] = g
	}

	reg, err := meter.RegisterCallback(observe(source, gauges), observables...)
	if err != nil {
		return nil, errors.Wrap(err, "register engine gauges")
	}

	return reg, nil
}

func observe(source Source, gauges []metric.Float64ObservableGauge) metric.Callback {
	return func(_ context.Context, o metric.Observer) error {
		s := source.Snapshot()
		for i, def := range metricDefs {
			o.ObserveFloat64(gauges[i], def.value(s))
		}

		return nil
	}
}
