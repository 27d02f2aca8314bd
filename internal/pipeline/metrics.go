package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/nathanvale/mnemosyne-sub013/internal/telemetry"
)

// metrics exposes run counters as observable OTEL instruments. With no
// exporter configured the global provider is a no-op and observation costs
// nothing.
type metrics struct {
	registration metric.Registration
}

func newMetrics(p *Pipeline) *metrics {
	meter := telemetry.Meter("mnemosyne/pipeline")

	completed, err1 := meter.Int64ObservableCounter("mnemosyne.batches.completed",
		metric.WithDescription("Batches processed to completion"))
	failed, err2 := meter.Int64ObservableCounter("mnemosyne.batches.failed",
		metric.WithDescription("Batches that exhausted recovery"))
	extracted, err3 := meter.Int64ObservableCounter("mnemosyne.memories.extracted",
		metric.WithDescription("Memories admitted to storage"))
	spent, err4 := meter.Float64ObservableCounter("mnemosyne.spend.usd",
		metric.WithDescription("Committed LLM spend in USD"))
	waiting, err5 := meter.Int64ObservableGauge("mnemosyne.limiter.waiting",
		metric.WithDescription("Workers parked on the rate limiter"))
	batchRate, err6 := meter.Float64ObservableGauge("mnemosyne.batches.success_rate",
		metric.WithDescription("Completed share of finished batches"))
	memoryRate, err7 := meter.Float64ObservableGauge("mnemosyne.memories.success_rate",
		metric.WithDescription("Share of extracted memories not auto-rejected"))
	for _, err := range []error{err1, err2, err3, err4, err5, err6, err7} {
		if err != nil {
			p.log.Warn("pipeline: metric instrument creation failed", "error", err)
			return &metrics{}
		}
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := p.Progress()
		o.ObserveInt64(completed, s.BatchesCompleted)
		o.ObserveInt64(failed, s.BatchesFailed)
		o.ObserveInt64(extracted, s.MemoriesExtracted)
		o.ObserveFloat64(spent, s.SpentUSD)
		o.ObserveInt64(waiting, int64(p.limiter.Waiting()))
		o.ObserveFloat64(batchRate, s.BatchSuccessRate)
		o.ObserveFloat64(memoryRate, s.MemorySuccessRate)
		return nil
	}, completed, failed, extracted, spent, waiting, batchRate, memoryRate)
	if err != nil {
		p.log.Warn("pipeline: metric callback registration failed", "error", err)
		return &metrics{}
	}
	return &metrics{registration: reg}
}

func (m *metrics) unregister() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}
