package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// PricePoller drives the ingestion loop: one reconciliation cycle
// immediately on startup, then one per interval until the context ends.
type PricePoller struct {
	tracer       trace.Tracer
	ingest       Reconciler
	pollInterval time.Duration
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) error
}

func NewPricePoller(tracer trace.Tracer, ingest Reconciler, pollIntervalSecs int) *PricePoller {
	return &PricePoller{
		tracer:       tracer,
		ingest:       ingest,
		pollInterval: time.Duration(pollIntervalSecs) * time.Second,
	}
}

// Start blocks until ctx is cancelled. A failed cycle is logged and the
// next tick retries; the loop itself never exits on error.
func (p *PricePoller) Start(ctx context.Context) {
	log.Printf("Price poller starting (interval %s)", p.pollInterval)

	p.runCycle(ctx)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price poller stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *PricePoller) runCycle(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "poller.cycle")
	defer span.End()

	if err := p.ingest.ReconcileAll(ctx); err != nil {
		log.Printf("reconcile cycle error: %v", err)
	}
}
