// Package detection screens a batch of transactions against one rule
// configuration and annotates every record with its violations.
package detection

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("kestrel-detection")

// Processor runs the rule engine over whole datasets.
type Processor struct {
	// Workers bounds how many user partitions are evaluated concurrently.
	// Values below 2 evaluate sequentially.
	Workers int
}

// NewProcessor creates a processor with the given parallelism.
func NewProcessor(workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{Workers: workers}
}

// Analyze validates cfg and txs, then evaluates every transaction. The result
// has one entry per input transaction, in input order. Invalid input fails the
// whole batch with no partial output.
func (p *Processor) Analyze(ctx context.Context, txs []domain.Transaction, cfg domain.RuleConfiguration) ([]domain.AnnotatedTransaction, error) {
	ctx, span := tracer.Start(ctx, "detection.Analyze",
		trace.WithAttributes(
			attribute.String("configuration", cfg.Name),
			attribute.Int("transactions", len(txs)),
			attribute.Int("workers", p.Workers),
		),
	)
	defer span.End()

	engine, err := rules.NewEngine(cfg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := domain.ValidateTransactions(txs); err != nil {
		span.RecordError(err)
		return nil, err
	}

	idx := velocity.NewIndex(txs)
	out := make([]domain.AnnotatedTransaction, len(txs))

	if p.Workers < 2 || len(idx.Users()) < 2 {
		for pos := range txs {
			out[pos] = domain.Annotate(txs[pos], engine.Evaluate(idx, pos))
		}
	} else if err := p.analyzeParallel(ctx, idx, engine, out); err != nil {
		span.RecordError(err)
		return nil, err
	}

	flagged := 0
	for i := range out {
		if out[i].Suspicious {
			flagged++
		}
	}
	span.SetAttributes(attribute.Int("flagged", flagged))

	return out, nil
}

// analyzeParallel hands each user to exactly one goroutine. Partitions write
// disjoint slots of out, so no locking is needed.
func (p *Processor) analyzeParallel(ctx context.Context, idx *velocity.Index, engine *rules.Engine, out []domain.AnnotatedTransaction) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	for _, user := range idx.Users() {
		if gctx.Err() != nil {
			break
		}
		positions := idx.Positions(user)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, pos := range positions {
				out[pos] = domain.Annotate(*idx.At(pos), engine.Evaluate(idx, pos))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("analysis cancelled: %w", err)
	}
	// Partitions skipped after the caller cancelled leave out incomplete.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis cancelled: %w", err)
	}
	return nil
}
