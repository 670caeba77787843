package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FileBatch files each id as an independent task, at most concurrency at a
// time. One filing's failure never stops the others; outcomes come back in
// the order of ids. The returned error is only the context's, reported
// once the in-flight tasks have finished.
func (o *Orchestrator) FileBatch(ctx context.Context, ids []string, concurrency int) ([]Outcome, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{FilingID: id, AuditTrail: []string{}, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			out, err := o.FileEntity(ctx, id)
			if err != nil && out.Error == "" {
				out.Error = err.Error()
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var certified, failed int
	for _, out := range outcomes {
		if out.Success {
			certified++
		} else {
			failed++
		}
	}
	o.logger.Info("batch finished", zap.Int("filings", len(ids)), zap.Int("succeeded", certified), zap.Int("failed", failed))
	return outcomes, ctx.Err()
}
