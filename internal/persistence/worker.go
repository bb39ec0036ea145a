package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"StableGuard/internal/core"
	"StableGuard/internal/observability"
)

// Worker drains the core's output channel and flushes batches to Postgres.
// Flushes happen on batch size or timeout, whichever comes first. A write
// failure is retried with backoff; the channel backpressures the core in
// the meantime, so no committed operation is dropped.
type Worker struct {
	writer       *StateWriter
	outputChan   <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	writer *StateWriter,
	outputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       writer,
		outputChan:   outputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run processes outputs until the context is cancelled and the channel is
// drained.
func (w *Worker) Run(ctx context.Context) {
	batch := make([]core.Output, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case out, ok := <-w.outputChan:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)

		case <-ctx.Done():
			// Drain whatever is already queued, then stop.
			for {
				select {
				case out, ok := <-w.outputChan:
					if !ok {
						w.flush(context.Background(), batch)
						return
					}
					batch = append(batch, out)
				default:
					w.flush(context.Background(), batch)
					return
				}
			}
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []core.Output) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()

	ops := make([]OperationRow, 0, len(batch))
	poolRows := make(map[string]PoolRow)
	policyRows := make(map[string]PolicyRow)
	lastSeq := int64(0)

	for _, out := range batch {
		ops = append(ops, toOperationRow(out.Record))
		if out.Record.Sequence > lastSeq {
			lastSeq = out.Record.Sequence
		}

		// Later snapshots of the same record win within a batch.
		if out.Pool != nil {
			row := PoolRow{
				Address:           out.Pool.Address.String(),
				CollateralAsset:   string(out.Pool.CollateralAsset),
				ShareMint:         out.Pool.ShareMint.String(),
				VaultBalance:      int64(out.Pool.VaultBalance),
				TotalInsuredValue: int64(out.Pool.TotalInsuredValue),
				AuthorityBump:     int16(out.Pool.AuthorityBump),
				Bump:              int16(out.Pool.Bump),
			}
			poolRows[row.Address] = row
		}
		if out.Policy != nil {
			row := PolicyRow{
				Address:         out.Policy.Address.String(),
				Buyer:           out.Policy.Buyer.String(),
				PolicyID:        int64(out.Policy.PolicyID),
				InsuredAsset:    string(out.Policy.InsuredAsset),
				InsuredAmount:   int64(out.Policy.InsuredAmount),
				PremiumPaid:     int64(out.Policy.PremiumPaid),
				PayoutAmount:    int64(out.Policy.PayoutAmount),
				PremiumCurrency: string(out.Policy.PremiumCurrency),
				StartTimestamp:  out.Policy.StartTimestamp,
				ExpiryTimestamp: out.Policy.ExpiryTimestamp,
				Status:          out.Policy.Status.String(),
				Bump:            int16(out.Policy.Bump),
			}
			policyRows[row.Address] = row
		}
	}

	pools := make([]PoolRow, 0, len(poolRows))
	for _, r := range poolRows {
		pools = append(pools, r)
	}
	policies := make([]PolicyRow, 0, len(policyRows))
	for _, r := range policyRows {
		policies = append(policies, r)
	}

	for attempt := 0; ; attempt++ {
		err := w.writeAll(ctx, ops, pools, policies, lastSeq)
		if err == nil {
			break
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		w.log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Int("attempt", attempt+1).
			Msg("persist batch failed, retrying")

		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			w.log.Error().Msg("persist batch abandoned on shutdown")
			return
		}
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())
		w.metrics.PersistLastSequence.Set(float64(lastSeq))
	}
}

func (w *Worker) writeAll(ctx context.Context, ops []OperationRow, pools []PoolRow, policies []PolicyRow, lastSeq int64) error {
	if err := w.writer.WriteOperationBatch(ctx, ops); err != nil {
		return err
	}
	if err := w.writer.UpsertPools(ctx, pools); err != nil {
		return err
	}
	if err := w.writer.UpsertPolicies(ctx, policies); err != nil {
		return err
	}
	return w.writer.UpdateWatermark(ctx, lastSeq)
}

func toOperationRow(rec core.OperationRecord) OperationRow {
	var policyID *int64
	if rec.PolicyID != nil {
		id := int64(*rec.PolicyID)
		policyID = &id
	}
	return OperationRow{
		Sequence:  rec.Sequence,
		OpID:      rec.OpID.String(),
		OpType:    rec.Type.String(),
		Actor:     rec.Actor.String(),
		Asset:     string(rec.Asset),
		PolicyID:  policyID,
		Amount:    int64(rec.Amount),
		Detail:    rec.Detail,
		Timestamp: rec.Timestamp,
		StateHash: rec.StateHash[:],
		PrevHash:  rec.PrevHash[:],
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
