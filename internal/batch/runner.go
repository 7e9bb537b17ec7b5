package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/types"
	"github.com/parcelkit/address-verifier-go/internal/verifier"
)

var (
	ErrEmptyBatch        = errors.New("batch contains no records")
	ErrDuplicateRecordID = errors.New("batch contains duplicate record ids")
	ErrMissingRecordID   = errors.New("batch contains a record without an id")
	ErrInvalidSlot       = errors.New("slot must be \"to\", \"from\" or \"both\"")
)

// Runner fans a batch out over the verification chain with bounded
// concurrency. Records are isolated from each other: one record's provider
// failure, timeout or even panic never disturbs its siblings, and the result
// set is always a complete bijection with the input record ids.
type Runner struct {
	chain       *verifier.Chain
	concurrency int
	timeout     time.Duration
}

func NewRunner(chain *verifier.Chain, cfg *config.Config) *Runner {
	concurrency := cfg.AppBatchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		chain:       chain,
		concurrency: concurrency,
		timeout:     cfg.AppBatchTimeout,
	}
}

// Run verifies every record in the request. Only structurally invalid
// requests fail; once the shape is accepted, every input record comes back
// with a result. Records still waiting when the batch deadline passes are
// returned as skipped rather than blocking the call.
func (r *Runner) Run(ctx context.Context, req types.BatchRequest) (*types.BatchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	batchID := uuid.NewString()
	slog.InfoContext(ctx, "starting batch verification",
		"batch_id", batchID, "records", len(req.Records), "concurrency", r.concurrency)

	results := make([]types.RecordResult, len(req.Records))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, rec := range req.Records {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = skippedResult(rec)
				return nil
			}
			results[i] = r.verifyRecord(ctx, rec, slotFor(rec, req.Slot))
			return nil
		})
	}
	// Workers never return errors; failures become record-level outcomes.
	_ = g.Wait()

	out := &types.BatchResult{
		BatchID: batchID,
		Results: make(map[string]types.RecordResult, len(results)),
		Summary: types.BatchSummary{Total: len(results)},
	}
	for _, res := range results {
		out.Results[res.RecordID] = res
		tally(&out.Summary, res)
	}

	slog.InfoContext(ctx, "batch verification finished",
		"batch_id", batchID,
		"verified", out.Summary.Verified,
		"corrected", out.Summary.Corrected,
		"unverifiable", out.Summary.Unverifiable,
		"invalid", out.Summary.Invalid,
		"skipped", out.Summary.Skipped)

	return out, nil
}

func validateRequest(req types.BatchRequest) error {
	if len(req.Records) == 0 {
		return ErrEmptyBatch
	}
	if req.Slot != "" && !req.Slot.Valid() {
		return ErrInvalidSlot
	}
	seen := make(map[string]struct{}, len(req.Records))
	for _, rec := range req.Records {
		if rec.RecordID == "" {
			return ErrMissingRecordID
		}
		if _, dup := seen[rec.RecordID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRecordID, rec.RecordID)
		}
		seen[rec.RecordID] = struct{}{}
		if rec.Slot != "" && !rec.Slot.Valid() {
			return fmt.Errorf("%w (record %s)", ErrInvalidSlot, rec.RecordID)
		}
	}
	return nil
}

func slotFor(rec types.BatchRecord, def types.Slot) types.Slot {
	if rec.Slot != "" {
		return rec.Slot
	}
	if def != "" {
		return def
	}
	return types.SlotTo
}

// verifyRecord runs the chain for each requested slot. The recover keeps a
// misbehaving record from taking its siblings down with it; the chain's
// contract makes a panic here unexpected, but the batch boundary converts it
// into a record-level outcome regardless.
func (r *Runner) verifyRecord(ctx context.Context, rec types.BatchRecord, slot types.Slot) (res types.RecordResult) {
	res.RecordID = rec.RecordID
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "record verification panicked",
				"record_id", rec.RecordID, "panic", p)
			res = types.RecordResult{
				RecordID: rec.RecordID,
				To: &types.Outcome{
					Status:  types.StatusInvalid,
					Tier:    types.TierStatic,
					Message: "internal error during verification",
				},
			}
		}
	}()

	if slot == types.SlotTo || slot == types.SlotBoth {
		res.To = r.verifySlot(ctx, rec.To, "to", rec.RecordID)
	}
	if slot == types.SlotFrom || slot == types.SlotBoth {
		res.From = r.verifySlot(ctx, rec.From, "from", rec.RecordID)
	}
	return res
}

func (r *Runner) verifySlot(ctx context.Context, addr *types.Address, slot, recordID string) *types.Outcome {
	if addr == nil || addr.Empty() {
		return &types.Outcome{
			Status:  types.StatusInvalid,
			Tier:    types.TierStatic,
			Message: fmt.Sprintf("no %s address on record %s", slot, recordID),
		}
	}
	return r.chain.Verify(ctx, *addr)
}

func skippedResult(rec types.BatchRecord) types.RecordResult {
	return types.RecordResult{
		RecordID: rec.RecordID,
		Skipped:  true,
		To: &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierStatic,
			Message: "not attempted: batch deadline exceeded",
		},
	}
}

// tally classifies a record by its worst outcome across the requested
// slots: invalid beats unverifiable beats corrected beats verified.
func tally(s *types.BatchSummary, res types.RecordResult) {
	if res.Skipped {
		s.Skipped++
		return
	}
	outcomes := make([]*types.Outcome, 0, 2)
	if res.To != nil {
		outcomes = append(outcomes, res.To)
	}
	if res.From != nil {
		outcomes = append(outcomes, res.From)
	}

	var invalid, unverifiable, corrected bool
	for _, o := range outcomes {
		switch o.Status {
		case types.StatusInvalid:
			invalid = true
		case types.StatusUnverifiable:
			unverifiable = true
		case types.StatusVerifiedWithCorrections:
			corrected = true
		}
	}
	switch {
	case invalid:
		s.Invalid++
	case unverifiable:
		s.Unverifiable++
	case corrected:
		s.Corrected++
	default:
		s.Verified++
	}
}
