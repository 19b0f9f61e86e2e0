// Package access decides whether an actor may download the file behind a
// capability by dev-inspecting the on-ledger can_download predicate.
package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// Evaluator runs approval probes against a ledger.
type Evaluator struct {
	svc     ledger.Service
	builder *ledger.Builder
	logger  *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger discards output.
func NewEvaluator(svc ledger.Service, builder *ledger.Builder, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{svc: svc, builder: builder, logger: logger}
}

// Evaluate reports whether actor may download the file behind capabilityID.
//
// An empty actor is never granted, but the capability's existence is still
// checked so callers can tell a missing file from a denial. A missing
// capability returns ledger.ErrCapabilityNotFound. Every other failure wraps
// ErrEvaluation and returns false.
func (e *Evaluator) Evaluate(ctx context.Context, capabilityID, actor string) (bool, error) {
	if actor == "" {
		if _, err := e.svc.GetCapability(ctx, capabilityID); err != nil {
			return false, e.fail(err)
		}
		return false, nil
	}

	probe, err := e.builder.BuildApprovalProbe(capabilityID, actor)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	res, err := e.svc.DevInspect(ctx, probe, actor)
	if err != nil {
		return false, e.fail(err)
	}
	ok, err := res.DecodeBool()
	if err != nil {
		e.logger.Warn("undecodable access probe", zap.String("capability", capabilityID), zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	e.logger.Debug("access evaluated",
		zap.String("capability", capabilityID),
		zap.String("actor", actor),
		zap.Bool("allowed", ok))
	return ok, nil
}

func (e *Evaluator) fail(err error) error {
	if errors.Is(err, ledger.ErrCapabilityNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEvaluation, err)
}
