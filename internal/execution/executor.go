package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"arbscan/pkg/types"
)

// ErrIncompleteFill is the failure cause when a backend accepts a leg but
// does not match its full stake.
var ErrIncompleteFill = errors.New("leg not fully matched")

// Backend places a single leg with a bookmaker.
type Backend interface {
	PlaceBet(ctx context.Context, eventID, clientRef string, leg types.StakeLeg) (types.BetReceipt, error)
}

// ExecutionFailure reports a plan that stopped part way. Unhedged is true
// when at least one earlier leg was placed, leaving a directional position
// the operator has to manage.
type ExecutionFailure struct {
	OpportunityID string
	LegIndex      int
	FailedLeg     types.StakeLeg
	Placed        []types.BetReceipt
	Unhedged      bool
	Err           error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execute %s: leg %d (%s@%s) failed after %d placed: %v",
		e.OpportunityID, e.LegIndex, e.FailedLeg.OutcomeID, e.FailedLeg.BookmakerID, len(e.Placed), e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Executor places a plan's legs in order through per-bookmaker backends.
type Executor struct {
	backends map[string]Backend
	fallback Backend
	logger   *slog.Logger
}

// NewExecutor creates an executor. fallback handles bookmakers without a
// dedicated backend; nil means such legs fail.
func NewExecutor(fallback Backend, logger *slog.Logger) *Executor {
	return &Executor{
		backends: make(map[string]Backend),
		fallback: fallback,
		logger:   logger.With("component", "executor"),
	}
}

// Register routes a bookmaker's legs to b. Call before Execute is used.
func (x *Executor) Register(bookmakerID string, b Backend) {
	x.backends[strings.ToLower(bookmakerID)] = b
}

func (x *Executor) backendFor(bookmakerID string) Backend {
	if b, ok := x.backends[strings.ToLower(bookmakerID)]; ok {
		return b
	}
	return x.fallback
}

// Execute places every leg of plan sequentially. On the first failure no
// further legs are submitted and an *ExecutionFailure is returned. A leg the
// backend accepted without fully matching counts as failed; its receipt is
// kept in Placed since the money is at risk.
func (x *Executor) Execute(ctx context.Context, plan types.StakePlan) ([]types.BetReceipt, error) {
	placed := make([]types.BetReceipt, 0, len(plan.Legs))

	for i, leg := range plan.Legs {
		err := ctx.Err()
		var receipt types.BetReceipt
		if err == nil {
			if b := x.backendFor(leg.BookmakerID); b == nil {
				err = fmt.Errorf("no backend for bookmaker %q", leg.BookmakerID)
			} else {
				receipt, err = b.PlaceBet(ctx, plan.EventID, plan.OpportunityID+":"+leg.OutcomeID, leg)
			}
			if err == nil && !fullyMatched(receipt, leg) {
				placed = append(placed, receipt)
				err = fmt.Errorf("%w: status %s, matched %s of %s",
					ErrIncompleteFill, receipt.Status, receipt.Stake.StringFixed(2), leg.Stake.StringFixed(2))
			}
		}
		if err != nil {
			failure := &ExecutionFailure{
				OpportunityID: plan.OpportunityID,
				LegIndex:      i,
				FailedLeg:     leg,
				Placed:        placed,
				Unhedged:      len(placed) > 0,
				Err:           err,
			}
			if failure.Unhedged {
				x.logger.Error("UNHEDGED POSITION", "opportunity", plan.OpportunityID, "placed_legs", len(placed), "error", err)
			} else {
				x.logger.Warn("execution failed before any leg placed", "opportunity", plan.OpportunityID, "error", err)
			}
			return placed, failure
		}
		placed = append(placed, receipt)
	}

	x.logger.Info("plan executed", "opportunity", plan.OpportunityID, "legs", len(placed))
	return placed, nil
}

func fullyMatched(r types.BetReceipt, leg types.StakeLeg) bool {
	return r.Status == types.BetFilled && !r.Stake.LessThan(leg.Stake)
}
