package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbscan/pkg/types"
)

// PaperBackend accepts every leg at the requested price without contacting
// a bookmaker. Used when execution.paper is set.
type PaperBackend struct {
	now    func() time.Time
	logger *slog.Logger
}

func NewPaperBackend(logger *slog.Logger) *PaperBackend {
	return &PaperBackend{now: time.Now, logger: logger.With("component", "paper")}
}

func (p *PaperBackend) PlaceBet(ctx context.Context, eventID, clientRef string, leg types.StakeLeg) (types.BetReceipt, error) {
	if err := ctx.Err(); err != nil {
		return types.BetReceipt{}, err
	}
	p.logger.Info("PAPER: would place bet",
		"event", eventID,
		"ref", clientRef,
		"bookmaker", leg.BookmakerID,
		"outcome", leg.OutcomeID,
		"price", leg.Price,
		"stake", leg.Stake.String(),
	)
	return types.BetReceipt{
		BetID:       "paper-" + uuid.NewString(),
		BookmakerID: leg.BookmakerID,
		OutcomeID:   leg.OutcomeID,
		Price:       leg.Price,
		Stake:       leg.Stake,
		Status:      types.BetFilled,
		PlacedAt:    p.now(),
	}, nil
}
