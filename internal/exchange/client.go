// Package exchange implements the REST client for a betting exchange's
// bet-placement API. It is one of the execution backends: every confirmed
// leg routed to an exchange bookmaker goes through Client.PlaceBet.
//
//   - PlaceBet:  POST /bets  place one back bet at a limit price
//
// Every request is rate-limited via TokenBuckets, retried on 5xx errors, and
// authenticated with HMAC headers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbscan/internal/config"
	"arbscan/pkg/types"
)

// BetRequest is the request body for POST /bets.
type BetRequest struct {
	ClientRef   string          `json:"client_ref"` // idempotency key: opportunity id + outcome
	EventID     string          `json:"event_id"`
	OutcomeID   string          `json:"outcome_id"`
	BookmakerID string          `json:"bookmaker_id"`
	Price       float64         `json:"price"` // minimum acceptable decimal odds
	Stake       decimal.Decimal `json:"stake"`
}

// BetResponse is the exchange's reply to POST /bets.
type BetResponse struct {
	BetID        string          `json:"bet_id"`
	Status       string          `json:"status"` // "placed", "matched", "partial", "rejected", "lapsed"
	MatchedPrice float64         `json:"matched_price"`
	MatchedStake decimal.Decimal `json:"matched_stake"`
	ErrorMsg     string          `json:"error,omitempty"`
}

// Client is the betting exchange REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	signer *Signer       // HMAC request signing
	rl     *RateLimiter
	now    func() time.Time
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExecutionConfig, signer *Signer, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		// Only explicit 5xx answers are retried. A transport error may come
		// after the exchange accepted the bet, so it is returned instead; the
		// retried request carries the same client_ref for venue-side dedup.
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		signer: signer,
		rl:     NewRateLimiter(cfg.BetsPerSecond, cfg.BetBurst),
		now:    time.Now,
		logger: logger.With("component", "exchange"),
	}
}

// PlaceBet submits one leg. A bet the exchange refuses (rejected or lapsed)
// is returned as an error; partial matches are returned with BetPartial.
func (c *Client) PlaceBet(ctx context.Context, eventID, clientRef string, leg types.StakeLeg) (types.BetReceipt, error) {
	if err := c.rl.Bet.Wait(ctx); err != nil {
		return types.BetReceipt{}, err
	}

	req := BetRequest{
		ClientRef:   clientRef,
		EventID:     eventID,
		OutcomeID:   leg.OutcomeID,
		BookmakerID: leg.BookmakerID,
		Price:       leg.Price,
		Stake:       leg.Stake,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return types.BetReceipt{}, fmt.Errorf("marshal bet: %w", err)
	}
	headers, err := c.signer.Headers(http.MethodPost, "/bets", string(body))
	if err != nil {
		return types.BetReceipt{}, fmt.Errorf("sign bet: %w", err)
	}

	var result BetResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/bets")
	if err != nil {
		return types.BetReceipt{}, fmt.Errorf("place bet: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return types.BetReceipt{}, fmt.Errorf("place bet: status %d: %s", resp.StatusCode(), resp.String())
	}

	receipt, err := c.toReceipt(leg, result)
	if err != nil {
		return types.BetReceipt{}, err
	}
	c.logger.Info("bet placed",
		"bet_id", receipt.BetID,
		"bookmaker", leg.BookmakerID,
		"outcome", leg.OutcomeID,
		"price", receipt.Price,
		"stake", receipt.Stake.String(),
		"status", receipt.Status,
	)
	return receipt, nil
}

func (c *Client) toReceipt(leg types.StakeLeg, r BetResponse) (types.BetReceipt, error) {
	var status types.BetStatus
	switch r.Status {
	case "placed":
		status = types.BetPlaced
	case "matched":
		status = types.BetFilled
	case "partial":
		status = types.BetPartial
	default:
		msg := r.ErrorMsg
		if msg == "" {
			msg = r.Status
		}
		return types.BetReceipt{}, fmt.Errorf("place bet: refused by exchange: %s", msg)
	}
	if r.BetID == "" {
		return types.BetReceipt{}, fmt.Errorf("place bet: response missing bet_id")
	}

	price := r.MatchedPrice
	if price == 0 {
		price = leg.Price
	}
	stake := r.MatchedStake
	if stake.IsZero() {
		stake = leg.Stake
	}
	return types.BetReceipt{
		BetID:       r.BetID,
		BookmakerID: leg.BookmakerID,
		OutcomeID:   leg.OutcomeID,
		Price:       price,
		Stake:       stake,
		Status:      status,
		PlacedAt:    c.now(),
	}, nil
}
