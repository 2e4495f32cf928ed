// Package execution decides what happens to a sized plan and carries it out.
//
// The Controller applies the execution mode:
//
//   - dry:       report only
//   - semi_auto: hold the plan behind a confirmation token until the operator
//     confirms it or the confirmation window passes
//   - auto:      hand the plan straight to the Executor
//
// An active kill switch forces dry regardless of the selected mode. The
// Executor places legs one at a time and stops at the first failure.
package execution

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbscan/pkg/types"
)

var (
	ErrUnknownToken        = errors.New("unknown confirmation token")
	ErrConfirmationExpired = errors.New("confirmation expired")
	ErrExecutionDisabled   = errors.New("execution disabled: effective mode is dry")
)

// EffectiveMode is the mode every call site acts on.
func EffectiveMode(mode types.Mode, killSwitch bool) types.Mode {
	if killSwitch {
		return types.ModeDry
	}
	return mode
}

// ModeSource reports the selected mode and kill switch in one consistent read.
type ModeSource interface {
	ModeState() (types.Mode, bool)
}

// Action is what the caller must do with a routed plan.
type Action int

const (
	ActionReport  Action = iota // dry: report and book the expected pnl
	ActionHold                  // semi_auto: wait for Confirm
	ActionExecute               // auto: place the legs now
)

func (a Action) String() string {
	switch a {
	case ActionReport:
		return "report"
	case ActionHold:
		return "hold"
	case ActionExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Pending is a plan held for operator confirmation.
type Pending struct {
	Token       string            `json:"token"`
	Opportunity types.Opportunity `json:"opportunity"`
	Plan        types.StakePlan   `json:"plan"`
	CreatedAt   time.Time         `json:"created_at"`
	Deadline    time.Time         `json:"deadline"`
}

// Controller routes plans according to the effective mode and keeps the
// set of pending confirmations. Deadlines are compared at use time with
// the monotonic clock reading carried by time.Now; nothing runs on a timer.
type Controller struct {
	src    ModeSource
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]Pending
}

// NewController creates a controller. window is how long a held plan may
// wait for confirmation.
func NewController(src ModeSource, window time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		src:     src,
		window:  window,
		now:     time.Now,
		logger:  logger.With("component", "execution"),
		pending: make(map[string]Pending),
	}
}

// Mode returns the effective mode right now.
func (c *Controller) Mode() types.Mode {
	return EffectiveMode(c.src.ModeState())
}

// Route decides what to do with a plan. For ActionHold the returned Pending
// carries the confirmation token.
func (c *Controller) Route(opp types.Opportunity, plan types.StakePlan) (Action, *Pending) {
	switch c.Mode() {
	case types.ModeAuto:
		return ActionExecute, nil
	case types.ModeSemiAuto:
		now := c.now()
		p := Pending{
			Token:       uuid.NewString(),
			Opportunity: opp,
			Plan:        plan,
			CreatedAt:   now,
			Deadline:    now.Add(c.window),
		}
		c.mu.Lock()
		c.pending[p.Token] = p
		c.mu.Unlock()

		c.logger.Info("plan awaiting confirmation",
			"token", p.Token,
			"opportunity", opp.ID,
			"deadline", p.Deadline,
		)
		return ActionHold, &p
	default:
		return ActionReport, nil
	}
}

// Confirm claims a pending plan for execution. The token is consumed whether
// or not confirmation succeeds; on ErrConfirmationExpired and
// ErrExecutionDisabled the returned Pending is still populated so the caller
// can release its reservation.
func (c *Controller) Confirm(token string) (Pending, error) {
	p, err := c.take(token)
	if err != nil {
		return Pending{}, err
	}
	if c.now().After(p.Deadline) {
		c.logger.Warn("confirmation after deadline", "token", token, "opportunity", p.Opportunity.ID)
		return p, ErrConfirmationExpired
	}
	if c.Mode() == types.ModeDry {
		return p, ErrExecutionDisabled
	}
	c.logger.Info("plan confirmed", "token", token, "opportunity", p.Opportunity.ID)
	return p, nil
}

// Reject discards a pending plan.
func (c *Controller) Reject(token string) (Pending, error) {
	p, err := c.take(token)
	if err != nil {
		return Pending{}, err
	}
	c.logger.Info("plan rejected by operator", "token", token, "opportunity", p.Opportunity.ID)
	return p, nil
}

func (c *Controller) take(token string) (Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[token]
	if !ok {
		return Pending{}, ErrUnknownToken
	}
	delete(c.pending, token)
	return p, nil
}

// Sweep removes and returns every pending plan whose deadline has passed.
func (c *Controller) Sweep() []Pending {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []Pending
	for token, p := range c.pending {
		if now.After(p.Deadline) {
			expired = append(expired, p)
			delete(c.pending, token)
		}
	}
	sortPending(expired)
	return expired
}

// Pending lists plans awaiting confirmation, earliest deadline first.
func (c *Controller) Pending() []Pending {
	c.mu.Lock()
	out := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	c.mu.Unlock()

	sortPending(out)
	return out
}

func sortPending(ps []Pending) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].Deadline.Equal(ps[j].Deadline) {
			return ps[i].Deadline.Before(ps[j].Deadline)
		}
		return ps[i].Token < ps[j].Token
	})
}
