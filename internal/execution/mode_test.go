package execution

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"arbscan/pkg/types"
)

type fakeModes struct {
	mu   sync.Mutex
	mode types.Mode
	kill bool
}

func (f *fakeModes) ModeState() (types.Mode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode, f.kill
}

func (f *fakeModes) set(mode types.Mode, kill bool) {
	f.mu.Lock()
	f.mode, f.kill = mode, kill
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestController(mode types.Mode) (*Controller, *fakeModes, *time.Time) {
	src := &fakeModes{mode: mode}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewController(src, 60*time.Second, testLogger())
	c.now = func() time.Time { return now }
	return c, src, &now
}

func TestEffectiveMode(t *testing.T) {
	t.Parallel()

	for _, m := range []types.Mode{types.ModeDry, types.ModeSemiAuto, types.ModeAuto} {
		if got := EffectiveMode(m, true); got != types.ModeDry {
			t.Errorf("EffectiveMode(%s, kill) = %s, want dry", m, got)
		}
		if got := EffectiveMode(m, false); got != m {
			t.Errorf("EffectiveMode(%s, no kill) = %s", m, got)
		}
	}
}

func TestRouteByMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode types.Mode
		kill bool
		want Action
	}{
		{types.ModeDry, false, ActionReport},
		{types.ModeSemiAuto, false, ActionHold},
		{types.ModeAuto, false, ActionExecute},
		{types.ModeAuto, true, ActionReport},
		{types.ModeSemiAuto, true, ActionReport},
	}

	for _, tt := range tests {
		c, src, _ := newTestController(tt.mode)
		src.set(tt.mode, tt.kill)

		action, p := c.Route(types.Opportunity{ID: "o"}, types.StakePlan{OpportunityID: "o"})
		if action != tt.want {
			t.Errorf("%s kill=%v: action = %s, want %s", tt.mode, tt.kill, action, tt.want)
		}
		if (p != nil) != (tt.want == ActionHold) {
			t.Errorf("%s kill=%v: pending = %v", tt.mode, tt.kill, p)
		}
	}
}

func TestConfirmWithinWindow(t *testing.T) {
	t.Parallel()
	c, _, now := newTestController(types.ModeSemiAuto)

	_, p := c.Route(types.Opportunity{ID: "o1"}, types.StakePlan{OpportunityID: "o1"})
	if p.Deadline.Sub(p.CreatedAt) != 60*time.Second {
		t.Errorf("window = %v, want 60s", p.Deadline.Sub(p.CreatedAt))
	}

	*now = now.Add(59 * time.Second)
	got, err := c.Confirm(p.Token)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Plan.OpportunityID != "o1" {
		t.Errorf("confirmed plan = %+v", got.Plan)
	}

	if _, err := c.Confirm(p.Token); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("second confirm err = %v, want ErrUnknownToken", err)
	}
}

func TestConfirmAfterDeadline(t *testing.T) {
	t.Parallel()
	c, _, now := newTestController(types.ModeSemiAuto)

	_, p := c.Route(types.Opportunity{ID: "o1"}, types.StakePlan{OpportunityID: "o1"})
	*now = now.Add(61 * time.Second)

	got, err := c.Confirm(p.Token)
	if !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("err = %v, want ErrConfirmationExpired", err)
	}
	if got.Plan.OpportunityID != "o1" {
		t.Error("expired confirmation must still return the plan for release")
	}
	if len(c.Pending()) != 0 {
		t.Error("expired token must be consumed")
	}
}

func TestConfirmUnderKillSwitch(t *testing.T) {
	t.Parallel()
	c, src, _ := newTestController(types.ModeSemiAuto)

	_, p := c.Route(types.Opportunity{ID: "o1"}, types.StakePlan{OpportunityID: "o1"})
	src.set(types.ModeSemiAuto, true)

	if _, err := c.Confirm(p.Token); !errors.Is(err, ErrExecutionDisabled) {
		t.Errorf("err = %v, want ErrExecutionDisabled", err)
	}
}

func TestRejectAndSweep(t *testing.T) {
	t.Parallel()
	c, _, now := newTestController(types.ModeSemiAuto)

	_, p1 := c.Route(types.Opportunity{ID: "o1"}, types.StakePlan{OpportunityID: "o1"})
	*now = now.Add(30 * time.Second)
	_, p2 := c.Route(types.Opportunity{ID: "o2"}, types.StakePlan{OpportunityID: "o2"})
	_, p3 := c.Route(types.Opportunity{ID: "o3"}, types.StakePlan{OpportunityID: "o3"})

	if _, err := c.Reject(p3.Token); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := c.Reject("nope"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Reject unknown err = %v", err)
	}

	if got := c.Pending(); len(got) != 2 || got[0].Token != p1.Token {
		t.Fatalf("Pending() = %d entries, want p1 first", len(got))
	}

	*now = now.Add(31 * time.Second) // p1 expired, p2 not
	expired := c.Sweep()
	if len(expired) != 1 || expired[0].Token != p1.Token {
		t.Fatalf("Sweep() = %+v, want only p1", expired)
	}
	if got := c.Pending(); len(got) != 1 || got[0].Token != p2.Token {
		t.Errorf("remaining = %+v, want p2", got)
	}
}
