package odds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arbscan/internal/config"
)

// streamServer accepts one connection, records the first subscribe message
// and then writes frames in order.
func streamServer(t *testing.T, frames []string, subscribed chan<- streamSubscribe) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub streamSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		select {
		case subscribed <- sub:
		default:
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamFeedAppliesPrices(t *testing.T) {
	t.Parallel()

	frames := []string{
		`PONG`,
		`{"event_type":"event","event_id":"ev1","sport":"soccer","competitors":["Arsenal","Chelsea"],"outcomes":["home","draw","away"]}`,
		`{"event_type":"price","event_id":"ev1","outcome_id":"home","price":2.5,"timestamp":"2026-05-01T12:00:00Z"}`,
		`{"event_type":"price","event_id":"ev1","outcome_id":"over","price":1.9,"timestamp":"2026-05-01T12:00:00Z"}`,
		`{"event_type":"price","event_id":"nope","outcome_id":"home","price":1.9,"timestamp":"2026-05-01T12:00:00Z"}`,
		`{"event_type":"heartbeat"}`,
		`{"event_type":"price","event_id":"ev1","outcome_id":"away","price":3.1,"timestamp":"2026-05-01T12:00:01Z"}`,
	}
	subscribed := make(chan streamSubscribe, 1)
	srv := streamServer(t, frames, subscribed)

	feed := NewStreamFeed(config.StreamConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		BookmakerID: "smarkets",
		EventIDs:    []string{"ev1"},
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case sub := <-subscribed:
		if sub.Type != "subscribe" || len(sub.EventIDs) != 1 || sub.EventIDs[0] != "ev1" {
			t.Errorf("subscribe = %+v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe message received")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		evs, _ := feed.Fetch(context.Background())
		if len(evs) == 1 && len(evs[0].Quotes) == 2 {
			for _, q := range evs[0].Quotes {
				if q.BookmakerID != "smarkets" {
					t.Errorf("quote bookmaker = %q, want smarkets", q.BookmakerID)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events = %+v, want ev1 with home and away quotes", evs)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStreamFeedDispatchStatus(t *testing.T) {
	t.Parallel()
	feed := NewStreamFeed(config.StreamConfig{BookmakerID: "smarkets"}, testLogger())

	feed.dispatchMessage([]byte(`{"event_type":"event","event_id":"ev1","outcomes":["home","away"]}`))
	feed.dispatchMessage([]byte(`{"event_type":"event","event_id":"ev2","outcomes":["home"]}`))
	feed.dispatchMessage([]byte(`{"event_type":"price","event_id":"ev1","outcome_id":"home","price":2.5,"timestamp":"2026-05-01T12:00:00Z"}`))

	if n := feed.Matrix().Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1 (single-outcome event ignored)", n)
	}

	feed.dispatchMessage([]byte(`{"event_type":"suspended","event_id":"ev1"}`))
	if evs := feed.Matrix().Events(); len(evs[0].Quotes) != 0 {
		t.Errorf("quotes after suspend = %d, want 0", len(evs[0].Quotes))
	}

	feed.dispatchMessage([]byte(`{"event_type":"closed","event_id":"ev1"}`))
	if n := feed.Matrix().Len(); n != 0 {
		t.Errorf("Len() after close = %d, want 0", n)
	}
}

func TestStreamFeedSubscribeWhileDisconnected(t *testing.T) {
	t.Parallel()
	feed := NewStreamFeed(config.StreamConfig{BookmakerID: "smarkets", EventIDs: []string{"b"}}, testLogger())

	if err := feed.Subscribe([]string{"a"}); err != nil {
		t.Fatalf("Subscribe while disconnected: %v", err)
	}
	if got := feed.subscribedIDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("subscribed = %v, want [a b]", got)
	}
	if err := feed.Unsubscribe([]string{"b"}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got := feed.subscribedIDs(); len(got) != 1 || got[0] != "a" {
		t.Errorf("subscribed = %v, want [a]", got)
	}
}
