package odds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbscan/internal/config"
	"arbscan/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// Messages on the exchange price stream. Every inbound frame carries an
// event_type used for routing.
type (
	streamSubscribe struct {
		Type     string   `json:"type"` // "subscribe" | "unsubscribe"
		EventIDs []string `json:"event_ids"`
	}

	streamEvent struct {
		EventID     string    `json:"event_id"`
		Sport       string    `json:"sport"`
		League      string    `json:"league"`
		Competitors []string  `json:"competitors"`
		StartTime   time.Time `json:"start_time"`
		Outcomes    []string  `json:"outcomes"`
	}

	streamPrice struct {
		EventID   string    `json:"event_id"`
		OutcomeID string    `json:"outcome_id"`
		Price     float64   `json:"price"`
		Timestamp time.Time `json:"timestamp"`
	}

	streamStatus struct {
		EventID string `json:"event_id"`
	}
)

// StreamFeed keeps a Matrix current from an exchange's WebSocket price
// stream. All quotes it receives are attributed to one bookmaker id.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked event ids on reconnection. A read deadline
// ensures silent server failures are detected within ~2 missed pings.
type StreamFeed struct {
	url         string
	bookmakerID string
	matrix      *Matrix

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn writes

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	logger *slog.Logger
}

// NewStreamFeed creates a feed for cfg.URL. It subscribes to cfg.EventIDs on
// every (re)connect.
func NewStreamFeed(cfg config.StreamConfig, logger *slog.Logger) *StreamFeed {
	f := &StreamFeed{
		url:         cfg.URL,
		bookmakerID: cfg.BookmakerID,
		matrix:      NewMatrix(),
		subscribed:  make(map[string]bool),
		logger:      logger.With("component", "stream", "bookmaker", cfg.BookmakerID),
	}
	for _, id := range cfg.EventIDs {
		f.subscribed[id] = true
	}
	return f
}

func (f *StreamFeed) Name() string { return "stream:" + f.bookmakerID }

// Fetch returns the current contents of the feed's matrix. It never blocks
// on the network.
func (f *StreamFeed) Fetch(ctx context.Context) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.matrix.Events(), nil
}

// Matrix exposes the feed's quote store.
func (f *StreamFeed) Matrix() *Matrix { return f.matrix }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *StreamFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds event ids to the subscription. Ids are remembered even when
// the connection is down and sent on the next connect.
func (f *StreamFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.send(streamSubscribe{Type: "subscribe", EventIDs: ids})
}

// Unsubscribe removes event ids and forgets their quotes.
func (f *StreamFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	for _, id := range ids {
		f.matrix.Remove(id)
	}
	return f.send(streamSubscribe{Type: "unsubscribe", EventIDs: ids})
}

// send writes v if connected. While disconnected it is a no-op: the
// subscription set is replayed on the next connect.
func (f *StreamFeed) send(v any) error {
	if err := f.writeJSON(v); err != nil && !errors.Is(err, errNotConnected) {
		return err
	}
	return nil
}

// Close gracefully closes the connection.
func (f *StreamFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *StreamFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(streamSubscribe{Type: "subscribe", EventIDs: f.subscribedIDs()}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("stream connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Unblock the read when ctx is cancelled.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *StreamFeed) subscribedIDs() []string {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (f *StreamFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "event":
		var evt streamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal event message", "error", err)
			return
		}
		if evt.EventID == "" || len(evt.Outcomes) < 2 {
			f.logger.Warn("ignoring incomplete event", "event", evt.EventID)
			return
		}
		f.matrix.SetEvent(types.Event{
			ID:          evt.EventID,
			Sport:       evt.Sport,
			League:      evt.League,
			Competitors: evt.Competitors,
			StartTime:   evt.StartTime,
			Outcomes:    evt.Outcomes,
		})

	case "price":
		var evt streamPrice
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price message", "error", err)
			return
		}
		ok := f.matrix.Apply(evt.EventID, types.OddsQuote{
			BookmakerID: f.bookmakerID,
			OutcomeID:   evt.OutcomeID,
			Price:       evt.Price,
			Timestamp:   evt.Timestamp,
		})
		if !ok {
			f.logger.Debug("price for unknown event or outcome", "event", evt.EventID, "outcome", evt.OutcomeID)
		}

	case "suspended":
		var evt streamStatus
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal suspended message", "error", err)
			return
		}
		f.matrix.ClearQuotes(evt.EventID, f.bookmakerID)

	case "closed":
		var evt streamStatus
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal closed message", "error", err)
			return
		}
		f.matrix.Remove(evt.EventID)

	case "heartbeat":

	default:
		f.logger.Debug("unknown stream event type", "type", envelope.EventType)
	}
}

func (f *StreamFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

var errNotConnected = errors.New("stream not connected")

func (f *StreamFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *StreamFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
