package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbscan/internal/config"
	"arbscan/internal/execution"
	"arbscan/pkg/types"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 64 << 10

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	operator Operator
	cfg      config.Config
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(operator Operator, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{
		operator: operator,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg.Dashboard, r.Host)
		},
	}
	return h
}

// isOriginAllowed accepts requests without an Origin header (non-browser
// clients). With an allowlist only exact matches pass; without one, loopback
// origins and the server's own host do.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.EqualFold(u.Host, reqHost) || strings.EqualFold(u.Hostname(), hostOnly(reqHost))
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// guardWrite protects the control routes from cross-site requests: the
// Origin must pass the same check as the WebSocket upgrade, and the body must
// be declared JSON, which a browser cannot send cross-origin without a
// preflight.
func (h *Handlers) guardWrite(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isOriginAllowed(r.Header.Get("Origin"), h.cfg.Dashboard, r.Host) {
			h.logger.Warn("control request from disallowed origin", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current dashboard state
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildSnapshot(h.operator, h.cfg))
}

// HandleMode changes the selected execution mode
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.operator.SetMode(mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("mode set by operator", "mode", mode, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]types.Mode{
		"mode":           mode,
		"effective_mode": h.operator.EffectiveMode(),
	})
}

// HandleKillSwitch engages or clears the kill switch
func (h *Handlers) HandleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.operator.SetKillSwitch(req.Active, req.Reason)
	h.logger.Warn("kill switch set by operator", "active", req.Active, "reason", req.Reason, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{
		"kill_switch_active": req.Active,
		"effective_mode":     h.operator.EffectiveMode(),
	})
}

// HandleConfirm executes a held plan
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	receipts, err := h.operator.Confirm(r.Context(), token)
	if err != nil {
		h.writeExecutionError(w, receipts, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "receipts": receipts})
}

// HandleReject discards a held plan
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := h.operator.Reject(token); err != nil {
		h.writeExecutionError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "status": "rejected"})
}

func (h *Handlers) writeExecutionError(w http.ResponseWriter, receipts []types.BetReceipt, err error) {
	var failure *execution.ExecutionFailure
	switch {
	case errors.Is(err, execution.ErrUnknownToken):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, execution.ErrConfirmationExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, execution.ErrExecutionDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &failure):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"unhedged": failure.Unhedged,
			"receipts": receipts,
		})
	default:
		h.logger.Error("confirmation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleSettle books the result of a settled event
func (h *Handlers) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OpportunityID == "" {
		writeError(w, http.StatusBadRequest, "opportunity_id is required")
		return
	}
	s := execution.Settlement{WinningOutcome: req.WinningOutcome, Void: req.Void}
	if req.RealizedPnL != nil {
		pnl, err := decimal.NewFromString(*req.RealizedPnL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "realized_pnl: "+err.Error())
			return
		}
		s.RealizedPnL = &pnl
	} else if !req.Void && req.WinningOutcome == "" {
		writeError(w, http.StatusBadRequest, "winning_outcome, void or realized_pnl is required")
		return
	}

	pnl, err := h.operator.Settle(req.OpportunityID, s)
	switch {
	case errors.Is(err, execution.ErrUnknownPosition):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SettlementResponse{OpportunityID: req.OpportunityID, PnL: pnl.StringFixed(2)})
}

// HandleCommissions returns or replaces the commission table
func (h *Handlers) HandleCommissions(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, h.operator.Commissions())
		return
	}
	var table types.CommissionTable
	if !decodeBody(w, r, &table) {
		return
	}
	if err := h.operator.SetCommissions(table); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.operator.Commissions())
}

// HandleWebSocket upgrades the connection and creates a new WebSocket client
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// Create new client
	client := NewClient(h.hub, conn)

	// Send initial snapshot to the client
	evt := DashboardEvent{
		Type: "snapshot",
		Data: BuildSnapshot(h.operator, h.cfg),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}
