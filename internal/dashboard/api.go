// Package dashboard provides a read-only web page and JSON API for
// watching the crew: who is hired, who is focused, who owes a reply.
package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jaakkos/crewbridge/internal/app"
)

// StateSnapshot is the JSON response from /api/state.
type StateSnapshot struct {
	Timestamp    string             `json:"timestamp"`
	Node         string             `json:"node"`
	Version      string             `json:"version"`
	Focus        string             `json:"focus,omitempty"`
	PendingClaim string             `json:"pending_claim,omitempty"`
	Workers      []WorkerSnapshot   `json:"workers"`
	Recent       []DeliverySnapshot `json:"recent,omitempty"`
}

// WorkerSnapshot is one worker's state.
type WorkerSnapshot struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Focused bool   `json:"focused"`
	Working bool   `json:"working"`
	Online  bool   `json:"online"`
	Hired   string `json:"hired,omitempty"`
}

// DeliverySnapshot is one recent message crossing the bridge.
type DeliverySnapshot struct {
	Worker    string `json:"worker"`
	Direction string `json:"direction"`
	Preview   string `json:"preview"`
	Age       string `json:"age"`
}

// Handler serves the dashboard page and its API.
type Handler struct {
	svc  *app.Service
	node string
}

// NewHandler creates a dashboard handler.
func NewHandler(svc *app.Service, node string) *Handler {
	return &Handler{svc: svc, node: node}
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/state", h.handleAPIState)
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snap := StateSnapshot{
		Timestamp:    now.Format(time.RFC3339),
		Node:         h.node,
		Version:      app.Version,
		Focus:        h.svc.Registry().Focus(),
		PendingClaim: h.svc.Registry().PendingClaim(),
	}

	for _, ws := range h.svc.Snapshot() {
		out := WorkerSnapshot{
			Name:    ws.Name,
			Backend: ws.Backend,
			Focused: ws.Focused,
			Working: ws.Working,
			Online:  ws.Online,
		}
		if worker, ok := h.svc.Registry().Get(ws.Name); ok && !worker.HiredAt.IsZero() {
			out.Hired = relTime(worker.HiredAt, now)
		}
		snap.Workers = append(snap.Workers, out)

		if history := h.svc.History(); history != nil {
			if recent, err := history.Recent(ws.Name, 3); err == nil {
				for _, d := range recent {
					snap.Recent = append(snap.Recent, DeliverySnapshot{
						Worker:    d.Worker,
						Direction: string(d.Direction),
						Preview:   truncate(d.Preview, 80),
						Age:       relTime(d.Timestamp, now),
					})
				}
			}
		}
	}
	if snap.Workers == nil {
		snap.Workers = []WorkerSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, "encode state", http.StatusInternalServerError)
	}
}

// relTime renders "2m ago" style ages.
func relTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return formatDuration(d/time.Minute, "m")
	case d < 24*time.Hour:
		return formatDuration(d/time.Hour, "h")
	default:
		return formatDuration(d/(24*time.Hour), "d")
	}
}

func formatDuration(n time.Duration, unit string) string {
	return strconv.Itoa(int(n)) + unit + " ago"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
