// Package server is the bridge's HTTP surface: the Telegram webhook,
// the localhost endpoints worker hooks post to, and the health probe.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/jaakkos/crewbridge/internal/app"
	"github.com/jaakkos/crewbridge/internal/chat"
	"github.com/jaakkos/crewbridge/internal/domain"
	"github.com/jaakkos/crewbridge/internal/policy"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Handler serves the bridge endpoints.
type Handler struct {
	svc    *app.Service
	router *app.Router
	cfg    *policy.Config
	logger *log.Logger
}

// New creates the handler.
func New(svc *app.Service, router *app.Router, cfg *policy.Config, logger *log.Logger) *Handler {
	return &Handler{svc: svc, router: router, cfg: cfg, logger: logger}
}

// Register mounts the bridge routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleWebhook)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/response", h.handleResponse)
	mux.HandleFunc("/notify", h.handleNotify)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":%q,"workers":%d}`, app.Version, len(h.svc.Registry().Names()))
}

// handleWebhook receives Telegram updates. GET doubles as a liveness
// probe. The response is always 200 for authenticated posts so
// Telegram does not retry updates we chose to ignore.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fmt.Fprintf(w, "crewbridge v%s\n", app.Version)
		return
	}

	if secret := h.cfg.Telegram.WebhookSecret; secret != "" {
		if r.Header.Get(secretHeader) != secret {
			h.logger.Printf("webhook: bad secret from %s", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.logger.Printf("webhook: read body: %v", err)
		io.WriteString(w, "OK")
		return
	}
	var u chat.Update
	if err := json.Unmarshal(body, &u); err != nil {
		h.logger.Printf("webhook: parse update: %v", err)
		io.WriteString(w, "OK")
		return
	}

	h.router.HandleUpdate(u)
	io.WriteString(w, "OK")
}

type responsePayload struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

// handleResponse accepts a worker's reply from its stop hook. The
// session field may be a full session name or a bare worker name.
func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var p responsePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if p.Session == "" || p.Text == "" {
		http.Error(w, "session and text required", http.StatusBadRequest)
		return
	}

	worker := strings.TrimPrefix(p.Session, h.cfg.SessionPrefix())
	if err := h.svc.HandleWorkerResponse(worker, p.Text); err != nil {
		if err == domain.ErrWorkerNotFound {
			http.Error(w, "no chat binding for "+worker, http.StatusNotFound)
			return
		}
		h.logger.Printf("response from %s: %v", worker, err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "OK")
}

type notifyPayload struct {
	Text string `json:"text"`
}

// handleNotify lets sidecar scripts alert every known chat without
// holding the bot token.
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var p notifyPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	sent := h.svc.Notify(p.Text)
	fmt.Fprintf(w, `{"sent":%d}`, sent)
}
