package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jaakkos/crewbridge/internal/backend"
	"github.com/jaakkos/crewbridge/internal/chat"
	"github.com/jaakkos/crewbridge/internal/domain"
	"github.com/jaakkos/crewbridge/internal/markdown"
	"github.com/jaakkos/crewbridge/internal/media"
	"github.com/jaakkos/crewbridge/internal/policy"
)

// Version is reported by /settings and the version subcommand.
const Version = "1.2.0"

const persistenceNote = "They'll stay on your team."

// ChatSender is the slice of the chat client the service uses.
type ChatSender interface {
	SendMessage(chatID int64, text string) error
	SendHTML(chatID int64, html, plain string) error
	SendChatAction(chatID int64, action string) error
	SetMessageReaction(chatID int64, messageID int, emoji string) error
	SetMyCommands(commands []chat.BotCommand) error
	SendPhoto(chatID int64, path, caption string) error
	SendDocument(chatID int64, path, caption string) error
	DownloadFile(fileID, destPath string) error
}

// InteractiveBackend extends Backend with the session-level operations
// only the tmux model has.
type InteractiveBackend interface {
	backend.Backend
	List() ([]string, error)
	Adopt(session, worker string) error
	SetEnvironment(name, key, value string) error
	CapturePane(name string) (string, error)
	PaneCommand(name string) (string, error)
}

// Recorder logs deliveries for /progress reporting. The flat files
// stay authoritative; the recorder is informational only.
type Recorder interface {
	Record(worker string, direction domain.DeliveryDirection, preview string) error
	Recent(worker string, limit int) ([]domain.Delivery, error)
}

// Service owns the crew: it starts and stops workers, serializes
// deliveries, tracks who owes a reply, and speaks for the bridge in
// the manager's chat.
type Service struct {
	cfg         *policy.Config
	sender      ChatSender
	interactive InteractiveBackend
	pipe        backend.Backend
	registry    *Registry
	store       *SessionStore
	pending     *PendingTracker
	locks       *lockTable
	liveness    *Liveness
	validator   *media.Validator
	history     Recorder
	logger      *log.Logger

	adminMu         sync.Mutex
	adminChatID     int64
	startupNotified bool
}

// NewService builds the service and its per-worker state machinery
// under cfg.StateDir. history may be nil.
func NewService(cfg *policy.Config, sender ChatSender, interactive InteractiveBackend, pipe backend.Backend, history Recorder, logger *log.Logger) (*Service, error) {
	store, err := NewSessionStore(cfg.SessionsDir())
	if err != nil {
		return nil, err
	}
	pending := NewPendingTracker(store, time.Duration(cfg.PendingTTLSeconds)*time.Second)

	s := &Service{
		cfg:         cfg,
		sender:      sender,
		interactive: interactive,
		pipe:        pipe,
		registry:    NewRegistry(),
		store:       store,
		pending:     pending,
		locks:       newLockTable(),
		liveness: NewLiveness(sender, pending, logger,
			WithTypingInterval(time.Duration(cfg.TypingIntervalSeconds)*time.Second)),
		validator:   media.NewValidator(cfg.SessionsDir()),
		history:     history,
		logger:      logger,
		adminChatID: cfg.Telegram.AdminChatID,
	}
	if s.adminChatID == 0 {
		s.adminChatID = s.loadAdmin()
	}
	return s, nil
}

// Registry exposes the crew registry.
func (s *Service) Registry() *Registry { return s.registry }

// Store exposes the session store.
func (s *Service) Store() *SessionStore { return s.store }

// Pending exposes the pending tracker.
func (s *Service) Pending() *PendingTracker { return s.pending }

// History exposes the delivery recorder, nil when disabled.
func (s *Service) History() Recorder { return s.history }

// WorkerStatus is a point-in-time view of one worker for the dashboard
// and control-plane tools.
type WorkerStatus struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Focused bool   `json:"focused"`
	Working bool   `json:"working"`
	Online  bool   `json:"online"`
}

// Snapshot refreshes the registry and reports the whole crew.
func (s *Service) Snapshot() []WorkerStatus {
	s.Refresh()
	focus := s.registry.Focus()
	var out []WorkerStatus
	for _, name := range s.registry.Names() {
		w, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, WorkerStatus{
			Name:    name,
			Backend: string(w.Backend),
			Focused: name == focus,
			Working: s.pending.IsPending(name),
			Online:  s.backendFor(w).Running(name),
		})
	}
	return out
}

func (s *Service) adminFile() string {
	return filepath.Join(s.cfg.StateDir, "admin_chat_id")
}

func (s *Service) loadAdmin() int64 {
	data, err := os.ReadFile(s.adminFile())
	if err != nil {
		return 0
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	return id
}

// Admit applies the first-writer-wins admin rule. The first chat to
// write becomes the admin and is persisted; everyone else is rejected
// silently so the bot's existence is not revealed.
func (s *Service) Admit(chatID int64) bool {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if s.adminChatID == 0 {
		s.adminChatID = chatID
		if err := os.WriteFile(s.adminFile(), []byte(strconv.FormatInt(chatID, 10)), 0o600); err != nil {
			s.logger.Printf("persist admin: %v", err)
		}
		s.logger.Printf("admin registered: %d", chatID)
		return true
	}
	return chatID == s.adminChatID
}

// AdminChatID returns the admin chat, 0 when not yet learned.
func (s *Service) AdminChatID() int64 {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.adminChatID
}

// reply sends a manager-facing message, logging failures.
func (s *Service) reply(chatID int64, text string) {
	if err := s.sender.SendMessage(chatID, text); err != nil {
		s.logger.Printf("reply to %d: %v", chatID, err)
	}
}

// previewText caps a message for logs and the history store, cutting
// on a rune boundary so multibyte text stays valid.
func previewText(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// capitalize uppercases the first rune for manager-facing prose.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// backendFor picks the process driver for a worker.
func (s *Service) backendFor(w domain.Worker) backend.Backend {
	if w.Backend == domain.BackendPipe {
		return s.pipe
	}
	return s.interactive
}

// hookEnv is the environment exported to spawned workers so their
// hooks can reach the bridge. The bot token is deliberately absent:
// workers post to localhost and the bridge holds the token.
func (s *Service) hookEnv(name string) map[string]string {
	return map[string]string{
		"CREWBRIDGE_URL":          s.cfg.BridgeURL(),
		"CREWBRIDGE_SESSIONS_DIR": s.cfg.SessionsDir(),
		"CREWBRIDGE_PREFIX":       s.cfg.SessionPrefix(),
		"CREW_WORKER":             name,
	}
}

// Refresh reconciles the registry against the interactive backend's
// live sessions and returns any unclaimed sessions found.
func (s *Service) Refresh() (unclaimed []string) {
	names, err := s.interactive.List()
	if err != nil {
		s.logger.Printf("list sessions: %v", err)
		return nil
	}
	// Pipe workers are registry-authoritative; Reconcile only touches
	// the interactive kind.
	s.registry.Reconcile(domain.BackendInteractive, names)

	if lister, ok := s.interactive.(interface {
		ListUnclaimed(hint string) ([]string, error)
	}); ok {
		hint := ""
		if len(s.cfg.Workers.Command) > 0 {
			hint = filepath.Base(s.cfg.Workers.Command[0])
		}
		u, err := lister.ListUnclaimed(hint)
		if err == nil {
			unclaimed = u
		}
	}
	return unclaimed
}

// appRunning reports whether the worker program itself is alive inside
// an interactive session (the session may outlive the program).
func (s *Service) appRunning(name string) bool {
	cmd, err := s.interactive.PaneCommand(name)
	if err != nil {
		return false
	}
	if len(s.cfg.Workers.Command) == 0 {
		return cmd != ""
	}
	want := filepath.Base(s.cfg.Workers.Command[0])
	return strings.Contains(strings.ToLower(cmd), strings.ToLower(want))
}

// workerWelcome is typed into every fresh worker so it knows how to
// use the bridge.
func (s *Service) workerWelcome() string {
	return "You are connected to your manager's chat via crewbridge. " +
		"The manager can send you files (images, PDFs, documents) - they'll appear as local paths. " +
		"To send files back: [[file:/path/to/doc.pdf|caption]] or [[image:/path/to/img.png|caption]]. " +
		"Allowed paths: /tmp, current directory."
}

// Deliver routes one manager message to a named worker: bind, mark
// pending, start the typing loop, and send under the worker's lock.
func (s *Service) Deliver(name, text string, chatID int64, msgID int) {
	w, ok := s.registry.Get(name)
	if !ok {
		s.reply(chatID, fmt.Sprintf("Can't find %s. Check /team for who's available.", name))
		return
	}
	b := s.backendFor(w)
	if !b.Running(name) {
		s.reply(chatID, fmt.Sprintf("%s is offline. Try /relaunch.", capitalize(name)))
		return
	}

	preview := previewText(text)
	s.logger.Printf("[%d] -> %s: %s", chatID, name, preview)

	// Pending is set under the send lock so the worker only shows busy
	// once the send is actually in flight; a failed send rolls it back.
	err := s.locks.do(name, func() error {
		if err := s.pending.Set(name, chatID); err != nil {
			s.logger.Printf("set pending for %s: %v", name, err)
		}
		s.liveness.Start(chatID, name)
		if err := b.Send(name, text); err != nil {
			s.pending.Clear(name)
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("deliver to %s: %v", name, err)
		s.reply(chatID, fmt.Sprintf("Could not reach %s. Try /relaunch.", capitalize(name)))
		return
	}
	if s.history != nil {
		if err := s.history.Record(name, domain.DirectionInbound, preview); err != nil {
			s.logger.Printf("record delivery: %v", err)
		}
	}
	if msgID != 0 {
		if err := s.sender.SetMessageReaction(chatID, msgID, "👀"); err != nil {
			s.logger.Printf("reaction: %v", err)
		}
	}
}

// DeliverToFocus routes to the focused worker, or walks the manager
// through claiming or hiring when there is no focus.
func (s *Service) DeliverToFocus(text string, chatID int64, msgID int) {
	unclaimed := s.Refresh()

	if s.registry.Focus() == "" {
		switch {
		case len(unclaimed) > 0:
			s.registry.SetPendingClaim(unclaimed[0])
			s.reply(chatID, "Found a running worker not yet on your team.\n"+
				"Claim it to make it a long-lived worker by replying with:\n"+
				`{"name": "your-worker-name"}`)
		case s.registry.Len() > 0:
			s.reply(chatID, fmt.Sprintf("No one assigned. Your team: %s\nWho should I talk to?",
				strings.Join(s.registry.Names(), ", ")))
		default:
			s.reply(chatID, "No team members yet. Add someone with /hire <name>.")
		}
		return
	}
	s.Deliver(s.registry.Focus(), text, chatID, msgID)
}

// Broadcast sends text to every running worker without moving focus.
func (s *Service) Broadcast(text string, chatID int64, msgID int) {
	s.Refresh()
	names := s.registry.Names()
	if len(names) == 0 {
		s.reply(chatID, "No team members yet. Add someone with /hire <name>.")
		return
	}
	var sent []string
	for _, name := range names {
		w, ok := s.registry.Get(name)
		if !ok || !s.backendFor(w).Running(name) {
			continue
		}
		if w.Backend == domain.BackendInteractive && !s.appRunning(name) {
			continue
		}
		s.Deliver(name, text, chatID, msgID)
		sent = append(sent, name)
	}
	if len(sent) == 0 {
		s.reply(chatID, "No one's online to share with.")
	}
}

// TryClaim resolves a pending registration: if text is a JSON name
// claim, the unclaimed session is renamed into the crew. Returns true
// when the message was consumed by the claim flow.
func (s *Service) TryClaim(text string, chatID int64) bool {
	session := s.registry.PendingClaim()
	if session == "" {
		return false
	}
	var claim domain.RegistrationClaim
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &claim); err != nil || claim.Name == "" {
		return false
	}

	name, err := domain.ValidateName(claim.Name)
	if err != nil {
		if err == domain.ErrReservedName {
			s.reply(chatID, fmt.Sprintf("Cannot use %q - reserved command. Choose another name.", domain.SanitizeName(claim.Name)))
		} else {
			s.reply(chatID, "Name must use letters, numbers, and hyphens only.")
		}
		return true
	}
	if _, exists := s.registry.Get(name); exists {
		s.reply(chatID, fmt.Sprintf("Worker name %q is already on the team. Choose another.", name))
		return true
	}

	if err := s.interactive.Adopt(session, name); err != nil {
		s.logger.Printf("claim %s as %s: %v", session, name, err)
		s.reply(chatID, "Could not claim that worker. The session may be gone.")
		s.registry.SetPendingClaim("")
		return true
	}
	for k, v := range s.hookEnv(name) {
		if err := s.interactive.SetEnvironment(name, k, v); err != nil {
			s.logger.Printf("set env on %s: %v", name, err)
		}
	}
	_ = s.registry.Add(domain.Worker{
		Name:       name,
		Backend:    domain.BackendInteractive,
		Registered: true,
	})
	_ = s.registry.SetFocus(name)
	s.registry.SetPendingClaim("")
	if err := s.store.BindChat(name, chatID); err != nil {
		s.logger.Printf("bind chat: %v", err)
	}
	s.reply(chatID, fmt.Sprintf("%s is now on your team and assigned.", capitalize(name)))
	s.UpdateCommandMenu()
	return true
}

// HandleWorkerResponse forwards a worker's reply to its bound chat:
// attachment markers are extracted and uploaded, the rest is rendered
// as HTML with the worker's name prefix, and the pending marker
// clears. Returns domain.ErrWorkerNotFound when no chat is bound.
func (s *Service) HandleWorkerResponse(name, text string) error {
	chatID, ok := s.store.ChatID(name)
	if !ok {
		s.logger.Printf("response from %s: no chat binding", name)
		return domain.ErrWorkerNotFound
	}
	s.logger.Printf("response: %s -> chat %d (%d chars)", name, chatID, len(text))

	clean, tags := media.Extract(text, s.validator.Validate)

	if strings.TrimSpace(clean) != "" {
		html := fmt.Sprintf("<b>%s:</b>\n%s", name, markdown.ToTelegramHTML(clean))
		plain := fmt.Sprintf("%s:\n%s", name, clean)
		if err := s.sender.SendHTML(chatID, html, plain); err != nil {
			s.logger.Printf("send response from %s: %v", name, err)
		}
	}

	for _, tag := range tags {
		caption := name + ":"
		if tag.Caption != "" {
			caption = name + ": " + tag.Caption
		}
		var err error
		if tag.Kind == media.KindImage {
			err = s.sender.SendPhoto(chatID, tag.Path, caption)
		} else {
			err = s.sender.SendDocument(chatID, tag.Path, caption)
		}
		if err != nil {
			s.logger.Printf("send %s from %s: %v", tag.Kind, name, err)
			kind := "File"
			if tag.Kind == media.KindImage {
				kind = "Image"
			}
			s.reply(chatID, fmt.Sprintf("%s: [%s failed: %s]", name, kind, tag.Path))
		}
	}

	s.pending.Clear(name)
	if s.history != nil {
		if err := s.history.Record(name, domain.DirectionOutbound, previewText(clean)); err != nil {
			s.logger.Printf("record response: %v", err)
		}
	}
	return nil
}

// SaveIncomingFile downloads a chat attachment into the focused
// worker's inbox and returns the local path.
func (s *Service) SaveIncomingFile(fileID, filename string) (string, error) {
	focus := s.registry.Focus()
	if focus == "" {
		return "", domain.ErrNoFocus
	}
	dest, err := s.store.SaveInboxPath(focus, filename)
	if err != nil {
		return "", err
	}
	if err := s.sender.DownloadFile(fileID, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Notify sends text to every chat the bridge knows about. Used by the
// /notify endpoint so sidecar scripts can alert the manager without
// holding the bot token.
func (s *Service) Notify(text string) int {
	ids := s.store.AllChatIDs()
	if admin := s.AdminChatID(); admin != 0 {
		found := false
		for _, id := range ids {
			if id == admin {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, admin)
		}
	}
	sent := 0
	for _, id := range ids {
		if err := s.sender.SendMessage(id, text); err == nil {
			sent++
		}
	}
	s.logger.Printf("notify: sent to %d/%d chats", sent, len(ids))
	return sent
}

// BroadcastShutdown tells every known chat the bridge is going down.
func (s *Service) BroadcastShutdown() {
	s.Notify("Going offline briefly. Your team stays the same.")
}

// StartupNotice greets the manager once per process.
func (s *Service) StartupNotice(chatID int64) {
	s.adminMu.Lock()
	if s.startupNotified {
		s.adminMu.Unlock()
		return
	}
	s.startupNotified = true
	s.adminMu.Unlock()

	s.Refresh()
	lines := []string{"I'm online and ready."}
	if names := s.registry.Names(); len(names) > 0 {
		lines = append(lines, "Team: "+strings.Join(names, ", "))
		if focus := s.registry.Focus(); focus != "" {
			lines = append(lines, "Focused: "+focus)
		}
	} else {
		lines = append(lines, "No workers yet. Hire your first long-lived worker with /hire <name>.")
	}
	s.reply(chatID, strings.Join(lines, "\n"))
}

// staticCommands is the fixed part of the bot command menu.
var staticCommands = []chat.BotCommand{
	{Command: "team", Description: "List your workers"},
	{Command: "hire", Description: "Hire a new worker"},
	{Command: "focus", Description: "Switch the focused worker"},
	{Command: "progress", Description: "Focused worker's status"},
	{Command: "pause", Description: "Interrupt the focused worker"},
	{Command: "relaunch", Description: "Restart the focused worker"},
	{Command: "learn", Description: "Ask what they learned today"},
	{Command: "end", Description: "Remove a worker"},
	{Command: "settings", Description: "Bridge configuration"},
}

// UpdateCommandMenu pushes the command menu including per-worker
// shortcuts like /alice.
func (s *Service) UpdateCommandMenu() {
	commands := make([]chat.BotCommand, len(staticCommands))
	copy(commands, staticCommands)
	for _, name := range s.registry.Names() {
		commands = append(commands, chat.BotCommand{
			Command:     name,
			Description: "Message " + name,
		})
	}
	if err := s.sender.SetMyCommands(commands); err != nil {
		s.logger.Printf("update command menu: %v", err)
	}
}
