package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/crewbridge/internal/domain"
)

// Hire spawns a new worker and focuses it.
func (s *Service) Hire(arg string, chatID int64) {
	if arg == "" {
		s.reply(chatID, "Usage: /hire <name>")
		return
	}
	name, err := domain.ValidateName(arg)
	if err != nil {
		if err == domain.ErrReservedName {
			s.reply(chatID, fmt.Sprintf("Cannot use %q - reserved command. Choose another name.", domain.SanitizeName(arg)))
		} else {
			s.reply(chatID, "Name must use letters, numbers, and hyphens only.")
		}
		return
	}
	if _, exists := s.registry.Get(name); exists {
		s.reply(chatID, fmt.Sprintf("Could not hire %q. Worker already exists.", name))
		return
	}

	w := domain.Worker{Name: name, Registered: true, LastStart: time.Now()}
	var startErr error
	if s.cfg.Workers.Backend == string(domain.BackendPipe) {
		w.Backend = domain.BackendPipe
		startErr = s.pipe.Start(name, s.cfg.Workers.PipeCommand, s.spawnEnv(name))
	} else {
		w.Backend = domain.BackendInteractive
		startErr = s.interactive.Start(name, s.cfg.Workers.Command, s.spawnEnv(name))
	}
	if startErr != nil {
		s.logger.Printf("hire %s: %v", name, startErr)
		s.reply(chatID, fmt.Sprintf("Could not hire %q. Could not start the worker workspace.", name))
		return
	}

	if err := s.registry.Add(w); err != nil {
		s.logger.Printf("hire %s: %v", name, err)
	}
	_ = s.registry.SetFocus(name)
	if err := s.store.BindChat(name, chatID); err != nil {
		s.logger.Printf("bind chat: %v", err)
	}

	// Give the worker its bridge briefing once it is up.
	go func() {
		time.Sleep(2 * time.Second)
		if err := s.locks.do(name, func() error {
			return s.backendFor(w).Send(name, s.workerWelcome())
		}); err != nil {
			s.logger.Printf("welcome %s: %v", name, err)
		}
	}()

	s.reply(chatID, fmt.Sprintf("%s is added and assigned. %s", capitalize(name), persistenceNote))
	s.UpdateCommandMenu()
}

// spawnEnv is hookEnv plus any configured worker env.
func (s *Service) spawnEnv(name string) map[string]string {
	env := s.hookEnv(name)
	for k, v := range s.cfg.Workers.Env {
		env[k] = v
	}
	return env
}

// SwitchFocus moves the focus pointer.
func (s *Service) SwitchFocus(arg string, chatID int64) {
	if arg == "" {
		s.reply(chatID, "Usage: /focus <name>")
		return
	}
	name := domain.SanitizeName(arg)
	s.Refresh()
	if err := s.registry.SetFocus(name); err != nil {
		s.reply(chatID, fmt.Sprintf("Could not focus %q. Worker not found.", name))
		return
	}
	s.reply(chatID, fmt.Sprintf("Now talking to %s.", capitalize(name)))
}

// Team lists the crew with focus and working markers.
func (s *Service) Team(chatID int64) {
	unclaimed := s.Refresh()
	names := s.registry.Names()
	if len(names) == 0 && len(unclaimed) == 0 {
		s.reply(chatID, "No team members yet. Add someone with /hire <name>.")
		return
	}

	focus := s.registry.Focus()
	lines := []string{"Your team:"}
	if focus != "" {
		lines = append(lines, "Focused: "+focus)
	} else {
		lines = append(lines, "Focused: (none)")
	}
	lines = append(lines, "Workers:")
	for _, name := range names {
		var status []string
		if name == focus {
			status = append(status, "focused")
		}
		if s.pending.IsPending(name) {
			status = append(status, "working")
		} else {
			status = append(status, "available")
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)", name, strings.Join(status, ", ")))
	}
	if len(unclaimed) > 0 {
		lines = append(lines, "", "Unclaimed running workers (need a name):")
		for _, session := range unclaimed {
			lines = append(lines, "- "+session)
		}
	}
	s.reply(chatID, strings.Join(lines, "\n"))
}

// End removes a worker for good: process, state dir, pending marker,
// send lock state, and focus all go.
func (s *Service) End(arg string, chatID int64) {
	if arg == "" {
		s.reply(chatID, "Offboarding is permanent. Usage: /end <name>")
		return
	}
	name := domain.SanitizeName(arg)
	w, ok := s.registry.Get(name)
	if !ok {
		s.reply(chatID, fmt.Sprintf("Could not offboard %q. Worker not found.", name))
		return
	}

	b := s.backendFor(w)
	if b.Running(name) {
		if err := b.Stop(name); err != nil {
			s.logger.Printf("end %s: %v", name, err)
		}
	}
	s.pending.Clear(name)
	s.locks.release(name)
	s.store.CleanupInbox(name)
	if err := s.store.Remove(name); err != nil {
		s.logger.Printf("remove state for %s: %v", name, err)
	}
	_ = s.registry.Remove(name)

	s.reply(chatID, fmt.Sprintf("%s removed from your team.", capitalize(name)))
	s.UpdateCommandMenu()
}

// Progress reports the focused worker's state.
func (s *Service) Progress(chatID int64) {
	s.Refresh()
	focus := s.registry.Focus()
	if focus == "" {
		s.reply(chatID, "No one assigned. Who should I talk to? Use /team or /focus <name>.")
		return
	}
	w, ok := s.registry.Get(focus)
	if !ok {
		s.reply(chatID, "Can't find them. Check /team for who's available.")
		return
	}

	online := s.backendFor(w).Running(focus)
	working := s.pending.IsPending(focus)

	lines := []string{
		"Progress for focused worker: " + focus,
		"Focused: yes",
		fmt.Sprintf("Working: %s", yesNo(working)),
		fmt.Sprintf("Online: %s", yesNo(online)),
	}
	if online && w.Backend == domain.BackendInteractive {
		ready := s.appRunning(focus)
		lines = append(lines, fmt.Sprintf("Ready: %s", yesNo(ready)))
		if !ready {
			lines = append(lines, "Needs attention: worker app is not running. Use /relaunch.")
		}
	}
	if s.history != nil {
		if recent, err := s.history.Recent(focus, 5); err == nil && len(recent) > 0 {
			lines = append(lines, "", "Recent messages:")
			for _, d := range recent {
				arrow := "->"
				if d.Direction == domain.DirectionOutbound {
					arrow = "<-"
				}
				lines = append(lines, fmt.Sprintf("%s %s %s", d.Timestamp.Format("15:04"), arrow, d.Preview))
			}
		}
	}
	s.reply(chatID, strings.Join(lines, "\n"))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// PauseFocus interrupts the focused worker and clears its pending
// marker so the typing loop winds down.
func (s *Service) PauseFocus(chatID int64) {
	focus := s.registry.Focus()
	if focus == "" {
		s.reply(chatID, "No one assigned.")
		return
	}
	w, ok := s.registry.Get(focus)
	if ok {
		if err := s.backendFor(w).Interrupt(focus); err != nil {
			s.logger.Printf("pause %s: %v", focus, err)
		}
		s.pending.Clear(focus)
	}
	s.reply(chatID, fmt.Sprintf("%s is paused. I'll pick up where we left off.", capitalize(focus)))
}

// RelaunchFocus restarts the worker program for the focused worker.
// Interactive sessions get the command typed into the existing pane;
// pipe workers get a fresh process.
func (s *Service) RelaunchFocus(chatID int64) {
	focus := s.registry.Focus()
	if focus == "" {
		s.reply(chatID, "No one assigned.")
		return
	}
	w, ok := s.registry.Get(focus)
	if !ok {
		s.reply(chatID, fmt.Sprintf("Could not relaunch %q. Worker not found.", focus))
		return
	}

	switch w.Backend {
	case domain.BackendPipe:
		if s.pipe.Running(focus) {
			s.reply(chatID, fmt.Sprintf("Could not relaunch %q. Worker is already running.", focus))
			return
		}
		if err := s.pipe.Start(focus, s.cfg.Workers.PipeCommand, s.spawnEnv(focus)); err != nil {
			s.logger.Printf("relaunch %s: %v", focus, err)
			s.reply(chatID, fmt.Sprintf("Could not relaunch %q. %v", focus, err))
			return
		}
	default:
		if !s.interactive.Running(focus) {
			s.reply(chatID, fmt.Sprintf("Could not relaunch %q. Worker workspace is not running.", focus))
			return
		}
		if s.appRunning(focus) {
			s.reply(chatID, fmt.Sprintf("Could not relaunch %q. Worker is already running.", focus))
			return
		}
		for k, v := range s.spawnEnv(focus) {
			if err := s.interactive.SetEnvironment(focus, k, v); err != nil {
				s.logger.Printf("set env on %s: %v", focus, err)
			}
		}
		if err := s.interactive.Send(focus, strings.Join(s.cfg.Workers.Command, " ")); err != nil {
			s.logger.Printf("relaunch %s: %v", focus, err)
			s.reply(chatID, fmt.Sprintf("Could not relaunch %q. %v", focus, err))
			return
		}
	}
	s.reply(chatID, fmt.Sprintf("Bringing %s back online...", capitalize(focus)))
}

// Settings shows the bridge configuration with secrets redacted.
func (s *Service) Settings(chatID int64) {
	redact := func(v string) string {
		if v == "" {
			return "(not set)"
		}
		if len(v) <= 8 {
			return "***"
		}
		return v[:4] + "..." + v[len(v)-4:]
	}

	s.Refresh()
	team := "(none)"
	if names := s.registry.Names(); len(names) > 0 {
		team = strings.Join(names, ", ")
	}
	admin := "(auto-learn)"
	if id := s.AdminChatID(); id != 0 {
		admin = fmt.Sprintf("%d", id)
	}
	webhook := "(disabled)"
	if s.cfg.Telegram.WebhookSecret != "" {
		webhook = redact(s.cfg.Telegram.WebhookSecret)
	}
	focus := s.registry.Focus()
	if focus == "" {
		focus = "(none)"
	}
	claim := s.registry.PendingClaim()
	if claim == "" {
		claim = "(none)"
	}

	lines := []string{
		"crewbridge v" + Version,
		persistenceNote,
		"",
		"Bot token: " + redact(s.cfg.Telegram.BotToken),
		"Admin: " + admin,
		"Webhook verification: " + webhook,
		"Team storage: " + s.cfg.StateDir,
		"",
		"Team state",
		"Focused worker: " + focus,
		"Workers: " + team,
		"Pending claim: " + claim,
		"",
	}
	if s.cfg.Workers.Backend == string(domain.BackendPipe) {
		lines = append(lines,
			"Backend: pipe (stdin/stdout frames)",
			"Command: "+strings.Join(s.cfg.Workers.PipeCommand, " "))
	} else {
		lines = append(lines,
			"Backend: interactive (tmux sessions)",
			"Command: "+strings.Join(s.cfg.Workers.Command, " "))
	}
	s.reply(chatID, strings.Join(lines, "\n"))
}

// Learn asks the focused worker for a Problem / Fix / Why retro,
// optionally scoped to a topic.
func (s *Service) Learn(topic string, chatID int64, msgID int) {
	s.Refresh()
	focus := s.registry.Focus()
	if focus == "" {
		s.reply(chatID, "No one assigned. Who should I talk to?")
		return
	}
	topic = strings.TrimSpace(topic)
	subject := "today"
	if topic != "" {
		subject = "about " + topic + " today"
	}
	prompt := fmt.Sprintf(
		"What did you learn %s? Please answer in Problem / Fix / Why format:\n"+
			"Problem: <what went wrong or was inefficient>\n"+
			"Fix: <the better approach>\n"+
			"Why: <root cause or insight>", subject)
	s.Deliver(focus, prompt, chatID, msgID)
}
