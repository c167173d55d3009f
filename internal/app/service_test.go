package app

import (
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/jaakkos/crewbridge/internal/chat"
	"github.com/jaakkos/crewbridge/internal/domain"
	"github.com/jaakkos/crewbridge/internal/policy"
)

// fakeSender records everything the service sends to the chat.
type fakeSender struct {
	mu        sync.Mutex
	messages  []string
	chatIDs   []int64
	html      []string
	actions   []string
	reactions []string
	photos    []string
	documents []string
	menus     [][]chat.BotCommand
}

func (f *fakeSender) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	f.chatIDs = append(f.chatIDs, chatID)
	return nil
}

func (f *fakeSender) SendHTML(chatID int64, html, plain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = append(f.html, html)
	return nil
}

func (f *fakeSender) SendChatAction(chatID int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeSender) SetMessageReaction(chatID int64, messageID int, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return nil
}

func (f *fakeSender) SetMyCommands(commands []chat.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, commands)
	return nil
}

func (f *fakeSender) SendPhoto(chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, path)
	return nil
}

func (f *fakeSender) SendDocument(chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, path)
	return nil
}

func (f *fakeSender) DownloadFile(fileID, destPath string) error {
	return os.WriteFile(destPath, []byte("downloaded:"+fileID), 0o644)
}

func (f *fakeSender) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeSender) allMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// fakeInteractive is an in-memory stand-in for the tmux backend.
type fakeInteractive struct {
	mu        sync.Mutex
	running   map[string]bool
	appAlive  map[string]bool
	sent      map[string][]string
	sendErr   error
	unclaimed []string
	renames   [][2]string
	env       map[string]map[string]string
}

func newFakeInteractive() *fakeInteractive {
	return &fakeInteractive{
		running:  make(map[string]bool),
		appAlive: make(map[string]bool),
		sent:     make(map[string][]string),
		env:      make(map[string]map[string]string),
	}
}

func (f *fakeInteractive) Kind() domain.BackendKind { return domain.BackendInteractive }

func (f *fakeInteractive) Start(name string, command []string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[name] {
		return domain.ErrAlreadyRunning
	}
	f.running[name] = true
	f.appAlive[name] = true
	return nil
}

func (f *fakeInteractive) Send(name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[name] {
		return domain.ErrNotRunning
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[name] = append(f.sent[name], text)
	return nil
}

func (f *fakeInteractive) Interrupt(name string) error { return nil }

func (f *fakeInteractive) Running(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

func (f *fakeInteractive) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	delete(f.appAlive, name)
	return nil
}

func (f *fakeInteractive) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n, up := range f.running {
		if up {
			names = append(names, n)
		}
	}
	return names, nil
}

func (f *fakeInteractive) ListUnclaimed(hint string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unclaimed...), nil
}

func (f *fakeInteractive) Adopt(session, worker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, [2]string{session, worker})
	f.running[worker] = true
	f.appAlive[worker] = true
	for i, u := range f.unclaimed {
		if u == session {
			f.unclaimed = append(f.unclaimed[:i], f.unclaimed[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeInteractive) SetEnvironment(name, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.env[name] == nil {
		f.env[name] = make(map[string]string)
	}
	f.env[name][key] = value
	return nil
}

func (f *fakeInteractive) CapturePane(name string) (string, error) { return "", nil }

func (f *fakeInteractive) PaneCommand(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appAlive[name] {
		return "claude", nil
	}
	return "bash", nil
}

func (f *fakeInteractive) sentTo(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[name]...)
}

func testConfig(t *testing.T) *policy.Config {
	t.Helper()
	cfg := policy.DefaultConfig()
	cfg.Node = "test"
	cfg.StateDir = t.TempDir()
	return cfg
}

func newTestService(t *testing.T) (*Service, *fakeSender, *fakeInteractive) {
	t.Helper()
	sender := &fakeSender{}
	tm := newFakeInteractive()
	svc, err := NewService(testConfig(t), sender, tm, nil, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, sender, tm
}

// addWorker registers a running worker directly.
func addWorker(t *testing.T, svc *Service, tm *fakeInteractive, name string) {
	t.Helper()
	tm.mu.Lock()
	tm.running[name] = true
	tm.appAlive[name] = true
	tm.mu.Unlock()
	if err := svc.Registry().Add(domain.Worker{Name: name, Backend: domain.BackendInteractive, Registered: true}); err != nil {
		t.Fatal(err)
	}
}

func TestAdmitFirstWriterWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	if !svc.Admit(100) {
		t.Error("first chat should become admin")
	}
	if svc.Admit(200) {
		t.Error("second chat should be rejected")
	}
	if !svc.Admit(100) {
		t.Error("admin should stay admitted")
	}
	if svc.AdminChatID() != 100 {
		t.Errorf("AdminChatID = %d", svc.AdminChatID())
	}
}

func TestAdmitPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	logger := log.New(io.Discard, "", 0)
	svc, err := NewService(cfg, &fakeSender{}, newFakeInteractive(), nil, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	svc.Admit(100)

	svc2, err := NewService(cfg, &fakeSender{}, newFakeInteractive(), nil, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	if svc2.Admit(200) {
		t.Error("restarted service forgot the admin")
	}
	if !svc2.Admit(100) {
		t.Error("restarted service rejected the admin")
	}
}

func TestDeliverMarksPendingAndSends(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")

	svc.Deliver("alice", "fix the tests", 100, 7)

	if got := tm.sentTo("alice"); len(got) != 1 || got[0] != "fix the tests" {
		t.Errorf("sent = %v", got)
	}
	if !svc.Pending().IsPending("alice") {
		t.Error("alice should be pending")
	}
	if id, ok := svc.Store().ChatID("alice"); !ok || id != 100 {
		t.Errorf("chat binding = %d, %v", id, ok)
	}
	sender.mu.Lock()
	reactions := len(sender.reactions)
	sender.mu.Unlock()
	if reactions != 1 {
		t.Errorf("reactions = %d, want 1", reactions)
	}
}

func TestDeliverFailedSendClearsPending(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	tm.mu.Lock()
	tm.sendErr = errors.New("pane gone")
	tm.mu.Unlock()

	svc.Deliver("alice", "do the thing", 100, 0)

	if svc.Pending().IsPending("alice") {
		t.Error("alice busy after failed send")
	}
	if !strings.Contains(sender.lastMessage(), "Could not reach Alice.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestPreviewTextRuneBoundary(t *testing.T) {
	long := strings.Repeat("ä", 60)
	got := previewText(long)
	if !utf8.ValidString(got) {
		t.Errorf("preview is invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 50 {
		t.Errorf("rune count = %d, want 50", n)
	}
	if got := previewText("short"); got != "short" {
		t.Errorf("short preview = %q", got)
	}
}

func TestDeliverUnknownWorker(t *testing.T) {
	svc, sender, _ := newTestService(t)
	svc.Deliver("ghost", "hello", 100, 0)
	if !strings.Contains(sender.lastMessage(), "Can't find ghost") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestDeliverOfflineWorker(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	tm.mu.Lock()
	tm.running["alice"] = false
	tm.mu.Unlock()

	svc.Deliver("alice", "hello", 100, 0)
	if !strings.Contains(sender.lastMessage(), "Alice is offline. Try /relaunch.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestDeliverToFocusNoTeam(t *testing.T) {
	svc, sender, _ := newTestService(t)
	svc.DeliverToFocus("hello", 100, 0)
	if !strings.Contains(sender.lastMessage(), "No team members yet. Add someone with /hire <name>.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestDeliverToFocusPromptsClaim(t *testing.T) {
	svc, sender, tm := newTestService(t)
	tm.mu.Lock()
	tm.unclaimed = []string{"stray-session"}
	tm.mu.Unlock()

	svc.DeliverToFocus("hello", 100, 0)
	if !strings.Contains(sender.lastMessage(), `{"name": "your-worker-name"}`) {
		t.Errorf("reply = %q", sender.lastMessage())
	}
	if svc.Registry().PendingClaim() != "stray-session" {
		t.Errorf("pending claim = %q", svc.Registry().PendingClaim())
	}
}

func TestTryClaimRegistersWorker(t *testing.T) {
	svc, sender, tm := newTestService(t)
	svc.Registry().SetPendingClaim("stray-session")
	tm.mu.Lock()
	tm.unclaimed = []string{"stray-session"}
	tm.mu.Unlock()

	if !svc.TryClaim(`{"name": "Dev Bot"}`, 100) {
		t.Fatal("claim not consumed")
	}
	if _, ok := svc.Registry().Get("dev-bot"); !ok {
		t.Error("dev-bot not registered")
	}
	if svc.Registry().Focus() != "dev-bot" {
		t.Errorf("focus = %q", svc.Registry().Focus())
	}
	if svc.Registry().PendingClaim() != "" {
		t.Error("pending claim not cleared")
	}
	if !strings.Contains(sender.lastMessage(), "Dev-bot is now on your team and assigned.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
	tm.mu.Lock()
	renames := tm.renames
	tm.mu.Unlock()
	if len(renames) != 1 || renames[0] != [2]string{"stray-session", "dev-bot"} {
		t.Errorf("renames = %v", renames)
	}
}

func TestTryClaimReservedName(t *testing.T) {
	svc, sender, _ := newTestService(t)
	svc.Registry().SetPendingClaim("stray")
	if !svc.TryClaim(`{"name": "team"}`, 100) {
		t.Fatal("claim not consumed")
	}
	if !strings.Contains(sender.lastMessage(), "reserved command") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestTryClaimIgnoresNonJSON(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Registry().SetPendingClaim("stray")
	if svc.TryClaim("just a normal message", 100) {
		t.Error("plain text consumed by claim flow")
	}
}

func TestTryClaimNoPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	if svc.TryClaim(`{"name": "alice"}`, 100) {
		t.Error("claim consumed with nothing pending")
	}
}

func TestHandleWorkerResponse(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	if err := svc.Pending().Set("alice", 100); err != nil {
		t.Fatal(err)
	}

	if err := svc.HandleWorkerResponse("alice", "done with the **fix**"); err != nil {
		t.Fatalf("HandleWorkerResponse: %v", err)
	}
	sender.mu.Lock()
	html := sender.html
	sender.mu.Unlock()
	if len(html) != 1 {
		t.Fatalf("html messages = %v", html)
	}
	if !strings.HasPrefix(html[0], "<b>alice:</b>\n") {
		t.Errorf("missing worker prefix: %q", html[0])
	}
	if !strings.Contains(html[0], "<b>fix</b>") {
		t.Errorf("markdown not rendered: %q", html[0])
	}
	if svc.Pending().IsPending("alice") {
		t.Error("pending not cleared")
	}
}

func TestHandleWorkerResponseNoBinding(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.HandleWorkerResponse("ghost", "hi"); err != domain.ErrWorkerNotFound {
		t.Errorf("err = %v, want ErrWorkerNotFound", err)
	}
}

func TestHandleWorkerResponseSendsAttachments(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	if err := svc.Pending().Set("alice", 100); err != nil {
		t.Fatal(err)
	}

	img, err := svc.Store().SaveInboxPath("alice", "shot.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := svc.HandleWorkerResponse("alice", "see [[image:"+img+"|result]]"); err != nil {
		t.Fatal(err)
	}
	sender.mu.Lock()
	photos := sender.photos
	sender.mu.Unlock()
	if len(photos) != 1 || photos[0] != img {
		t.Errorf("photos = %v", photos)
	}
}

func TestNotifyReachesAllChats(t *testing.T) {
	svc, sender, _ := newTestService(t)
	svc.Admit(100)
	if err := svc.Store().BindChat("alice", 200); err != nil {
		t.Fatal(err)
	}

	sent := svc.Notify("heads up")
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	msgs := sender.allMessages()
	if len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
}

func TestHire(t *testing.T) {
	svc, sender, tm := newTestService(t)
	svc.Hire("alice", 100)

	if !tm.Running("alice") {
		t.Error("alice not started")
	}
	if svc.Registry().Focus() != "alice" {
		t.Errorf("focus = %q", svc.Registry().Focus())
	}
	found := false
	for _, m := range sender.allMessages() {
		if strings.Contains(m, "Alice is added and assigned. They'll stay on your team.") {
			found = true
		}
	}
	if !found {
		t.Errorf("hire reply missing: %v", sender.allMessages())
	}
	sender.mu.Lock()
	menus := len(sender.menus)
	sender.mu.Unlock()
	if menus != 1 {
		t.Errorf("command menu updates = %d, want 1", menus)
	}
}

func TestHireReservedName(t *testing.T) {
	svc, sender, _ := newTestService(t)
	svc.Hire("focus", 100)
	if !strings.Contains(sender.lastMessage(), "reserved command") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestEndRemovesEverything(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	if err := svc.Pending().Set("alice", 100); err != nil {
		t.Fatal(err)
	}
	svc.Deliver("alice", "one last task", 100, 0)
	if !svc.locks.has("alice") {
		t.Fatal("no send lock entry before /end")
	}

	svc.End("alice", 100)

	if tm.Running("alice") {
		t.Error("alice still running")
	}
	if svc.locks.has("alice") {
		t.Error("send lock entry survived /end")
	}
	if _, ok := svc.Registry().Get("alice"); ok {
		t.Error("alice still registered")
	}
	if svc.Pending().IsPending("alice") {
		t.Error("pending survived /end")
	}
	if _, err := os.Stat(svc.Store().Dir("alice")); !os.IsNotExist(err) {
		t.Error("state dir survived /end")
	}
	if !strings.Contains(sender.lastMessage(), "Alice removed from your team.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestTeamListing(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	addWorker(t, svc, tm, "bob")
	if err := svc.Pending().Set("bob", 100); err != nil {
		t.Fatal(err)
	}

	svc.Team(100)
	msg := sender.lastMessage()
	if !strings.Contains(msg, "Focused: alice") {
		t.Errorf("team = %q", msg)
	}
	if !strings.Contains(msg, "- alice (focused, available)") {
		t.Errorf("team = %q", msg)
	}
	if !strings.Contains(msg, "- bob (working)") {
		t.Errorf("team = %q", msg)
	}
}

func TestSwitchFocus(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	addWorker(t, svc, tm, "bob")

	svc.SwitchFocus("bob", 100)
	if svc.Registry().Focus() != "bob" {
		t.Errorf("focus = %q", svc.Registry().Focus())
	}
	if !strings.Contains(sender.lastMessage(), "Now talking to Bob.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}

func TestBroadcastSkipsOffline(t *testing.T) {
	svc, _, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	addWorker(t, svc, tm, "bob")
	tm.mu.Lock()
	tm.running["bob"] = false
	tm.mu.Unlock()

	svc.Broadcast("standup time", 100, 0)

	if got := tm.sentTo("alice"); len(got) != 1 {
		t.Errorf("alice sent = %v", got)
	}
	if got := tm.sentTo("bob"); len(got) != 0 {
		t.Errorf("bob sent = %v", got)
	}
}

func TestPauseFocusClearsPending(t *testing.T) {
	svc, sender, tm := newTestService(t)
	addWorker(t, svc, tm, "alice")
	if err := svc.Pending().Set("alice", 100); err != nil {
		t.Fatal(err)
	}

	svc.PauseFocus(100)
	if svc.Pending().IsPending("alice") {
		t.Error("pending survived pause")
	}
	if !strings.Contains(sender.lastMessage(), "Alice is paused.") {
		t.Errorf("reply = %q", sender.lastMessage())
	}
}
