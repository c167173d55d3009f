package app

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/jaakkos/crewbridge/internal/chat"
	"github.com/jaakkos/crewbridge/internal/media"
)

// Router turns incoming chat updates into deliveries and command
// invocations. Addressing precedence, most specific first: a pending
// registration claim, management commands and worker shortcuts, @all,
// @name, replying to a worker's message, replying to anything else
// (focus plus context), and finally the focused worker.
type Router struct {
	svc    *Service
	logger *log.Logger
}

// NewRouter creates a router over svc.
func NewRouter(svc *Service, logger *log.Logger) *Router {
	return &Router{svc: svc, logger: logger}
}

// blockedCommands are worker-CLI commands that need an interactive
// terminal and cannot be driven from chat.
var blockedCommands = map[string]bool{
	"/mcp": true, "/help": true, "/config": true, "/model": true,
	"/compact": true, "/cost": true, "/doctor": true, "/init": true,
	"/login": true, "/logout": true, "/memory": true, "/permissions": true,
	"/pr": true, "/review": true, "/terminal": true, "/vim": true,
	"/approved-tools": true, "/listen": true,
}

var atMentionPattern = regexp.MustCompile(`(?s)^@([a-zA-Z0-9-]+)\s+(.+)$`)
var workerPrefixPattern = regexp.MustCompile(`(?s)^\s*([a-zA-Z0-9-]+):\s*(.*)$`)

// HandleUpdate processes one incoming update end to end.
func (r *Router) HandleUpdate(u chat.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID
	if chatID == 0 {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	if !r.svc.Admit(chatID) {
		r.logger.Printf("rejected non-admin: %d", chatID)
		return
	}

	if r.handleAttachment(msg, text, chatID) {
		return
	}
	if text == "" {
		return
	}

	r.svc.StartupNotice(chatID)

	if r.svc.TryClaim(text, chatID) {
		return
	}

	if strings.HasPrefix(text, "/") {
		if r.handleCommand(text, chatID, msg.MessageID) {
			return
		}
	}

	if strings.HasPrefix(strings.ToLower(text), "@all ") {
		r.svc.Broadcast(text[len("@all "):], chatID, msg.MessageID)
		return
	}

	var replyWorker, replyContext string
	if msg.ReplyToMessage != nil {
		replyWorker, replyContext = r.parseReplyTarget(msg.ReplyToMessage)
	}

	// @name one-off routing wins over reply routing.
	if target, body := r.parseAtMention(text); target != "" {
		if replyWorker == "" && replyContext != "" {
			body = formatReplyContext(body, replyContext)
		}
		r.svc.Deliver(target, body, chatID, msg.MessageID)
		return
	}

	// Replying to one of the bridge's own worker messages continues
	// that thread: the worker already has the context, so the reply
	// body goes through alone.
	if replyWorker != "" {
		r.svc.Deliver(replyWorker, text, chatID, msg.MessageID)
		return
	}

	if msg.ReplyToMessage != nil && replyContext != "" {
		r.svc.DeliverToFocus(formatReplyContext(text, replyContext), chatID, msg.MessageID)
		return
	}

	r.svc.DeliverToFocus(text, chatID, msg.MessageID)
}

// handleAttachment downloads incoming photos and documents into the
// focused worker's inbox and routes a path message. Returns true when
// the update was an attachment.
func (r *Router) handleAttachment(msg *chat.Message, caption string, chatID int64) bool {
	var fileID, filename string
	var isImage bool
	var doc *chat.Document

	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > largest.FileSize {
				largest = p
			}
		}
		fileID = largest.FileID
		filename = "photo.jpg"
		isImage = true
	case msg.Document != nil:
		doc = msg.Document
		fileID = doc.FileID
		filename = doc.FileName
		isImage = strings.HasPrefix(doc.MimeType, "image/")
	default:
		return false
	}

	if r.svc.Registry().Focus() == "" {
		r.svc.Refresh()
	}
	if r.svc.Registry().Focus() == "" {
		r.svc.reply(chatID, "No focused worker. Use /focus <name> first.")
		return true
	}

	local, err := r.svc.SaveIncomingFile(fileID, filename)
	if err != nil {
		r.logger.Printf("save attachment: %v", err)
		if isImage {
			r.svc.reply(chatID, "Could not download image. Try again or send as file.")
		} else {
			r.svc.reply(chatID, "Could not download file. Try again.")
		}
		return true
	}

	var text string
	if isImage {
		text = "Manager sent image: " + local
	} else {
		text = fmt.Sprintf("Manager sent file: %s (%s, %s)\nPath: %s",
			filename, media.FormatFileSize(doc.FileSize), doc.MimeType, local)
	}
	if caption != "" {
		text = caption + "\n\n" + text
	}
	r.svc.DeliverToFocus(text, chatID, msg.MessageID)
	return true
}

// handleCommand dispatches /commands. Returns false for unknown
// commands so they fall through to the focused worker as plain text.
func (r *Router) handleCommand(text string, chatID int64, msgID int) bool {
	parts := strings.SplitN(text, " ", 2)
	cmd := strings.ToLower(parts[0])
	// Strip the @botname suffix the chat client appends in groups.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/hire", "/new":
		r.svc.Hire(arg, chatID)
	case "/focus", "/use":
		r.svc.SwitchFocus(arg, chatID)
	case "/team", "/list":
		r.svc.Team(chatID)
	case "/end", "/kill":
		r.svc.End(arg, chatID)
	case "/progress", "/status":
		r.svc.Progress(chatID)
	case "/pause", "/stop":
		r.svc.PauseFocus(chatID)
	case "/relaunch", "/restart":
		r.svc.RelaunchFocus(chatID)
	case "/settings", "/system":
		r.svc.Settings(chatID)
	case "/learn":
		r.svc.Learn(arg, chatID, msgID)
	default:
		if blockedCommands[cmd] {
			r.svc.reply(chatID, fmt.Sprintf("%s is interactive and not supported here.", cmd))
			return true
		}
		// Worker shortcut: /alice hello routes to alice and switches
		// focus, since a slash command signals strong intent.
		name := strings.TrimPrefix(cmd, "/")
		if _, ok := r.svc.Registry().Get(name); !ok {
			return false
		}
		prev := r.svc.Registry().Focus()
		_ = r.svc.Registry().SetFocus(name)
		if arg == "" || prev != name {
			r.svc.reply(chatID, fmt.Sprintf("Now talking to %s.", capitalize(name)))
		}
		if arg != "" {
			r.svc.Deliver(name, arg, chatID, msgID)
		}
	}
	return true
}

// parseAtMention matches an @name prefix against the crew.
func (r *Router) parseAtMention(text string) (name, body string) {
	m := atMentionPattern.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	candidate := strings.ToLower(m[1])
	if _, ok := r.svc.Registry().Get(candidate); !ok {
		return "", text
	}
	return candidate, m[2]
}

// parseWorkerPrefix extracts the "name:" prefix the bridge puts on
// worker messages, when name belongs to the crew.
func (r *Router) parseWorkerPrefix(text string) (name, body string) {
	m := workerPrefixPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ""
	}
	candidate := strings.ToLower(m[1])
	if _, ok := r.svc.Registry().Get(candidate); !ok {
		return "", ""
	}
	return candidate, strings.TrimSpace(m[2])
}

// parseReplyTarget extracts a worker target and quoted context from a
// replied-to message. The context always comes back; the target only
// when the reply is to one of the bridge's own worker messages.
func (r *Router) parseReplyTarget(reply *chat.Message) (worker, context string) {
	if reply == nil {
		return "", ""
	}
	text := reply.Text
	if text == "" {
		text = reply.Caption
	}
	if reply.From != nil && reply.From.IsBot {
		if name, _ := r.parseWorkerPrefix(text); name != "" {
			return name, text
		}
	}
	return "", text
}

// formatReplyContext frames a manager reply with the message it was
// replying to.
func formatReplyContext(reply, context string) string {
	reply = strings.TrimSpace(reply)
	context = strings.TrimSpace(context)
	if context == "" {
		return "Manager reply:\n" + reply
	}
	return fmt.Sprintf("Manager reply:\n%s\n\nContext (your previous message):\n%s", reply, context)
}
