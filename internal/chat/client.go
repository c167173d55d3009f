// Package chat implements the Telegram Bot API transport: sending
// messages and attachments, webhook management, and update types.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// MaxMessageLen is the Bot API text message ceiling.
const MaxMessageLen = 4096

// Update is an incoming Bot API update.
type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID      int        `json:"message_id"`
	From           *User      `json:"from"`
	Chat           Chat       `json:"chat"`
	Date           int64      `json:"date"`
	Text           string     `json:"text"`
	Caption        string     `json:"caption"`
	ReplyToMessage *Message   `json:"reply_to_message"`
	Photo          []PhotoSize `json:"photo"`
	Document       *Document  `json:"document"`
	Voice          *Voice     `json:"voice"`
}

// User is a Bot API user.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat is a Bot API chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// PhotoSize is one resolution of an incoming photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Document is an incoming file attachment.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// Voice is an incoming voice note.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	FileSize int64  `json:"file_size"`
}

// BotCommand is one entry in the bot's command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// fileInfo is the getFile result.
type fileInfo struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// Client talks to the Bot API.
type Client struct {
	token   string
	baseURL string
	fileURL string
	httpc   *http.Client
	logger  *log.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint, used in tests.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url + "/bot" + c.token
		c.fileURL = url + "/file/bot" + c.token
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Bot API client for the given token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: "https://api.telegram.org/bot" + token,
		fileURL: "https://api.telegram.org/file/bot" + token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// postJSON posts payload to an API method and decodes the envelope.
func (c *Client) postJSON(method string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}
	resp, err := c.httpc.Post(c.baseURL+"/"+method, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !api.OK {
		return &api, fmt.Errorf("%s: api error: %s", method, api.Description)
	}
	return &api, nil
}

// GetMe returns the bot's own user, verifying the token.
func (c *Client) GetMe() (*User, error) {
	resp, err := c.httpc.Get(c.baseURL + "/getMe")
	if err != nil {
		return nil, fmt.Errorf("getMe: %w", err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("getMe: decode: %w", err)
	}
	if !api.OK {
		return nil, fmt.Errorf("getMe: api error: %s", api.Description)
	}
	var u User
	if err := json.Unmarshal(api.Result, &u); err != nil {
		return nil, fmt.Errorf("getMe: decode user: %w", err)
	}
	return &u, nil
}

// SendMessage sends plain text, splitting anything over the message
// ceiling into consecutive chunks.
func (c *Client) SendMessage(chatID int64, text string) error {
	for _, chunk := range SplitMessage(text, MaxMessageLen) {
		if _, err := c.postJSON("sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SendHTML sends HTML-formatted text and falls back to plain text when
// the API rejects the markup.
func (c *Client) SendHTML(chatID int64, html, plain string) error {
	for i, chunk := range SplitMessage(html, MaxMessageLen) {
		_, err := c.postJSON("sendMessage", map[string]any{
			"chat_id":    chatID,
			"text":       chunk,
			"parse_mode": "HTML",
		})
		if err == nil {
			continue
		}
		c.logger.Printf("html send failed, falling back to plain: %v", err)
		if i == 0 {
			return c.SendMessage(chatID, plain)
		}
		return err
	}
	return nil
}

// SendChatAction sends a chat action such as "typing".
func (c *Client) SendChatAction(chatID int64, action string) error {
	_, err := c.postJSON("sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

// SetMessageReaction reacts to a message with a single emoji.
func (c *Client) SetMessageReaction(chatID int64, messageID int, emoji string) error {
	_, err := c.postJSON("setMessageReaction", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	})
	return err
}

// SetMyCommands replaces the bot's command menu.
func (c *Client) SetMyCommands(commands []BotCommand) error {
	_, err := c.postJSON("setMyCommands", map[string]any{"commands": commands})
	return err
}

// SetWebhook registers url as the update webhook. The secret, when
// non-empty, must accompany every delivered update.
func (c *Client) SetWebhook(url, secret string) error {
	payload := map[string]any{"url": url}
	if secret != "" {
		payload["secret_token"] = secret
	}
	_, err := c.postJSON("setWebhook", payload)
	return err
}

// sendMultipart uploads a local file under fieldName to an API method.
func (c *Client) sendMultipart(method string, chatID int64, fieldName, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: open %s: %w", method, path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	part, err := w.CreateFormFile(fieldName, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("%s: read %s: %w", method, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	resp, err := c.httpc.Post(c.baseURL+"/"+method, w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s: api error: %s", method, api.Description)
	}
	return nil
}

// SendPhoto uploads a local image.
func (c *Client) SendPhoto(chatID int64, path, caption string) error {
	return c.sendMultipart("sendPhoto", chatID, "photo", path, caption)
}

// SendDocument uploads a local file.
func (c *Client) SendDocument(chatID int64, path, caption string) error {
	return c.sendMultipart("sendDocument", chatID, "document", path, caption)
}

// DownloadFile fetches a file by id and writes it to destPath.
func (c *Client) DownloadFile(fileID, destPath string) error {
	api, err := c.postJSON("getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return err
	}
	var info fileInfo
	if err := json.Unmarshal(api.Result, &info); err != nil {
		return fmt.Errorf("getFile: decode result: %w", err)
	}
	if info.FilePath == "" {
		return fmt.Errorf("getFile: empty file path for %s", fileID)
	}

	resp, err := c.httpc.Get(c.fileURL + "/" + info.FilePath)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", fileID, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}
