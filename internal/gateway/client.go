package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resumebot/internal/domain"
)

const maxBodySize = 1 << 20 // 1MB

// Client implements domain.RemoteGateway over the bot backend's JSON
// HTTP API. Every response carries a {success, error?} envelope; the
// backend never returns partial results.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	logger    *slog.Logger
	baseDelay time.Duration // retry backoff unit
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		http:      sharedHTTPClient(cfg.Timeout),
		logger:    cfg.Logger,
		baseDelay: time.Second,
	}
}

// envelope is the common wrapper around every backend response.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// wireMessage is a chat message as the backend serializes it.
type wireMessage struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	From      string          `json:"from"` // "user" | "bot"
	Timestamp int64           `json:"timestamp"` // unix millis
	Kind      string          `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wireResume is a resume as the backend serializes it.
type wireResume struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Document  json.RawMessage `json:"document,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
}

func (w wireMessage) toDomain(conversationID string) domain.Message {
	sender := domain.SenderUser
	if w.From == "bot" {
		sender = domain.SenderBot
	}
	return domain.Message{
		ID:             w.ID,
		ConversationID: conversationID,
		Sender:         sender,
		Text:           w.Text,
		Kind:           w.Kind,
		Payload:        w.Payload,
		Status:         domain.StatusConfirmed,
		CreatedAt:      time.UnixMilli(w.Timestamp),
	}
}

func (w wireResume) toDomain() domain.Resume {
	return domain.Resume{
		ID:        w.ID,
		Title:     w.Title,
		Document:  w.Document,
		CreatedAt: time.UnixMilli(w.CreatedAt),
		UpdatedAt: time.UnixMilli(w.UpdatedAt),
	}
}

func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var resp struct {
		envelope
		Messages []wireMessage `json:"messages"`
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	msgs := make([]domain.Message, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		msgs = append(msgs, w.toDomain(conversationID))
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*domain.RemoteReply, error) {
	body := map[string]string{
		"conversationId": conversationID,
		"text":           text,
	}
	var resp struct {
		envelope
		Reply *wireMessage `json:"reply,omitempty"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages", body, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	reply := &domain.RemoteReply{}
	if resp.Reply != nil {
		msg := resp.Reply.toDomain(conversationID)
		msg.Sender = domain.SenderBot
		reply.Reply = &msg
	}
	return reply, nil
}

func (c *Client) ListResumes(ctx context.Context) ([]domain.Resume, error) {
	var resp struct {
		envelope
		Resumes []wireResume `json:"resumes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/resumes", nil, &resp); err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}

	resumes := make([]domain.Resume, 0, len(resp.Resumes))
	for _, w := range resp.Resumes {
		resumes = append(resumes, w.toDomain())
	}
	return resumes, nil
}

func (c *Client) FetchResumeDocument(ctx context.Context, id string) (*domain.ResumeDocument, error) {
	var resp struct {
		envelope
		URL      string `json:"url"`
		MimeType string `json:"mimeType,omitempty"`
		FileName string `json:"fileName,omitempty"`
	}
	path := "/api/resumes/" + url.PathEscape(id) + "/document"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch resume document: %w", err)
	}
	return &domain.ResumeDocument{
		URL:      resp.URL,
		MimeType: resp.MimeType,
		FileName: resp.FileName,
	}, nil
}

func (c *Client) DeleteResume(ctx context.Context, id string) error {
	var resp envelope
	path := "/api/resumes/" + url.PathEscape(id)
	err := c.doJSON(ctx, http.MethodDelete, path, nil, &resp)
	if err != nil {
		// An id the backend no longer knows is already deleted.
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete resume: %w", err)
	}
	return nil
}

// doJSON performs one API call: request build, retry on transient
// failures, envelope check, and mapping onto the domain error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	buildReq := func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	}

	resp, err := doWithRetry(ctx, c.http, c.baseDelay, buildReq, c.logger)
	if err != nil {
		var re *retryableError
		if errors.As(err, &re) {
			// The backend answered, repeatedly, with an error status.
			return fmt.Errorf("%w: %v", domain.ErrRemoteRejected, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRemoteRejected, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrRemoteUnreachable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrRemoteRejected, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", domain.ErrRemoteRejected, err)
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "request failed"
		}
		return fmt.Errorf("%w: %s", domain.ErrRemoteRejected, env.Error)
	}
	return nil
}
