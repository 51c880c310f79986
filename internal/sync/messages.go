package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"resumebot/internal/domain"

	"github.com/google/uuid"
)

// MessageEngine keeps one conversation stream converging between the
// local store and the remote service. Reads are local-first: the cached
// sequence is published immediately and the remote history replaces it
// when (and if) the fetch succeeds. Writes are optimistic: the user's
// message is durable and visible before the network round trip.
type MessageEngine struct {
	store    domain.Store
	gateway  domain.RemoteGateway
	bus      domain.UpdateBus
	logger   *slog.Logger
	pageSize int

	mu        sync.Mutex
	published map[string][]domain.Message
	gen       map[string]uint64 // per-conversation load generation
	sendLocks map[string]*sync.Mutex
}

type MessageEngineConfig struct {
	Store    domain.Store
	Gateway  domain.RemoteGateway
	Bus      domain.UpdateBus
	Logger   *slog.Logger
	PageSize int // messages fetched from the store per load
}

func NewMessageEngine(cfg MessageEngineConfig) *MessageEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &MessageEngine{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		pageSize:  cfg.PageSize,
		published: make(map[string][]domain.Message),
		gen:       make(map[string]uint64),
		sendLocks: make(map[string]*sync.Mutex),
	}
}

// Load publishes the cached sequence for the conversation immediately
// and refreshes it from the remote service in the background. The
// returned slice is the local snapshot; the refreshed sequence arrives
// on the update bus. A Load superseded by a newer Load for the same
// conversation has its remote result discarded.
func (e *MessageEngine) Load(ctx context.Context, conversationID string) []domain.Message {
	local, err := e.store.Messages(ctx, conversationID, e.pageSize)
	if err != nil {
		// A broken cache must not block display; start empty.
		e.logger.Error("loading cached messages failed", "conversation", conversationID, "err", err)
		local = nil
	}

	e.mu.Lock()
	e.gen[conversationID]++
	gen := e.gen[conversationID]
	e.published[conversationID] = local
	e.mu.Unlock()
	e.notify(conversationID)

	go e.refresh(ctx, conversationID, gen)

	return append([]domain.Message(nil), local...)
}

// refresh replaces the published sequence with the remote history and
// mirrors it into the store. Load failures are soft: the cached
// sequence stays authoritative for display.
func (e *MessageEngine) refresh(ctx context.Context, conversationID string, gen uint64) {
	history, err := e.gateway.FetchHistory(ctx, conversationID)
	if err != nil {
		e.logger.Warn("history refresh failed, keeping cached messages",
			"conversation", conversationID, "err", err)
		return
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	e.mu.Lock()
	if e.gen[conversationID] != gen {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded history refresh", "conversation", conversationID)
		return
	}
	e.published[conversationID] = history
	e.mu.Unlock()
	e.notify(conversationID)

	for _, msg := range history {
		if err := e.store.UpsertMessage(ctx, msg); err != nil {
			e.logger.Warn("caching fetched message failed", "id", msg.ID, "err", err)
		}
	}
}

// Send appends the user's message locally, durably and visibly, before
// the remote round trip. On success the message is confirmed and the
// bot reply (if any) is appended strictly after it. On failure the
// message stays visible, marked failed, and the error is returned.
// Sends on the same conversation are applied in call order.
func (e *MessageEngine) Send(ctx context.Context, conversationID, text string) (domain.Message, *domain.Message, error) {
	lock := e.sendLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         domain.SenderUser,
		Text:           text,
		Kind:           "text",
		Status:         domain.StatusPending,
		CreatedAt:      time.Now(),
	}

	if err := e.store.UpsertMessage(ctx, msg); err != nil {
		return msg, nil, fmt.Errorf("persist outgoing message: %w", err)
	}
	e.appendPublished(conversationID, msg)

	resp, err := e.gateway.SendMessage(ctx, conversationID, text)
	if err != nil {
		e.setStatus(ctx, conversationID, msg.ID, domain.StatusFailed)
		return msg, nil, fmt.Errorf("send message: %w", err)
	}

	e.setStatus(ctx, conversationID, msg.ID, domain.StatusConfirmed)
	msg.Status = domain.StatusConfirmed

	if resp.Reply == nil {
		return msg, nil, nil
	}

	reply := *resp.Reply
	reply.ConversationID = conversationID
	reply.Status = domain.StatusConfirmed
	if err := e.store.UpsertMessage(ctx, reply); err != nil {
		e.logger.Warn("caching bot reply failed", "id", reply.ID, "err", err)
	}
	e.appendPublished(conversationID, reply)

	return msg, &reply, nil
}

// Messages returns the currently published sequence for display.
func (e *MessageEngine) Messages(conversationID string) []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Message(nil), e.published[conversationID]...)
}

// Clear wipes the conversation from the store and the published view.
func (e *MessageEngine) Clear(ctx context.Context, conversationID string) error {
	if err := e.store.ClearMessages(ctx, conversationID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	e.mu.Lock()
	e.gen[conversationID]++
	delete(e.published, conversationID)
	e.mu.Unlock()
	e.notify(conversationID)
	return nil
}

func (e *MessageEngine) sendLock(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.sendLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.sendLocks[conversationID] = lock
	}
	return lock
}

func (e *MessageEngine) appendPublished(conversationID string, msg domain.Message) {
	e.mu.Lock()
	e.published[conversationID] = append(e.published[conversationID], msg)
	e.mu.Unlock()
	e.notify(conversationID)
}

// setStatus records a delivery-status transition in both the store and
// the published copy. A failing store write here is logged, not
// surfaced: the message itself is already durable.
func (e *MessageEngine) setStatus(ctx context.Context, conversationID, id string, status domain.DeliveryStatus) {
	if err := e.store.SetMessageStatus(ctx, conversationID, id, status); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Warn("updating delivery status failed", "id", id, "status", status, "err", err)
		}
	}
	e.mu.Lock()
	for i := range e.published[conversationID] {
		if e.published[conversationID][i].ID == id {
			e.published[conversationID][i].Status = status
			break
		}
	}
	e.mu.Unlock()
	e.notify(conversationID)
}

func (e *MessageEngine) notify(conversationID string) {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	snapshot := append([]domain.Message(nil), e.published[conversationID]...)
	e.mu.Unlock()
	e.bus.Publish(domain.Update{
		Kind:           domain.UpdateMessages,
		ConversationID: conversationID,
		Messages:       snapshot,
	})
}
