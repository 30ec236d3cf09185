// Package sync ingests server-confirmed traffic into the store. It is the
// write half of the background sync process: the transport layer publishes
// inbound events on the bus and the engine folds them into the cache
// idempotently, so at-least-once delivery from the network is safe to replay.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/offlinekit/chatcache/internal/bus"
	"github.com/offlinekit/chatcache/internal/store"
	"go.uber.org/zap"
)

// Ack correlates a locally composed message with its server-confirmed id.
type Ack struct {
	TempID   string
	ServerID string
}

// HistoryBatch is one window of server-confirmed history for a conversation.
// Exhausted reports that the server has no older messages beyond this batch.
type HistoryBatch struct {
	ConversationID string
	Messages       []*store.Message
	Exhausted      bool
}

// Engine subscribes to "remote." events and applies them to the store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a sync engine. selfID is the local user: messages they
// sent from another device never bump unread counters.
func NewEngine(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to inbound remote events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("remote.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRemoteMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if _, err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("server_id", msg.ServerID))
		}
	case bus.KindRemoteAck:
		ack, ok := evt.Payload.(Ack)
		if !ok {
			return
		}
		if err := e.IngestAck(ack.TempID, ack.ServerID); err != nil {
			e.logger.Error("failed to ingest ack", zap.Error(err), zap.String("temp_id", ack.TempID))
		}
	case bus.KindRemoteHistoryBatch:
		batch, ok := evt.Payload.(*HistoryBatch)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(batch); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err),
				zap.String("conversation_id", batch.ConversationID), zap.Int("count", len(batch.Messages)))
		} else {
			e.logger.Info("history batch ingested",
				zap.String("conversation_id", batch.ConversationID), zap.Int("messages", len(batch.Messages)))
		}
	case bus.KindRemoteConversation:
		conv, ok := evt.Payload.(*store.Conversation)
		if !ok {
			return
		}
		if err := e.IngestConversation(conv); err != nil {
			e.logger.Error("failed to ingest conversation", zap.Error(err), zap.String("id", conv.ID))
		}
	}
}

// IngestMessage records one server-confirmed message. Redelivery is a no-op;
// the unread counter moves at most once per unique server id, and never for
// the local user's own messages.
func (e *Engine) IngestMessage(msg *store.Message) (bool, error) {
	if err := e.db.EnsureConversation(msg.ConversationID, ""); err != nil {
		return false, fmt.Errorf("ensure conversation: %w", err)
	}
	inserted, err := e.db.InsertIncoming(msg)
	if err != nil {
		return false, fmt.Errorf("insert incoming: %w", err)
	}
	if !inserted {
		return false, nil
	}
	if msg.SenderID != e.selfID {
		if err := e.db.IncrementUnread(msg.ConversationID); err != nil {
			return true, fmt.Errorf("increment unread: %w", err)
		}
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": msg.ConversationID,
			"server_id":       msg.ServerID,
		},
	})
	return true, nil
}

// IngestAck promotes a locally composed message to its server id. A stale
// ack for a cancelled or discarded send is dropped without effect.
func (e *Engine) IngestAck(tempID, serverID string) error {
	promoted, err := e.db.Promote(tempID, serverID)
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	if !promoted {
		e.logger.Info("stale ack dropped", zap.String("temp_id", tempID), zap.String("server_id", serverID))
		return nil
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessagePromoted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"temp_id":   tempID,
			"server_id": serverID,
		},
	})
	return nil
}

// IngestHistoryBatch merges one fetched window of history and reconciles the
// conversation's pagination state. Backfilled history never bumps unread
// counters — only live messages do.
func (e *Engine) IngestHistoryBatch(batch *HistoryBatch) error {
	if err := e.db.EnsureConversation(batch.ConversationID, ""); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	fetched := make([]string, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		if _, err := e.db.InsertIncoming(m); err != nil {
			return fmt.Errorf("insert history message: %w", err)
		}
		fetched = append(fetched, m.ServerID)
	}
	if err := e.db.ReportSyncWindow(batch.ConversationID, fetched, batch.Exhausted); err != nil {
		return fmt.Errorf("report sync window: %w", err)
	}
	return nil
}

// IngestConversation applies a server-side metadata refresh. The stored
// unread counter survives the upsert.
func (e *Engine) IngestConversation(c *store.Conversation) error {
	if err := e.db.UpsertConversation(c); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation_id": c.ID},
	})
	return nil
}
