// Package outbox drains the durable send queue. Messages composed offline or
// mid-flight sit in the store's message_outbox table; the Sender polls for
// due entries, claims them, and performs the network send strictly outside
// any database transaction — the transaction only ever records the result.
package outbox

import (
	"context"
	"time"

	"github.com/offlinekit/chatcache/internal/bus"
	"github.com/offlinekit/chatcache/internal/store"
	"go.uber.org/zap"
)

// Payload is the outgoing message handed to the transport layer.
type Payload struct {
	TempID         string
	ConversationID string
	Content        string
	Type           store.MessageType
	MediaLocalPath string
}

// Transport is the external collaborator that actually delivers messages.
// Implementations must be safe for concurrent use and should honor ctx.
type Transport interface {
	SendMessage(ctx context.Context, p Payload) (serverID string, err error)
}

// Sender drains the outbox and sends entries via the transport.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	policy    store.BackoffPolicy
	interval  time.Duration
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewSender creates an outbox sender polling at interval with the given
// retry policy.
func NewSender(db *store.DB, t Transport, b *bus.Bus, policy store.BackoffPolicy, interval time.Duration, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sender{
		db:        db,
		transport: t,
		bus:       b,
		policy:    policy,
		interval:  interval,
		logger:    logger,
	}
}

// Start re-queues entries a previous process left in flight, then begins
// polling the outbox for due entries.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if n, err := s.db.ResetInflight(); err != nil {
		s.logger.Error("failed to reset in-flight entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("re-queued in-flight entries from previous run", zap.Int64("count", n))
	}
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Cancel aborts a queued or in-flight send at the user's request. The entry
// flips to cancelled; a success confirmation that arrives afterwards is
// dropped. If the confirmation won the race the cancel is ignored and the
// delivered message keeps its status.
func (s *Sender) Cancel(tempID string) error {
	cancelled, err := s.db.CancelSend(tempID)
	if err != nil {
		return err
	}
	if !cancelled {
		s.logger.Info("cancel ignored, send already settled", zap.String("temp_id", tempID))
		return nil
	}
	s.logger.Info("send cancelled", zap.String("temp_id", tempID))
	return nil
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processDue(ctx context.Context) {
	due, err := s.db.DequeueDue(time.Now(), s.policy, 32)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		claimed, err := s.db.ClaimSending(entry.TempID)
		if err != nil {
			s.logger.Error("failed to claim entry", zap.Error(err), zap.String("temp_id", entry.TempID))
			continue
		}
		if !claimed {
			continue
		}

		// Network send, outside any transaction.
		serverID, err := s.transport.SendMessage(ctx, Payload{
			TempID:         entry.TempID,
			ConversationID: entry.ConversationID,
			Content:        entry.Content,
			Type:           entry.Type,
			MediaLocalPath: entry.MediaLocalPath,
		})
		if err != nil {
			s.logger.Warn("send failed",
				zap.Error(err),
				zap.String("temp_id", entry.TempID),
				zap.Int("retry_count", entry.RetryCount+1))
			marked, merr := s.db.MarkSendFailed(entry.TempID, err.Error())
			if merr != nil {
				s.logger.Error("failed to record send failure", zap.Error(merr), zap.String("temp_id", entry.TempID))
				continue
			}
			if !marked {
				// Cancelled or settled while the send was in flight.
				s.logger.Info("send failure dropped", zap.String("temp_id", entry.TempID))
				continue
			}
			s.bus.Publish(bus.Event{
				Kind:      bus.KindMessageSendFailed,
				Timestamp: time.Now(),
				Payload: map[string]string{
					"temp_id": entry.TempID,
					"error":   err.Error(),
				},
			})
			continue
		}

		promoted, err := s.db.Promote(entry.TempID, serverID)
		if err != nil {
			s.logger.Error("failed to promote message", zap.Error(err), zap.String("temp_id", entry.TempID))
			continue
		}
		if !promoted {
			// Cancelled while the send was in flight.
			s.logger.Info("late confirmation dropped", zap.String("temp_id", entry.TempID), zap.String("server_id", serverID))
			continue
		}

		s.logger.Info("message sent", zap.String("temp_id", entry.TempID), zap.String("server_id", serverID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendAck,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"temp_id":   entry.TempID,
				"server_id": serverID,
			},
		})
	}
}
