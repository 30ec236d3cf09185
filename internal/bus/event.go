package bus

import "time"

// Event kinds published on the bus. The "remote." namespace carries inbound
// traffic from the transport layer into the sync engine; the "message." and
// "conversation." namespaces carry store mutations out to observers such as
// a UI layer.
const (
	KindRemoteMessage      = "remote.message"
	KindRemoteAck          = "remote.ack"
	KindRemoteHistoryBatch = "remote.history_batch"
	KindRemoteConversation = "remote.conversation"

	KindMessageUpserted   = "message.upserted"
	KindMessagePromoted   = "message.promoted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpdated = "conversation.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
