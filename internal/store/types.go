package store

import "encoding/json"

// ConversationType distinguishes one-on-one threads from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// MessageType describes the payload format of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageMedia  MessageType = "media"
	MessageSystem MessageType = "system"
)

// MessageStatus tracks a message through the delivery pipeline.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// SyncStatus records how a row relates to the remote authoritative service.
type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
)

// OutboxStatus is the outbox entry state machine: pending -> sending ->
// failed -> pending (after backoff). Sent entries are deleted, not marked.
// Cancelled is a user decision, not a delivery outcome: cancelled entries
// never re-enter automatic retry and only move again through RetryOutbox or
// DiscardOutbox.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxSending   OutboxStatus = "sending"
	OutboxFailed    OutboxStatus = "failed"
	OutboxCancelled OutboxStatus = "cancelled"
)

// Conversation is the cached metadata for one chat thread.
type Conversation struct {
	ID             string
	Type           ConversationType
	ParticipantIDs []string
	Name           string
	Description    string
	ImageURL       string
	LastMessageID  string
	LastMessageAt  int64 // unix millis; never decreases
	UnreadCount    int
	Settings       string // opaque JSON owned by the UI layer
	SyncStatus     SyncStatus
	CreatedAt      int64
	UpdatedAt      int64
}

// Message is one cached message. Seq is the stable internal key; ServerID is
// assigned once the remote service confirms the message and TempID is the
// client-generated correlation id for locally composed ones. Exactly one of
// the two addresses the row for callers at any time; promotion never re-keys
// the row, it only fills in ServerID.
type Message struct {
	Seq            int64
	ServerID       string
	TempID         string
	ConversationID string
	SenderID       string
	Type           MessageType
	Content        string
	MediaURLs      []string
	Metadata       map[string]string
	Status         MessageStatus
	Reactions      map[string][]string // emoji -> user ids
	ReplyToID      string
	IsDeleted      bool
	SyncStatus     SyncStatus
	CreatedAt      int64
	UpdatedAt      int64
}

// PaginationMetadata tracks the backward-loading cursor for one conversation.
type PaginationMetadata struct {
	ConversationID     string
	OldestMessageSeq   int64
	HasMoreMessages    bool
	LastSyncAt         int64
	TotalMessagesCount int64 // best effort, UI hints only
}

// OutboxEntry is a durably queued outgoing message.
type OutboxEntry struct {
	TempID         string
	ConversationID string
	Content        string
	Type           MessageType
	MediaLocalPath string
	Status         OutboxStatus
	RetryCount     int
	LastError      string
	LastRetryAt    int64
	CreatedAt      int64
}

// rowScanner lets scan helpers work over *sql.Row and *sql.Rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func jsonStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func jsonReactions(r map[string][]string) string {
	if r == nil {
		r = map[string][]string{}
	}
	b, _ := json.Marshal(r)
	return string(b)
}

func decodeStrings(s string) []string {
	var v []string
	if s != "" {
		_ = json.Unmarshal([]byte(s), &v)
	}
	return v
}

func decodeStringMap(s string) map[string]string {
	var m map[string]string
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

func decodeReactions(s string) map[string][]string {
	var r map[string][]string
	if s != "" {
		_ = json.Unmarshal([]byte(s), &r)
	}
	return r
}
