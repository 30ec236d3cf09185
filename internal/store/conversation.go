package store

import (
	"database/sql"
	"fmt"
)

const conversationCols = `id, conv_type, participant_ids, name, description, image_url,
	last_message_id, last_message_at, unread_count, settings, sync_status, created_at, updated_at`

// UpsertConversation inserts or updates a conversation by id. The stored
// unread counter always wins on conflict so a metadata refresh can never zero
// unread state; explicit counter writes go through IncrementUnread,
// ClearUnread and SetUnreadCount. The last-message pointer only advances,
// never rewinds.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := nowMillis()
	createdAt := c.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	convType := c.Type
	if convType == "" {
		convType = ConversationDirect
	}
	syncStatus := c.SyncStatus
	if syncStatus == "" {
		syncStatus = SyncSynced
	}
	settings := c.Settings
	if settings == "" {
		settings = "{}"
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, conv_type, participant_ids, name, description, image_url,
			last_message_id, last_message_at, unread_count, settings, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conv_type = excluded.conv_type,
			participant_ids = excluded.participant_ids,
			name = excluded.name,
			description = excluded.description,
			image_url = excluded.image_url,
			last_message_id = CASE
				WHEN excluded.last_message_id != '' AND excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_id ELSE conversations.last_message_id END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			settings = excluded.settings,
			sync_status = excluded.sync_status,
			updated_at = excluded.updated_at`,
		c.ID, string(convType), jsonStrings(c.ParticipantIDs), c.Name, c.Description, c.ImageURL,
		c.LastMessageID, c.LastMessageAt, c.UnreadCount, settings, string(syncStatus), createdAt, now)
	return classify(err)
}

// EnsureConversation inserts a placeholder row if none exists, leaving an
// existing row untouched. Inbound messages for conversations that have not
// synced yet land on such placeholders until the next metadata refresh.
func (db *DB) EnsureConversation(id string, t ConversationType) error {
	if t == "" {
		t = ConversationDirect
	}
	now := nowMillis()
	_, err := db.Exec(`
		INSERT OR IGNORE INTO conversations (id, conv_type, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, string(t), string(SyncPending), now, now)
	return classify(err)
}

// GetConversation returns a conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

// ListConversations returns conversations ordered by last message time
// descending, the order a chat list renders in.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationCols+` FROM conversations
		ORDER BY last_message_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, classify(err)
		}
		convs = append(convs, *c)
	}
	return convs, classify(rows.Err())
}

// IncrementUnread bumps the unread counter by one. A missing conversation is
// a no-op, not an error: it may simply not have synced yet.
func (db *DB) IncrementUnread(id string) error {
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = unread_count + 1, updated_at = ?
		WHERE id = ?`, nowMillis(), id)
	return classify(err)
}

// ClearUnread zeroes the unread counter. No-op when the conversation is
// absent.
func (db *DB) ClearUnread(id string) error {
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = 0, updated_at = ?
		WHERE id = ?`, nowMillis(), id)
	return classify(err)
}

// SetUnreadCount writes an explicit counter value, for callers that carry the
// authoritative count in their payload.
func (db *DB) SetUnreadCount(id string, n int) error {
	if n < 0 {
		return &ConstraintViolation{Err: fmt.Errorf("unread count %d is negative", n)}
	}
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = ?, updated_at = ?
		WHERE id = ?`, n, nowMillis(), id)
	return classify(err)
}

// DeleteConversation removes a conversation. Its messages, pagination state
// and outbox entries cascade with it.
func (db *DB) DeleteConversation(id string) error {
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return classify(err)
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var convType, participants, syncStatus string
	if err := r.Scan(&c.ID, &convType, &participants, &c.Name, &c.Description, &c.ImageURL,
		&c.LastMessageID, &c.LastMessageAt, &c.UnreadCount, &c.Settings, &syncStatus,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Type = ConversationType(convType)
	c.SyncStatus = SyncStatus(syncStatus)
	c.ParticipantIDs = decodeStrings(participants)
	return &c, nil
}
