package store

import (
	"database/sql"
	"errors"
	"slices"

	"github.com/google/uuid"
)

const messageCols = `id, COALESCE(server_id, ''), COALESCE(temp_id, ''), conversation_id, sender_id,
	msg_type, content, media_urls, metadata, status, reactions, reply_to_id, is_deleted,
	sync_status, created_at, updated_at`

// InsertIncoming records a server-confirmed message, keyed by its server id.
// Redelivery of an id already in the cache is a no-op; the returned flag
// reports whether a new row was inserted so per-message side effects (unread
// counters) run at most once per unique id. The owning conversation's
// last-message pointer advances monotonically in the same transaction.
func (db *DB) InsertIncoming(m *Message) (bool, error) {
	if m.ServerID == "" {
		return false, &ConstraintViolation{Err: errors.New("incoming message without server id")}
	}
	now := nowMillis()
	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	msgType := m.Type
	if msgType == "" {
		msgType = MessageText
	}
	status := m.Status
	if status == "" {
		status = StatusDelivered
	}
	syncStatus := m.SyncStatus
	if syncStatus == "" {
		syncStatus = SyncSynced
	}

	inserted := false
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO messages (server_id, conversation_id, sender_id, msg_type, content,
				media_urls, metadata, status, reactions, reply_to_id, sync_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id) DO NOTHING`,
			m.ServerID, m.ConversationID, m.SenderID, string(msgType), m.Content,
			jsonStrings(m.MediaURLs), jsonStringMap(m.Metadata), string(status),
			jsonReactions(m.Reactions), m.ReplyToID, string(syncStatus), createdAt, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		inserted = true
		if _, err := tx.Exec(`
			UPDATE conversations SET
				last_message_id = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_id END,
				last_message_at = MAX(last_message_at, ?),
				updated_at = ?
			WHERE id = ?`, createdAt, m.ServerID, createdAt, now, m.ConversationID); err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE pagination_metadata SET total_messages_count = total_messages_count + 1
			WHERE conversation_id = ?`, m.ConversationID)
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// QueueOutgoing stores a locally composed message and its outbox entry in a
// single transaction, so a crash can never leave one without the other. The
// message starts in "sending" and the outbox entry in "pending". A temp id is
// generated when the message carries none; the id in use is returned.
func (db *DB) QueueOutgoing(m *Message, mediaLocalPath string) (string, error) {
	tempID := m.TempID
	if tempID == "" {
		tempID = uuid.NewString()
	}
	now := nowMillis()
	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	msgType := m.Type
	if msgType == "" {
		msgType = MessageText
	}

	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO messages (temp_id, conversation_id, sender_id, msg_type, content,
				media_urls, metadata, status, reactions, reply_to_id, sync_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tempID, m.ConversationID, m.SenderID, string(msgType), m.Content,
			jsonStrings(m.MediaURLs), jsonStringMap(m.Metadata), string(StatusSending),
			jsonReactions(m.Reactions), m.ReplyToID, string(SyncPending), createdAt, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO message_outbox (temp_id, conversation_id, content, msg_type, media_local_path, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tempID, m.ConversationID, m.Content, string(msgType), mediaLocalPath,
			string(OutboxPending), now); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE conversations SET last_message_at = MAX(last_message_at, ?), updated_at = ?
			WHERE id = ?`, createdAt, now, m.ConversationID)
		return err
	})
	if err != nil {
		return "", err
	}
	return tempID, nil
}

// Promote assigns serverID to the message correlated by tempID, marks it
// sent, and deletes the outbox entry, all in one transaction — partial
// application is never observable. A confirmation arriving after the user
// cancelled the send, or for an entry already gone, is dropped and reported
// by the false return. A failed entry still promotes: the server may confirm
// an attempt the transport had reported lost. If the confirmed message
// already arrived through the inbound stream, the local row is folded into
// that copy instead of keying a second one; the survivor takes over the
// correlation id.
func (db *DB) Promote(tempID, serverID string) (bool, error) {
	promoted := false
	err := db.withTx(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM message_outbox WHERE temp_id = ?`, tempID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if OutboxStatus(status) == OutboxCancelled {
			return nil
		}
		now := nowMillis()
		var existing int64
		err = tx.QueryRow(`SELECT id FROM messages WHERE server_id = ?`, serverID).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(`
				UPDATE messages SET server_id = ?, status = ?, sync_status = ?, updated_at = ?
				WHERE temp_id = ? AND server_id IS NULL`,
				serverID, string(StatusSent), string(SyncSynced), now, tempID); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.Exec(`
				DELETE FROM messages WHERE temp_id = ? AND server_id IS NULL`, tempID); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				UPDATE messages SET temp_id = ?, updated_at = ? WHERE id = ?`,
				tempID, now, existing); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM message_outbox WHERE temp_id = ?`, tempID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE conversations SET
				last_message_id = CASE WHEN last_message_id = '' THEN ? ELSE last_message_id END,
				updated_at = ?
			WHERE id = (SELECT conversation_id FROM messages WHERE temp_id = ?)`,
			serverID, now, tempID); err != nil {
			return err
		}
		promoted = true
		return nil
	})
	return promoted, err
}

// MarkMessageFailed flips a locally composed message to "failed" so the UI
// can offer a retry affordance. The diagnostic lives on the outbox entry.
func (db *DB) MarkMessageFailed(tempID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?, updated_at = ? WHERE temp_id = ?`,
		string(StatusFailed), nowMillis(), tempID)
	return classify(err)
}

// ApplyReaction adds userID to the reaction set for emoji on a confirmed
// message. Reacting twice, or to a message not yet in the cache, is a no-op.
func (db *DB) ApplyReaction(serverID, emoji, userID string) error {
	return db.withTx(func(tx *sql.Tx) error {
		raw, err := readReactions(tx, serverID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		reactions := decodeReactions(raw)
		if reactions == nil {
			reactions = map[string][]string{}
		}
		if slices.Contains(reactions[emoji], userID) {
			return nil
		}
		reactions[emoji] = append(reactions[emoji], userID)
		return writeReactions(tx, serverID, reactions)
	})
}

// RemoveReaction removes userID from the reaction set for emoji; the emoji
// key disappears with its last user.
func (db *DB) RemoveReaction(serverID, emoji, userID string) error {
	return db.withTx(func(tx *sql.Tx) error {
		raw, err := readReactions(tx, serverID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		reactions := decodeReactions(raw)
		users := reactions[emoji]
		i := slices.Index(users, userID)
		if i < 0 {
			return nil
		}
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(reactions, emoji)
		} else {
			reactions[emoji] = users
		}
		return writeReactions(tx, serverID, reactions)
	})
}

func readReactions(tx *sql.Tx, serverID string) (string, error) {
	var raw string
	err := tx.QueryRow(`SELECT reactions FROM messages WHERE server_id = ?`, serverID).Scan(&raw)
	return raw, err
}

func writeReactions(tx *sql.Tx, serverID string, reactions map[string][]string) error {
	_, err := tx.Exec(`
		UPDATE messages SET reactions = ?, updated_at = ? WHERE server_id = ?`,
		jsonReactions(reactions), nowMillis(), serverID)
	return err
}

// SoftDelete tombstones a message the UI may already be rendering: the row
// stays addressable (replies keep resolving) but its payload is gone.
func (db *DB) SoftDelete(serverID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_deleted = 1, content = '', media_urls = '[]', updated_at = ?
		WHERE server_id = ?`, nowMillis(), serverID)
	return classify(err)
}

// GetMessageByServerID returns a confirmed message, or nil when absent.
func (db *DB) GetMessageByServerID(serverID string) (*Message, error) {
	return db.getMessage(`server_id = ?`, serverID)
}

// GetMessageByTempID returns a locally composed message by its correlation
// id, or nil when absent. Promoted messages remain reachable this way.
func (db *DB) GetMessageByTempID(tempID string) (*Message, error) {
	return db.getMessage(`temp_id = ?`, tempID)
}

func (db *DB) getMessage(where string, arg any) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var msgType, status, syncStatus, mediaURLs, metadata, reactions string
	if err := r.Scan(&m.Seq, &m.ServerID, &m.TempID, &m.ConversationID, &m.SenderID,
		&msgType, &m.Content, &mediaURLs, &metadata, &status, &reactions, &m.ReplyToID,
		&m.IsDeleted, &syncStatus, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Type = MessageType(msgType)
	m.Status = MessageStatus(status)
	m.SyncStatus = SyncStatus(syncStatus)
	m.MediaURLs = decodeStrings(mediaURLs)
	m.Metadata = decodeStringMap(metadata)
	m.Reactions = decodeReactions(reactions)
	return &m, nil
}
