package store

import (
	"database/sql"
	"strings"
)

// LoadOlder returns the next window of history for a conversation, walking
// backward from the stored cursor in (created_at, id) order — the composite
// key breaks timestamp ties deterministically, which keyset pagination needs
// for correctness. The page read, the cursor advance and the has-more update
// run in one transaction, so a message arriving mid-page can never shift the
// window. A short page flips has_more_messages to false; it only goes true
// again through ResetPagination.
func (db *DB) LoadOlder(conversationID string, pageSize int) ([]Message, bool, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	var page []Message
	hasMore := false
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO pagination_metadata (conversation_id) VALUES (?)`,
			conversationID); err != nil {
			return err
		}
		var cursor int64
		var more bool
		if err := tx.QueryRow(`
			SELECT oldest_message_id, has_more_messages FROM pagination_metadata
			WHERE conversation_id = ?`, conversationID).Scan(&cursor, &more); err != nil {
			return err
		}

		query := `SELECT ` + messageCols + ` FROM messages WHERE conversation_id = ?`
		args := []any{conversationID}
		if cursor != 0 {
			var cursorAt int64
			err := tx.QueryRow(`SELECT created_at FROM messages WHERE id = ?`, cursor).Scan(&cursorAt)
			switch {
			case err == sql.ErrNoRows:
				// Cursor row cascaded away with its conversation epoch;
				// restart from the newest message.
			case err != nil:
				return err
			default:
				query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
				args = append(args, cursorAt, cursorAt, cursor)
			}
		}
		query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = append(args, pageSize)

		rows, err := tx.Query(query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			page = append(page, *m)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		hasMore = more && len(page) >= pageSize
		newCursor := cursor
		if len(page) > 0 {
			newCursor = page[len(page)-1].Seq
		}
		_, err = tx.Exec(`
			UPDATE pagination_metadata SET oldest_message_id = ?, has_more_messages = ?
			WHERE conversation_id = ?`, newCursor, hasMore, conversationID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return page, hasMore, nil
}

// ReportSyncWindow records the outcome of one remote history fetch: rows the
// server confirmed flip to synced, last_sync_at is stamped, and on exhaustion
// has_more_messages goes false. The flag is never reset to true here — a
// shorter-than-requested page caused by a server-side delete must not
// resurrect exhausted history.
func (db *DB) ReportSyncWindow(conversationID string, fetchedServerIDs []string, exhausted bool) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO pagination_metadata (conversation_id) VALUES (?)`,
			conversationID); err != nil {
			return err
		}
		if len(fetchedServerIDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fetchedServerIDs)), ",")
			args := make([]any, 0, len(fetchedServerIDs)+2)
			args = append(args, string(SyncSynced), conversationID)
			for _, id := range fetchedServerIDs {
				args = append(args, id)
			}
			if _, err := tx.Exec(`
				UPDATE messages SET sync_status = ?
				WHERE conversation_id = ? AND server_id IN (`+placeholders+`)`, args...); err != nil {
				return err
			}
		}
		query := `
			UPDATE pagination_metadata SET
				last_sync_at = ?,
				total_messages_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = ?)`
		if exhausted {
			query += `, has_more_messages = 0`
		}
		query += ` WHERE conversation_id = ?`
		_, err := tx.Exec(query, nowMillis(), conversationID, conversationID)
		return err
	})
}

// ResetPagination reopens history after the server explicitly reports new
// availability for the conversation.
func (db *DB) ResetPagination(conversationID string) error {
	_, err := db.Exec(`
		UPDATE pagination_metadata SET oldest_message_id = 0, has_more_messages = 1
		WHERE conversation_id = ?`, conversationID)
	return classify(err)
}

// GetPagination returns the cursor state for a conversation, or nil when it
// has never been paginated or synced.
func (db *DB) GetPagination(conversationID string) (*PaginationMetadata, error) {
	var p PaginationMetadata
	err := db.QueryRow(`
		SELECT conversation_id, oldest_message_id, has_more_messages, last_sync_at, total_messages_count
		FROM pagination_metadata WHERE conversation_id = ?`, conversationID).
		Scan(&p.ConversationID, &p.OldestMessageSeq, &p.HasMoreMessages, &p.LastSyncAt, &p.TotalMessagesCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}
