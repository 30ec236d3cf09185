package store

import (
	"database/sql"
	"math/rand"
	"time"
)

// BackoffPolicy controls outbox retry scheduling.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
	Jitter     float64 // fraction of the delay added on top, 0..1
}

// DefaultBackoff retries after 2s, 4s, 8s, ... capped at 5 minutes, giving up
// on automatic retries after 8 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:       2 * time.Second,
		Cap:        5 * time.Minute,
		MaxRetries: 8,
		Jitter:     0.2,
	}
}

// Delay returns the wait after the retries-th failed attempt. Jitter spreads
// retries across conversations but only ever adds to the exponential delay,
// so consecutive delays stay non-decreasing until the cap.
func (p BackoffPolicy) Delay(retries int) time.Duration {
	d := p.Base
	for i := 1; i < retries && d < p.Cap; i++ {
		d *= 2
	}
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
		if d > p.Cap {
			d = p.Cap
		}
	}
	return d
}

const outboxCols = `temp_id, conversation_id, content, msg_type, media_local_path,
	status, retry_count, last_error, last_retry_at, created_at`

// DequeueDue returns entries eligible for a send attempt at now: fresh
// pending rows, plus failed rows whose backoff window has elapsed. Cancelled
// and terminally failed rows are excluded. Oldest first, at most limit.
func (db *DB) DequeueDue(now time.Time, policy BackoffPolicy, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := db.Query(`
		SELECT `+outboxCols+` FROM message_outbox
		WHERE status = ? OR (status = ? AND retry_count < ?)
		ORDER BY created_at ASC`,
		string(OutboxPending), string(OutboxFailed), policy.MaxRetries)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var due []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, classify(err)
		}
		if e.Status == OutboxFailed {
			next := time.UnixMilli(e.LastRetryAt).Add(policy.Delay(e.RetryCount))
			if next.After(now) {
				continue
			}
		}
		due = append(due, *e)
		if len(due) == limit {
			break
		}
	}
	return due, classify(rows.Err())
}

// ClaimSending moves an entry to "sending" before it is handed to the
// transport. The compare-and-set keeps two drain loops from sending the same
// entry concurrently; false means another loop owns it or it is gone.
func (db *DB) ClaimSending(tempID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE message_outbox SET status = ? WHERE temp_id = ? AND status IN (?, ?)`,
		string(OutboxSending), tempID, string(OutboxPending), string(OutboxFailed))
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// MarkSendFailed records a failed attempt: retry bookkeeping on the outbox
// entry and a visible "failed" status on the message, in one transaction.
// Entries past the retry budget are kept, not deleted — the user decides
// between RetryOutbox and DiscardOutbox. Returns false without touching the
// message when the entry is already gone (promoted or discarded) or was
// cancelled mid-flight: a late transport failure must not undo either
// outcome.
func (db *DB) MarkSendFailed(tempID, sendErr string) (bool, error) {
	marked := false
	err := db.withTx(func(tx *sql.Tx) error {
		now := nowMillis()
		res, err := tx.Exec(`
			UPDATE message_outbox SET status = ?, retry_count = retry_count + 1, last_error = ?, last_retry_at = ?
			WHERE temp_id = ? AND status != ?`,
			string(OutboxFailed), sendErr, now, tempID, string(OutboxCancelled))
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
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, updated_at = ? WHERE temp_id = ?`,
			string(StatusFailed), now, tempID); err != nil {
			return err
		}
		marked = true
		return nil
	})
	return marked, err
}

// CancelSend moves a queued or in-flight entry to "cancelled" at the user's
// request. The entry is kept rather than deleted: a success confirmation
// racing the cancellation finds it cancelled and Promote drops the ack.
// Returns false without touching the message when the entry is already gone,
// typically because the confirmation won the race — a delivered message must
// never flip back to failed.
func (db *DB) CancelSend(tempID string) (bool, error) {
	cancelled := false
	err := db.withTx(func(tx *sql.Tx) error {
		now := nowMillis()
		res, err := tx.Exec(`
			UPDATE message_outbox SET status = ?, last_retry_at = ?
			WHERE temp_id = ?`, string(OutboxCancelled), now, tempID)
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
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, updated_at = ? WHERE temp_id = ?`,
			string(StatusFailed), now, tempID); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

// RetryOutbox re-queues a failed or cancelled entry at the user's request,
// clearing the automatic-retry bookkeeping. Returns false without touching
// the message when no such entry remains to retry — a discarded or already
// delivered send stays settled.
func (db *DB) RetryOutbox(tempID string) (bool, error) {
	requeued := false
	err := db.withTx(func(tx *sql.Tx) error {
		now := nowMillis()
		res, err := tx.Exec(`
			UPDATE message_outbox SET status = ?, retry_count = 0, last_error = '', last_retry_at = 0
			WHERE temp_id = ? AND status IN (?, ?)`,
			string(OutboxPending), tempID, string(OutboxFailed), string(OutboxCancelled))
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
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, updated_at = ? WHERE temp_id = ?`,
			string(StatusSending), now, tempID); err != nil {
			return err
		}
		requeued = true
		return nil
	})
	return requeued, err
}

// DiscardOutbox drops an entry the user gave up on. The message row stays
// visible with its content intact and failed status.
func (db *DB) DiscardOutbox(tempID string) error {
	_, err := db.Exec(`DELETE FROM message_outbox WHERE temp_id = ?`, tempID)
	return classify(err)
}

// ResetInflight re-queues entries stuck in "sending" after a crash, so a
// fresh drain loop picks them up again. At-least-once delivery makes the
// possible duplicate send safe: the server deduplicates by temp id.
func (db *DB) ResetInflight() (int64, error) {
	res, err := db.Exec(`
		UPDATE message_outbox SET status = ? WHERE status = ?`,
		string(OutboxPending), string(OutboxSending))
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// ListOutbox returns queued entries for one conversation, or the whole queue
// when conversationID is empty. Oldest first.
func (db *DB) ListOutbox(conversationID string) ([]OutboxEntry, error) {
	query := `SELECT ` + outboxCols + ` FROM message_outbox`
	var args []any
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at ASC`
	return db.queryOutbox(query, args...)
}

// TerminallyFailed lists entries that exhausted automatic retries or were
// cancelled, now waiting for an explicit user decision.
func (db *DB) TerminallyFailed(policy BackoffPolicy) ([]OutboxEntry, error) {
	return db.queryOutbox(`
		SELECT `+outboxCols+` FROM message_outbox
		WHERE (status = ? AND retry_count >= ?) OR status = ?
		ORDER BY created_at ASC`,
		string(OutboxFailed), policy.MaxRetries, string(OutboxCancelled))
}

func (db *DB) queryOutbox(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, classify(err)
		}
		entries = append(entries, *e)
	}
	return entries, classify(rows.Err())
}

func scanOutbox(r rowScanner) (*OutboxEntry, error) {
	var e OutboxEntry
	var msgType, status string
	if err := r.Scan(&e.TempID, &e.ConversationID, &e.Content, &msgType, &e.MediaLocalPath,
		&status, &e.RetryCount, &e.LastError, &e.LastRetryAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = MessageType(msgType)
	e.Status = OutboxStatus(status)
	return &e, nil
}
