package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; running it again must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (core + outbox/cache)", result.Version)
	}
	if result.Dirty {
		t.Error("migration left the schema dirty")
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migrations create every
// column the store operations depend on, including the v2 outbox and cache
// tables on top of the v1 core.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert conversation", "INSERT INTO conversations (id, conv_type, participant_ids, name, unread_count, last_message_at, sync_status) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{"c1", "direct", `["u1","u2"]`, "Test", 0, 1000, "synced"}},
		{"insert message", "INSERT INTO messages (server_id, conversation_id, sender_id, msg_type, content, status, reactions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", []any{"m1", "c1", "u2", "text", "hello", "delivered", "{}", 1000}},
		{"insert pagination row", "INSERT INTO pagination_metadata (conversation_id, oldest_message_id, has_more_messages) VALUES (?, ?, ?)", []any{"c1", 0, 1}},
		{"insert outbox entry", "INSERT INTO message_outbox (temp_id, conversation_id, content, msg_type, status, created_at) VALUES (?, ?, ?, ?, ?, ?)", []any{"t1", "c1", "hi", "text", "pending", 1000}},
		{"insert cache metadata", "INSERT INTO cache_metadata (cache_key, cached_at, ttl_seconds) VALUES (?, ?, ?)", []any{"categories", 1000, 60}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := testDB(t)

	// A message for an unknown conversation must be rejected.
	_, err := db.InsertIncoming(&Message{ServerID: "m1", ConversationID: "nope"})
	if err == nil {
		t.Fatal("expected constraint violation for unknown conversation")
	}
	var cv *ConstraintViolation
	if !errors.As(err, &cv) {
		t.Errorf("expected ConstraintViolation, got %T: %v", err, err)
	}
}

func TestOpenReportsJournalMode(t *testing.T) {
	db := testDB(t)
	mode := db.JournalMode()
	if mode != "wal" && mode != "delete" {
		t.Errorf("journal mode = %q, want wal or delete", mode)
	}
}

// TestOpenCapsPageCache verifies the connect hook applies the page-cache cap
// on pooled connections, not just the one that ran Open's setup.
func TestOpenCapsPageCache(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 4; i++ {
		var size int64
		if err := db.QueryRow(`PRAGMA cache_size`).Scan(&size); err != nil {
			t.Fatal(err)
		}
		if size != -2048 {
			t.Fatalf("cache_size = %d, want -2048", size)
		}
	}
}
