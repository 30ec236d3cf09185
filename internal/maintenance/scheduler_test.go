package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/offlinekit/chatcache/internal/store"
)

func testScheduler(t *testing.T) (*Scheduler, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return NewScheduler(db, time.Minute, zap.NewNop()), db
}

func TestRunOnce(t *testing.T) {
	s, db := testScheduler(t)

	if err := db.UpsertConversation(&store.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertIncoming(&store.Message{ServerID: "m1", ConversationID: "c1", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	s.RunOnce(context.Background())

	// All data survives a maintenance window.
	m, err := db.GetMessageByServerID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Error("message lost across maintenance window")
	}
}

func TestRunOnceHonorsCancelledContext(t *testing.T) {
	s, _ := testScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Must return promptly without running steps.
	s.RunOnce(ctx)
}

func TestStartStop(t *testing.T) {
	s, _ := testScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop()
}
