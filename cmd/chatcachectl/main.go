package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/offlinekit/chatcache/internal/cachedir"
	"github.com/offlinekit/chatcache/internal/config"
	"github.com/offlinekit/chatcache/internal/store"
)

func main() {
	dirFlag := flag.String("data-dir", "", "cache directory (default $CHATCACHE_DIR or ~/.chatcache)")
	limitFlag := flag.Int("limit", 0, "maximum rows to print (default: config page_size)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	dataDir := cachedir.Resolve(*dirFlag)
	cfg, err := config.Load(cachedir.ConfigPath(dataDir))
	if err != nil {
		fatalf("load config: %v", err)
	}
	limit := *limitFlag
	if limit <= 0 {
		limit = cfg.PageSize
	}

	db, err := store.Open(cachedir.DBPath(dataDir))
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer func() { _ = db.Close() }()
	result, err := db.Migrate()
	if err != nil {
		fatalf("migrate: %v", err)
	}

	switch args[0] {
	case "migrate":
		if result.Changed {
			fmt.Printf("migrated to version %d\n", result.Version)
		} else {
			fmt.Printf("up to date at version %d\n", result.Version)
		}
	case "conversations":
		cmdConversations(db, limit)
	case "messages":
		if len(args) < 2 {
			fatalf("usage: chatcachectl messages <conversation-id>")
		}
		cmdMessages(db, args[1], limit)
	case "outbox":
		cmdOutbox(db)
	case "failed":
		cmdFailed(db)
	case "retry":
		if len(args) < 2 {
			fatalf("usage: chatcachectl retry <temp-id>")
		}
		requeued, err := db.RetryOutbox(args[1])
		if err != nil {
			fatalf("retry: %v", err)
		}
		if !requeued {
			fatalf("no failed or cancelled entry for %s", args[1])
		}
		fmt.Printf("re-queued %s\n", args[1])
	case "discard":
		if len(args) < 2 {
			fatalf("usage: chatcachectl discard <temp-id>")
		}
		if err := db.DiscardOutbox(args[1]); err != nil {
			fatalf("discard: %v", err)
		}
		fmt.Printf("discarded %s\n", args[1])
	case "compact":
		cmdCompact(db)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatcachectl [--data-dir <dir>] [--limit <n>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  migrate              Apply pending schema migrations and report the version")
	fmt.Fprintln(os.Stderr, "  conversations        List cached conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv-id>   Page through a conversation's history")
	fmt.Fprintln(os.Stderr, "  outbox               Show the outgoing queue")
	fmt.Fprintln(os.Stderr, "  failed               Show terminally failed sends")
	fmt.Fprintln(os.Stderr, "  retry <temp-id>      Re-queue a failed send")
	fmt.Fprintln(os.Stderr, "  discard <temp-id>    Drop a failed send from the queue")
	fmt.Fprintln(os.Stderr, "  compact              Run a maintenance pass now")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdConversations(db *store.DB, limit int) {
	convs, err := db.ListConversations(limit, 0)
	if err != nil {
		fatalf("list conversations: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tUNREAD\tLAST MESSAGE")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.Type, c.Name, c.UnreadCount, formatMillis(c.LastMessageAt))
	}
	_ = w.Flush()
}

func cmdMessages(db *store.DB, conversationID string, limit int) {
	msgs, hasMore, err := db.LoadOlder(conversationID, limit)
	if err != nil {
		fatalf("load messages: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENDER\tSTATUS\tAT\tCONTENT")
	for _, m := range msgs {
		id := m.ServerID
		if id == "" {
			id = m.TempID
		}
		content := m.Content
		if m.IsDeleted {
			content = "(deleted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id, m.SenderID, m.Status, formatMillis(m.CreatedAt), content)
	}
	_ = w.Flush()
	if hasMore {
		fmt.Println("(older messages available)")
	}
}

func cmdOutbox(db *store.DB) {
	entries, err := db.ListOutbox("")
	if err != nil {
		fatalf("list outbox: %v", err)
	}
	printOutbox(entries)
}

func cmdFailed(db *store.DB) {
	entries, err := db.TerminallyFailed(store.DefaultBackoff())
	if err != nil {
		fatalf("list failed: %v", err)
	}
	printOutbox(entries)
}

func printOutbox(entries []store.OutboxEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEMP ID\tCONVERSATION\tSTATUS\tRETRIES\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.TempID, e.ConversationID, e.Status, e.RetryCount, e.LastError)
	}
	_ = w.Flush()
}

func cmdCompact(db *store.DB) {
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"wal_checkpoint", db.CheckpointWAL},
		{"incremental_vacuum", db.VacuumIncremental},
		{"optimize", db.Optimize},
	} {
		if err := step.fn(); err != nil {
			fatalf("%s: %v", step.name, err)
		}
		fmt.Printf("%s: ok\n", step.name)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
