package store

import (
	"testing"
	"time"
)

func queueEntry(t *testing.T, db *DB, tempID string) {
	t.Helper()
	seedConversation(t, db, "c1")
	if _, err := db.QueueOutgoing(&Message{TempID: tempID, ConversationID: "c1", Content: "x"}, ""); err != nil {
		t.Fatal(err)
	}
}

// TestBackoffDelayMonotonic verifies the exponential schedule: delays never
// decrease from one retry to the next and never exceed the cap, jitter
// included.
func TestBackoffDelayMonotonic(t *testing.T) {
	p := BackoffPolicy{Base: 2 * time.Second, Cap: 5 * time.Minute, MaxRetries: 8, Jitter: 0.2}

	if d := p.Delay(1); d < 2*time.Second {
		t.Errorf("first retry delay = %v, want >= base", d)
	}
	for retries := 1; retries <= 12; retries++ {
		d := p.Delay(retries)
		if d > p.Cap {
			t.Errorf("Delay(%d) = %v exceeds cap %v", retries, d, p.Cap)
		}
		// Jitter only adds: the floor of the next delay is at least the
		// unjittered current one.
		floorNext := BackoffPolicy{Base: p.Base, Cap: p.Cap, MaxRetries: p.MaxRetries}.Delay(retries + 1)
		unjittered := BackoffPolicy{Base: p.Base, Cap: p.Cap, MaxRetries: p.MaxRetries}.Delay(retries)
		if floorNext < unjittered {
			t.Errorf("unjittered schedule decreased: Delay(%d)=%v > Delay(%d)=%v",
				retries, unjittered, retries+1, floorNext)
		}
	}
}

func TestBackoffDelayNoJitterExact(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: 10 * time.Second, MaxRetries: 8}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if d := p.Delay(i + 1); d != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, d, w)
		}
	}
}

func TestDequeueDueEligibility(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "c1")
	policy := BackoffPolicy{Base: time.Minute, Cap: time.Hour, MaxRetries: 3}

	for _, id := range []string{"t-pending", "t-backoff", "t-exhausted", "t-cancelled", "t-inflight"} {
		if _, err := db.QueueOutgoing(&Message{TempID: id, ConversationID: "c1", Content: id}, ""); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh failure: due only after the backoff window passes.
	if _, err := db.MarkSendFailed("t-backoff", "network unreachable"); err != nil {
		t.Fatal(err)
	}
	// Past the retry budget.
	for i := 0; i < policy.MaxRetries; i++ {
		if _, err := db.MarkSendFailed("t-exhausted", "still down"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.CancelSend("t-cancelled"); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.ClaimSending("t-inflight"); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	due, err := db.DequeueDue(time.Now(), policy, 0)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, e := range due {
		ids[e.TempID] = true
	}
	if !ids["t-pending"] {
		t.Error("pending entry missing from due set")
	}
	if ids["t-backoff"] {
		t.Error("entry inside its backoff window dequeued early")
	}
	if ids["t-exhausted"] {
		t.Error("entry past the retry budget dequeued")
	}
	if ids["t-cancelled"] {
		t.Error("cancelled entry dequeued")
	}
	if ids["t-inflight"] {
		t.Error("in-flight entry dequeued")
	}

	// Once the window elapses the failed entry becomes due.
	due, err = db.DequeueDue(time.Now().Add(policy.Cap+time.Second), policy, 0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range due {
		if e.TempID == "t-backoff" {
			found = true
		}
	}
	if !found {
		t.Error("failed entry not due after its backoff window")
	}
}

func TestClaimSendingCompareAndSet(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")

	ok, err := db.ClaimSending("t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first claim refused")
	}

	ok, err = db.ClaimSending("t1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second claim succeeded on an in-flight entry")
	}

	ok, err = db.ClaimSending("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("claim succeeded on a missing entry")
	}
}

func TestMarkSendFailed(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")

	if marked, err := db.MarkSendFailed("t1", "timeout"); err != nil || !marked {
		t.Fatalf("marked=%v err=%v", marked, err)
	}
	if marked, err := db.MarkSendFailed("t1", "refused"); err != nil || !marked {
		t.Fatalf("marked=%v err=%v", marked, err)
	}

	entries, err := db.ListOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	e := entries[0]
	if e.Status != OutboxFailed || e.RetryCount != 2 || e.LastError != "refused" {
		t.Errorf("entry = %+v, want failed with retry_count 2 and last_error refused", e)
	}
	if e.LastRetryAt == 0 {
		t.Error("last_retry_at not stamped")
	}

	m, err := db.GetMessageByTempID("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusFailed {
		t.Errorf("message status = %s, want failed", m.Status)
	}
}

func TestRetryOutboxRequeues(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")
	if _, err := db.CancelSend("t1"); err != nil {
		t.Fatal(err)
	}

	requeued, err := db.RetryOutbox("t1")
	if err != nil {
		t.Fatal(err)
	}
	if !requeued {
		t.Fatal("retry of a cancelled entry reported as no-op")
	}

	entries, err := db.ListOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	e := entries[0]
	if e.Status != OutboxPending || e.RetryCount != 0 || e.LastError != "" {
		t.Errorf("entry = %+v, want clean pending entry", e)
	}

	m, err := db.GetMessageByTempID("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusSending {
		t.Errorf("message status = %s, want sending", m.Status)
	}
}

func TestDiscardOutboxKeepsMessage(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")
	if _, err := db.MarkSendFailed("t1", "gone"); err != nil {
		t.Fatal(err)
	}

	if err := db.DiscardOutbox("t1"); err != nil {
		t.Fatal(err)
	}

	entries, err := db.ListOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("outbox still has %d entries after discard", len(entries))
	}

	m, err := db.GetMessageByTempID("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("discard removed the message row")
	}
	if m.Status != StatusFailed || m.Content != "x" {
		t.Errorf("message = %+v, want failed with content intact", m)
	}
}

func TestResetInflight(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")
	seedConversation(t, db, "c1")
	if _, err := db.QueueOutgoing(&Message{TempID: "t2", ConversationID: "c1", Content: "y"}, ""); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.ClaimSending("t1"); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	n, err := db.ResetInflight()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("reset %d entries, want 1", n)
	}

	entries, err := db.ListOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Status != OutboxPending {
			t.Errorf("entry %s status = %s after reset, want pending", e.TempID, e.Status)
		}
	}
}

// TestCancelAfterPromoteIsNoOp verifies the cancel side of the
// cancel/confirm race: once the confirmation has promoted the message, a
// late cancel must not flip the delivered message back to failed.
func TestCancelAfterPromoteIsNoOp(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")

	if ok, err := db.ClaimSending("t1"); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}
	if promoted, err := db.Promote("t1", "m42"); err != nil || !promoted {
		t.Fatalf("promoted=%v err=%v", promoted, err)
	}

	cancelled, err := db.CancelSend("t1")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled {
		t.Error("cancel of a settled send reported as applied")
	}

	m, err := db.GetMessageByServerID("m42")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusSent {
		t.Errorf("delivered message status = %s after late cancel, want sent", m.Status)
	}
}

// TestRetryAfterDiscardIsNoOp verifies that retrying a discarded entry does
// not flip its message back to sending with no outbox row left to drain.
func TestRetryAfterDiscardIsNoOp(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")

	if _, err := db.MarkSendFailed("t1", "down"); err != nil {
		t.Fatal(err)
	}
	if err := db.DiscardOutbox("t1"); err != nil {
		t.Fatal(err)
	}

	requeued, err := db.RetryOutbox("t1")
	if err != nil {
		t.Fatal(err)
	}
	if requeued {
		t.Error("retry of a discarded entry reported as applied")
	}

	m, err := db.GetMessageByTempID("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusFailed {
		t.Errorf("discarded message status = %s after retry, want failed", m.Status)
	}
}

// TestMarkSendFailedKeepsCancelled verifies that a transport failure landing
// after the user cancelled does not pull the entry back into automatic retry.
func TestMarkSendFailedKeepsCancelled(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")

	if _, err := db.CancelSend("t1"); err != nil {
		t.Fatal(err)
	}
	marked, err := db.MarkSendFailed("t1", "timeout")
	if err != nil {
		t.Fatal(err)
	}
	if marked {
		t.Error("late failure overwrote a cancelled entry")
	}

	entries, err := db.ListOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Status != OutboxCancelled {
		t.Errorf("entry status = %s, want cancelled", entries[0].Status)
	}

	// And against a settled send.
	queueEntry(t, db, "t2")
	if _, err := db.Promote("t2", "m2"); err != nil {
		t.Fatal(err)
	}
	if marked, err := db.MarkSendFailed("t2", "timeout"); err != nil || marked {
		t.Errorf("marked=%v err=%v for a settled send, want no-op", marked, err)
	}
	m, err := db.GetMessageByServerID("m2")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusSent {
		t.Errorf("settled message status = %s, want sent", m.Status)
	}
}

// TestCancellationIsStatusNotErrorText verifies that a transport error whose
// message happens to read "cancelled" stays in automatic retry; only the
// cancelled status excludes an entry.
func TestCancellationIsStatusNotErrorText(t *testing.T) {
	db := testDB(t)
	queueEntry(t, db, "t1")
	policy := BackoffPolicy{Base: time.Minute, Cap: time.Hour, MaxRetries: 3}

	if _, err := db.MarkSendFailed("t1", "cancelled"); err != nil {
		t.Fatal(err)
	}

	due, err := db.DequeueDue(time.Now().Add(policy.Cap+time.Second), policy, 0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range due {
		if e.TempID == "t1" {
			found = true
		}
	}
	if !found {
		t.Error("entry excluded from retry because of its error text")
	}
}

func TestTerminallyFailed(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "c1")
	policy := BackoffPolicy{Base: time.Second, Cap: time.Minute, MaxRetries: 2}

	for _, id := range []string{"t-exhausted", "t-cancelled", "t-retrying"} {
		if _, err := db.QueueOutgoing(&Message{TempID: id, ConversationID: "c1", Content: id}, ""); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < policy.MaxRetries; i++ {
		if _, err := db.MarkSendFailed("t-exhausted", "down"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.CancelSend("t-cancelled"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkSendFailed("t-retrying", "flaky"); err != nil {
		t.Fatal(err)
	}

	failed, err := db.TerminallyFailed(policy)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, e := range failed {
		ids[e.TempID] = true
	}
	if !ids["t-exhausted"] || !ids["t-cancelled"] {
		t.Errorf("terminal set = %v, want exhausted and cancelled entries", ids)
	}
	if ids["t-retrying"] {
		t.Error("entry with retries left reported as terminal")
	}
}
