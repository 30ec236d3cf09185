package store

import (
	"testing"
)

func TestMaintenanceRoutines(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "c1")
	if _, err := db.InsertIncoming(&Message{ServerID: "m1", ConversationID: "c1", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	if err := db.CheckpointWAL(); err != nil {
		t.Errorf("CheckpointWAL: %v", err)
	}
	if err := db.VacuumIncremental(); err != nil {
		t.Errorf("VacuumIncremental: %v", err)
	}
	if err := db.Optimize(); err != nil {
		t.Errorf("Optimize: %v", err)
	}

	// The database stays usable afterwards.
	m, err := db.GetMessageByServerID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Error("message lost across maintenance")
	}
}
