package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestCreateCheckpointLinksParent(t *testing.T) {
	m := NewManager(0, nil)
	intentID := uuid.New()

	first, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test", Reason: "initial"})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if first.Metadata.ParentCheckpoint != nil {
		t.Fatalf("first checkpoint should have no parent, got %v", first.Metadata.ParentCheckpoint)
	}

	second, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test", Reason: "second"})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if second.Metadata.ParentCheckpoint == nil || *second.Metadata.ParentCheckpoint != first.ID {
		t.Fatalf("expected second checkpoint's parent to be %s, got %v", first.ID, second.Metadata.ParentCheckpoint)
	}
}

func TestRetentionEviction(t *testing.T) {
	m := NewManager(2, nil)
	intentID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		cp, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test"})
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
		ids = append(ids, cp.ID)
	}

	if _, ok := m.Get(ids[0]); ok {
		t.Fatal("expected oldest checkpoint to be evicted once retention exceeded")
	}
	if _, ok := m.Get(ids[2]); !ok {
		t.Fatal("expected newest checkpoint to still be retained")
	}
	if len(m.History()) != 2 {
		t.Fatalf("expected history length 2, got %d", len(m.History()))
	}
}

func TestRollbackToRestoresStateAndTruncatesHistory(t *testing.T) {
	m := NewManager(0, nil)
	intentID := uuid.New()

	m.UpdateState(func(s *StateSnapshot) { s.Variables["phase"] = "one" })
	cp1, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test"})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	m.UpdateState(func(s *StateSnapshot) { s.Variables["phase"] = "two" })
	if _, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test"}); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	if err := m.RollbackTo(cp1.ID); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	if got := m.CurrentState().Variables["phase"]; got != "one" {
		t.Fatalf("expected restored phase 'one', got %q", got)
	}
	if len(m.History()) != 1 {
		t.Fatalf("expected history truncated to 1 entry after rollback, got %d", len(m.History()))
	}
}

func TestSimilarity(t *testing.T) {
	a := NewStateSnapshot()
	a.Variables["x"] = "1"
	b := NewStateSnapshot()
	b.Variables["x"] = "1"

	if sim := Similarity(a, b); sim != 1.0 {
		t.Fatalf("expected identical snapshots to have similarity 1.0, got %f", sim)
	}

	b.Variables["x"] = "2"
	if sim := Similarity(a, b); sim >= 1.0 {
		t.Fatalf("expected differing snapshots to have similarity < 1.0, got %f", sim)
	}

	empty1, empty2 := NewStateSnapshot(), NewStateSnapshot()
	if sim := Similarity(empty1, empty2); sim != 1.0 {
		t.Fatalf("expected two empty snapshots to have similarity 1.0, got %f", sim)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	m := NewManager(0, nil)
	intentID := uuid.New()
	if _, err := m.CreateCheckpoint(intentID, nil, Metadata{Creator: "test"}); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	data, err := m.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	m2 := NewManager(0, nil)
	if err := m2.Import(data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(m2.History()) != 1 {
		t.Fatalf("expected imported history length 1, got %d", len(m2.History()))
	}
}

func TestFileRollbackHandlerRemovesNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "created.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	handler := NewFileRollbackHandler(dir)
	cp := Checkpoint{
		SafeRollback: true,
		State: StateSnapshot{
			Files: map[string]FileState{
				"created.txt": {Path: "created.txt", Existed: false},
			},
		},
	}

	if err := handler.Rollback(cp); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
}
