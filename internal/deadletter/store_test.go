package deadletter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

func TestRecordAndListForRun(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "dead.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	task := taskqueue.Task{ID: "st-0", Attempts: 3, Status: taskqueue.StatusFailed}
	if err := store.Record(context.Background(), "run-1", task, "exhausted"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(context.Background(), "run-2", task, "exhausted"); err != nil {
		t.Fatalf("record other run: %v", err)
	}

	entries, err := store.ListForRun("run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "st-0" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
