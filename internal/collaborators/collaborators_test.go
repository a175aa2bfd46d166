package collaborators

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmguard/swarmctl/internal/taskqueue"
)

func TestFilesystemArtifactCheckNoTargetFiles(t *testing.T) {
	c := FilesystemArtifactCheck{Root: t.TempDir()}
	if c.HasArtifacts(context.Background(), taskqueue.Task{}) {
		t.Fatalf("expected no artifacts when task declares no target files")
	}
}

func TestFilesystemArtifactCheckFindsNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	c := FilesystemArtifactCheck{Root: dir}
	task := taskqueue.Task{TargetFiles: []string{"out.go"}}
	if !c.HasArtifacts(context.Background(), task) {
		t.Fatalf("expected artifacts to be detected")
	}
}

func TestFilesystemArtifactCheckIgnoresEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.go")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	c := FilesystemArtifactCheck{Root: dir}
	task := taskqueue.Task{TargetFiles: []string{"out.go"}}
	if c.HasArtifacts(context.Background(), task) {
		t.Fatalf("expected empty file not to count as an artifact")
	}
}
