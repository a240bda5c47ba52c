package store_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/ratchet/internal/harness"
	"github.com/signalnine/ratchet/internal/store"
)

func TestBackupNaming(t *testing.T) {
	dir := t.TempDir()
	s := store.ForAgent(dir)
	s.SetClock(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 89, time.UTC) })
	os.WriteFile(s.LivePath, []byte("v1"), 0o644)

	e, err := s.Backup()
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(e.Path); got != "agent_20260304T050607.000000089Z.star" {
		t.Errorf("backup name = %q", got)
	}
	// Same instant again must not overwrite.
	e2, err := s.Backup()
	if err != nil {
		t.Fatal(err)
	}
	if e2.Path == e.Path {
		t.Error("second backup overwrote the first")
	}
}

func TestBackupWithoutLive(t *testing.T) {
	s := store.ForConfig(t.TempDir())
	e, err := s.Backup()
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsZero() {
		t.Errorf("expected zero entry, got %+v", e)
	}
}

func TestRestoreLatestPicksNewestByName(t *testing.T) {
	dir := t.TempDir()
	s := store.ForConfig(dir)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	for _, v := range []string{"a", "b", "c"} {
		os.WriteFile(s.LivePath, []byte(v), 0o644)
		if _, err := s.Backup(); err != nil {
			t.Fatal(err)
		}
		clock = clock.Add(time.Second)
	}
	// Touch the oldest so mtime ordering would disagree.
	hist, _ := s.History()
	future := time.Now().Add(time.Hour)
	os.Chtimes(hist[0].Path, future, future)

	os.WriteFile(s.LivePath, []byte("broken"), 0o644)
	e, ok, err := s.RestoreLatest()
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	data, _ := os.ReadFile(s.LivePath)
	if string(data) != "c" {
		t.Errorf("restored %q from %s, want c", data, e.Path)
	}
}

func TestRestoreLatestEmptyHistory(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	_, ok, err := s.RestoreLatest()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("restore reported success with no history")
	}
}

func TestRevertSavesLiveFirst(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	os.WriteFile(s.LivePath, []byte("v1"), 0o644)
	if _, err := s.Backup(); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Second)
	os.WriteFile(s.LivePath, []byte("promoted"), 0o644)

	restored, saved, ok, err := s.Revert()
	if err != nil || !ok {
		t.Fatalf("revert: ok=%v err=%v", ok, err)
	}
	if live, _ := s.ReadLive(); string(live) != "v1" {
		t.Errorf("live = %q, want v1", live)
	}
	if data, _ := os.ReadFile(saved.Path); string(data) != "promoted" {
		t.Errorf("saved %q from %s, want the replaced live artifact", data, saved.Path)
	}
	if !saved.Created.After(restored.Created) {
		t.Errorf("saved %v not newer than restored %v", saved.Created, restored.Created)
	}
}

func TestRevertEmptyHistory(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	os.WriteFile(s.LivePath, []byte("only"), 0o644)
	_, _, ok, err := s.Revert()
	if err != nil || ok {
		t.Fatalf("revert: ok=%v err=%v", ok, err)
	}
	if hist, _ := s.History(); len(hist) != 0 {
		t.Errorf("revert without history created %d backups", len(hist))
	}
}

func TestRollbackIsByteIdentical(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	original := []byte("def Agent(env, config):\n    pass\n\x00\xff trailing")
	if err := s.WriteLive(original); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Backup(); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLive([]byte("candidate")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.RestoreLatest(); err != nil || !ok {
		t.Fatalf("restore: %v %v", ok, err)
	}
	got, err := s.ReadLive()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("restored %q, want %q", got, original)
	}
}

func TestHistoryIgnoresForeignFiles(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	os.MkdirAll(s.HistoryDir, 0o755)
	os.WriteFile(filepath.Join(s.HistoryDir, "notes.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(s.HistoryDir, "agent_garbageZ.star"), nil, 0o644)
	hist, err := s.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("got %d entries", len(hist))
	}
}

func TestReadLiveMissing(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	if _, err := s.ReadLive(); !errors.Is(err, store.ErrNoLiveArtifact) {
		t.Errorf("err = %v", err)
	}
}

func TestStageAndClear(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	path, err := s.StageCandidate("candidate_1", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, s.StagingDir) {
		t.Errorf("staged outside staging dir: %s", path)
	}
	os.MkdirAll(filepath.Join(s.StagingDir, harness.CacheDir), 0o755)
	os.WriteFile(filepath.Join(s.StagingDir, harness.CacheDir, "candidate_1.star.abcd.starc"), []byte("bc"), 0o644)

	if err := s.ClearStaged(); err != nil {
		t.Fatal(err)
	}
	names, err := s.Staged()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("staging not empty: %v", names)
	}
	if err := s.ClearStaged(); err != nil {
		t.Errorf("clearing an empty area: %v", err)
	}
}

func TestStageRejectsPathIDs(t *testing.T) {
	s := store.ForAgent(t.TempDir())
	for _, id := range []string{"", "../x", "a/b", ".."} {
		if _, err := s.StageCandidate(id, nil); err == nil {
			t.Errorf("id %q accepted", id)
		}
	}
}
