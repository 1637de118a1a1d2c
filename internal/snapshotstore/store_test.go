package snapshotstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metakv/metakv/internal/wire"
)

func TestStoreNewestWithNoSnapshots(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, found, err := s.Newest()
	if err != nil || found {
		t.Fatalf("Newest() on an empty store = found=%v err=%v, want found=false", found, err)
	}
}

func TestPendingSnapshotWriteCommitAndReadBack(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pending, err := s.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	records := []wire.Record{
		{DataHeader: &wire.DataHeaderRecord{Key: "header", Value: wire.HeaderValue{Version: "V003"}}},
		{GenericKV: &wire.GenericKVRecord{Key: "k", Value: wire.GenericKVVal{Seq: 1, Data: []byte("v")}}},
	}
	if err := pending.WriteEntries(records); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	id, size, err := pending.Commit("1-1-0")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if id != "1-1-0" || size == 0 {
		t.Fatalf("Commit() = %q, %d", id, size)
	}

	reader, found, err := s.Newest()
	if err != nil || !found {
		t.Fatalf("Newest() after commit = found=%v err=%v", found, err)
	}
	defer reader.Close()

	var kinds []string
	for reader.Next() {
		kinds = append(kinds, reader.Record().Kind())
	}
	if reader.Err() != nil {
		t.Fatalf("reader.Err() = %v", reader.Err())
	}
	if len(kinds) != 2 || kinds[0] != "DataHeader" || kinds[1] != "GenericKV" {
		t.Fatalf("read back kinds = %v, want [DataHeader GenericKV]", kinds)
	}
}

func TestStoreNewestPicksLexicallyGreatest(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, stem := range []string{"1-1-0", "1-2-0", "2-1-0"} {
		pending, err := s.NewWriter()
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if err := pending.WriteEntry(wire.Record{DataHeader: &wire.DataHeaderRecord{Key: "header"}}); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
		if _, _, err := pending.Commit(stem); err != nil {
			t.Fatalf("Commit(%s): %v", stem, err)
		}
	}

	reader, found, err := s.Newest()
	if err != nil || !found {
		t.Fatalf("Newest() = found=%v err=%v", found, err)
	}
	defer reader.Close()
	if got := filepath.Base(reader.file.Name()); got != "2-1-0.snap" {
		t.Fatalf("Newest() picked %q, want 2-1-0.snap", got)
	}
}

func TestPendingSnapshotDiscardRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pending, err := s.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	path := pending.path
	if err := pending.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Discard should remove the temp file, stat err = %v", err)
	}
}

func TestStoreSweepRemovesOldTempFilesOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pending, err := s.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tmpPath := pending.path
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(tmpPath, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	fresh, err := s.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := s.Sweep(time.Minute); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Fatalf("Sweep should have removed the stale temp file")
	}
	if _, err := os.Stat(fresh.path); err != nil {
		t.Fatalf("Sweep should keep a temp file younger than the grace period, stat err = %v", err)
	}
}

func TestParseIDStem(t *testing.T) {
	if err := ParseIDStem("1-2-3"); err != nil {
		t.Errorf("ParseIDStem(1-2-3) = %v, want nil", err)
	}
	if err := ParseIDStem("none-3"); err == nil {
		t.Errorf("ParseIDStem(none-3) should fail to parse 'none' as a uint, got nil")
	}
	if err := ParseIDStem("not-well-formed-at-all"); err == nil {
		t.Errorf("ParseIDStem should reject a stem with the wrong number of parts")
	}
}
