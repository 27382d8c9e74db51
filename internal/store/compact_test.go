package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"lightcask/internal/segment"

	"github.com/google/go-cmp/cmp"
)

func fillWithGarbage(t *testing.T, s *Store, rounds int) map[string]string {
	t.Helper()
	want := make(map[string]string)
	for r := 0; r < rounds; r++ {
		for i := 0; i < 20; i++ {
			key := fmt.Sprintf("key-%02d", i)
			value := fmt.Sprintf("round-%d-value-%02d", r, i)
			mustPut(t, s, key, value)
			want[key] = value
		}
	}
	for i := 0; i < 20; i += 3 {
		key := fmt.Sprintf("key-%02d", i)
		if err := s.Delete([]byte(key)); err != nil {
			t.Fatal(err)
		}
		delete(want, key)
	}
	return want
}

func TestStore_CompactPreservesContents(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())

	want := fillWithGarbage(t, s, 10)
	before := s.Stats()

	if err := s.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	after := s.Stats()
	if after.TotalBytes >= before.TotalBytes {
		t.Errorf("TotalBytes = %d after compaction, want less than %d", after.TotalBytes, before.TotalBytes)
	}
	if after.LiveBytes != before.LiveBytes {
		t.Errorf("LiveBytes = %d, want unchanged %d", after.LiveBytes, before.LiveBytes)
	}
	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents after compaction (-want +got):\n%s", diff)
	}

	if got := len(segmentFiles(t, dir, segment.SEGMENT_EXT)); got != after.Segments {
		t.Errorf("segment files = %d, Stats().Segments = %d", got, after.Segments)
	}
	if got := segmentFiles(t, dir, segment.COMPACT_EXT); len(got) != 0 {
		t.Errorf("leftover compaction files: %v", got)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()
	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents after reopen (-want +got):\n%s", diff)
	}
	for i := 0; i < 20; i += 3 {
		mustMissing(t, s, fmt.Sprintf("key-%02d", i))
	}
}

func TestStore_CompactEmptyAndRepeated(t *testing.T) {
	s := openTestStore(t, t.TempDir(), testOptions())
	defer s.Close()

	if err := s.Compact(); err != nil {
		t.Fatalf("Compact() on empty store error = %v", err)
	}

	mustPut(t, s, "a", "1")
	if err := s.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if st := s.Stats(); st.LiveBytes != 0 || st.TotalBytes != 0 {
		t.Errorf("Stats() = %+v, want nothing left after compacting only garbage", st)
	}

	mustPut(t, s, "b", "2")
	for i := 0; i < 3; i++ {
		if err := s.Compact(); err != nil {
			t.Fatalf("Compact() #%d error = %v", i, err)
		}
	}
	mustGet(t, s, "b", "2")
	mustMissing(t, s, "a")
}

func TestStore_CompactWithConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())

	want := fillWithGarbage(t, s, 5)

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("key-%02d", i%25)
			value := fmt.Sprintf("concurrent-%d", i)

			mu.Lock()
			if i%7 == 0 {
				if err := s.Delete([]byte(key)); err != nil {
					t.Errorf("Delete() error = %v", err)
				}
				delete(want, key)
			} else {
				if err := s.Put([]byte(key), []byte(value)); err != nil {
					t.Errorf("Put() error = %v", err)
				}
				want[key] = value
			}
			mu.Unlock()
		}
	}()

	for i := 0; i < 3; i++ {
		if err := s.Compact(); err != nil {
			t.Errorf("Compact() error = %v", err)
		}
	}
	wg.Wait()

	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents after concurrent compaction (-want +got):\n%s", diff)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()
	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents after reopen (-want +got):\n%s", diff)
	}
}

func TestStore_OpenRemovesCompactionLeftovers(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())
	mustPut(t, s, "a", "1")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// an interrupted compaction leaves an unpromoted output behind
	leftover := segment.CompactPath(dir, 1)
	if err := os.WriteFile(leftover, []byte("half written"), 0644); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()

	mustGet(t, s, "a", "1")
	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("leftover %s still present, stat error = %v", leftover, err)
	}
}

func TestStore_CompactionRestartsFromPromotedOutput(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())
	want := fillWithGarbage(t, s, 4)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// a crash after promotion leaves both old segments and their rewritten copy;
	// reopening must replay them to the same state
	saved := make(map[string][]byte)
	for _, path := range segmentFiles(t, dir, segment.SEGMENT_EXT) {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		saved[path] = data
	}

	s = openTestStore(t, dir, testOptions())
	if err := s.Compact(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	for path, data := range saved {
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()
	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents (-want +got):\n%s", diff)
	}
}
