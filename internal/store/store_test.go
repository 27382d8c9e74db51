package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"lightcask/internal/segment"

	"github.com/google/go-cmp/cmp"
)

func testOptions() Options {
	return Options{
		MaxSegmentBytes: 1024,
		SyncMode:        SyncNone,
	}
}

func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	s, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func mustPut(t *testing.T, s *Store, key, value string) {
	t.Helper()
	if err := s.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%q) error = %v", key, err)
	}
}

func mustGet(t *testing.T, s *Store, key, want string) {
	t.Helper()
	got, err := s.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	if string(got) != want {
		t.Errorf("Get(%q) = %q, want %q", key, got, want)
	}
}

func mustMissing(t *testing.T, s *Store, key string) {
	t.Helper()
	if _, err := s.Get([]byte(key)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(%q) error = %v, want ErrNotFound", key, err)
	}
}

func segmentFiles(t *testing.T, dir, ext string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(matches)
	return matches
}

func snapshot(t *testing.T, s *Store) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := s.Range(func(key, value []byte) error {
		got[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	return got
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t, t.TempDir(), testOptions())
	defer s.Close()

	mustMissing(t, s, "a")

	mustPut(t, s, "a", "1")
	mustGet(t, s, "a", "1")

	mustPut(t, s, "a", "2")
	mustGet(t, s, "a", "2")

	if err := s.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	mustMissing(t, s, "a")

	// deleting an absent key is accepted
	if err := s.Delete([]byte("never")); err != nil {
		t.Errorf("Delete(absent) error = %v, want nil", err)
	}

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStore_InvalidArguments(t *testing.T) {
	opts := testOptions()
	opts.MaxKeySize = 4
	opts.MaxValueSize = 8
	s := openTestStore(t, t.TempDir(), opts)
	defer s.Close()

	tests := []struct {
		name string
		args struct {
			key, value []byte
		}
		want error
	}{
		{
			name: "empty key",
			args: struct{ key, value []byte }{key: nil, value: []byte("v")},
			want: ErrEmptyKey,
		},
		{
			name: "key too large",
			args: struct{ key, value []byte }{key: []byte("12345"), value: []byte("v")},
			want: ErrKeyTooLarge,
		},
		{
			name: "value too large",
			args: struct{ key, value []byte }{key: []byte("k"), value: []byte("123456789")},
			want: ErrValueTooLarge,
		},
		{
			name: "empty value",
			args: struct{ key, value []byte }{key: []byte("k"), value: []byte{}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(tt.args.key, tt.args.value)
			if !errors.Is(err, tt.want) {
				t.Errorf("Put() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := s.Delete(nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Delete(nil) error = %v, want ErrEmptyKey", err)
	}
}

func TestStore_StrictDelete(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.StrictDelete = true
	s := openTestStore(t, dir, opts)
	defer s.Close()

	before := s.Stats().TotalBytes
	if err := s.Delete([]byte("ghost")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete(absent) error = %v, want ErrNotFound", err)
	}
	if after := s.Stats().TotalBytes; after != before {
		t.Errorf("TotalBytes = %d after rejected delete, want %d", after, before)
	}

	mustPut(t, s, "k", "v")
	if err := s.Delete([]byte("k")); err != nil {
		t.Errorf("Delete(present) error = %v", err)
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s := openTestStore(t, dir, testOptions())
	mustPut(t, s, "a", "1")
	mustPut(t, s, "b", "2")
	mustPut(t, s, "a", "3")
	if err := s.Delete([]byte("b")); err != nil {
		t.Fatal(err)
	}
	mustPut(t, s, "empty", "")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()

	mustGet(t, s, "a", "3")
	mustMissing(t, s, "b")
	mustGet(t, s, "empty", "")

	want := map[string]string{"a": "3", "empty": ""}
	if diff := cmp.Diff(want, snapshot(t, s)); diff != "" {
		t.Errorf("contents after reopen (-want +got):\n%s", diff)
	}
}

func TestStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())

	want := make(map[string]string)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := fmt.Sprintf("value-%03d-padding-padding", i)
		mustPut(t, s, key, value)
		want[key] = value
	}

	st := s.Stats()
	if st.Segments < 3 {
		t.Fatalf("Segments = %d, want rotation to have produced several", st.Segments)
	}
	if got := len(segmentFiles(t, dir, segment.SEGMENT_EXT)); got != st.Segments {
		t.Errorf("segment files = %d, Stats().Segments = %d", got, st.Segments)
	}

	for key, value := range want {
		mustGet(t, s, key, value)
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

func TestStore_FailedRotationKeepsWriting(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())

	// occupy the next segment's name so rotation cannot create it
	blocker := segment.Path(dir, 1)
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	big := strings.Repeat("x", 1100)
	if err := s.Put([]byte("big"), []byte(big)); err == nil {
		t.Fatal("Put() error = nil, want rotation failure")
	}
	mustGet(t, s, "big", big)

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	mustPut(t, s, "after", "1")
	if st := s.Stats(); st.Segments != 2 || st.ActiveSegment != 1 {
		t.Errorf("Stats() = %+v, want segment 0 sealed and 1 active", st)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()
	mustGet(t, s, "big", big)
	mustGet(t, s, "after", "1")
}

func TestStore_TornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())
	mustPut(t, s, "a", "1")
	mustPut(t, s, "b", "2")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir, segment.SEGMENT_EXT)
	last := files[len(files)-1]
	info, err := os.Stat(last)
	if err != nil {
		t.Fatal(err)
	}
	// cut the second record in half
	if err := os.Truncate(last, info.Size()-5); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	mustGet(t, s, "a", "1")
	mustMissing(t, s, "b")

	// the tail is gone, so new writes follow the last good record
	mustPut(t, s, "c", "3")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	defer s.Close()
	mustGet(t, s, "a", "1")
	mustGet(t, s, "c", "3")
}

func TestStore_CorruptionFailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		sabotage func(t *testing.T, files []string)
	}{
		{
			name: "flipped byte in middle of segment",
			sabotage: func(t *testing.T, files []string) {
				flipByte(t, files[len(files)-1], 9)
			},
		},
		{
			name: "torn tail in sealed segment",
			sabotage: func(t *testing.T, files []string) {
				info, err := os.Stat(files[0])
				if err != nil {
					t.Fatal(err)
				}
				if err := os.Truncate(files[0], info.Size()-3); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := openTestStore(t, dir, testOptions())
			for i := 0; i < 60; i++ {
				mustPut(t, s, fmt.Sprintf("k%02d", i), "some-value-to-fill-the-segment")
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}

			files := segmentFiles(t, dir, segment.SEGMENT_EXT)
			if len(files) < 2 {
				t.Fatalf("need at least two segments, got %d", len(files))
			}
			tt.sabotage(t, files)

			_, err := Open(dir, testOptions())
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Open() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestStore_DamagedNewestSegmentFailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		sabotage func(t *testing.T, path string, size int64)
	}{
		{
			name: "key length of first record",
			sabotage: func(t *testing.T, path string, _ int64) {
				flipByte(t, path, 3)
			},
		},
		{
			name: "value length of first record",
			sabotage: func(t *testing.T, path string, _ int64) {
				flipByte(t, path, 7)
			},
		},
		{
			name: "corrupt record ahead of a torn tail",
			sabotage: func(t *testing.T, path string, size int64) {
				flipByte(t, path, 9)
				if err := os.Truncate(path, size-3); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := openTestStore(t, dir, testOptions())
			for _, k := range []string{"a", "b", "c"} {
				mustPut(t, s, k, k)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}

			files := segmentFiles(t, dir, segment.SEGMENT_EXT)
			last := files[len(files)-1]
			info, err := os.Stat(last)
			if err != nil {
				t.Fatal(err)
			}
			tt.sabotage(t, last, info.Size())
			info, err = os.Stat(last)
			if err != nil {
				t.Fatal(err)
			}

			if _, err := Open(dir, testOptions()); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Open() error = %v, want ErrCorrupt", err)
			}
			after, err := os.Stat(last)
			if err != nil {
				t.Fatal(err)
			}
			if after.Size() != info.Size() {
				t.Errorf("segment size = %d after failed open, want %d", after.Size(), info.Size())
			}
		})
	}
}

func flipByte(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Locked(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, testOptions())

	if _, err := Open(dir, testOptions()); !errors.Is(err, ErrLocked) {
		t.Errorf("second Open() error = %v, want ErrLocked", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir, testOptions())
	s.Close()
}

func TestStore_Closed(t *testing.T) {
	s := openTestStore(t, t.TempDir(), testOptions())
	mustPut(t, s, "a", "1")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() error = %v, want ErrClosed", err)
	}
	if err := s.Put([]byte("a"), []byte("2")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() error = %v, want ErrClosed", err)
	}
	if err := s.Delete([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Errorf("Delete() error = %v, want ErrClosed", err)
	}
	if err := s.Compact(); !errors.Is(err, ErrClosed) {
		t.Errorf("Compact() error = %v, want ErrClosed", err)
	}
	if n := s.Len(); n != 0 {
		t.Errorf("Len() = %d after Close, want 0", n)
	}
	if diff := cmp.Diff(Stats{}, s.Stats()); diff != "" {
		t.Errorf("Stats() after Close (-want +got):\n%s", diff)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
}

func TestStore_SyncModes(t *testing.T) {
	for _, mode := range []SyncMode{SyncNone, SyncBatch, SyncAlways} {
		t.Run(mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			opts := testOptions()
			opts.SyncMode = mode
			s := openTestStore(t, dir, opts)
			mustPut(t, s, "k", "v")
			if err := s.Sync(); err != nil {
				t.Errorf("Sync() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}

			s = openTestStore(t, dir, opts)
			defer s.Close()
			mustGet(t, s, "k", "v")
		})
	}
}

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SyncMode
		wantErr bool
	}{
		{in: "none", want: SyncNone},
		{in: "Batch", want: SyncBatch},
		{in: "ALWAYS", want: SyncAlways},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSyncMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSyncMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSyncMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := openTestStore(t, t.TempDir(), testOptions())
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := []byte(fmt.Sprintf("w%d-%d", w, i))
				if err := s.Put(key, key); err != nil {
					t.Errorf("Put() error = %v", err)
					return
				}
				got, err := s.Get(key)
				if err != nil || string(got) != string(key) {
					t.Errorf("Get(%s) = %q, %v", key, got, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if s.Len() != 200 {
		t.Errorf("Len() = %d, want 200", s.Len())
	}
}
