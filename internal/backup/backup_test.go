package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"lightcask/internal/record"
	"lightcask/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/s2"
)

type mapSink map[string]string

func (m mapSink) Put(key, value []byte) error {
	m[string(key)] = string(value)
	return nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.Options{
		MaxSegmentBytes: 2048,
		SyncMode:        store.SyncNone,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportImport(t *testing.T) {
	src := openStore(t)
	want := make(map[string]string)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := fmt.Sprintf("value-%03d", i)
		if i%10 == 0 {
			value = ""
		}
		if err := src.Put([]byte(key), []byte(value)); err != nil {
			t.Fatal(err)
		}
		want[key] = value
	}
	if err := src.Delete([]byte("key-001")); err != nil {
		t.Fatal(err)
	}
	delete(want, "key-001")

	var buf bytes.Buffer
	n, err := Export(src, &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != len(want) {
		t.Errorf("Export() = %d, want %d", n, len(want))
	}

	dst := openStore(t)
	n, err = Import(&buf, dst)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != len(want) {
		t.Errorf("Import() = %d, want %d", n, len(want))
	}

	got := make(map[string]string)
	err = dst.Range(func(key, value []byte) error {
		got[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("imported contents (-want +got):\n%s", diff)
	}
}

func TestImport_EmptyBackup(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Export(openStore(t), &buf); err != nil {
		t.Fatal(err)
	}

	sink := mapSink{}
	n, err := Import(&buf, sink)
	if err != nil || n != 0 || len(sink) != 0 {
		t.Errorf("Import() = %d, %v, sink %v", n, err, sink)
	}
}

func compressed(t *testing.T, parts ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := s2.NewWriter(&buf)
	for _, p := range parts {
		if _, err := zw.Write(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestImport_Errors(t *testing.T) {
	good, err := record.Encode([]byte("a"), []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	flipped := append([]byte(nil), good...)
	flipped[record.HEADER_SIZE] ^= 0xFF

	tests := []struct {
		name      string
		input     *bytes.Buffer
		wantErr   error
		wantCount int
	}{
		{
			name:    "wrong magic",
			input:   compressed(t, []byte("NOTABACKUP")),
			wantErr: ErrBadMagic,
		},
		{
			name:    "empty stream",
			input:   compressed(t),
			wantErr: ErrBadMagic,
		},
		{
			name:      "checksum mismatch",
			input:     compressed(t, []byte(MAGIC), good, flipped),
			wantErr:   record.ErrCorrupt,
			wantCount: 1,
		},
		{
			name:      "truncated record",
			input:     compressed(t, []byte(MAGIC), good, good[:5]),
			wantErr:   record.ErrCorrupt,
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := mapSink{}
			n, err := Import(tt.input, sink)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Import() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantCount {
				t.Errorf("Import() = %d, want %d", n, tt.wantCount)
			}
		})
	}
}
