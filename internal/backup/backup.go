// Package backup streams the live contents of a store to and from an
// s2-compressed file. The payload is a magic string followed by records in
// segment framing, so a backup can be checked with the same checksums.
package backup

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"lightcask/internal/record"

	"github.com/klauspost/compress/s2"
)

const (
	MAGIC = "LCASKBK1"

	// MAX_RECORD_SIZE bounds a single record read from an untrusted backup.
	MAX_RECORD_SIZE = 1 << 30
)

var ErrBadMagic = errors.New("not a lightcask backup")

// Source yields every live key and value.
type Source interface {
	Range(fn func(key, value []byte) error) error
}

// Sink stores an imported pair.
type Sink interface {
	Put(key, value []byte) error
}

// Export writes every pair from src to w and returns how many were written.
func Export(src Source, w io.Writer) (int, error) {
	zw := s2.NewWriter(w)

	if _, err := io.WriteString(zw, MAGIC); err != nil {
		zw.Close()
		return 0, err
	}

	var buf []byte
	count := 0
	err := src.Range(func(key, value []byte) error {
		e := record.NewEntry(key, value)
		if cap(buf) < int(e.Size()) {
			buf = make([]byte, e.Size())
		}
		n, err := e.MarshalTo(buf[:e.Size()])
		if err != nil {
			return err
		}
		if _, err := zw.Write(buf[:n]); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		zw.Close()
		return count, fmt.Errorf("export: %w", err)
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("export: %w", err)
	}
	return count, nil
}

// Import reads a backup from r into dst and returns how many pairs were stored.
// A damaged record stops the import with an error wrapping record.ErrCorrupt.
func Import(r io.Reader, dst Sink) (int, error) {
	zr := bufio.NewReader(s2.NewReader(r))

	magic := make([]byte, len(MAGIC))
	if _, err := io.ReadFull(zr, magic); err != nil || string(magic) != MAGIC {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("import: %w", err)
		}
		return 0, ErrBadMagic
	}

	count := 0
	for {
		e, _, err := record.ReadEntry(zr, MAX_RECORD_SIZE)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return count, fmt.Errorf("import: record %d: %w: truncated", count, record.ErrCorrupt)
		}
		if err != nil {
			return count, fmt.Errorf("import: record %d: %w", count, err)
		}
		if e.Tombstone {
			continue
		}

		if err := dst.Put(e.Key, e.Value); err != nil {
			return count, fmt.Errorf("import: put %q: %w", e.Key, err)
		}
		count++
	}
}
