package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	SEGMENT_EXT = ".seg"
	COMPACT_EXT = ".compact" // compaction output not yet promoted
)

// Path returns the canonical file path of segment id inside dir.
func Path(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", id, SEGMENT_EXT))
}

// CompactPath returns the temporary path used while compaction writes segment id.
func CompactPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", id, COMPACT_EXT))
}

// ParseID extracts the id from a file name with the given extension.
func ParseID(name, ext string) (uint64, error) {
	if !strings.HasSuffix(name, ext) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, ext), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return id, nil
}

func RemoveFiles(dir string, id uint64) error {
	if err := os.Remove(Path(dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove segment file: %w", err)
	}
	if err := os.Remove(CompactPath(dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove compaction file: %w", err)
	}
	return nil
}

// SyncDir makes renames and removals inside dir durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return unix.Fsync(int(d.Fd()))
}
