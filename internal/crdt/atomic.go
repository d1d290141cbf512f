package crdt

import (
	"fmt"
	"os"
	"path/filepath"
)

// tempFilePrefix names the scratch file writeFileAtomic stages a snapshot
// into before the rename that makes it visible.
const tempFilePrefix = "scion-crdt-tmp-"

// writeFileAtomic persists data to filename by writing a temp file in the
// same directory and renaming it into place, so a crash mid-write never
// leaves a torn snapshot on disk.
func writeFileAtomic(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename temp snapshot file to %s: %w", filename, err)
	}
	return nil
}
