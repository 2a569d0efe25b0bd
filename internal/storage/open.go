package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Engine names accepted by Open.
const (
	EngineBadger = "badger"
	EngineBolt   = "bolt"
)

// BoltFile is the bbolt file name inside a data directory.
const BoltFile = "statements.db"

// Open opens the named engine under dir. An empty dir selects in-memory
// badger regardless of engine, since bbolt always needs a file.
func Open(engine, dir string) (Storage, error) {
	if dir == "" {
		return NewMemoryStorage()
	}
	switch engine {
	case "", EngineBadger:
		return NewBadgerStorage(dir)
	case EngineBolt:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return NewBoltStorage(filepath.Join(dir, BoltFile))
	default:
		return nil, fmt.Errorf("unknown storage engine %q", engine)
	}
}
