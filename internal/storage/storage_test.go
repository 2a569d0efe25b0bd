package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// engines opens a fresh storage per engine.
var engines = map[string]func(t *testing.T) (Storage, error){
	"badger": func(t *testing.T) (Storage, error) {
		return NewMemoryStorage()
	},
	"bolt": func(t *testing.T) (Storage, error) {
		return NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	},
}

func forEachEngine(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, open := range engines {
		t.Run(name, func(t *testing.T) {
			s, err := open(t)
			if err != nil {
				t.Fatalf("failed to create storage: %v", err)
			}
			defer s.Close()
			fn(t, s)
		})
	}
}

func collect(t *testing.T, s Storage, table Table, start, end []byte) []string {
	t.Helper()
	var keys []string
	err := View(s, func(txn Txn) error {
		it, err := txn.Scan(table, start, end)
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return keys
}

func TestGetSetDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Storage) {
		err := Update(s, func(txn Txn) error {
			return txn.Set(TableStatements, []byte("k"), []byte("v"))
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		err = View(s, func(txn Txn) error {
			got, err := txn.Get(TableStatements, []byte("k"))
			if err != nil {
				return err
			}
			if string(got) != "v" {
				t.Errorf("expected v, got %q", got)
			}
			if _, err := txn.Get(TableHandles, []byte("k")); !errors.Is(err, ErrNotFound) {
				t.Errorf("tables must not share keys, got %v", err)
			}
			if err := txn.Set(TableStatements, []byte("x"), []byte("y")); !errors.Is(err, ErrTransactionRO) {
				t.Errorf("expected read-only error, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("view failed: %v", err)
		}

		if err := Update(s, func(txn Txn) error { return txn.Delete(TableStatements, []byte("k")) }); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		err = View(s, func(txn Txn) error {
			_, err := txn.Get(TableStatements, []byte("k"))
			return err
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestUpdateRollsBackOnError(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Storage) {
		boom := errors.New("boom")

		err := Update(s, func(txn Txn) error {
			if err := txn.Set(TableMeta, []byte("k"), []byte("v")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if keys := collect(t, s, TableMeta, nil, nil); len(keys) != 0 {
			t.Errorf("expected nothing committed, got %v", keys)
		}
	})
}

func TestScanRange(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Storage) {
		err := Update(s, func(txn Txn) error {
			for _, k := range []string{"a", "b", "c", "d"} {
				if err := txn.Set(TableLog, []byte(k), nil); err != nil {
					return err
				}
			}
			// Neighbouring tables must not leak into the scan.
			if err := txn.Set(TableStatements, []byte("z"), nil); err != nil {
				return err
			}
			return txn.Set(TableHandles, []byte("0"), nil)
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		tests := []struct {
			name       string
			start, end []byte
			want       string
		}{
			{"full", nil, nil, "abcd"},
			{"from", []byte("b"), nil, "bcd"},
			{"to", nil, []byte("c"), "ab"},
			{"between", []byte("b"), []byte("d"), "bc"},
			{"between keys", []byte("bb"), nil, "cd"},
			{"empty", []byte("x"), nil, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := ""
				for _, k := range collect(t, s, TableLog, tt.start, tt.end) {
					got += k
				}
				if got != tt.want {
					t.Errorf("expected %q, got %q", tt.want, got)
				}
			})
		}
	})
}

func TestNextSequence(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Storage) {
		for want := uint64(1); want <= 3; want++ {
			var got uint64
			err := Update(s, func(txn Txn) error {
				var err error
				got, err = NextSequence(txn, "statements")
				return err
			})
			if err != nil {
				t.Fatalf("sequence failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	if n, ok := ParseUint64Key(Uint64Key(258)); !ok || n != 258 {
		t.Errorf("expected 258, got %d", n)
	}
	if string(Uint64Key(1)) >= string(Uint64Key(256)) {
		t.Error("sequence keys must sort numerically")
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	reopen := map[string]func() (Storage, error){
		"badger": func() (Storage, error) { return NewBadgerStorage(filepath.Join(dir, "badger")) },
		"bolt":   func() (Storage, error) { return NewBoltStorage(filepath.Join(dir, "bolt.db")) },
	}

	for name, open := range reopen {
		t.Run(name, func(t *testing.T) {
			s, err := open()
			if err != nil {
				t.Fatalf("failed to open: %v", err)
			}
			if err := Update(s, func(txn Txn) error { return txn.Set(TableStatements, []byte("k"), []byte("v")) }); err != nil {
				t.Fatalf("update failed: %v", err)
			}
			if err := s.Sync(); err != nil {
				t.Fatalf("sync failed: %v", err)
			}
			s.Close()

			s, err = open()
			if err != nil {
				t.Fatalf("failed to reopen: %v", err)
			}
			defer s.Close()
			if keys := collect(t, s, TableStatements, nil, nil); len(keys) != 1 || keys[0] != "k" {
				t.Errorf("expected [k] after reopen, got %v", keys)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		engine, dir string
		want        string
	}{
		{EngineBadger, "", "*storage.BadgerStorage"},
		{EngineBolt, "", "*storage.BadgerStorage"},
		{"", filepath.Join(dir, "default"), "*storage.BadgerStorage"},
		{EngineBadger, filepath.Join(dir, "badger"), "*storage.BadgerStorage"},
		{EngineBolt, filepath.Join(dir, "bolt", "nested"), "*storage.BoltStorage"},
	}
	for _, tt := range tests {
		s, err := Open(tt.engine, tt.dir)
		if err != nil {
			t.Fatalf("Open(%q, %q): %v", tt.engine, tt.dir, err)
		}
		if got := fmt.Sprintf("%T", s); got != tt.want {
			t.Errorf("Open(%q, %q): expected %s, got %s", tt.engine, tt.dir, tt.want, got)
		}
		s.Close()
	}

	if _, err := Open("leveldb", dir); err == nil {
		t.Error("expected error for unknown engine")
	}
}
