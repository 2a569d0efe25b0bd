// Package loopback is a small statement server speaking the client wire
// protocol. It records statements, assigns handles and pages through them
// in insertion order. It evaluates no filters or joins.
package loopback

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/internal/storage"
	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

const sequenceName = "statements"

// Store keeps statements in a storage.Storage.
type Store struct {
	storage storage.Storage
}

// NewStore creates a statement store.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

// Record is a stored statement.
type Record struct {
	Handle uuid.UUID
	Triple [3]string
}

// Ref returns the serialized statement reference.
func (r Record) Ref() string {
	return ref(r.Handle)
}

// Row returns the record as [handle, subject, predicate, object].
func (r Record) Row() protocol.Row {
	return protocol.Row{r.Ref(), r.Triple[0], r.Triple[1], r.Triple[2]}
}

func ref(h uuid.UUID) string {
	return value.KindStatement.String() + ":" + h.String()
}

// Transact stores a batch of rows atomically and returns their references
// in row order. A pending operand may refer to any row of the batch,
// including its own.
func (s *Store) Transact(rows []protocol.TransactionRow) ([]string, error) {
	handles := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		if row.Handle != nil {
			handles[i] = *row.Handle
		} else {
			handles[i] = uuid.New()
		}
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i].Handle = handles[i]
		for pos, op := range row.Triple {
			if idx, ok := op.Index(); ok {
				if idx >= len(rows) {
					return nil, qderr.Userf("row %d: reference to row %d of %d", i, idx, len(rows))
				}
				records[i].Triple[pos] = ref(handles[idx])
				continue
			}
			ser, _ := op.Serialized()
			if _, err := value.Deserialize(ser); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			records[i].Triple[pos] = ser
		}
	}

	if err := s.put(records); err != nil {
		return nil, err
	}
	refs := make([]string, len(records))
	for i, rec := range records {
		refs[i] = rec.Ref()
	}
	return refs, nil
}

// Create stores serialized rows of three or four items. A four item row
// starts with its handle.
func (s *Store) Create(rows []protocol.Row) ([]string, error) {
	batch := make([]protocol.TransactionRow, 0, len(rows))
	for i, row := range rows {
		var tr protocol.TransactionRow
		switch len(row) {
		case 3:
		case 4:
			h, err := parseRef(row[0])
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			tr.Handle = &h
			row = row[1:]
		default:
			return nil, qderr.Userf("row %d has %d items, expected 3 or 4", i, len(row))
		}
		for pos, ser := range row {
			tr.Triple[pos] = protocol.Resolved(ser)
		}
		batch = append(batch, tr)
	}
	return s.Transact(batch)
}

func (s *Store) put(records []Record) error {
	return storage.Update(s.storage, func(txn storage.Txn) error {
		for _, rec := range records {
			data, err := json.Marshal(rec.Triple)
			if err != nil {
				return err
			}
			existing, err := txn.Get(storage.TableStatements, rec.Handle[:])
			switch {
			case err == nil:
				if string(existing) != string(data) {
					return qderr.Userf("statement %s already exists with a different triple", rec.Ref())
				}
				continue
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}

			seq, err := storage.NextSequence(txn, sequenceName)
			if err != nil {
				return err
			}
			if err := txn.Set(storage.TableStatements, rec.Handle[:], data); err != nil {
				return err
			}
			if err := txn.Set(storage.TableLog, storage.Uint64Key(seq), rec.Handle[:]); err != nil {
				return err
			}
			if err := txn.Set(storage.TableHandles, rec.Handle[:], storage.Uint64Key(seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the statement with handle h.
func (s *Store) Get(h uuid.UUID) (Record, error) {
	var rec Record
	err := storage.View(s.storage, func(txn storage.Txn) error {
		var err error
		rec, err = getRecord(txn, h)
		return err
	})
	return rec, err
}

func getRecord(txn storage.Txn, h uuid.UUID) (Record, error) {
	data, err := txn.Get(storage.TableStatements, h[:])
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: statement %s", qderr.ErrNotFound, h)
	}
	if err != nil {
		return Record{}, err
	}
	rec := Record{Handle: h}
	if err := json.Unmarshal(data, &rec.Triple); err != nil {
		return Record{}, fmt.Errorf("corrupt statement %s: %w", h, err)
	}
	return rec, nil
}

// Page returns up to limit statements in insertion order, starting after
// the statement with handle after when it is not nil. more reports whether
// statements remain.
func (s *Store) Page(after *uuid.UUID, limit int) (records []Record, more bool, err error) {
	err = storage.View(s.storage, func(txn storage.Txn) error {
		var start []byte
		if after != nil {
			seqKey, err := txn.Get(storage.TableHandles, after[:])
			if errors.Is(err, storage.ErrNotFound) {
				return qderr.Userf("unknown cursor %s", ref(*after))
			}
			if err != nil {
				return err
			}
			seq, ok := storage.ParseUint64Key(seqKey)
			if !ok {
				return fmt.Errorf("corrupt sequence for %s", after)
			}
			start = storage.Uint64Key(seq + 1)
		}

		it, err := txn.Scan(storage.TableLog, start, nil)
		if err != nil {
			return err
		}
		defer it.Close()

		for it.Next() {
			if limit > 0 && len(records) == limit {
				more = true
				return nil
			}
			data, err := it.Value()
			if err != nil {
				return err
			}
			h, err := uuid.FromBytes(data)
			if err != nil {
				return fmt.Errorf("corrupt log entry: %w", err)
			}
			rec, err := getRecord(txn, h)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return records, more, nil
}

// All returns every statement in insertion order.
func (s *Store) All() ([]Record, error) {
	records, _, err := s.Page(nil, 0)
	return records, err
}

// AddFiles records serialized files as copies of a blob.
func (s *Store) AddFiles(blob *value.Blob, files ...*value.File) error {
	return storage.Update(s.storage, func(txn storage.Txn) error {
		for _, f := range files {
			ser, err := value.Serialize(f)
			if err != nil {
				return err
			}
			if err := txn.Set(storage.TableFiles, fileKey(blob.String(), ser), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// fileKey separates blob and file with a NUL, which appears in neither.
func fileKey(blob, file string) []byte {
	return []byte(blob + "\x00" + file)
}

// Files returns the files of blobs in blob order, starting after the blob
// reference after when it is not empty, limited to limit blobs.
func (s *Store) Files(after string, limit int) (files map[string][]string, order []string, more bool, err error) {
	files = make(map[string][]string)
	err = storage.View(s.storage, func(txn storage.Txn) error {
		var start []byte
		if after != "" {
			// One past every key of the cursor blob.
			start = []byte(after + "\x01")
		}
		it, err := txn.Scan(storage.TableFiles, start, nil)
		if err != nil {
			return err
		}
		defer it.Close()

		for it.Next() {
			blob, file, ok := strings.Cut(string(it.Key()), "\x00")
			if !ok {
				return fmt.Errorf("corrupt file key %q", it.Key())
			}
			if _, seen := files[blob]; !seen {
				if limit > 0 && len(order) == limit {
					more = true
					return nil
				}
				order = append(order, blob)
			}
			files[blob] = append(files[blob], file)
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return files, order, more, nil
}

// FilesOf returns the serialized files of one blob.
func (s *Store) FilesOf(blob *value.Blob) ([]string, error) {
	var out []string
	err := storage.View(s.storage, func(txn storage.Txn) error {
		prefix := blob.String() + "\x00"
		it, err := txn.Scan(storage.TableFiles, []byte(prefix), []byte(blob.String()+"\x01"))
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Key()), prefix))
		}
		return nil
	})
	return out, err
}

// Related returns the stored statements referenced by the triples of
// records, excluding records themselves.
func (s *Store) Related(records []Record) ([]Record, error) {
	own := make(map[uuid.UUID]bool, len(records))
	for _, rec := range records {
		own[rec.Handle] = true
	}

	var handles []uuid.UUID
	for _, rec := range records {
		for _, ser := range rec.Triple {
			h, err := parseRef(ser)
			if err != nil || own[h] || slices.Contains(handles, h) {
				continue
			}
			handles = append(handles, h)
		}
	}

	var related []Record
	err := storage.View(s.storage, func(txn storage.Txn) error {
		for _, h := range handles {
			rec, err := getRecord(txn, h)
			if errors.Is(err, qderr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			related = append(related, rec)
		}
		return nil
	})
	return related, err
}

// Meta returns the statements whose subject is one of records.
func (s *Store) Meta(records []Record) ([]Record, error) {
	subjects := make(map[string]bool, len(records))
	for _, rec := range records {
		subjects[rec.Ref()] = true
	}
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var meta []Record
	for _, rec := range all {
		if subjects[rec.Triple[0]] {
			meta = append(meta, rec)
		}
	}
	return meta, nil
}

func parseRef(s string) (uuid.UUID, error) {
	v, err := value.Deserialize(s)
	if err != nil {
		return uuid.UUID{}, err
	}
	st, ok := v.(*value.Statement)
	if !ok {
		return uuid.UUID{}, qderr.Valuef("%q is not a statement reference", s)
	}
	h, _ := st.Handle()
	return h, nil
}
