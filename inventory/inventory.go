// Package inventory holds the set of served files and the space-accounting
// model that gates uploads. Records live in an in-memory badger store keyed
// by basename; the space counters are guarded by a mutex, so Reserve is safe
// against concurrent callers. No file ever touches disk for this bookkeeping
// (the shared folder itself remains the only persisted state).
package inventory

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// ErrExists is returned by RegisterBasename when the basename is already
// present in the inventory.
var ErrExists = errors.New("inventory: basename already exists")

// ErrInvalidBasename is returned for a basename that is empty or contains
// a path separator.
var ErrInvalidBasename = errors.New("inventory: basename must be non-empty and free of '/'")

// Record describes one served file.
type Record struct {
	Basename    string
	Size        uint64
	Fingerprint uint64 // xxhash of basename+size; diagnostic only, never load-bearing
}

// Inventory is the server's file list plus its space accounting. The zero
// value is not usable; construct one with Open.
type Inventory struct {
	db           *badger.DB
	sharedFolder string
	maxSpace     uint64

	mu        sync.Mutex
	available uint64
	negative  uint64
}

// Open indexes the top level of sharedFolder and returns a ready Inventory.
// Non-regular entries and nested directories are ignored. sharedFolder must
// exist and be a directory.
func Open(sharedFolder string, maxSpace uint64) (*Inventory, error) {
	info, err := os.Stat(sharedFolder)
	if err != nil {
		return nil, errors.Wrap(err, "inventory: shared folder")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("inventory: %q is not a directory", sharedFolder)
	}

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "inventory: open store")
	}

	inv := &Inventory{
		db:           db,
		sharedFolder: sharedFolder,
		maxSpace:     maxSpace,
		available:    maxSpace,
	}

	entries, err := os.ReadDir(sharedFolder)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "inventory: read shared folder")
	}

	err = db.Update(func(txn *badger.Txn) error {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			einfo, err := entry.Info()
			if err != nil || !einfo.Mode().IsRegular() {
				continue
			}
			size := uint64(einfo.Size())
			if err := txn.Set([]byte(entry.Name()), encodeSize(size)); err != nil {
				return err
			}
			inv.debitForIndex(size)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "inventory: index")
	}

	return inv, nil
}

// debitForIndex applies one on-disk file's size to the initial space
// accounting per spec.md §3: overflow spills into negative_space.
func (inv *Inventory) debitForIndex(size uint64) {
	if inv.available >= size {
		inv.available -= size
		return
	}
	inv.negative += size - inv.available
	inv.available = 0
}

// Close releases the in-memory store. It does not touch the shared folder.
func (inv *Inventory) Close() error {
	return inv.db.Close()
}

// AvailableSpace returns the current available_space.
func (inv *Inventory) AvailableSpace() uint64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.available
}

// NegativeSpace returns the current negative_space.
func (inv *Inventory) NegativeSpace() uint64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.negative
}

// SharedFolder returns the root directory served by this inventory.
func (inv *Inventory) SharedFolder() string {
	return inv.sharedFolder
}

// Path returns the absolute on-disk path for basename.
func (inv *Inventory) Path(basename string) string {
	return filepath.Join(inv.sharedFolder, basename)
}

// Find returns the record for basename, if present.
func (inv *Inventory) Find(basename string) (Record, bool, error) {
	var rec Record
	found := false
	err := inv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(basename))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		size := decodeSize(val)
		rec = Record{Basename: basename, Size: size, Fingerprint: fingerprint(basename, size)}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, errors.Wrap(err, "inventory: find")
	}
	return rec, found, nil
}

// Search returns every basename containing substr as a contiguous
// substring, in badger key iteration order (sorted by the basename's bytes).
// An empty substr matches all basenames.
func (inv *Inventory) Search(substr string) ([]string, error) {
	var names []string
	err := inv.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().KeyCopy(nil))
			if strings.Contains(name, substr) {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "inventory: search")
	}
	return names, nil
}

// Remove deletes the on-disk file, the record, and credits space. It is a
// no-op if basename is not present.
func (inv *Inventory) Remove(basename string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var size uint64
	var existed bool
	err := inv.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(basename))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		size = decodeSize(val)
		existed = true
		return txn.Delete([]byte(basename))
	})
	if err != nil {
		return errors.Wrap(err, "inventory: remove")
	}
	if !existed {
		return nil
	}

	if err := os.Remove(inv.Path(basename)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "inventory: unlink")
	}
	inv.creditLocked(size)
	return nil
}

// creditLocked applies size back to the accounting, negative_space first.
// Caller must hold inv.mu.
func (inv *Inventory) creditLocked(size uint64) {
	if inv.negative > 0 {
		if inv.negative >= size {
			inv.negative -= size
			return
		}
		size -= inv.negative
		inv.negative = 0
	}
	inv.available += size
}

// Reserve succeeds, debiting available_space, only if available_space >=
// size. It is safe to call concurrently.
func (inv *Inventory) Reserve(size uint64) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.available < size {
		return false
	}
	inv.available -= size
	return true
}

// RegisterBasename adds a not-yet-populated record for basename, expected
// to hold size bytes once its transfer completes. Call only after a
// successful Reserve for the same size.
func (inv *Inventory) RegisterBasename(basename string, size uint64) error {
	if basename == "" || strings.Contains(basename, "/") {
		return ErrInvalidBasename
	}
	if _, found, err := inv.Find(basename); err != nil {
		return err
	} else if found {
		return ErrExists
	}
	err := inv.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(basename), encodeSize(size))
	})
	return errors.Wrap(err, "inventory: register")
}

// Refund undoes a Reserve+RegisterBasename pair whose transfer failed: the
// record is removed and size is credited back to available_space. This is
// the implementation's chosen resolution of spec.md §9's open question
// about reservation leakage on worker failure.
func (inv *Inventory) Refund(basename string, size uint64) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	err := inv.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(basename))
	})
	if err != nil {
		return errors.Wrap(err, "inventory: refund")
	}
	inv.available += size
	return nil
}

func encodeSize(size uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, size)
	return buf
}

func decodeSize(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func fingerprint(basename string, size uint64) uint64 {
	h := xxhash.New()
	h.WriteString(basename)
	h.Write(encodeSize(size))
	return h.Sum64()
}
