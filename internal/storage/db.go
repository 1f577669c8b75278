package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/butterflydb/butterflydb/internal/storage/pager"
)

// Predicate filters rows during select/update/delete.
type Predicate func(Row) bool

// AlwaysTrue is the predicate used when a statement has no WHERE clause.
func AlwaysTrue(Row) bool { return true }

type tableEntry struct {
	mu   sync.RWMutex
	rows []Row
	tree *SharedBPlusTree
}

// Engine is the row-oriented storage façade: an
// in-memory vector of rows per table, mirrored into a B+ tree for
// durability and cold start.
type Engine struct {
	mu      sync.RWMutex
	tables  map[string]*tableEntry
	dataDir string
}

// NewEngine constructs an engine rooted at dataDir. It does not itself walk
// the directory; call LoadAll for that.
func NewEngine(dataDir string) *Engine {
	return &Engine{tables: make(map[string]*tableEntry), dataDir: dataDir}
}

// rowKey produces a fresh, monotonically increasing storage key for table.
func rowKey(table string) []byte {
	return []byte(fmt.Sprintf("%s_%d", table, time.Now().UnixNano()))
}

func encodeRow(r Row) ([]byte, error) {
	plain := make(map[string]any, len(r))
	for k, v := range r {
		plain[k] = rawValue(v)
	}
	return json.Marshal(plain)
}

// rawValue unwraps a Value into the bare Go value json.Marshal would
// otherwise need Value's custom MarshalJSON for. decodeRow infers each Kind
// back from the decoded JSON type, so a Float with an integral value (2.0)
// comes back as an Integer.
func rawValue(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.I
	case KindFloat:
		return v.F
	case KindText:
		return v.S
	case KindBoolean:
		return v.B
	default:
		return nil
	}
}

func decodeRow(data []byte) (Row, error) {
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("storage: decode row: %w", err)
	}
	row := make(Row, len(plain))
	for k, v := range plain {
		row[k] = valueFromJSON(v)
	}
	return row, nil
}

func valueFromJSON(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(x)
	case string:
		return TextValue(x)
	case float64:
		if x == float64(int64(x)) {
			return IntValue(int64(x))
		}
		return FloatValue(x)
	default:
		return NullValue()
	}
}

// getOrCreateTable returns the in-memory entry for table, creating its
// backing tree on demand (used by CREATE TABLE and by cold-start loading).
func (e *Engine) getOrCreateTable(table string) (*tableEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tables[table]; ok {
		return t, nil
	}
	tree, err := pager.OpenTree(e.dataDir, table)
	if err != nil {
		return nil, fmt.Errorf("storage: open table %s: %w", table, err)
	}
	entry := &tableEntry{tree: NewSharedBPlusTree(tree)}
	e.tables[table] = entry
	return entry, nil
}

// CreateTable ensures table has a backing tree and an (initially empty)
// in-memory row vector.
func (e *Engine) CreateTable(table string) error {
	_, err := e.getOrCreateTable(table)
	return err
}

// Insert appends row to table's in-memory vector and mirrors it into the
// B+ tree under a fresh key. Always returns 1 on success.
func (e *Engine) Insert(table string, row Row) (int, error) {
	entry, err := e.getOrCreateTable(table)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.rows = append(entry.rows, row)
	data, err := encodeRow(row)
	if err != nil {
		return 0, err
	}
	if err := entry.tree.Insert(rowKey(table), data); err != nil {
		return 0, fmt.Errorf("storage: mirror insert: %w", err)
	}
	return 1, nil
}

// Select scans table's in-memory rows, returning those matching predicate,
// projected to columns (empty, or containing "*", means every column).
func (e *Engine) Select(table string, columns []string, predicate Predicate) ([]Row, error) {
	e.mu.RLock()
	entry, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("table '%s' not found", table)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	all := len(columns) == 0
	if !all {
		for _, c := range columns {
			if c == "*" {
				all = true
				break
			}
		}
	}

	var out []Row
	for _, r := range entry.rows {
		if !predicate(r) {
			continue
		}
		if all {
			out = append(out, CloneRow(r))
			continue
		}
		proj := make(Row, len(columns))
		for _, c := range columns {
			if v, ok := r[c]; ok {
				proj[c] = v
			}
		}
		out = append(out, proj)
	}
	return out, nil
}

// rebuildTreeLocked re-mirrors every current in-memory row under fresh
// keys. Intentionally O(N log N) per call — see the design note on
// row identity and update cost. Caller must hold entry.mu.
func (entry *tableEntry) rebuildTreeLocked(table string, tree *SharedBPlusTree) error {
	entries := make([]pager.KeyValue, 0, len(entry.rows))
	for _, r := range entry.rows {
		data, err := encodeRow(r)
		if err != nil {
			return err
		}
		entries = append(entries, pager.KeyValue{Key: rowKey(table), Value: data})
	}
	if _, err := tree.BatchInsert(entries); err != nil {
		return fmt.Errorf("storage: rebuild tree: %w", err)
	}
	return nil
}

// Update overlays updates onto every row matching predicate and rebuilds
// the backing tree. Returns the number of rows changed.
func (e *Engine) Update(table string, updates Row, predicate Predicate) (int, error) {
	e.mu.RLock()
	entry, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("table '%s' not found", table)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	count := 0
	for i, r := range entry.rows {
		if !predicate(r) {
			continue
		}
		merged := CloneRow(r)
		for k, v := range updates {
			merged[k] = v
		}
		entry.rows[i] = merged
		count++
	}
	if count > 0 {
		if err := entry.rebuildTreeLocked(table, entry.tree); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Delete removes every row matching predicate and rebuilds the backing
// tree. Returns the number of rows removed.
func (e *Engine) Delete(table string, predicate Predicate) (int, error) {
	e.mu.RLock()
	entry, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("table '%s' not found", table)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	kept := entry.rows[:0]
	removed := 0
	for _, r := range entry.rows {
		if predicate(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	entry.rows = kept
	if removed > 0 {
		if err := entry.rebuildTreeLocked(table, entry.tree); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// DropTable removes the in-memory entry, closes its tree, and deletes its
// backing file.
func (e *Engine) DropTable(table string) error {
	e.mu.Lock()
	entry, ok := e.tables[table]
	delete(e.tables, table)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := entry.tree.Close(); err != nil {
		return fmt.Errorf("storage: close table %s: %w", table, err)
	}
	return os.Remove(filepath.Join(e.dataDir, table+".db"))
}

// CompactTable rewrites table's backing file from scratch: it closes and
// deletes the file, opens an empty tree in its place, and re-inserts the
// current in-memory rows, dropping the stale entries left behind by prior
// updates/deletes (each of which only ever appends fresh keys; see
// rebuildTreeLocked).
func (e *Engine) CompactTable(table string) error {
	e.mu.RLock()
	entry, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("table '%s' not found", table)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := entry.tree.Close(); err != nil {
		return fmt.Errorf("storage: compact %s: %w", table, err)
	}
	if err := os.Remove(filepath.Join(e.dataDir, table+".db")); err != nil {
		return fmt.Errorf("storage: compact %s: %w", table, err)
	}
	tree, err := pager.OpenTree(e.dataDir, table)
	if err != nil {
		return fmt.Errorf("storage: compact %s: %w", table, err)
	}
	entry.tree = NewSharedBPlusTree(tree)
	if err := entry.rebuildTreeLocked(table, entry.tree); err != nil {
		return err
	}
	return entry.tree.Sync()
}

// CompactAll compacts every currently known table, continuing past any
// single table's failure and returning the first error seen, if any.
func (e *Engine) CompactAll() error {
	e.mu.RLock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	e.mu.RUnlock()

	var firstErr error
	for _, name := range names {
		if err := e.CompactTable(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RowCount reports the current in-memory row count for table.
func (e *Engine) RowCount(table string) (int, error) {
	e.mu.RLock()
	entry, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("table '%s' not found", table)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return len(entry.rows), nil
}

// LoadAll walks the data directory for existing "<table>.db" files, opens
// each, and scans it into the in-memory row vector. Called once at startup.
func (e *Engine) LoadAll() error {
	entries, err := os.ReadDir(e.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read data dir %s: %w", e.dataDir, err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".db") {
			continue
		}
		table := strings.TrimSuffix(de.Name(), ".db")
		entry, err := e.getOrCreateTable(table)
		if err != nil {
			return err
		}
		entry.mu.Lock()
		err = entry.tree.Scan(func(_, v []byte) bool {
			row, decErr := decodeRow(v)
			if decErr != nil {
				return true // skip unreadable rows rather than aborting startup
			}
			entry.rows = append(entry.rows, row)
			return true
		})
		entry.mu.Unlock()
		if err != nil {
			return fmt.Errorf("storage: load table %s: %w", table, err)
		}
	}
	return nil
}
