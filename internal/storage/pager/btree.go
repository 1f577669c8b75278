package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// KeyValue is one (key, value) pair stored in a leaf.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// InternalEntry is one (separator key, left child) pair stored in an
// internal node; the node's RightChild field holds the rightmost pointer.
type InternalEntry struct {
	Key       []byte
	ChildPage uint64
}

// leafNode is the decoded payload of a PageLeaf page.
type leafNode struct {
	Entries  []KeyValue
	NextLeaf uint64
	PrevLeaf uint64
}

func (n *leafNode) isFull() bool { return len(n.Entries) >= BTreeOrder-1 }

func (n *leafNode) encode() []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], n.NextLeaf)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], n.PrevLeaf)
	buf.Write(u64[:])
	writeU32(&buf, uint32(len(n.Entries)))
	for _, e := range n.Entries {
		writeBytes(&buf, e.Key)
		writeBytes(&buf, e.Value)
	}
	return buf.Bytes()
}

func decodeLeafNode(data []byte) (*leafNode, error) {
	r := bytes.NewReader(data)
	n := &leafNode{}
	var err error
	if n.NextLeaf, err = readU64(r); err != nil {
		return nil, err
	}
	if n.PrevLeaf, err = readU64(r); err != nil {
		return nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	n.Entries = make([]KeyValue, 0, count)
	for i := uint32(0); i < count; i++ {
		k, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		v, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		n.Entries = append(n.Entries, KeyValue{Key: k, Value: v})
	}
	return n, nil
}

// internalNode is the decoded payload of a PageInternal page.
type internalNode struct {
	Entries    []InternalEntry
	RightChild uint64
}

func (n *internalNode) isFull() bool { return len(n.Entries) >= BTreeOrder-1 }

func (n *internalNode) encode() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(n.Entries)))
	for _, e := range n.Entries {
		writeBytes(&buf, e.Key)
		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], e.ChildPage)
		buf.Write(u64[:])
	}
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], n.RightChild)
	buf.Write(u64[:])
	return buf.Bytes()
}

func decodeInternalNode(data []byte) (*internalNode, error) {
	r := bytes.NewReader(data)
	n := &internalNode{}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	n.Entries = make([]InternalEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		k, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		child, err := readU64(r)
		if err != nil {
			return nil, err
		}
		n.Entries = append(n.Entries, InternalEntry{Key: k, ChildPage: child})
	}
	if n.RightChild, err = readU64(r); err != nil {
		return nil, err
	}
	return n, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// BPlusTree maps byte keys to byte values on top of a Pager. One tree is
// exactly one table's backing file.
type BPlusTree struct {
	pager     *Pager
	tableName string
}

// OpenTree creates dataDir if missing, opens <dataDir>/<table>.db, and
// allocates a fresh leaf root if the file has none yet.
func OpenTree(dataDir, table string) (*BPlusTree, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("btree: mkdir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, table+".db")
	p, err := Open(path)
	if err != nil {
		return nil, err
	}
	t := &BPlusTree{pager: p, tableName: table}
	if p.RootPage() == 0 {
		rootID, err := p.AllocatePage()
		if err != nil {
			return nil, err
		}
		if err := t.writeLeaf(rootID, &leafNode{}); err != nil {
			return nil, err
		}
		if err := p.SetRootPage(rootID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *BPlusTree) readLeaf(id uint64) (*leafNode, error) {
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return decodeLeafNode(dp.Data)
}

func (t *BPlusTree) readInternal(id uint64) (*internalNode, error) {
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return decodeInternalNode(dp.Data)
}

func (t *BPlusTree) writeLeaf(id uint64, n *leafNode) error {
	return t.pager.WritePage(DiskPage{PageID: id, Type: PageLeaf, Data: n.encode()})
}

func (t *BPlusTree) writeInternal(id uint64, n *internalNode) error {
	return t.pager.WritePage(DiskPage{PageID: id, Type: PageInternal, Data: n.encode()})
}

// pageIsFull reports whether the node at id currently holds >= Order-1
// entries, regardless of whether it is a leaf or internal node.
func (t *BPlusTree) pageIsFull(id uint64) (bool, error) {
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return false, err
	}
	switch dp.Type {
	case PageLeaf:
		n, err := decodeLeafNode(dp.Data)
		if err != nil {
			return false, err
		}
		return n.isFull(), nil
	case PageInternal:
		n, err := decodeInternalNode(dp.Data)
		if err != nil {
			return false, err
		}
		return n.isFull(), nil
	default:
		return false, fmt.Errorf("btree: page %d has unexpected type %s", id, dp.Type)
	}
}

// splitNode splits the full node at id in place (id keeps the left half)
// and returns the promoted median key and the new right sibling's page id.
// Leaf splits copy the median key into the separator; internal splits lift
// (remove) it, matching B+ tree semantics.
func (t *BPlusTree) splitNode(id uint64) (medianKey []byte, rightID uint64, err error) {
	t.pager.Invalidate(id)
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, 0, err
	}

	rightID, err = t.pager.AllocatePage()
	if err != nil {
		return nil, 0, err
	}

	switch dp.Type {
	case PageLeaf:
		n, err := decodeLeafNode(dp.Data)
		if err != nil {
			return nil, 0, err
		}
		mid := len(n.Entries) / 2
		right := &leafNode{Entries: append([]KeyValue(nil), n.Entries[mid:]...), NextLeaf: n.NextLeaf}
		left := &leafNode{Entries: n.Entries[:mid], NextLeaf: rightID, PrevLeaf: n.PrevLeaf}
		medianKey = append([]byte(nil), right.Entries[0].Key...)
		if err := t.writeLeaf(id, left); err != nil {
			return nil, 0, err
		}
		if err := t.writeLeaf(rightID, right); err != nil {
			return nil, 0, err
		}
		return medianKey, rightID, nil

	case PageInternal:
		n, err := decodeInternalNode(dp.Data)
		if err != nil {
			return nil, 0, err
		}
		mid := len(n.Entries) / 2
		median := n.Entries[mid]
		rightEntries := append([]InternalEntry(nil), n.Entries[mid+1:]...)
		right := &internalNode{Entries: rightEntries, RightChild: n.RightChild}
		left := &internalNode{Entries: n.Entries[:mid], RightChild: median.ChildPage}
		medianKey = append([]byte(nil), median.Key...)
		if err := t.writeInternal(id, left); err != nil {
			return nil, 0, err
		}
		if err := t.writeInternal(rightID, right); err != nil {
			return nil, 0, err
		}
		return medianKey, rightID, nil

	default:
		return nil, 0, fmt.Errorf("btree: cannot split page of type %s", dp.Type)
	}
}

// Insert upserts key->value. If the key already exists its value is
// overwritten in place. sync() is always called afterwards per the
// durability invariant.
func (t *BPlusTree) Insert(key, value []byte) error {
	if err := t.insertNoSync(key, value); err != nil {
		return err
	}
	return t.pager.Sync()
}

func (t *BPlusTree) insertNoSync(key, value []byte) error {
	rootID := t.pager.RootPage()

	full, err := t.pageIsFull(rootID)
	if err != nil {
		return err
	}
	if full {
		newRootID, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		medianKey, rightID, err := t.splitNode(rootID)
		if err != nil {
			return err
		}
		newRoot := &internalNode{
			Entries:    []InternalEntry{{Key: medianKey, ChildPage: rootID}},
			RightChild: rightID,
		}
		if err := t.writeInternal(newRootID, newRoot); err != nil {
			return err
		}
		if err := t.pager.SetRootPage(newRootID); err != nil {
			return err
		}
		rootID = newRootID
	}

	return t.insertIntoNode(rootID, key, value)
}

// insertIntoNode descends from id, splitting any full child encountered
// before recursing into it (descent-time splitting, per the spec).
func (t *BPlusTree) insertIntoNode(id uint64, key, value []byte) error {
	t.pager.Invalidate(id)
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return err
	}

	switch dp.Type {
	case PageLeaf:
		n, err := decodeLeafNode(dp.Data)
		if err != nil {
			return err
		}
		pos := len(n.Entries)
		for i, e := range n.Entries {
			if bytes.Compare(e.Key, key) > 0 {
				pos = i
				break
			}
		}
		if pos > 0 && bytes.Equal(n.Entries[pos-1].Key, key) {
			n.Entries[pos-1].Value = value
		} else {
			n.Entries = append(n.Entries, KeyValue{})
			copy(n.Entries[pos+1:], n.Entries[pos:])
			n.Entries[pos] = KeyValue{Key: key, Value: value}
		}
		return t.writeLeaf(id, n)

	case PageInternal:
		n, err := decodeInternalNode(dp.Data)
		if err != nil {
			return err
		}
		childID := n.RightChild
		childIdx := -1
		for i, e := range n.Entries {
			if bytes.Compare(key, e.Key) <= 0 {
				childID = e.ChildPage
				childIdx = i
				break
			}
		}

		full, err := t.pageIsFull(childID)
		if err != nil {
			return err
		}
		if full {
			medianKey, rightID, err := t.splitNode(childID)
			if err != nil {
				return err
			}
			t.pager.Invalidate(id)
			n, err = t.readInternal(id)
			if err != nil {
				return err
			}
			newEntry := InternalEntry{Key: medianKey, ChildPage: childID}
			if childIdx == -1 {
				// childID was the rightmost child; it becomes the left
				// half and the new right sibling becomes the rightmost.
				n.Entries = append(n.Entries, newEntry)
				n.RightChild = rightID
			} else {
				n.Entries = append(n.Entries, InternalEntry{})
				copy(n.Entries[childIdx+1:], n.Entries[childIdx:])
				n.Entries[childIdx] = newEntry
				n.Entries[childIdx+1].ChildPage = rightID
			}
			if err := t.writeInternal(id, n); err != nil {
				return err
			}
			if bytes.Compare(key, medianKey) > 0 {
				childID = rightID
			}
		}
		return t.insertIntoNode(childID, key, value)

	default:
		return fmt.Errorf("btree: insert into unexpected page type %s", dp.Type)
	}
}

// Get returns the value stored for key, if any.
func (t *BPlusTree) Get(key []byte) ([]byte, bool, error) {
	id := t.pager.RootPage()
	for {
		dp, err := t.pager.ReadPage(id)
		if err != nil {
			return nil, false, err
		}
		switch dp.Type {
		case PageLeaf:
			n, err := decodeLeafNode(dp.Data)
			if err != nil {
				return nil, false, err
			}
			for _, e := range n.Entries {
				if bytes.Equal(e.Key, key) {
					return e.Value, true, nil
				}
			}
			return nil, false, nil
		case PageInternal:
			n, err := decodeInternalNode(dp.Data)
			if err != nil {
				return nil, false, err
			}
			next := n.RightChild
			for _, e := range n.Entries {
				if bytes.Compare(key, e.Key) <= 0 {
					next = e.ChildPage
					break
				}
			}
			id = next
		default:
			return nil, false, fmt.Errorf("btree: get through unexpected page type %s", dp.Type)
		}
	}
}

// Delete removes key if present, reporting whether anything changed.
func (t *BPlusTree) Delete(key []byte) (bool, error) {
	changed, err := t.deleteFromNode(t.pager.RootPage(), key)
	if err != nil {
		return false, err
	}
	if err := t.pager.Sync(); err != nil {
		return false, err
	}
	return changed, nil
}

func (t *BPlusTree) deleteFromNode(id uint64, key []byte) (bool, error) {
	t.pager.Invalidate(id)
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return false, err
	}
	switch dp.Type {
	case PageLeaf:
		n, err := decodeLeafNode(dp.Data)
		if err != nil {
			return false, err
		}
		before := len(n.Entries)
		kept := n.Entries[:0]
		for _, e := range n.Entries {
			if !bytes.Equal(e.Key, key) {
				kept = append(kept, e)
			}
		}
		n.Entries = kept
		if len(n.Entries) == before {
			return false, nil
		}
		return true, t.writeLeaf(id, n)

	case PageInternal:
		n, err := decodeInternalNode(dp.Data)
		if err != nil {
			return false, err
		}
		next := n.RightChild
		for _, e := range n.Entries {
			if bytes.Compare(key, e.Key) <= 0 {
				next = e.ChildPage
				break
			}
		}
		return t.deleteFromNode(next, key)

	default:
		return false, fmt.Errorf("btree: delete through unexpected page type %s", dp.Type)
	}
}

// Scan performs an in-order traversal, calling visit for every (key, value)
// pair. Traversal stops early if visit returns false.
func (t *BPlusTree) Scan(visit func(key, value []byte) bool) error {
	_, err := t.scanNode(t.pager.RootPage(), visit)
	return err
}

func (t *BPlusTree) scanNode(id uint64, visit func(key, value []byte) bool) (bool, error) {
	dp, err := t.pager.ReadPage(id)
	if err != nil {
		return false, err
	}
	switch dp.Type {
	case PageLeaf:
		n, err := decodeLeafNode(dp.Data)
		if err != nil {
			return false, err
		}
		for _, e := range n.Entries {
			if !visit(e.Key, e.Value) {
				return false, nil
			}
		}
		return true, nil
	case PageInternal:
		n, err := decodeInternalNode(dp.Data)
		if err != nil {
			return false, err
		}
		for _, e := range n.Entries {
			cont, err := t.scanNode(e.ChildPage, visit)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
		return t.scanNode(n.RightChild, visit)
	default:
		return false, fmt.Errorf("btree: scan through unexpected page type %s", dp.Type)
	}
}

// Count returns the number of distinct keys in the tree.
func (t *BPlusTree) Count() (int, error) {
	n := 0
	err := t.Scan(func(_, _ []byte) bool { n++; return true })
	return n, err
}

// BatchInsert applies entries in order, suppressing intermediate syncs, and
// issues exactly one sync at the end. Returns the number processed.
func (t *BPlusTree) BatchInsert(entries []KeyValue) (int, error) {
	for _, e := range entries {
		if err := t.insertNoSync(e.Key, e.Value); err != nil {
			return 0, err
		}
	}
	if err := t.pager.Sync(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Sync flushes the underlying pager.
func (t *BPlusTree) Sync() error { return t.pager.Sync() }

// Close releases the underlying file handle.
func (t *BPlusTree) Close() error { return t.pager.Close() }

// TableName returns the table this tree backs.
func (t *BPlusTree) TableName() string { return t.tableName }
