package storage

import (
	"sync"

	"github.com/butterflydb/butterflydb/internal/storage/pager"
)

// SharedBPlusTree wraps one table's BPlusTree behind a single mutex. Every
// operation — including Get and Scan — takes the write lock, because the
// pager's read path mutates its page cache.
type SharedBPlusTree struct {
	mu   sync.Mutex
	tree *pager.BPlusTree
}

func NewSharedBPlusTree(tree *pager.BPlusTree) *SharedBPlusTree {
	return &SharedBPlusTree{tree: tree}
}

func (s *SharedBPlusTree) Insert(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Insert(key, value)
}

func (s *SharedBPlusTree) Get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Get(key)
}

func (s *SharedBPlusTree) Delete(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Delete(key)
}

func (s *SharedBPlusTree) Scan(visit func(key, value []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Scan(visit)
}

func (s *SharedBPlusTree) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Count()
}

func (s *SharedBPlusTree) BatchInsert(entries []pager.KeyValue) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.BatchInsert(entries)
}

func (s *SharedBPlusTree) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Sync()
}

func (s *SharedBPlusTree) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Close()
}
