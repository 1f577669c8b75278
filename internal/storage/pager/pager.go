package pager

import (
	"container/list"
	"fmt"
	"io"
	"os"
)

// ErrInvalidFormat is returned by Open when a file exists but its header
// magic does not match this format.
var ErrInvalidFormat = fmt.Errorf("pager: invalid file format")

// cacheEntry is the payload stored in the LRU's linked list.
type cacheEntry struct {
	id   uint64
	page DiskPage
}

// Pager owns one data file's handle, header, and page cache. It is not
// internally synchronized; callers that share a Pager across goroutines
// must serialize access themselves (see storage.SharedBPlusTree).
type Pager struct {
	file   *os.File
	path   string
	header FileHeader

	cacheList  *list.List // front = most recently used
	cacheIndex map[uint64]*list.Element
}

// Open creates the file at path if it does not exist (writing a default
// header), otherwise validates the existing header's magic and loads it.
func Open(path string) (*Pager, error) {
	_, statErr := os.Stat(path)
	create := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	p := &Pager{
		file:       f,
		path:       path,
		cacheList:  list.New(),
		cacheIndex: make(map[uint64]*list.Element),
	}

	if create {
		p.header = DefaultFileHeader()
		if err := p.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		if err := p.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		return p, nil
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: read header: %w", err)
	}
	h := decodeFileHeader(buf)
	if h.Magic != Magic {
		f.Close()
		return nil, ErrInvalidFormat
	}
	p.header = h
	return p, nil
}

// Close releases the underlying file handle.
func (p *Pager) Close() error {
	return p.file.Close()
}

func (p *Pager) pageOffset(id uint64) int64 {
	return int64(HeaderSize) + int64(id-1)*int64(PageSize)
}

// AllocatePage grows the file by one page, zero-initialized, and returns its
// new page id.
func (p *Pager) AllocatePage() (uint64, error) {
	p.header.TotalPages++
	id := p.header.TotalPages - 1 // page ids are 1-based; header occupies slot 0
	if err := p.writeHeader(); err != nil {
		return 0, err
	}
	blank := DiskPage{PageID: id, Type: PageFree, Data: nil}
	if err := p.WritePage(blank); err != nil {
		return 0, err
	}
	return id, nil
}

// ReadPage returns the page for id, consulting the cache first. A cache miss
// seeks and reads exactly PageSize bytes from the file.
func (p *Pager) ReadPage(id uint64) (DiskPage, error) {
	if el, ok := p.cacheIndex[id]; ok {
		p.cacheList.MoveToFront(el)
		return el.Value.(*cacheEntry).page, nil
	}

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, p.pageOffset(id)); err != nil {
		return DiskPage{}, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	dp := decodeDiskPage(id, buf)
	p.cachePut(id, dp)
	return dp, nil
}

// WritePage writes page to its offset (write-through) and refreshes the
// cache entry.
func (p *Pager) WritePage(page DiskPage) error {
	if _, err := p.file.WriteAt(page.encode(), p.pageOffset(page.PageID)); err != nil {
		return fmt.Errorf("pager: write page %d: %w", page.PageID, err)
	}
	p.cachePut(page.PageID, page)
	return nil
}

// Invalidate drops a cache entry, forcing the next ReadPage to hit disk.
func (p *Pager) Invalidate(id uint64) {
	if el, ok := p.cacheIndex[id]; ok {
		p.cacheList.Remove(el)
		delete(p.cacheIndex, id)
	}
}

func (p *Pager) cachePut(id uint64, page DiskPage) {
	if el, ok := p.cacheIndex[id]; ok {
		el.Value.(*cacheEntry).page = page
		p.cacheList.MoveToFront(el)
		return
	}
	el := p.cacheList.PushFront(&cacheEntry{id: id, page: page})
	p.cacheIndex[id] = el
	for p.cacheList.Len() > MaxCachePages {
		back := p.cacheList.Back()
		if back == nil {
			break
		}
		p.cacheList.Remove(back)
		delete(p.cacheIndex, back.Value.(*cacheEntry).id)
	}
}

func (p *Pager) writeHeader() error {
	_, err := p.file.WriteAt(p.header.encode(), 0)
	if err != nil {
		return fmt.Errorf("pager: write header: %w", err)
	}
	return nil
}

// Sync flushes the header and OS buffers to stable storage.
func (p *Pager) Sync() error {
	if err := p.writeHeader(); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("pager: fsync: %w", err)
	}
	return nil
}

// RootPage returns the tree's root page id (0 means "no root yet").
func (p *Pager) RootPage() uint64 { return p.header.RootPage }

// SetRootPage rewrites the header with a new root page id.
func (p *Pager) SetRootPage(id uint64) error {
	p.header.RootPage = id
	return p.writeHeader()
}

// TotalPages reports the header's allocated-page count (header included).
func (p *Pager) TotalPages() uint64 { return p.header.TotalPages }
