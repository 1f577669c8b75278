// Package pager implements ButterflyDB's fixed-size paged file format: a
// file header at page 0 followed by a sequence of 4 KiB pages, each either a
// B+ tree internal node, a leaf node, or (unused here) an overflow/free page.
//
// Layout, little-endian throughout:
//
//	page 0:        FileHeader  (magic "BFLY", version, page size, total
//	               pages, free-list head, root page)
//	page N (N>=1): byte 0      page type tag
//	               bytes 1-4   payload length (u32 LE)
//	               bytes 8..   node payload
//
// There is no checksum and no write-ahead log: every write goes straight to
// the file (write-through), so a page is either Uncached or Cached-Clean —
// never dirty.
package pager

import "encoding/binary"

const (
	// PageSize is the fixed size in bytes of every page, header included.
	PageSize = 4096
	// HeaderSize is the size reserved for the file header (one page).
	HeaderSize = PageSize
	// BTreeOrder is the compile-time B+ tree order: the maximum number of
	// entries a node may hold before it is considered full is Order-1.
	BTreeOrder = 32
	// MaxCachePages bounds the pager's page cache.
	MaxCachePages = 1024
)

// Magic identifies a ButterflyDB data file.
var Magic = [4]byte{'B', 'F', 'L', 'Y'}

// FileVersion is the on-disk format version written by this implementation.
const FileVersion = 1

// PageType tags the kind of node serialized into a page's payload.
type PageType byte

const (
	PageFree PageType = iota
	PageInternal
	PageLeaf
	PageOverflow
)

func (t PageType) String() string {
	switch t {
	case PageFree:
		return "Free"
	case PageInternal:
		return "Internal"
	case PageLeaf:
		return "Leaf"
	case PageOverflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// FileHeader is the single page stored at file offset 0.
type FileHeader struct {
	Magic        [4]byte
	Version      uint32
	PageSize     uint32
	TotalPages   uint64
	FreePageList uint64 // reserved, not consumed by this implementation
	RootPage     uint64
}

// DefaultFileHeader returns the header written for a freshly created file.
// TotalPages starts at 1 because the header itself occupies a page slot.
func DefaultFileHeader() FileHeader {
	return FileHeader{
		Magic:      Magic,
		Version:    FileVersion,
		PageSize:   PageSize,
		TotalPages: 1,
		RootPage:   0,
	}
}

func (h FileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[20:28], h.FreePageList)
	binary.LittleEndian.PutUint64(buf[28:36], h.RootPage)
	return buf
}

func decodeFileHeader(buf []byte) FileHeader {
	var h FileHeader
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	h.TotalPages = binary.LittleEndian.Uint64(buf[12:20])
	h.FreePageList = binary.LittleEndian.Uint64(buf[20:28])
	h.RootPage = binary.LittleEndian.Uint64(buf[28:36])
	return h
}

// DiskPage is the in-memory view of one on-disk page: a type tag plus its
// serialized payload.
type DiskPage struct {
	PageID uint64
	Type   PageType
	Data   []byte // the raw node payload, as produced by leafNode.encode or internalNode.encode
}

func (p DiskPage) encode() []byte {
	buf := make([]byte, PageSize)
	buf[0] = byte(p.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(p.Data)))
	copy(buf[8:8+len(p.Data)], p.Data)
	return buf
}

func decodeDiskPage(id uint64, buf []byte) DiskPage {
	typ := PageType(buf[0])
	switch typ {
	case PageInternal, PageLeaf, PageOverflow:
	default:
		typ = PageFree
	}
	n := binary.LittleEndian.Uint32(buf[1:5])
	if int(n) > len(buf)-8 {
		n = uint32(len(buf) - 8)
	}
	data := make([]byte, n)
	copy(data, buf[8:8+n])
	return DiskPage{PageID: id, Type: typ, Data: data}
}
