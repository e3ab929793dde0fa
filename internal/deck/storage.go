package deck

import (
	"encoding/binary"
	"sync"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Storage event types (grounded on storage_deck.c's EVENT_FILE_*/EVENT_MEMORY_*
// range).
const (
	EventMemoryAlloc     uint32 = 200
	EventMemoryFree      uint32 = 201
	EventFileOpen        uint32 = 210
	EventFileClose       uint32 = 211
	EventFileRead        uint32 = 212
	EventFileWrite       uint32 = 213
	EventFileStat        uint32 = 214
	EventFileCreateTagged uint32 = 215
	EventFileQuery       uint32 = 216
)

// inode is the deck's in-memory file record, standing in for the original's
// on-disk inode table (storage_deck.c keeps an equivalent fixed array).
type inode struct {
	id   uint64
	tag  string
	data []byte
}

// Storage is the deck that simulates a small in-memory filesystem plus a
// heap allocator, including the disk-full and not-found failure modes the
// workflow engine's retry policy and error-policy tests depend on (spec.md
// §4.9, §8).
type Storage struct {
	base

	mu        sync.Mutex
	nextFD    uint64
	openFiles map[uint64]*inode
	nextInode uint64
	byTag     map[string]*inode
	diskUsed  uint64
	diskQuota uint64
}

// NewStorage builds the Storage deck with the given disk quota in bytes
// (0 disables the quota, matching "unlimited" in the original's test
// harness).
func NewStorage(queueBound int, diskQuota uint64) *Storage {
	return &Storage{
		base:      newBase("storage", PrefixStorage, queueBound),
		nextFD:    1,
		openFiles: make(map[uint64]*inode),
		nextInode: 1,
		byTag:     make(map[string]*inode),
		diskQuota: diskQuota,
	}
}

func (d *Storage) Process(entry *routing.Entry) error {
	ev := &entry.Event
	payload := ev.Payload[:ev.PayloadSize]

	switch ev.Type {
	case EventMemoryAlloc:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		size := binary.LittleEndian.Uint64(payload[:8])
		if size == 0 || size > uint64(len(ev.Payload)) {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		buf := make([]byte, size)
		entry.RecordResult(buf, routing.ResultMemoryMapped, 0)

	case EventMemoryFree:
		entry.RecordResult(nil, routing.ResultNone, 0)

	case EventFileOpen:
		name := string(payload)
		d.mu.Lock()
		fd := d.nextFD
		d.nextFD++
		d.openFiles[fd] = &inode{id: fd}
		d.mu.Unlock()
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, fd)
		entry.RecordResult(result, routing.ResultValue, 0)
		_ = name

	case EventFileClose:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		fd := binary.LittleEndian.Uint64(payload[:8])
		d.mu.Lock()
		_, ok := d.openFiles[fd]
		delete(d.openFiles, fd)
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.StorageInvalidFD)
		}
		entry.RecordResult(nil, routing.ResultNone, 0)

	case EventFileRead:
		if len(payload) < 16 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		fd := binary.LittleEndian.Uint64(payload[:8])
		size := binary.LittleEndian.Uint64(payload[8:16])
		d.mu.Lock()
		f, ok := d.openFiles[fd]
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.StorageInvalidFD)
		}
		n := size
		if n > uint64(len(f.data)) {
			n = uint64(len(f.data))
		}
		out := make([]byte, n)
		copy(out, f.data[:n])
		entry.RecordResult(out, routing.ResultValue, 0)

	case EventFileWrite:
		if len(payload) < 12 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		fd := binary.LittleEndian.Uint64(payload[:8])
		size := binary.LittleEndian.Uint32(payload[8:12])
		data := payload[12:]
		if uint32(len(data)) < size {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		d.mu.Lock()
		f, ok := d.openFiles[fd]
		if ok && d.diskQuota > 0 && d.diskUsed+uint64(size) > d.diskQuota {
			d.mu.Unlock()
			return fail(entry, &d.base, kerr.StorageDiskFull)
		}
		if ok {
			f.data = append(f.data, data[:size]...)
			d.diskUsed += uint64(size)
		}
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.StorageInvalidFD)
		}
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, size)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventFileStat:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		fd := binary.LittleEndian.Uint64(payload[:8])
		d.mu.Lock()
		f, ok := d.openFiles[fd]
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.StorageFileNotFound)
		}
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, uint64(len(f.data)))
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventFileCreateTagged:
		tag := string(payload)
		if tag == "" {
			return fail(entry, &d.base, kerr.InvalidParameter)
		}
		d.mu.Lock()
		id := d.nextInode
		d.nextInode++
		n := &inode{id: id, tag: tag}
		d.byTag[tag] = n
		d.mu.Unlock()
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, id)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventFileQuery:
		tag := string(payload)
		d.mu.Lock()
		n, ok := d.byTag[tag]
		d.mu.Unlock()
		if !ok {
			return fail(entry, &d.base, kerr.StorageTagNotFound)
		}
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, n.id)
		entry.RecordResult(result, routing.ResultValue, 0)

	default:
		return fail(entry, &d.base, kerr.OpInvalidOperation)
	}

	d.recordOK()
	return nil
}
