// Package tmpfile manages the set of temporary files multiplexed onto
// the namespace's temporary region. Each file gets a contiguous extent
// from an internal/blockmgr.Manager and a monotonic write-location
// frontier; file metadata itself lives only in memory and does not
// survive a restart, matching the "ephemeral working storage" role
// temporary files play for the host engine.
package tmpfile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"nvmefs/internal/blockmgr"
	"nvmefs/internal/frontier"
)

// ErrNotFound is returned by operations on a path with no temporary file.
var ErrNotFound = errors.New("tmpfile: no such temporary file")

// ErrAlreadyExists is returned by Create when path is already tracked.
var ErrAlreadyExists = errors.New("tmpfile: already exists")

// ErrOutOfRange is returned by GetLBA when the requested byte offset
// falls outside the file's extent.
var ErrOutOfRange = errors.New("tmpfile: offset exceeds extent")

// ErrInvalidSize is returned by Truncate when the requested size is
// larger than the file's current size.
var ErrInvalidSize = errors.New("tmpfile: new size exceeds current size")

// Entry is the in-memory bookkeeping record for one temporary file.
type Entry struct {
	FileIndex      uint64
	BlockSizeBytes uint64
	NrBlocks       uint64
	Location       frontier.Atomic
	Extent         blockmgr.TemporaryBlock
}

// CurrentSizeLBAs reports the file's live size: the distance the
// write-location frontier has advanced into the extent.
func (e *Entry) CurrentSizeLBAs() uint64 {
	return e.Location.Load() - e.Extent.StartLBA
}

// CapacityLBAs reports the extent's total reserved length.
func (e *Entry) CapacityLBAs() uint64 {
	return e.Extent.LengthLBAs
}

// Manager tracks every live temporary file and owns the sub-allocator
// for the temporary LBA region.
type Manager struct {
	mu      sync.Mutex
	files   map[string]*Entry
	blocks  *blockmgr.Manager
	nextIdx frontier.Atomic
}

// New creates a Manager sub-allocating the half-open LBA range
// [start, end) of the temporary region.
func New(start, end uint64) *Manager {
	return &Manager{
		files:  make(map[string]*Entry),
		blocks: blockmgr.New(start, end),
	}
}

// Create allocates a new temporary file at path with an extent sized
// to hold nrBlocks blocks of blockSizeBytes each, rounded up to whole
// LBAs by the caller via requiredLBAs.
func (m *Manager) Create(path string, requiredLBAs, blockSizeBytes, nrBlocks uint64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[path]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}

	extent, err := m.blocks.Allocate(requiredLBAs)
	if err != nil {
		return nil, fmt.Errorf("tmpfile: creating %s: %w", path, err)
	}

	entry := &Entry{
		FileIndex:      m.nextIdx.Load(),
		BlockSizeBytes: blockSizeBytes,
		NrBlocks:       nrBlocks,
		Extent:         extent,
	}
	entry.Location.Store(extent.StartLBA)
	m.nextIdx.RaiseTo(entry.FileIndex + 1)

	m.files[path] = entry
	return entry, nil
}

// Get returns the tracked entry for path.
func (m *Manager) Get(path string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return entry, nil
}

// Exists reports whether path is a tracked temporary file.
func (m *Manager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// MoveLocation advances path's write-location frontier to max(current,
// proposed) without holding the manager lock, since frontier.Atomic is
// itself safe for concurrent use once the entry has been looked up.
func (m *Manager) MoveLocation(path string, proposed uint64) (uint64, error) {
	entry, err := m.Get(path)
	if err != nil {
		return 0, err
	}
	value, _ := entry.Location.RaiseTo(proposed)
	return value, nil
}

// GetLBA translates a byte offset within path into an absolute LBA,
// failing with ErrOutOfRange if it would land outside the file's
// extent.
func (m *Manager) GetLBA(path string, byteOffset, lbaSize uint64) (uint64, error) {
	entry, err := m.Get(path)
	if err != nil {
		return 0, err
	}

	lba := entry.Extent.StartLBA + byteOffset/lbaSize
	if lba >= entry.Extent.StartLBA+entry.Extent.LengthLBAs {
		return 0, fmt.Errorf("%w: offset %d in %s", ErrOutOfRange, byteOffset, path)
	}
	return lba, nil
}

// SizeLBAs reports path's current live size in LBAs.
func (m *Manager) SizeLBAs(path string) (uint64, error) {
	entry, err := m.Get(path)
	if err != nil {
		return 0, err
	}
	return entry.CurrentSizeLBAs(), nil
}

// Truncate shrinks path's write-location frontier to newSizeLBAs, which
// must not exceed the file's current size. The extent itself is never
// released or resized: it stays reserved at its original capacity for
// the life of the file, matching the no-compaction posture of the
// underlying sub-allocator.
func (m *Manager) Truncate(path string, newSizeLBAs uint64) error {
	entry, err := m.Get(path)
	if err != nil {
		return err
	}

	if newSizeLBAs > entry.CurrentSizeLBAs() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, path)
	}

	entry.Location.Store(entry.Extent.StartLBA + newSizeLBAs)
	entry.NrBlocks = newSizeLBAs
	return nil
}

// Delete releases path's extent back to the allocator and stops
// tracking it.
func (m *Manager) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.files[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := m.blocks.Release(entry.Extent); err != nil {
		return fmt.Errorf("tmpfile: releasing extent for %s: %w", path, err)
	}
	delete(m.files, path)
	return nil
}

// List returns every tracked temporary file path, sorted for
// deterministic iteration.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// AvailableLBAs reports the unallocated LBA count in the temporary
// region.
func (m *Manager) AvailableLBAs() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks.AvailableLBAs()
}
