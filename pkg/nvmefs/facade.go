package nvmefs

import (
	"errors"
	"fmt"
	"strings"

	"nvmefs/internal/blockmgr"
	"nvmefs/internal/cmdctx"
	"nvmefs/pkg/tmpfile"
)

// Open resolves path to a FileHandle. GlobalMetadataPath returns a raw
// handle that bypasses region routing entirely. For any other path, the
// superblock is loaded on first call; if none exists and path is not a
// database path, Open fails with ErrNoDatabaseAttached. If flags
// includes FlagCreate and path classifies as ClassTemporary, the temp
// file entry is created eagerly.
func (fs *FS) Open(path string, flags OpenFlags) (*FileHandle, error) {
	if fs.closed {
		return nil, ErrClosed
	}

	if path == GlobalMetadataPath {
		return &FileHandle{fs: fs, path: path, metadata: true}, nil
	}

	class, err := Classify(path)
	if err != nil {
		return nil, err
	}

	if err := fs.loadOrInitSuperblock(path, class); err != nil {
		return nil, err
	}

	if class == ClassDatabase && strings.TrimPrefix(path, "nvmefs://") != fs.dbPath {
		return nil, fmt.Errorf("%w: %s is attached to %s", ErrInvalidPath, path, fs.dbPath)
	}

	if flags.Has(FlagCreate) && class == ClassTemporary && !fs.temp.Exists(path) {
		if _, err := fs.temp.Create(path, DefaultTempFileLBAs, 0, 0); err != nil {
			return nil, fs.translateTmpfileErr(err)
		}
	}

	return &FileHandle{fs: fs, path: path, class: class}, nil
}

// ReadAt reads len(buf) bytes starting at byte offset h.cursor+off.
func (fs *FS) ReadAt(h *FileHandle, buf []byte, off uint64) (int, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	if h.metadata {
		return 0, fmt.Errorf("%w: metadata handle is not readable through ReadAt", ErrUnsupported)
	}

	effOff := h.cursor.Load() + off
	ctx, err := fs.buildCommand(h.class, h.path, effOff, uint64(len(buf)))
	if err != nil {
		return 0, err
	}

	if err := fs.dev.ReadLBA(ctx, buf); err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrDeviceIO, h.path, err)
	}
	return len(buf), nil
}

// Read reads len(buf) bytes at the handle's current cursor.
func (fs *FS) Read(h *FileHandle, buf []byte) (int, error) {
	return fs.ReadAt(h, buf, 0)
}

// WriteAt writes buf starting at byte offset h.cursor+off, then
// advances the target region's frontier.
func (fs *FS) WriteAt(h *FileHandle, buf []byte, off uint64) (int, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	if h.metadata {
		return 0, fmt.Errorf("%w: metadata handle is not writable through WriteAt", ErrUnsupported)
	}

	effOff := h.cursor.Load() + off
	ctx, err := fs.buildCommand(h.class, h.path, effOff, uint64(len(buf)))
	if err != nil {
		return 0, err
	}

	if err := fs.dev.WriteLBA(ctx, buf); err != nil {
		return 0, fmt.Errorf("%w: writing %s: %v", ErrDeviceIO, h.path, err)
	}

	fs.advanceFrontier(h.class, h.path, ctx.StartLBA+ctx.NrLBAs)
	return len(buf), nil
}

// Write writes buf at the handle's current cursor.
func (fs *FS) Write(h *FileHandle, buf []byte) (int, error) {
	return fs.WriteAt(h, buf, 0)
}

// buildCommand translates (class, path, byteOffset) into a device
// command context, range-checking it against the target region or
// temp-file extent.
func (fs *FS) buildCommand(class FileClass, path string, byteOffset, nrBytes uint64) (cmdctx.Context, error) {
	startLBA, err := fs.lbaFor(class, path, byteOffset)
	if err != nil {
		return cmdctx.Context{}, err
	}

	inBlockOffset := byteOffset % fs.lbaSize()
	ctx, err := cmdctx.Build(fs.dev.Geometry(), fs.dev.NamespaceID(), startLBA, inBlockOffset, nrBytes, fs.placementIndexFor(path))
	if err != nil {
		return cmdctx.Context{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if err := fs.checkRange(class, path, ctx.StartLBA, ctx.NrLBAs); err != nil {
		return cmdctx.Context{}, err
	}
	return ctx, nil
}

func (fs *FS) lbaFor(class FileClass, path string, byteOffset uint64) (uint64, error) {
	switch class {
	case ClassDatabase:
		return fs.dbStart + byteOffset/fs.lbaSize(), nil
	case ClassWAL:
		return fs.walStart + byteOffset/fs.lbaSize(), nil
	case ClassTemporary:
		lba, err := fs.temp.GetLBA(path, byteOffset, fs.lbaSize())
		if err != nil {
			return 0, fs.translateTmpfileErr(err)
		}
		return lba, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
}

// checkRange bounds [startLBA, startLBA+nrLBAs) against the target
// region for the database and WAL, or against the individual file's own
// extent for a temporary file. It never checks against the temp
// super-region as a whole; that would let one file's write spill into
// another's extent.
func (fs *FS) checkRange(class FileClass, path string, startLBA, nrLBAs uint64) error {
	var regionStart, regionEnd uint64
	switch class {
	case ClassDatabase:
		regionStart, regionEnd = fs.dbStart, fs.walStart-1
	case ClassWAL:
		regionStart, regionEnd = fs.walStart, fs.tmpStart-1
	case ClassTemporary:
		entry, err := fs.temp.Get(path)
		if err != nil {
			return fs.translateTmpfileErr(err)
		}
		regionStart, regionEnd = entry.Extent.StartLBA, entry.Extent.StartLBA+entry.Extent.LengthLBAs-1
	}

	if startLBA < regionStart || startLBA+nrLBAs-1 > regionEnd {
		return fmt.Errorf("%w: [%d,%d) outside %s region [%d,%d]", ErrOutOfRange, startLBA, startLBA+nrLBAs, class, regionStart, regionEnd)
	}
	return nil
}

func (fs *FS) advanceFrontier(class FileClass, path string, proposed uint64) {
	switch class {
	case ClassDatabase:
		fs.dbLocation.RaiseTo(proposed)
	case ClassWAL:
		fs.walLocation.RaiseTo(proposed)
	case ClassTemporary:
		_, _ = fs.temp.MoveLocation(path, proposed)
	}
}

// GetFileSize reports h's current size in bytes.
func (fs *FS) GetFileSize(h *FileHandle) (uint64, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	if h.metadata {
		return 0, fmt.Errorf("%w: metadata handle has no size", ErrUnsupported)
	}
	switch h.class {
	case ClassDatabase:
		return (fs.dbLocation.Load() - fs.dbStart) * fs.lbaSize(), nil
	case ClassWAL:
		return (fs.walLocation.Load() - fs.walStart) * fs.lbaSize(), nil
	case ClassTemporary:
		lbas, err := fs.temp.SizeLBAs(h.path)
		if err != nil {
			return 0, fs.translateTmpfileErr(err)
		}
		return lbas * fs.lbaSize(), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidPath, h.path)
	}
}

// regionMaxSizeBytes reports the byte-size cap of h's region (or, for
// a temporary file, its extent's capacity).
func (fs *FS) regionMaxSizeBytes(h *FileHandle) (uint64, error) {
	switch h.class {
	case ClassDatabase:
		return (fs.walStart - fs.dbStart) * fs.lbaSize(), nil
	case ClassWAL:
		return (fs.tmpStart - fs.walStart) * fs.lbaSize(), nil
	case ClassTemporary:
		entry, err := fs.temp.Get(h.path)
		if err != nil {
			return 0, fs.translateTmpfileErr(err)
		}
		return entry.CapacityLBAs() * fs.lbaSize(), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidPath, h.path)
	}
}

// Seek repositions h's cursor. loc must be a multiple of the device's
// LBA size and strictly less than the file's region-bounded max size.
func (fs *FS) Seek(h *FileHandle, loc uint64) error {
	if fs.closed {
		return ErrClosed
	}
	if h.metadata {
		return fmt.Errorf("%w: metadata handle does not support seek", ErrUnsupported)
	}
	if loc%fs.lbaSize() != 0 {
		return fmt.Errorf("%w: seek offset %d is not LBA-aligned", ErrInvalidArgument, loc)
	}

	maxSize, err := fs.regionMaxSizeBytes(h)
	if err != nil {
		return err
	}
	if loc >= maxSize {
		return fmt.Errorf("%w: seek offset %d exceeds region size %d", ErrOutOfRange, loc, maxSize)
	}

	h.cursor.Store(loc)
	return nil
}

// Truncate shrinks h to newSize bytes. Growth is rejected.
func (fs *FS) Truncate(h *FileHandle, newSize uint64) error {
	if fs.closed {
		return ErrClosed
	}

	currentSize, err := fs.GetFileSize(h)
	if err != nil {
		return err
	}
	if newSize > currentSize {
		return fmt.Errorf("%w: truncate to %d exceeds current size %d", ErrInvalidArgument, newSize, currentSize)
	}

	newLBAs := cmdctx.CalculateRequiredLBAs(fs.lbaSize(), newSize)
	switch h.class {
	case ClassDatabase:
		fs.dbLocation.Store(fs.dbStart + newLBAs)
	case ClassWAL:
		fs.walLocation.Store(fs.walStart + newLBAs)
	case ClassTemporary:
		if err := fs.temp.Truncate(h.path, newLBAs); err != nil {
			return fs.translateTmpfileErr(err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPath, h.path)
	}
	return nil
}

// RemoveFile implements the class-specific removal semantics: resetting
// the WAL frontier, deleting a temp file's entry, or a no-op for the
// database file.
func (fs *FS) RemoveFile(path string) error {
	if fs.closed {
		return ErrClosed
	}

	class, err := Classify(path)
	if err != nil {
		return err
	}

	switch class {
	case ClassWAL:
		fs.walLocation.Store(fs.walStart)
		return nil
	case ClassTemporary:
		if err := fs.temp.Delete(path); err != nil {
			return fs.translateTmpfileErr(err)
		}
		return nil
	case ClassDatabase:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
}

// FileExists reports whether path refers to a live file.
func (fs *FS) FileExists(path string) (bool, error) {
	if fs.closed {
		return false, ErrClosed
	}

	class, err := Classify(path)
	if err != nil {
		return false, err
	}

	switch class {
	case ClassDatabase:
		return fs.attached && strings.TrimPrefix(path, "nvmefs://") == fs.dbPath, nil
	case ClassWAL:
		return fs.attached, nil
	case ClassTemporary:
		return fs.temp != nil && fs.temp.Exists(path), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
}

// DirectoryExists reports whether dir is the single supported pseudo-
// directory, "/tmp".
func (fs *FS) DirectoryExists(dir string) (bool, error) {
	if fs.closed {
		return false, ErrClosed
	}
	return dir == "/tmp" || dir == "nvmefs:///tmp", nil
}

// RemoveDirectory only supports clearing "/tmp", deleting every live
// temporary file.
func (fs *FS) RemoveDirectory(dir string) error {
	if fs.closed {
		return ErrClosed
	}
	if dir != "/tmp" && dir != "nvmefs:///tmp" {
		return fmt.Errorf("%w: cannot remove directory %s", ErrUnsupported, dir)
	}
	if fs.temp == nil {
		return nil
	}
	for _, path := range fs.temp.List() {
		if err := fs.temp.Delete(path); err != nil {
			return fs.translateTmpfileErr(err)
		}
	}
	return nil
}

// ListFiles returns every live temporary file path.
func (fs *FS) ListFiles(dir string) ([]string, error) {
	if fs.closed {
		return nil, ErrClosed
	}
	if dir != "/tmp" && dir != "nvmefs:///tmp" {
		return nil, fmt.Errorf("%w: cannot list directory %s", ErrUnsupported, dir)
	}
	if fs.temp == nil {
		return nil, nil
	}
	return fs.temp.List(), nil
}

// GetAvailableDiskSpace reports the unallocated space in the temporary
// region, in bytes.
func (fs *FS) GetAvailableDiskSpace() (uint64, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	if fs.temp == nil {
		return 0, nil
	}
	return fs.temp.AvailableLBAs() * fs.lbaSize(), nil
}

// Trim zero-fills len bytes at byte offset off, implemented as an
// explicit write rather than a device-level deallocate hint.
func (fs *FS) Trim(h *FileHandle, off, length uint64) error {
	zeros := make([]byte, length)
	_, err := fs.WriteAt(h, zeros, off)
	return err
}

func (fs *FS) translateTmpfileErr(err error) error {
	switch {
	case errors.Is(err, tmpfile.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	case errors.Is(err, tmpfile.ErrOutOfRange):
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	case errors.Is(err, tmpfile.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	case errors.Is(err, tmpfile.ErrInvalidSize):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, blockmgr.ErrOutOfSpace):
		return fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	default:
		return err
	}
}
