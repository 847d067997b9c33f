package nvmefs

import "nvmefs/internal/frontier"

// OpenFlags controls Open's behaviour for paths that don't yet exist.
type OpenFlags uint8

const (
	// FlagCreate eagerly creates a temporary file entry when the path
	// classifies as ClassTemporary and no entry exists yet.
	FlagCreate OpenFlags = 1 << iota
)

// Has reports whether f includes flag.
func (f OpenFlags) Has(flag OpenFlags) bool {
	return f&flag != 0
}

// FileHandle is the single concrete handle type returned by Open,
// tagged with the class it was opened against. There is no separate
// handle implementation per class: class-specific behaviour lives in
// the FS methods that dispatch on h.class.
type FileHandle struct {
	class  FileClass
	path   string
	cursor frontier.Atomic
	fs     *FS

	// metadata marks the reserved raw handle returned for
	// GlobalMetadataPath, which bypasses region routing entirely.
	metadata bool
}

// Path returns the path the handle was opened against.
func (h *FileHandle) Path() string {
	return h.path
}

// Class returns the handle's file class. The reserved metadata handle
// reports ClassDatabase as an unused zero value; check IsMetadata first.
func (h *FileHandle) Class() FileClass {
	return h.class
}

// IsMetadata reports whether h is the reserved handle for
// GlobalMetadataPath, which bypasses region routing.
func (h *FileHandle) IsMetadata() bool {
	return h.metadata
}
