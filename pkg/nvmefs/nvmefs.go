// Package nvmefs projects a small fixed set of logical files — one
// database, its write-ahead log, and a flat set of temporary files —
// onto a raw block-addressable namespace. It is the storage backend a
// host analytical engine's virtual filesystem interface talks to,
// bypassing the kernel page cache in favour of direct LBA I/O tagged
// for Flexible Data Placement.
package nvmefs

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"nvmefs/internal/cmdctx"
	"nvmefs/internal/device"
	"nvmefs/internal/frontier"
	"nvmefs/internal/superblock"
	"nvmefs/pkg/tmpfile"
)

// defaultLBASize is assumed for a real device file until a geometry
// query interface is wired in; the device driver that would supply it
// is an external collaborator this package does not implement.
const defaultLBASize = 4096

// DefaultTempFileLBAs is the extent size reserved by Open's
// create-on-first-open path, before the file's real block size is
// known from its first write.
const DefaultTempFileLBAs = 16

const deviceNamespaceID = 1

// FS is the single process-wide owner of the device handle and the
// in-memory superblock for one attached namespace. Its lifecycle runs
// from New to Close; there is no other process-wide mutable state in
// this package.
type FS struct {
	cfg Config
	dev device.Adapter
	log *logrus.Entry

	placement *cmdctx.PlacementTable
	temp      *tmpfile.Manager

	dbStart, walStart, tmpStart uint64
	dbLocation                  frontier.Atomic
	walLocation                 frontier.Atomic

	attached bool
	dbPath   string

	closed bool
}

// New opens (or attaches to) a namespace per cfg. It does not attach a
// database yet — superblock load/initialization happens lazily on the
// first Open call, per the facade's open contract.
func New(cfg Config, opts ...Option) (*FS, error) {
	fs := &FS{
		cfg: cfg,
		log: logrus.WithField("component", "nvmefs"),
	}
	for _, opt := range opts {
		opt.apply(fs)
	}

	if fs.dev == nil {
		dev, err := openDefaultAdapter(cfg.DevicePath)
		if err != nil {
			return nil, fmt.Errorf("nvmefs: opening device %s: %w", cfg.DevicePath, err)
		}
		fs.dev = dev
	}

	sessionID := uuid.New()
	fs.log = fs.log.WithField("session", sessionID.String())
	fs.log.Info("device attached")

	placement := cmdctx.NewPlacementTable(0)
	placement.Register("nvmefs:///tmp", 1)
	fs.placement = placement

	return fs, nil
}

func openDefaultAdapter(path string) (device.Adapter, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	geometry := cmdctx.DeviceGeometry{
		LBASize:  defaultLBASize,
		LBACount: uint64(info.Size()) / defaultLBASize,
	}
	return device.OpenFileAdapter(path, geometry, deviceNamespaceID)
}

func (fs *FS) lbaSize() uint64 {
	return fs.dev.Geometry().LBASize
}

// placementIndexFor resolves the FDP placement-handle index for path
// by longest-prefix match, falling back to the default class tag.
func (fs *FS) placementIndexFor(path string) uint32 {
	return fs.placement.IndexFor(path)
}

// loadOrInitSuperblock is called once, on the first Open of a non-
// metadata path, to either recover the persisted layout or compute a
// fresh one for a first attach.
func (fs *FS) loadOrInitSuperblock(path string, class FileClass) error {
	if fs.attached {
		return nil
	}

	sb, ok, err := superblock.ReadFrom(fs.dev)
	if err != nil {
		return fmt.Errorf("nvmefs: loading superblock: %w", err)
	}

	if ok {
		fs.applySuperblock(sb)
		fs.log.WithField("db_path", fs.dbPath).Info("superblock loaded")
		return nil
	}

	if class != ClassDatabase {
		return fmt.Errorf("%w: %s", ErrNoDatabaseAttached, path)
	}

	if err := fs.attachFirst(path); err != nil {
		return err
	}
	fs.log.WithField("db_path", fs.dbPath).Info("first attach")
	return nil
}

func (fs *FS) applySuperblock(sb *superblock.Superblock) {
	fs.dbStart = sb.DBStart
	fs.walStart = sb.WALStart
	fs.tmpStart = sb.TmpStart
	fs.dbLocation.Store(sb.DBLocation)
	fs.walLocation.Store(sb.WALLocation)
	fs.dbPath = sb.DBPath
	fs.temp = tmpfile.New(fs.tmpStart, fs.dev.Geometry().LBACount)
	fs.attached = true
}

// attachFirst computes the initial region layout per spec.md §4.6:
// tmp_start = lba_count - (max_temp_size/lba_size), wal_start =
// tmp_start - (max_wal_size/lba_size), db_start = 1, frontiers start at
// their region's first LBA.
func (fs *FS) attachFirst(dbPath string) error {
	stripped := strings.TrimPrefix(dbPath, "nvmefs://")
	if len(stripped) > superblock.MaxDBPathLen {
		return fmt.Errorf("%w: db path longer than %d characters", ErrInvalidArgument, superblock.MaxDBPathLen)
	}

	lbaSize := fs.lbaSize()
	lbaCount := fs.dev.Geometry().LBACount

	tmpLBAs := fs.cfg.MaxTempSize / lbaSize
	walLBAs := fs.cfg.MaxWALSize / lbaSize

	tmpStart := lbaCount - tmpLBAs
	walStart := tmpStart - walLBAs
	dbStart := uint64(1)

	if !(dbStart < walStart && walStart <= tmpStart && tmpStart < lbaCount) {
		return fmt.Errorf("%w: region sizing does not fit the namespace", ErrInvalidArgument)
	}

	fs.dbStart = dbStart
	fs.walStart = walStart
	fs.tmpStart = tmpStart
	fs.dbLocation.Store(dbStart)
	fs.walLocation.Store(walStart)
	fs.dbPath = stripped
	fs.temp = tmpfile.New(tmpStart, lbaCount)
	fs.attached = true
	return nil
}

// Close persists the superblock and closes the device. Every error
// encountered is aggregated so none is silently lost. The in-memory temp
// file table is left as it is; every later operation returns ErrClosed.
func (fs *FS) Close() error {
	if fs.closed {
		return nil
	}
	fs.closed = true

	var result *multierror.Error
	if fs.attached {
		if err := fs.persistSuperblock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("persisting superblock: %w", err))
		}
	}
	if err := fs.dev.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing device: %w", err))
	}

	fs.log.Info("closed")
	return result.ErrorOrNil()
}

func (fs *FS) persistSuperblock() error {
	sb := &superblock.Superblock{
		DBStart:     fs.dbStart,
		WALStart:    fs.walStart,
		TmpStart:    fs.tmpStart,
		DBLocation:  fs.dbLocation.Load(),
		WALLocation: fs.walLocation.Load(),
		DBPath:      fs.dbPath,
	}
	return superblock.WriteTo(fs.dev, sb)
}

// Sync persists the superblock to LBA 0. It is the only point besides
// Close at which the on-device superblock is rewritten.
func (fs *FS) Sync() error {
	if fs.closed {
		return ErrClosed
	}
	if !fs.attached {
		return nil
	}
	if err := fs.persistSuperblock(); err != nil {
		return fmt.Errorf("nvmefs: sync: %w", err)
	}
	fs.log.Debug("synced")
	return nil
}

// CanHandle reports whether path uses this package's URI scheme.
func (fs *FS) CanHandle(path string) bool {
	return CanHandle(path)
}
