// Package superblock encodes and decodes the self-describing layout
// record persisted at LBA 0: region boundaries, write frontiers, and the
// path of the single attached database. Fields are packed as fixed-width
// little-endian values with encoding/binary, never by relying on host
// struct layout, in the style of the fixed on-disk container records in
// the example corpus (e.g. the APFS container superblock reader).
package superblock

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"nvmefs/internal/cmdctx"
	"nvmefs/internal/device"
)

// Magic is the 6-byte prefix written before every persisted Superblock.
var Magic = [6]byte{'N', 'V', 'M', 'E', 'F', 'S'}

// MaxDBPathLen is the largest db_path the 101-byte field can hold,
// including the implicit null terminator.
const MaxDBPathLen = 100

// Size is the on-disk size of the fixed record, excluding the magic: five
// u64 region/frontier fields, then db_path_size and db_path[101].
const Size = 8*5 + (8 + MaxDBPathLen + 1)

// RecordSize is the total bytes read/written at LBA 0: magic + Size.
const RecordSize = len(Magic) + Size

// Superblock is the persistent layout descriptor for one attached
// device.
type Superblock struct {
	DBStart     uint64
	WALStart    uint64
	TmpStart    uint64
	DBLocation  uint64
	WALLocation uint64
	DBPathSize  uint64
	DBPath      string
}

// Validate checks the region-ordering invariants from the data model.
func (sb *Superblock) Validate(lbaCount uint64) error {
	switch {
	case sb.DBStart != 1:
		return fmt.Errorf("superblock: db_start must be 1, got %d", sb.DBStart)
	case !(sb.DBStart < sb.WALStart && sb.WALStart <= sb.TmpStart && sb.TmpStart < lbaCount):
		return fmt.Errorf("superblock: region bounds out of order: db_start=%d wal_start=%d tmp_start=%d lba_count=%d",
			sb.DBStart, sb.WALStart, sb.TmpStart, lbaCount)
	case !(sb.DBStart <= sb.DBLocation && sb.DBLocation <= sb.WALStart):
		return fmt.Errorf("superblock: db_location %d out of [%d, %d]", sb.DBLocation, sb.DBStart, sb.WALStart)
	case !(sb.WALStart <= sb.WALLocation && sb.WALLocation <= sb.TmpStart):
		return fmt.Errorf("superblock: wal_location %d out of [%d, %d]", sb.WALLocation, sb.WALStart, sb.TmpStart)
	case len(sb.DBPath) > MaxDBPathLen:
		return fmt.Errorf("superblock: db_path longer than %d characters", MaxDBPathLen)
	}
	return nil
}

// Encode packs sb into the fixed magic-prefixed little-endian record.
func (sb *Superblock) Encode() ([]byte, error) {
	if len(sb.DBPath) > MaxDBPathLen {
		return nil, fmt.Errorf("superblock: db_path longer than %d characters", MaxDBPathLen)
	}

	buf := make([]byte, RecordSize)
	copy(buf[0:6], Magic[:])

	le := binary.LittleEndian
	off := 6
	putU64 := func(v uint64) {
		le.PutUint64(buf[off:off+8], v)
		off += 8
	}
	putU64(sb.DBStart)
	putU64(sb.WALStart)
	putU64(sb.TmpStart)
	putU64(sb.DBLocation)
	putU64(sb.WALLocation)
	putU64(uint64(len(sb.DBPath)))

	// db_path[101]: path bytes followed by a null terminator, zero-padded.
	copy(buf[off:off+MaxDBPathLen], []byte(sb.DBPath))
	// buf[off+MaxDBPathLen] is left as the null terminator (zero value).

	return buf, nil
}

// Decode unpacks a record previously produced by Encode. It returns
// (nil, false, nil) if the magic prefix does not match, per the "Option"
// contract in the data model: an unwritten LBA 0 is not an error.
func Decode(buf []byte) (*Superblock, bool, error) {
	if len(buf) < RecordSize {
		return nil, false, fmt.Errorf("superblock: record too short: %d < %d", len(buf), RecordSize)
	}
	if !bytes.Equal(buf[0:6], Magic[:]) {
		return nil, false, nil
	}

	le := binary.LittleEndian
	off := 6
	getU64 := func() uint64 {
		v := le.Uint64(buf[off : off+8])
		off += 8
		return v
	}

	sb := &Superblock{}
	sb.DBStart = getU64()
	sb.WALStart = getU64()
	sb.TmpStart = getU64()
	sb.DBLocation = getU64()
	sb.WALLocation = getU64()
	sb.DBPathSize = getU64()

	if sb.DBPathSize > MaxDBPathLen {
		return nil, false, fmt.Errorf("superblock: stored db_path_size %d exceeds field capacity", sb.DBPathSize)
	}
	pathBytes := buf[off : off+int(sb.DBPathSize)]
	sb.DBPath = string(pathBytes)

	return sb, true, nil
}

// ReadFrom reads LBA 0 through dev and decodes it.
func ReadFrom(dev device.Adapter) (*Superblock, bool, error) {
	geometry := dev.Geometry()
	buf := dev.AllocDMA(int(geometry.LBASize))
	defer dev.FreeDMA(buf)

	ctx := cmdctx.Context{NamespaceID: dev.NamespaceID(), StartLBA: 0, NrLBAs: 1}
	if err := dev.ReadLBA(ctx, buf); err != nil {
		return nil, false, fmt.Errorf("superblock: reading LBA 0: %w", err)
	}

	return Decode(buf[:RecordSize])
}

// WriteTo encodes sb and writes it to LBA 0.
func WriteTo(dev device.Adapter, sb *Superblock) error {
	geometry := dev.Geometry()
	record, err := sb.Encode()
	if err != nil {
		return err
	}

	buf := dev.AllocDMA(int(geometry.LBASize))
	defer dev.FreeDMA(buf)
	copy(buf, record)

	ctx := cmdctx.Context{NamespaceID: dev.NamespaceID(), StartLBA: 0, NrLBAs: 1}
	if err := dev.WriteLBA(ctx, buf); err != nil {
		return fmt.Errorf("superblock: writing LBA 0: %w", err)
	}
	return nil
}
