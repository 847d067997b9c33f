package device

import (
	"fmt"

	"nvmefs/internal/cmdctx"
	"nvmefs/internal/mmap"
)

// FakeAdapter is an in-memory Adapter for tests, grounded on the original
// implementation's FakeDevice test double: a flat byte slab sized
// lba_count*lba_size, with the same read/write contract as FileAdapter but
// no real I/O and no locking.
type FakeAdapter struct {
	geometry cmdctx.DeviceGeometry
	nsID     uint32
	memory   []byte
	mmapped  bool
	closed   bool
}

// NewFakeAdapter allocates a namespace of the given geometry backed by an
// anonymous mmap region (falling back to a plain Go slice if the mmap
// syscall is unavailable), mirroring the backing-store strategy the
// teacher's arena allocator uses for its large buffers.
func NewFakeAdapter(geometry cmdctx.DeviceGeometry) *FakeAdapter {
	size := int(geometry.LBACount * geometry.LBASize)

	buf, err := mmap.New(size)
	mmapped := err == nil
	if err != nil {
		buf = make([]byte, size)
	}

	return &FakeAdapter{
		geometry: geometry,
		nsID:     1,
		memory:   buf,
		mmapped:  mmapped,
	}
}

func (a *FakeAdapter) Geometry() cmdctx.DeviceGeometry { return a.geometry }
func (a *FakeAdapter) NamespaceID() uint32             { return a.nsID }

func (a *FakeAdapter) AllocDMA(nrBytes int) []byte {
	lbaSize := int(a.geometry.LBASize)
	aligned := ((nrBytes + lbaSize - 1) / lbaSize) * lbaSize
	return make([]byte, aligned)
}

func (a *FakeAdapter) FreeDMA(buf []byte) {
	_ = buf
}

func (a *FakeAdapter) ReadLBA(ctx cmdctx.Context, dst []byte) error {
	start, end, err := a.byteRange(ctx)
	if err != nil {
		return err
	}
	copy(dst, a.memory[start+int64(ctx.InBlockOffset):end])
	return nil
}

func (a *FakeAdapter) WriteLBA(ctx cmdctx.Context, src []byte) error {
	start, end, err := a.byteRange(ctx)
	if err != nil {
		return err
	}
	dst := a.memory[start:end]
	if ctx.InBlockOffset == 0 {
		// Whole-LBA write: bytes beyond len(src) within the range are
		// zeroed, matching FileAdapter writing a fresh zeroed staging
		// buffer when no read-before-write is needed.
		for i := range dst {
			dst[i] = 0
		}
	}
	// Sub-LBA writes must preserve the rest of the targeted LBA, matching
	// FileAdapter's read-modify-write behaviour for InBlockOffset != 0.
	copy(dst[ctx.InBlockOffset:], src)
	return nil
}

func (a *FakeAdapter) byteRange(ctx cmdctx.Context) (start, end int64, err error) {
	lbaSize := int64(a.geometry.LBASize)
	start = int64(ctx.StartLBA) * lbaSize
	end = start + int64(ctx.NrLBAs)*lbaSize
	if end > int64(len(a.memory)) {
		return 0, 0, wrapIOErr("range", fmt.Errorf("lba range [%d,%d) exceeds namespace", ctx.StartLBA, ctx.StartLBA+ctx.NrLBAs))
	}
	return start, end, nil
}

func (a *FakeAdapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.mmapped {
		return mmap.Free(a.memory)
	}
	return nil
}
