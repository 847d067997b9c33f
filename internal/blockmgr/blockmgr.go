// Package blockmgr sub-allocates the temporary region of the namespace
// into per-file contiguous LBA extents. Free extents are tracked in an
// address-ordered doubly linked list threaded through a slab by index,
// not by pointer, so the free list can never form a pointer cycle and
// slots can be recycled after a merge.
package blockmgr

import (
	"errors"
	"fmt"
)

// ErrOutOfSpace is returned by Allocate when no single free extent is
// large enough to satisfy the request. The manager never compacts.
var ErrOutOfSpace = errors.New("blockmgr: no free extent large enough")

// TemporaryBlock is a contiguous run of LBAs handed out as one extent.
type TemporaryBlock struct {
	StartLBA   uint64
	LengthLBAs uint64
}

const noNode = -1

type node struct {
	block TemporaryBlock
	free  bool
	prev  int
	next  int
}

// Manager sub-allocates [start, end) LBAs into extents.
type Manager struct {
	nodes     []node
	freeSlots []int
	headIdx   int
	byStart   map[uint64]int
	available uint64
	start     uint64
	end       uint64
}

// New creates a manager over the half-open LBA range [start, end),
// initially one single free extent covering the whole range.
func New(start, end uint64) *Manager {
	if end <= start {
		panic(fmt.Sprintf("blockmgr: invalid range [%d, %d)", start, end))
	}

	m := &Manager{
		byStart: make(map[uint64]int),
		headIdx: noNode,
		start:   start,
		end:     end,
	}
	rootIdx := m.newNode(node{
		block: TemporaryBlock{StartLBA: start, LengthLBAs: end - start},
		free:  true,
		prev:  noNode,
		next:  noNode,
	})
	m.headIdx = rootIdx
	m.byStart[start] = rootIdx
	m.available = end - start
	return m
}

func (m *Manager) newNode(n node) int {
	if len(m.freeSlots) > 0 {
		idx := m.freeSlots[len(m.freeSlots)-1]
		m.freeSlots = m.freeSlots[:len(m.freeSlots)-1]
		m.nodes[idx] = n
		return idx
	}
	m.nodes = append(m.nodes, n)
	return len(m.nodes) - 1
}

// Allocate returns a free extent of length >= nrLBAs, splitting the
// chosen extent if it is strictly larger. First-fit over the
// address-ordered free list, so ties are broken by lowest start LBA.
func (m *Manager) Allocate(nrLBAs uint64) (TemporaryBlock, error) {
	if nrLBAs == 0 {
		return TemporaryBlock{}, fmt.Errorf("blockmgr: cannot allocate zero LBAs")
	}

	for idx := m.headIdx; idx != noNode; idx = m.nodes[idx].next {
		n := &m.nodes[idx]
		if !n.free || n.block.LengthLBAs < nrLBAs {
			continue
		}

		if n.block.LengthLBAs > nrLBAs {
			m.split(idx, nrLBAs)
			n = &m.nodes[idx]
		}

		n.free = false
		m.available -= nrLBAs
		return n.block, nil
	}

	return TemporaryBlock{}, ErrOutOfSpace
}

// split carves the first nrLBAs off node idx, inserting a new free node
// for the remainder immediately after it in address order.
func (m *Manager) split(idx int, nrLBAs uint64) {
	n := &m.nodes[idx]
	remainderStart := n.block.StartLBA + nrLBAs
	remainderLen := n.block.LengthLBAs - nrLBAs

	remainderIdx := m.newNode(node{
		block: TemporaryBlock{StartLBA: remainderStart, LengthLBAs: remainderLen},
		free:  true,
		prev:  idx,
		next:  n.next,
	})
	// newNode may have grown m.nodes; re-fetch the pointer into the live slab.
	n = &m.nodes[idx]
	if n.next != noNode {
		m.nodes[n.next].prev = remainderIdx
	}
	n.next = remainderIdx
	n.block.LengthLBAs = nrLBAs

	m.byStart[remainderStart] = remainderIdx
}

// Release returns block to the free list and coalesces it with adjacent
// free neighbours.
func (m *Manager) Release(block TemporaryBlock) error {
	idx, ok := m.byStart[block.StartLBA]
	if !ok {
		return fmt.Errorf("blockmgr: no outstanding extent at LBA %d", block.StartLBA)
	}
	n := &m.nodes[idx]
	if n.free || n.block.LengthLBAs != block.LengthLBAs {
		return fmt.Errorf("blockmgr: extent at LBA %d does not match a live allocation", block.StartLBA)
	}

	n.free = true
	m.available += block.LengthLBAs

	if next := n.next; next != noNode && m.nodes[next].free {
		m.mergeWithNext(idx)
	}
	if prev := m.nodes[idx].prev; prev != noNode && m.nodes[prev].free {
		m.mergeWithNext(prev)
	}
	return nil
}

// mergeWithNext absorbs the node following idx into idx, freeing the
// following node's slab slot for reuse.
func (m *Manager) mergeWithNext(idx int) {
	n := &m.nodes[idx]
	nextIdx := n.next
	next := m.nodes[nextIdx]

	delete(m.byStart, next.block.StartLBA)
	n.block.LengthLBAs += next.block.LengthLBAs
	n.next = next.next
	if next.next != noNode {
		m.nodes[next.next].prev = idx
	}

	m.freeSlots = append(m.freeSlots, nextIdx)
}

// AvailableLBAs returns the total length of all free extents.
func (m *Manager) AvailableLBAs() uint64 {
	return m.available
}
