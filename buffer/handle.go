package buffer

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Handle is a single-owner reference to one block drawn from a Pool. The
// zero value is not usable; construct one via Pool.Acquire.
//
// Copy is forbidden by convention (pass *Handle, never Handle); moving a
// Handle moves the release duty with it. AddRef exists for callers that
// need a block to outlive its original acquirer's release, e.g. handing a
// block to a second stage that runs concurrently with the first.
type Handle struct {
	pool  *Pool
	block []byte

	vaddrOnce sync.Once
	vaddr     uintptr

	refs int32
	once sync.Once
}

func newHandle(p *Pool, block []byte) *Handle {
	return &Handle{pool: p, block: block, refs: 1}
}

// VirtualAddress returns the address of the block's first byte, computed
// and cached on first call.
func (h *Handle) VirtualAddress() uintptr {
	h.vaddrOnce.Do(func() {
		if len(h.block) > 0 {
			h.vaddr = uintptr(unsafe.Pointer(&h.block[0]))
		}
	})
	return h.vaddr
}

// SizeBytes returns the block's fixed size.
func (h *Handle) SizeBytes() int { return len(h.block) }

// Bytes exposes the underlying block for in-place read/write by the owning
// stage. Callers must not retain the slice past Release.
func (h *Handle) Bytes() []byte { return h.block }

// AddRef bumps the handle's refcount so an additional owner can hold the
// block independently of the original acquirer. Each AddRef must be
// matched by its own Release.
func (h *Handle) AddRef() {
	atomic.AddInt32(&h.refs, 1)
}

// Release drops one reference. The block returns to its pool only when the
// refcount reaches zero, and only on the call that reaches zero: subsequent
// Release calls on an already-drained handle are no-ops.
func (h *Handle) Release() {
	if atomic.AddInt32(&h.refs, -1) > 0 {
		return
	}
	h.once.Do(func() {
		h.pool.release(h.block)
	})
}
