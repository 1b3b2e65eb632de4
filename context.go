// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package vboot2

// ContextFlags are the observable boot-wide flags from spec.md §6.
type ContextFlags uint32

const (
	ContextRecoveryMode ContextFlags = 1 << iota
	ContextDeveloperMode
	ContextForceRecoveryMode
	ContextForceWipeoutMode
	ContextDisableDeveloperMode
	ContextECSyncSupported
	ContextNVDataV2
	ContextNoSecdataFWMP
	ContextAllowKernelRollForward
	ContextFWSlotB
	ContextVendorDataSettable
	ContextNofailBoot
)

func (f ContextFlags) has(bit ContextFlags) bool { return f&bit != 0 }

// ResourceIndex names the four resources a host exposes through
// ReadResource.
type ResourceIndex int

const (
	ResGBB ResourceIndex = iota
	ResFWVBlock
	ResKernelVBlock
	// ResFWBody is read in caller-chosen chunks during hashFWBody rather
	// than pulled whole into the workbuf: bodies run to megabytes and
	// spec.md §4.5 requires this core hold at most one preamble-sized
	// object at a time.
	ResFWBody
)

// ReadResourceFunc copies exactly size bytes from the named resource at
// the given offset into buf[:size]. It must fail rather than
// short-copy.
type ReadResourceFunc func(index ResourceIndex, offset, size uint32, buf []byte) error

// DiskIO is the block-device collaborator named in spec.md §6. The core
// itself never calls it directly (disk enumeration and LBA I/O are out
// of scope per spec.md §1); it is carried on Context purely so a
// dispatcher-level host (cmd/vbootsim) has one place to plumb it through
// to code outside this package.
type DiskIO interface {
	ReadLBA(handle any, lbaStart, lbaCount uint64, buf []byte) error
	WriteLBA(handle any, lbaStart, lbaCount uint64, buf []byte) error
}

// EC is the embedded-controller collaborator interface from spec.md §6.
type EC interface {
	Trusted() bool
	RunningRW() (bool, error)
	JumpToRW() error
	DisableJump() error
	HashImage(sel ECImage) (hash []byte, err error)
	ExpectedImageHash(sel ECImage) (hash []byte, err error)
	UpdateImage(sel ECImage) error
	Protect(sel ECImage) error
	VbootDone() error
	// BatteryCutoff cuts power to the system battery in response to an
	// explicit NVBatteryCutoffRequest. Most hosts never call this; it
	// exists for boards that ship with the battery disconnected at the
	// factory and rely on firmware to arm it.
	BatteryCutoff() error
}

// AuxFW is the optional collaborator for auxiliary firmware images other
// than the EC itself (for example USB-C port-controller firmware). A
// host with nothing to sync here leaves ctx.AuxFW nil, which AuxFWSync
// treats the same as "nothing needs updating".
type AuxFW interface {
	// SyncNeeded reports whether any auxiliary firmware image is out of
	// date with respect to what this boot expects.
	SyncNeeded() (bool, error)
	// Sync updates every out-of-date auxiliary firmware image.
	// rebootRequired mirrors the EC's own slow-update case: some
	// controllers can't be reflashed while the AP is actively talking to
	// them, so the update can only proceed after a reboot.
	Sync() (rebootRequired bool, err error)
}

// NvdataBackend and SecdataBackend are the persistence collaborators.
// See nvdata.go and secdata.go for the blob formats each backs.
type NvdataBackend interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

type SecdataBackend interface {
	// Read returns the store's current contents, or (nil, nil) if the
	// store has never been created.
	Read() ([]byte, error)
	Write(data []byte) error
}

// Context is the single mutable root of a boot: one per boot, created
// once at entry, threaded through every operation, and committed once at
// hand-off. There is no other process-wide or package-level mutable
// state anywhere in this module.
type Context struct {
	Flags ContextFlags

	// DebugPrintf, if non-nil, is called at every point spec.md §7 calls
	// a "debug message" — distinct from, and never a substitute for, a
	// recorded RecoveryReason. Left nil, exactly like a production
	// build with VB2_DEBUG compiled out, it costs nothing.
	DebugPrintf func(format string, args ...any)

	ReadResource ReadResourceFunc
	Disk         DiskIO
	EC           EC
	AuxFW        AuxFW

	NV               NvdataBackend
	SecdataFirmware  SecdataBackend
	SecdataKernel    SecdataBackend
	SecdataFWMP      SecdataBackend

	workbuf     []byte
	workbufUsed uint32

	nvData     NVData
	nvDirty    bool
	nvInit     bool

	secFW       SecdataFirmware
	secFWDirty  bool
	secFWInit   bool

	secKern      SecdataKernel
	secKernDirty bool
	secKernInit  bool

	secFWMP     SecdataFWMP
	secFWMPInit bool
	secFWMPOK   bool

	sd SharedData
}

func (c *Context) debugf(format string, args ...any) {
	if c.DebugPrintf != nil {
		c.DebugPrintf(format, args...)
	}
}

// NewContext allocates a Context over a caller-supplied scratch buffer.
// bufSize must be at least large enough to hold a SharedData plus the
// largest GBB/keyblock/preamble the caller intends to load; there is no
// dynamic growth.
func NewContext(buf []byte) (*Context, error) {
	if len(buf) < alignUpInt(sharedDataSize) {
		return nil, NewError(KindWorkbufExhausted, "workbuf smaller than vb2_shared_data")
	}
	ctx := &Context{workbuf: buf}
	wb := workbufFromContext(ctx)
	sdBytes := wb.Alloc(uint32(sharedDataSize))
	if sdBytes == nil {
		return nil, NewError(KindWorkbufExhausted, "cannot reserve shared data")
	}
	setWorkbufUsed(ctx, ctx.offsetOf(sdBytes)+uint32(sharedDataSize))
	ctx.sd = SharedData{}
	return ctx, nil
}

func alignUpInt(n int) int { return int(alignUp(uint32(n))) }

// workbuf returns a Workbuf over the unused tail of ctx's arena.
func (ctx *Context) freeWorkbuf() Workbuf {
	return workbufFromContext(ctx)
}

// offsetOf returns p's offset from the base of ctx's arena. p must be a
// sub-slice of ctx.workbuf obtained without any intervening append.
func (ctx *Context) offsetOf(p []byte) uint32 {
	return uint32(cap(ctx.workbuf) - cap(p))
}

// memberOf returns the tail of ctx's arena starting at offset; callers
// re-slice to the length they know from shared data.
func (ctx *Context) memberOf(offset uint32) []byte {
	return ctx.workbuf[offset:]
}

// commit pins every byte wb has allocated as permanent. wb.buf never
// moves once created (Alloc/Realloc only advance wb.used), so this is
// safe to call at any point, including after several Alloc/Realloc calls
// against the same wb.
func (ctx *Context) commit(wb Workbuf) {
	setWorkbufUsed(ctx, ctx.offsetOf(wb.buf)+wb.used)
}

// sd returns a pointer to the shared data pinned at the base of the
// arena.
func (ctx *Context) SharedData() *SharedData { return &ctx.sd }
