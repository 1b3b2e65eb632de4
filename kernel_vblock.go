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

// maxKernelVBlockSize bounds a single candidate kernel partition's
// keyblock+preamble; the host is expected to point ReadResource at
// whichever partition it is currently probing before calling this.
const maxKernelVBlockSize = 64 * 1024

// LoadKernelVblock reads and verifies one candidate kernel partition's
// vblock (keyblock signed by subkey, preamble signed by the keyblock's
// data key), returning the preamble and the still-unverified body
// signature bytes for VerifyKernelData to check later. The caller is
// responsible for pointing ctx.ReadResource at the partition being
// probed; this core has no notion of partition enumeration (spec.md §1
// leaves disk layout to the host). Grounded on
// vb2api_load_kernel_vblock.
func LoadKernelVblock(ctx *Context, subkey *PackedKey) (*KernelPreamble, *PackedKey, []byte, error) {
	wb := ctx.freeWorkbuf()

	hdrBuf := wb.Alloc(keyblockHeaderSize)
	if hdrBuf == nil {
		return nil, nil, nil, NewError(KindFWKeyblockWorkbufHeader, "no room in workbuf for kernel keyblock header")
	}
	if err := ctx.ReadResource(ResKernelVBlock, 0, keyblockHeaderSize, hdrBuf); err != nil {
		return nil, nil, nil, WrapError(KindFWKeyblockWorkbuf, err)
	}
	kbSize64, err := peekKeyblockSize(hdrBuf)
	if err != nil {
		return nil, nil, nil, err
	}
	if kbSize64 > maxKernelVBlockSize {
		return nil, nil, nil, NewError(KindKeyblockSize, "kernel keyblock claims implausible size")
	}
	kbSize := uint32(kbSize64)

	full := wb.Realloc(keyblockHeaderSize, kbSize)
	if full == nil {
		return nil, nil, nil, NewError(KindFWKeyblockWorkbuf, "no room in workbuf for full kernel keyblock")
	}
	if err := ctx.ReadResource(ResKernelVBlock, 0, kbSize, full); err != nil {
		return nil, nil, nil, WrapError(KindFWKeyblockWorkbuf, err)
	}

	kb, err := verifyKeyblock(ctx, &wb, full, subkey)
	if err != nil {
		return nil, nil, nil, err
	}

	gbb, err := getGBB(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	rollbackChecksEnabled := !ctx.Flags.has(ContextRecoveryMode) && gbb.Flags&GBBFlagDisableFWRollbackCheck == 0

	if rollbackChecksEnabled {
		secVer, err := ctx.GetKernelVersionSecdata()
		if err != nil {
			return nil, nil, nil, err
		}
		if kb.DataKey.KeyVersion<<16 < secVer&0xFFFF0000 {
			return nil, nil, nil, NewError(KindKernelKeyblockVersionRollback, "kernel keyblock key version below secdata floor")
		}
	}

	preHdr := wb.Alloc(kernelPreambleHeaderSize)
	if preHdr == nil {
		return nil, nil, nil, NewError(KindFWPreambleWorkbufHeader, "no room in workbuf for kernel preamble header")
	}
	if err := ctx.ReadResource(ResKernelVBlock, kbSize, kernelPreambleHeaderSize, preHdr); err != nil {
		return nil, nil, nil, WrapError(KindFWPreambleWorkbuf, err)
	}
	preSize64, err := peekKernelPreambleSize(preHdr)
	if err != nil {
		return nil, nil, nil, err
	}
	if preSize64 > maxKernelVBlockSize {
		return nil, nil, nil, NewError(KindPreambleSize, "kernel preamble claims implausible size")
	}
	preSize := uint32(preSize64)

	preFull := wb.Realloc(kernelPreambleHeaderSize, preSize)
	if preFull == nil {
		return nil, nil, nil, NewError(KindFWPreambleWorkbuf, "no room in workbuf for full kernel preamble")
	}
	if err := ctx.ReadResource(ResKernelVBlock, kbSize, preSize, preFull); err != nil {
		return nil, nil, nil, WrapError(KindFWPreambleWorkbuf, err)
	}

	pre, bodySig, err := verifyKernelPreamble(preFull, kb.DataKey)
	if err != nil {
		return nil, nil, nil, err
	}

	composite := pre.CompositeVersion(kb.DataKey.KeyVersion)
	if rollbackChecksEnabled {
		secVer, err := ctx.GetKernelVersionSecdata()
		if err != nil {
			return nil, nil, nil, err
		}
		if composite < secVer {
			return nil, nil, nil, NewError(KindKernelPreambleVersionRollback, "kernel composite version below secdata floor")
		}
	}

	// Fold the keyblock's own developer/recovery bits forward into the
	// preamble, since only the preamble is returned to the caller from here
	// on. KernelPhase3 does not read them.
	pre.Flags |= uint32(kb.Flags)

	sd := ctx.SharedData()
	sd.KernelKeyOffset = ctx.offsetOf(kb.DataKey.keyData)
	sd.KernelKeySize = uint32(len(kb.DataKey.keyData))
	sd.KernelVblockPreambleOffset = kbSize
	sd.KernelPreambleOffset = ctx.offsetOf(preFull)
	sd.KernelPreambleSize = preSize
	sd.KernelVersion = composite

	ctx.commit(wb)

	return pre, kb.DataKey, bodySig, nil
}

func peekKernelPreambleSize(hdrBuf []byte) (uint64, error) {
	if len(hdrBuf) < kernelPreambleHeaderSize {
		return 0, NewError(KindPreambleSize, "short kernel preamble header read")
	}
	c := newLECursor(hdrBuf)
	size := c.u64() // preamble_size is the first field on the wire
	if !c.ok() {
		return 0, c.err
	}
	return size, nil
}
