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

// fwVBlockSlotSize is the fixed stride between slot A and slot B's vblock
// regions within the FW_VBLOCK resource. Real hardware fixes this at
// image-build time; hosts implementing ReadResource are expected to use
// the same stride when carving up their backing image.
const fwVBlockSlotSize = 64 * 1024

// maxFWVBlockSize bounds how much of a slot's vblock (keyblock + data key
// + preamble) this core will ever pull into the workbuf at once.
const maxFWVBlockSize = 16 * 1024

// selectFWSlot decides which of the two firmware slots to try this boot,
// following vb2_select_fw_slot: the outgoing boot's tried slot and result
// are read from nvdata and archived to the _PREV_ fields before anything
// else touches them, the slot to try comes from try_next (not from the
// try counter), and try_next only flips to the other slot when the last
// boot used up its final try on the slot we were about to retry anyway.
func selectFWSlot(ctx *Context) (int, error) {
	if ctx.Flags.has(ContextRecoveryMode) {
		ctx.sd.FWSlot = 0
		return 0, nil
	}

	lastSlot, err := ctx.NVGet(NVFWTried)
	if err != nil {
		return 0, err
	}
	lastResult, err := ctx.NVGet(NVFirmwareResult)
	if err != nil {
		return 0, err
	}
	ctx.sd.LastFWSlot = int(lastSlot)
	ctx.sd.LastFWResult = uint8(lastResult)

	if err := ctx.NVSet(NVFWPrevTried, lastSlot); err != nil {
		return 0, err
	}
	if err := ctx.NVSet(NVFWPrevResult, lastResult); err != nil {
		return 0, err
	}

	// We don't know the outcome of this boot yet.
	if err := ctx.NVSet(NVFirmwareResult, uint32(FWResultUnknown)); err != nil {
		return 0, err
	}

	tryNext, err := ctx.NVGet(NVTryNextFirmware)
	if err != nil {
		return 0, err
	}
	slot := int(tryNext)

	tries, err := ctx.NVGet(NVTryCountFirmware)
	if err != nil {
		return 0, err
	}

	if uint8(lastResult) == FWResultTrying && int(lastSlot) == slot && tries == 0 {
		// We used up our last try on the previous boot; fall back to the
		// other slot this boot.
		slot = 1 - slot
		if err := ctx.NVSet(NVTryNextFirmware, uint32(slot)); err != nil {
			return 0, err
		}
	}

	if tries > 0 {
		if err := ctx.NVSet(NVFirmwareResult, uint32(FWResultTrying)); err != nil {
			return 0, err
		}
		if !ctx.Flags.has(ContextNofailBoot) {
			if err := ctx.NVSet(NVTryCountFirmware, tries-1); err != nil {
				return 0, err
			}
		}
	}

	if err := ctx.NVSet(NVFWTried, uint32(slot)); err != nil {
		return 0, err
	}

	if slot == 1 {
		ctx.Flags |= ContextFWSlotB
	}
	ctx.sd.FWSlot = slot
	ctx.sd.Status |= SDStatusChoseSlot

	return slot, nil
}

// loadFWKeyblock reads and verifies the chosen slot's keyblock against
// the GBB root key, checking the keyblock's own version for rollback
// before it is trusted at all. Grounded on vb2_load_fw_keyblock.
func loadFWKeyblock(ctx *Context, slot int) (*Keyblock, error) {
	gbb, err := getGBB(ctx)
	if err != nil {
		return nil, err
	}

	wb := ctx.freeWorkbuf()
	rootKeyBuf := wb.Alloc(gbb.RootKeySize)
	if rootKeyBuf == nil {
		return nil, NewError(KindFWKeyblockWorkbufRootKey, "no room in workbuf for root key")
	}
	if err := ctx.ReadResource(ResGBB, gbb.RootKeyOffset, gbb.RootKeySize, rootKeyBuf); err != nil {
		return nil, WrapError(KindFWKeyblockWorkbuf, err)
	}
	rootKey, err := unpackKey(ctx, &wb, rootKeyBuf)
	if err != nil {
		return nil, err
	}

	hdrBuf := wb.Alloc(keyblockHeaderSize)
	if hdrBuf == nil {
		return nil, NewError(KindFWKeyblockWorkbufHeader, "no room in workbuf for keyblock header")
	}
	base := uint32(slot) * fwVBlockSlotSize
	if err := ctx.ReadResource(ResFWVBlock, base, keyblockHeaderSize, hdrBuf); err != nil {
		return nil, WrapError(KindFWKeyblockWorkbuf, err)
	}
	kbSize64, err := peekKeyblockSize(hdrBuf)
	if err != nil {
		return nil, err
	}
	if kbSize64 > maxFWVBlockSize {
		return nil, NewError(KindKeyblockSize, "keyblock claims implausible size")
	}
	kbSize := uint32(kbSize64)

	full := wb.Realloc(keyblockHeaderSize, kbSize)
	if full == nil {
		return nil, NewError(KindFWKeyblockWorkbuf, "no room in workbuf for full keyblock")
	}
	if err := ctx.ReadResource(ResFWVBlock, base, kbSize, full); err != nil {
		return nil, WrapError(KindFWKeyblockWorkbuf, err)
	}

	kb, err := verifyKeyblock(ctx, &wb, full, rootKey)
	if err != nil {
		return nil, err
	}

	if !ctx.Flags.has(ContextRecoveryMode) && gbb.Flags&GBBFlagDisableFWRollbackCheck == 0 {
		secVer, err := ctx.GetFWVersionSecdata()
		if err != nil {
			return nil, err
		}
		composite := kb.DataKey.KeyVersion << 16
		if composite < secVer&0xFFFF0000 {
			return nil, NewError(KindFWKeyblockVersionRollback, "keyblock key version below secdata floor")
		}
	}
	if kb.DataKey.KeyVersion > MaxKeyVersion {
		return nil, NewError(KindFWKeyblockVersionRange, "keyblock key version out of range")
	}

	reportDevFirmware(ctx, kb.Flags)

	sd := ctx.SharedData()
	sd.DataKeyOffset = ctx.offsetOf(kb.DataKey.keyData)
	sd.DataKeySize = uint32(len(kb.DataKey.keyData))
	sd.VblockPreambleOffset = base + kbSize

	ctx.commit(wb)
	return kb, nil
}

// peekKeyblockSize reads only the keyblock_size field without doing full
// validation, so the caller knows how much more to read before it can
// verify anything.
func peekKeyblockSize(hdrBuf []byte) (uint64, error) {
	if len(hdrBuf) < keyblockHeaderSize {
		return 0, NewError(KindKeyblockSize, "short keyblock header read")
	}
	c := newLECursor(hdrBuf)
	c.skip(8) // magic
	c.skip(8) // header_version_major/minor
	size := c.u64()
	if !c.ok() {
		return 0, c.err
	}
	return size, nil
}

// loadFWPreamble reads and verifies the preamble following kb's keyblock
// in the same vblock resource, checking rollback against
// secdata_firmware; roll-forward is left to FirmwarePhase3. Grounded on
// vb2_load_fw_preamble.
func loadFWPreamble(ctx *Context, slot int, kb *Keyblock) (*FWPreamble, error) {
	sd := ctx.SharedData()
	wb := ctx.freeWorkbuf()

	hdrBuf := wb.Alloc(fwPreambleHeaderSize)
	if hdrBuf == nil {
		return nil, NewError(KindFWPreambleWorkbufHeader, "no room in workbuf for preamble header")
	}
	if err := ctx.ReadResource(ResFWVBlock, sd.VblockPreambleOffset, fwPreambleHeaderSize, hdrBuf); err != nil {
		return nil, WrapError(KindFWPreambleWorkbuf, err)
	}
	preSize64, err := peekPreambleSize(hdrBuf)
	if err != nil {
		return nil, err
	}
	if preSize64 > maxFWVBlockSize {
		return nil, NewError(KindPreambleSize, "preamble claims implausible size")
	}
	preSize := uint32(preSize64)

	full := wb.Realloc(fwPreambleHeaderSize, preSize)
	if full == nil {
		return nil, NewError(KindFWPreambleWorkbuf, "no room in workbuf for full preamble")
	}
	if err := ctx.ReadResource(ResFWVBlock, sd.VblockPreambleOffset, preSize, full); err != nil {
		return nil, WrapError(KindFWPreambleWorkbuf, err)
	}

	pre, err := verifyFWPreamble(ctx, &wb, full, kb.DataKey)
	if err != nil {
		return nil, err
	}

	composite := pre.CompositeVersion(kb.DataKey.KeyVersion)
	if pre.FirmwareVersion > MaxPreambleVersion {
		return nil, NewError(KindFWPreambleVersionRange, "preamble body version out of range")
	}

	if !ctx.Flags.has(ContextRecoveryMode) {
		gbb, err := getGBB(ctx)
		if err != nil {
			return nil, err
		}
		if gbb.Flags&GBBFlagDisableFWRollbackCheck == 0 {
			secVer, err := ctx.GetFWVersionSecdata()
			if err != nil {
				return nil, err
			}
			if composite < secVer {
				return nil, NewError(KindFWPreambleVersionRollback, "firmware composite version below secdata floor")
			}
		}
	}

	sd.PreambleOffset = ctx.offsetOf(full)
	sd.PreambleSize = uint32(len(full))
	sd.FWVersion = composite

	ctx.commit(wb)
	return pre, nil
}

func peekPreambleSize(hdrBuf []byte) (uint64, error) {
	if len(hdrBuf) < fwPreambleHeaderSize {
		return 0, NewError(KindPreambleSize, "short preamble header read")
	}
	c := newLECursor(hdrBuf)
	size := c.u64() // preamble_size is the first field on the wire
	if !c.ok() {
		return 0, c.err
	}
	return size, nil
}

// FirmwarePhase2 selects a firmware slot and loads and verifies that
// slot's keyblock and preamble. A verification failure here does not fail
// over to the other slot within the same boot: vb2api_fail's try_next/
// try_count bookkeeping (recovery.go) is what steers the *next* boot to
// the other slot, so a single bad slot costs one reboot, not a recovery.
func FirmwarePhase2(ctx *Context) (*FWPreamble, error) {
	slot, err := selectFWSlot(ctx)
	if err != nil {
		return nil, err
	}

	pre, ferr := tryLoadFWSlot(ctx, slot)
	if ferr != nil {
		return nil, apiFailAndReturn(ctx, recoveryReasonFor(ferr), ferr)
	}
	return pre, nil
}

func tryLoadFWSlot(ctx *Context, slot int) (*FWPreamble, error) {
	kb, err := loadFWKeyblock(ctx, slot)
	if err != nil {
		return nil, err
	}
	return loadFWPreamble(ctx, slot, kb)
}

func recoveryReasonFor(err error) RecoveryReason {
	switch KindOf(err) {
	case KindFWKeyblockVersionRollback:
		return RecoveryFWKeyRollback
	case KindFWPreambleVersionRollback:
		return RecoveryFWRollback
	case KindKeyblockMagic, KindKeyblockSize, KindKeyblockSigSize, KindKeyblockDataKeySize, KindKeyblockSigInvalid:
		return RecoveryFWKeyblock
	case KindPreambleSize, KindPreambleSigSize, KindPreambleSigInvalid:
		return RecoveryFWPreamble
	default:
		return RecoveryROUnspecified
	}
}
