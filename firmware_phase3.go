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

// fwBodyHashChunkSize bounds how much of the firmware body this core
// pulls into a stack buffer at once while hashing ResFWBody. The body
// itself never touches the workbuf.
const fwBodyHashChunkSize = 4096

// hashFWBody streams pre.BodySize bytes from ResFWBody through pre's
// digest algorithm and compares the result to pre.BodyDigest. Grounded on
// spec.md §4.5's requirement that body verification never require the
// whole body resident in memory at once.
func hashFWBody(ctx *Context, pre *FWPreamble) error {
	h, _, err := newHash(pre.BodyDigestAlgorithm)
	if err != nil {
		return err
	}

	var chunk [fwBodyHashChunkSize]byte
	var offset uint64
	for offset < pre.BodySize {
		n := uint64(len(chunk))
		if remaining := pre.BodySize - offset; remaining < n {
			n = remaining
		}
		if err := ctx.ReadResource(ResFWBody, uint32(offset), uint32(n), chunk[:n]); err != nil {
			return WrapError(KindFWBodySize, err)
		}
		h.Write(chunk[:n])
		offset += n
	}

	sum := h.Sum(nil)
	if len(sum) != len(pre.BodyDigest) || !bytesEqual(sum, pre.BodyDigest) {
		return NewError(KindFWBodyHashMismatch, "firmware body digest mismatch")
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FirmwarePhase3 hashes and verifies the firmware body chosen in
// FirmwarePhase2, and on success records the boot outcome: the
// try-firmware nvdata state is marked successful, and secdata_firmware's
// floor is advanced if this boot's composite version is higher AND the
// last boot already reported success trying the very same slot — the
// "trust last boot" gate that keeps a single successful verification of
// new firmware from being trusted enough to raise the rollback floor by
// itself. ctx.sd.LastFWSlot/LastFWResult were captured by selectFWSlot
// before this boot's result overwrote them, so they still describe the
// previous boot here.
func FirmwarePhase3(ctx *Context, pre *FWPreamble) error {
	if err := hashFWBody(ctx, pre); err != nil {
		return apiFailAndReturn(ctx, RecoveryROInvalidRW, err)
	}

	if err := ctx.NVSet(NVFirmwareResult, uint32(FWResultSuccess)); err != nil {
		return err
	}

	if !ctx.Flags.has(ContextRecoveryMode) {
		gbb, err := getGBB(ctx)
		if err != nil {
			return err
		}
		if gbb.Flags&GBBFlagDisableFWRollbackCheck == 0 {
			secVer, err := ctx.GetFWVersionSecdata()
			if err != nil {
				return err
			}
			trustedLastBoot := ctx.sd.LastFWResult == FWResultSuccess && ctx.sd.LastFWSlot == ctx.sd.FWSlot
			if ctx.sd.FWVersion > secVer && trustedLastBoot {
				// SetFWVersionSecdata's own commit path already flags
				// RW_TPM_W_ERROR on a write failure; no need to apiFail
				// again here.
				if err := ctx.SetFWVersionSecdata(ctx.sd.FWVersion); err != nil {
					return err
				}
			}
		}
	}

	return ctx.NVCommit()
}
