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

// requestRecoveryWithSubcode latches ctx into recovery mode and records
// reason/subcode in nvdata, unless a reason is already recorded — the
// first cause of a recovery boot is preserved even if unwinding the
// current phase trips over a second problem afterward (vb2api_fail's
// "first reason wins").
func requestRecoveryWithSubcode(ctx *Context, reason RecoveryReason, subcode uint8) error {
	ctx.Flags |= ContextRecoveryMode
	ctx.sd.RecoveryReason = reason

	current, err := ctx.NVGet(NVRecoveryRequest)
	if err != nil {
		return err
	}
	if RecoveryReason(current) != RecoveryNotRequested {
		return nil
	}
	if err := ctx.NVSet(NVRecoveryRequest, uint32(reason)); err != nil {
		return err
	}
	return ctx.NVSet(NVRecoverySubcode, uint32(subcode))
}

// requestRecovery is requestRecoveryWithSubcode with no subcode, for
// callers (dev-switch policy, a pending recovery folded in at phase1)
// that aren't reporting a specific verification failure.
func requestRecovery(ctx *Context, reason RecoveryReason) error {
	return requestRecoveryWithSubcode(ctx, reason, 0)
}

// apiFail is the single choke point every verification failure in the
// firmware, kernel and EC-sync phases funnels through. Grounded on
// vb2api_fail: if a firmware slot was already chosen this boot, the
// failure is charged against that slot instead of demanding recovery
// outright — try_count is exhausted, try_next is flipped to the other
// slot, and recovery is only requested if the other slot already failed
// on the immediately preceding boot (both slots are now bad). Before a
// slot has been chosen, or once both slots are confirmed bad, recovery is
// requested with reason/subcode, unless one is already recorded.
func apiFail(ctx *Context, reason RecoveryReason, subcode uint8) error {
	if ctx.sd.hasStatus(SDStatusChoseSlot) {
		if err := ctx.NVSet(NVFirmwareResult, uint32(FWResultFailure)); err != nil {
			return err
		}
		if err := ctx.NVSet(NVTryCountFirmware, 0); err != nil {
			return err
		}
		otherSlot := 1 - ctx.sd.FWSlot
		if err := ctx.NVSet(NVTryNextFirmware, uint32(otherSlot)); err != nil {
			return err
		}

		// If we didn't try the other slot last boot, or we tried it and
		// it didn't fail, try it next boot instead of going to recovery.
		if ctx.sd.LastFWSlot != otherSlot || ctx.sd.LastFWResult != FWResultFailure {
			return nil
		}
	}

	ctx.debugf("apifail: need recovery, reason %#x / %#x\n", uint8(reason), subcode)
	return requestRecoveryWithSubcode(ctx, reason, subcode)
}

// requestRecoveryAndReturn records reason unconditionally through
// requestRecoveryWithSubcode rather than apiFail, for failures that have
// nothing to do with which firmware slot was chosen this boot. By the
// time EC sync or auxiliary-firmware sync runs, selectFWSlot has already
// set SDStatusChoseSlot, so routing one of their failures through apiFail
// would charge it against the chosen slot and defer recovery until the
// other slot had also failed last boot — appropriate for a bad firmware
// slot, not for a collaborator that failed to sync.
func requestRecoveryAndReturn(ctx *Context, reason RecoveryReason, cause error) error {
	if err := requestRecoveryWithSubcode(ctx, reason, uint8(KindOf(cause))); err != nil {
		return err
	}
	return cause
}
