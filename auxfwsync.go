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

// AuxFWSync runs after EC sync and covers every other auxiliary firmware
// image a board might carry (a USB-C port controller, for instance) that
// isn't the EC itself. A host with nothing to sync leaves ctx.AuxFW nil,
// which is treated the same as "nothing needs updating" rather than an
// error: unlike the EC, auxiliary firmware is not load-bearing for the
// rest of this core's guarantees.
func AuxFWSync(ctx *Context) error {
	if ctx.sd.hasStatus(SDStatusAuxFWSyncComplete) {
		return nil
	}
	if ctx.AuxFW == nil {
		ctx.sd.Status |= SDStatusAuxFWSyncComplete
		return nil
	}

	needed, err := ctx.AuxFW.SyncNeeded()
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryAuxFWSync, WrapError(KindAuxFWSync, err))
	}
	if !needed {
		ctx.sd.Status |= SDStatusAuxFWSyncComplete
		return nil
	}

	if needRebootForDisplay(ctx) {
		ctx.debugf("auxfwsync: display not yet available, deferring sync\n")
		return NewError(KindAuxFWRebootRequired, "display not available yet for a slow auxiliary firmware update's WAIT screen")
	}

	rebootRequired, err := ctx.AuxFW.Sync()
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryAuxFWSync, WrapError(KindAuxFWSync, err))
	}
	if rebootRequired {
		return NewError(KindAuxFWRebootRequired, "auxiliary firmware updated; reboot required before continuing")
	}

	ctx.sd.Status |= SDStatusAuxFWSyncComplete
	return nil
}

// handleBatteryCutoff checks for an explicit request (typically set by a
// UI flow elsewhere on the system) to cut power to the battery before
// handing off to a kernel, and if one is pending, clears it, commits
// immediately since the board may lose power at any moment once the cut
// is armed, and asks the EC to perform the cut. Grounded on
// handle_battery_cutoff: nothing downstream of this runs on a board that
// actually has the hardware for it, since the cutoff is meant to be the
// last thing firmware ever does.
func handleBatteryCutoff(ctx *Context) error {
	req, err := ctx.NVGet(NVBatteryCutoffRequest)
	if err != nil {
		return err
	}
	if req == 0 {
		return nil
	}

	if err := ctx.NVSet(NVBatteryCutoffRequest, 0); err != nil {
		return err
	}
	if err := commitData(ctx); err != nil {
		return err
	}

	if ctx.EC != nil {
		if err := ctx.EC.BatteryCutoff(); err != nil {
			return WrapError(KindBatteryCutoff, err)
		}
	}
	return NewError(KindBatteryCutoff, "battery cutoff requested; shutting down")
}
