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

// ECSync runs the embedded-controller software-sync handshake: make sure
// the EC's RW image (and, if nvdata asks for it, its RO image too)
// matches what this firmware slot expects,
// jump the EC into RW, and have it protect both regions before telling it
// vboot is done. Any failure here is a recovery-triggering event, since
// an unsynced EC can undermine the guarantees this whole package exists
// to provide — except the two "come back after a reboot" outcomes
// (currently-running image needs updating, or the display isn't up yet
// for a slow update's WAIT screen), which intentionally carry no recovery
// reason. EC.Trusted is not consulted here.
func ECSync(ctx *Context) error {
	if !ctx.Flags.has(ContextECSyncSupported) {
		return nil
	}
	if ctx.sd.hasStatus(SDStatusECSyncComplete) {
		return nil
	}
	gbb, err := getGBB(ctx)
	if err != nil {
		return err
	}
	if gbb.Flags&GBBFlagDisableEcSoftwareSync != 0 {
		return nil
	}
	if ctx.EC == nil {
		return requestRecoveryAndReturn(ctx, RecoveryECUnknownImage, NewError(KindECTrust, "EC software sync enabled but no EC collaborator configured"))
	}

	runningRW, err := ctx.EC.RunningRW()
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECUnknownImage, WrapError(KindECUnknownImage, err))
	}

	if err := ecSyncImage(ctx, ECImageRW, runningRW); err != nil {
		return err
	}

	tryROSync, err := ctx.NVGet(NVTryRoSync)
	if err != nil {
		return err
	}
	if tryROSync != 0 {
		if err := ecSyncImage(ctx, ECImageRO, runningRW); err != nil {
			return err
		}
	}

	if !runningRW {
		if err := ctx.EC.JumpToRW(); err != nil {
			return requestRecoveryAndReturn(ctx, RecoveryECJumpRW, WrapError(KindECJumpRW, err))
		}
	}

	if err := ctx.EC.DisableJump(); err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECProtect, WrapError(KindECProtect, err))
	}
	if err := ctx.EC.Protect(ECImageRO); err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECProtect, WrapError(KindECProtect, err))
	}
	if err := ctx.EC.Protect(ECImageRW); err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECProtect, WrapError(KindECProtect, err))
	}

	if err := ctx.EC.VbootDone(); err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECProtect, WrapError(KindECVbootDone, err))
	}

	ctx.sd.Status |= SDStatusECSyncComplete
	return nil
}

// ecSyncImage compares sel's actual and expected hashes and reflashes it
// if they differ, honoring the two reboot-first cases from spec §4.6: the
// EC can't reflash the image it's currently executing from, and a long
// reflash shouldn't start before the AP display is up to show a WAIT
// screen for it. runningRW reports whether the EC is currently executing
// its RW image, queried once by the caller for both sync passes.
func ecSyncImage(ctx *Context, sel ECImage, runningRW bool) error {
	want, err := ctx.EC.ExpectedImageHash(sel)
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECExpectedHash, WrapError(KindECRebootToROrequired, err))
	}
	got, err := ctx.EC.HashImage(sel)
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECHashSize, WrapError(KindECRebootToROrequired, err))
	}
	if len(want) != len(got) {
		return requestRecoveryAndReturn(ctx, RecoveryECHashSize, NewError(KindECHashSize, "EC hash size mismatch"))
	}
	if bytesEqual(want, got) {
		return nil
	}

	ctx.debugf("ecsync: image %d hash mismatch, update needed\n", sel)

	if sel == ECImageRW && runningRW {
		return NewError(KindECRebootToROrequired, "EC is running its RW image; must reboot to RO before updating it")
	}
	if needRebootForDisplay(ctx) {
		ctx.debugf("ecsync: display not yet available, deferring reflash of image %d\n", sel)
		return NewError(KindECRebootToROrequired, "display not available yet for a slow EC update's WAIT screen")
	}

	if err := ctx.EC.UpdateImage(sel); err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECUpdate, WrapError(KindECUpdate, err))
	}

	got, err = ctx.EC.HashImage(sel)
	if err != nil {
		return requestRecoveryAndReturn(ctx, RecoveryECHashSize, WrapError(KindECHashSize, err))
	}
	if !bytesEqual(want, got) {
		return requestRecoveryAndReturn(ctx, RecoveryECUpdate, NewError(KindECRebootToROrequired, "EC image hash still mismatched after update"))
	}
	return nil
}
