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

// FirmwarePhase1 performs the earliest firmware-verification steps:
// nvdata and secdata_firmware init, GBB load, the developer-switch and
// TPM-clear checks, and folding any already-pending recovery request from
// a previous boot into ctx.Flags. Grounded on vb2api_fw_phase1 as called
// out from 2misc.c/api_kernel.c's shared init sequence.
func FirmwarePhase1(ctx *Context, clearTPMOwner func() error) error {
	logHashBackend(ctx)

	if err := nvInit(ctx); err != nil {
		return err
	}

	reason, err := ctx.NVGet(NVRecoveryRequest)
	if err != nil {
		return err
	}
	subcode, err := ctx.NVGet(NVRecoverySubcode)
	if err != nil {
		return err
	}
	ctx.sd.RecoveryReason = RecoveryReason(reason)

	if ctx.Flags.has(ContextForceRecoveryMode) {
		ctx.debugf("firmware: recovery requested manually\n")
		if subcode != 0 && ctx.sd.RecoveryReason == RecoveryNotRequested {
			ctx.sd.RecoveryReason = RecoveryReason(subcode)
		} else {
			ctx.sd.RecoveryReason = RecoveryROManual
		}
		ctx.sd.Flags |= SDFlagManualRecovery
	}

	if ctx.sd.RecoveryReason != RecoveryNotRequested {
		ctx.Flags |= ContextRecoveryMode
	}

	if err := fwInitGBB(ctx); err != nil {
		return apiFailAndReturn(ctx, RecoveryGBBHeader, err)
	}

	if !ctx.Flags.has(ContextRecoveryMode) {
		if err := secdataFirmwareInit(ctx); err != nil {
			return apiFailAndReturn(ctx, RecoverySecdataFWInit, err)
		}
	}

	if err := checkDevSwitch(ctx); err != nil {
		return err
	}
	if err := checkTPMClear(ctx, clearTPMOwner); err != nil {
		return err
	}

	gbb, err := getGBB(ctx)
	if err != nil {
		return err
	}
	if gbb.Flags&GBBFlagForceDevSwitchOn != 0 {
		ctx.Flags |= ContextDeveloperMode
		ctx.sd.Flags |= SDFlagDevModeEnabled
	}

	return nil
}

// apiFailAndReturn records reason via apiFail and then returns the
// original collaborator error, so a caller sees both the recorded
// RecoveryReason (via SharedData) and Go's usual wrapped error chain.
func apiFailAndReturn(ctx *Context, reason RecoveryReason, cause error) error {
	if err := apiFail(ctx, reason, uint8(KindOf(cause))); err != nil {
		return err
	}
	return cause
}
