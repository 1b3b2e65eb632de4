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

// checkDevSwitch applies developer-mode policy to the flag latched in
// ContextDeveloperMode: it requests a kernel settings reset when
// ContextForceWipeoutMode is set, clears developer mode and requests
// recovery if enrollment policy (FWMPDevDisableBoot) forbids it outright,
// and otherwise records SDFlagDevModeEnabled. nvdata's dev_boot settings
// are not read here. Grounded on vb2_check_dev_switch.
func checkDevSwitch(ctx *Context) error {
	fwmp, err := ctx.FWMPFlags()
	if err != nil {
		return err
	}

	if ctx.Flags.has(ContextForceWipeoutMode) {
		if err := ctx.NVSet(NVKernelSettingsReset, 1); err != nil {
			return err
		}
	}

	if !ctx.Flags.has(ContextDeveloperMode) {
		return nil
	}

	if fwmp&FWMPDevDisableBoot != 0 {
		ctx.debugf("devswitch: developer mode disabled by enrollment policy\n")
		ctx.Flags &^= ContextDeveloperMode
		return requestRecovery(ctx, RecoveryDevDisabled)
	}

	ctx.sd.Flags |= SDFlagDevModeEnabled
	return nil
}

// checkTPMClear honors a pending "clear TPM owner" nvdata request. The
// actual clear operation belongs to the host EC/TPM driver; this only
// decides whether one is owed and clears the request once satisfied.
func checkTPMClear(ctx *Context, clearOwner func() error) error {
	want, err := ctx.NVGet(NVClearTPMOwner)
	if err != nil {
		return err
	}
	if want == 0 {
		return nil
	}
	if clearOwner == nil {
		return NewError(KindTPMClearOwner, "TPM clear requested but no host handler available")
	}
	if err := clearOwner(); err != nil {
		return WrapError(KindTPMClearOwner, err)
	}
	return ctx.NVSet(NVClearTPMOwner, 0)
}

// reportDevFirmware records, purely for host diagnostics, that this boot
// ran firmware whose keyblock carries a developer flag — it never gates
// anything by itself.
func reportDevFirmware(ctx *Context, keyblockFlags KeyblockFlags) {
	if keyblockFlags&(KeyblockFlagDeveloper0|KeyblockFlagDeveloper1) != 0 {
		ctx.debugf("firmware: booted a developer-signed keyblock\n")
	}
}

// allowRecovery reports whether recovery mode may actually be entered.
// GBBFlagForceManualRecovery always forces recovery to be allowed. Absent
// that override, an EC that doesn't report itself trusted implies the
// recovery switch state can't be confidently read this boot (recovery
// wasn't manually requested; the EC may simply already be running RW), so
// recovery is refused; otherwise the manual-recovery flag latched into
// shared data at phase1 decides. Grounded on vb2_allow_recovery.
func allowRecovery(ctx *Context) (bool, error) {
	gbb, err := getGBB(ctx)
	if err != nil {
		return false, err
	}
	if gbb.Flags&GBBFlagForceManualRecovery != 0 {
		return true, nil
	}
	if ctx.EC == nil || !ctx.EC.Trusted() {
		return false, nil
	}
	return ctx.sd.hasFlag(SDFlagManualRecovery), nil
}

// needRebootForDisplay reports whether a long-running, UI-visible
// operation (the recovery screen, an EC slow-update WAIT screen) needs to
// defer to a reboot before it can show anything — some displays only
// initialize cleanly starting cold.
func needRebootForDisplay(ctx *Context) bool {
	return !ctx.sd.hasFlag(SDFlagDisplayAvailable)
}
