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

// KernelPhase3 commits the kernel version chosen this boot to
// secdata_kernel, subject to three independent gates: recovery-mode boots
// never roll forward at all, the kernel keyblock must have been
// certified by the firmware preamble's subkey rather than the GBB
// recovery key (SDFlagKernelSigned, set by RunKernelVerification), and
// even a normal signed boot only rolls forward as far as nvdata's
// kernel_max_rollforward ceiling (ContextAllowKernelRollForward must also
// be set — a host that skipped the diagnostic/first-boot checks that
// would normally set it is telling us not to trust this boot's version
// yet).
func KernelPhase3(ctx *Context, pre *KernelPreamble) error {
	if ctx.Flags.has(ContextRecoveryMode) {
		return nil
	}
	if !ctx.sd.hasFlag(SDFlagKernelSigned) {
		return nil
	}
	if !ctx.Flags.has(ContextAllowKernelRollForward) {
		return nil
	}

	secVer, err := ctx.GetKernelVersionSecdata()
	if err != nil {
		return err
	}
	if ctx.sd.KernelVersion <= secVer {
		return nil
	}

	ceiling, err := ctx.NVGet(NVKernelMaxRollforward)
	if err != nil {
		return err
	}
	newVer := ctx.sd.KernelVersion
	if newVer > ceiling {
		newVer = ceiling
	}
	if newVer <= secVer {
		return nil
	}

	// SetKernelVersionSecdata's own commit path already flags
	// RW_TPM_W_ERROR on a write failure; no need to apiFail again here.
	if err := ctx.SetKernelVersionSecdata(newVer); err != nil {
		return err
	}
	return nil
}
